package gmailctl

import (
	"strings"
	"testing"

	"github.com/joshsymonds/inboxflow/internal/rules"
)

func TestConvertLabelAndArchive(t *testing.T) {
	export := Export{
		Labels: []Label{{ID: "Label_7", Name: "Newsletters", Type: "user"}},
		Filters: []Filter{{
			Criteria: FilterCriteria{From: "news@example.com"},
			Action: FilterAction{
				AddLabelIDs:    []string{"Label_7"},
				RemoveLabelIDs: []string{"INBOX"},
			},
		}},
	}
	converted, skipped := Convert(export, "acct-1")
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v", skipped)
	}
	if len(converted) != 1 {
		t.Fatalf("converted %d rules, want 1", len(converted))
	}

	rule := converted[0]
	if rule.AccountID != "acct-1" || rule.SystemType != SystemTypeImport {
		t.Errorf("rule = %+v", rule)
	}
	if rule.Conditions.Static == nil || rule.Conditions.Static.From != "news@example.com" {
		t.Errorf("conditions = %+v", rule.Conditions)
	}
	if len(rule.Actions) != 2 {
		t.Fatalf("actions = %+v", rule.Actions)
	}
	if rule.Actions[0].Type != rules.ActionLabel || rule.Actions[0].Label.Literal != "Newsletters" {
		t.Errorf("label action = %+v", rule.Actions[0])
	}
	if rule.Actions[1].Type != rules.ActionArchive {
		t.Errorf("archive action = %+v", rule.Actions[1])
	}
	if err := rule.Validate(); err != nil {
		t.Errorf("converted rule invalid: %v", err)
	}
}

func TestConvertSkipsQueryFilters(t *testing.T) {
	export := Export{
		Filters: []Filter{{
			ID:       "f1",
			Criteria: FilterCriteria{Query: "has:attachment larger:5M"},
			Action:   FilterAction{RemoveLabelIDs: []string{"INBOX"}},
		}},
	}
	converted, skipped := Convert(export, "acct-1")
	if len(converted) != 0 {
		t.Fatalf("converted = %+v", converted)
	}
	if len(skipped) != 1 || !strings.Contains(skipped[0], "f1") {
		t.Fatalf("skipped = %v", skipped)
	}
}

func TestConvertForwardAndSpecialLabels(t *testing.T) {
	export := Export{
		Filters: []Filter{{
			Criteria: FilterCriteria{From: "alerts@example.com"},
			Action: FilterAction{
				AddLabelIDs:    []string{"SPAM"},
				RemoveLabelIDs: []string{"UNREAD"},
				Forward:        "archive@example.com",
			},
		}},
	}
	converted, _ := Convert(export, "acct-1")
	if len(converted) != 1 {
		t.Fatalf("converted = %+v", converted)
	}
	types := []rules.ActionType{}
	for _, a := range converted[0].Actions {
		types = append(types, a.Type)
	}
	want := []rules.ActionType{rules.ActionMarkSpam, rules.ActionMarkRead, rules.ActionForward}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestConvertDeduplicatesNames(t *testing.T) {
	filter := Filter{
		Criteria: FilterCriteria{From: "news@example.com"},
		Action:   FilterAction{RemoveLabelIDs: []string{"INBOX"}},
	}
	export := Export{Filters: []Filter{filter, filter}}
	converted, _ := Convert(export, "acct-1")
	if len(converted) != 2 {
		t.Fatalf("converted %d, want 2", len(converted))
	}
	if converted[0].Name == converted[1].Name {
		t.Errorf("names collide: %q", converted[0].Name)
	}
}
