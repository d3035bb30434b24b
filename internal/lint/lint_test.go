package lint

import (
	"strings"
	"testing"

	"github.com/joshsymonds/inboxflow/internal/rules"
)

func staticRule(name, from string, actions ...rules.Action) rules.Rule {
	return rules.Rule{
		Name:       name,
		AccountID:  "acct-1",
		Enabled:    true,
		Conditions: rules.ConditionSet{Static: &rules.StaticMatch{From: from}},
		Actions:    actions,
	}
}

func TestCheckCleanRuleSet(t *testing.T) {
	rep := Check("acct-1", []rules.Rule{
		staticRule("newsletters", "news@example.com", rules.Action{Type: rules.ActionArchive}),
		staticRule("receipts", "billing@example.com", rules.Action{
			Type: rules.ActionLabel, Label: rules.Lit("Receipts"),
		}),
	})
	if !rep.Clean() {
		t.Fatalf("expected clean report, got %+v", rep)
	}
	if rep.Total != 2 {
		t.Fatalf("Total = %d, want 2", rep.Total)
	}
}

func TestCheckFlagsInvalidRule(t *testing.T) {
	broken := staticRule("broken", "x@example.com", rules.Action{Type: rules.ActionLabel})
	rep := Check("acct-1", []rules.Rule{broken})
	if len(rep.Invalid) != 1 {
		t.Fatalf("Invalid = %+v, want one finding", rep.Invalid)
	}
	if rep.Invalid[0].Rule != "broken" {
		t.Errorf("finding names rule %q, want broken", rep.Invalid[0].Rule)
	}
}

func TestCheckShadowedByIdenticalConditions(t *testing.T) {
	first := staticRule("first", "news@example.com", rules.Action{Type: rules.ActionArchive})
	second := staticRule("second", "News@example.com ", rules.Action{Type: rules.ActionMarkRead})
	rep := Check("acct-1", []rules.Rule{first, second})
	if len(rep.Shadowed) != 1 {
		t.Fatalf("Shadowed = %+v, want one finding", rep.Shadowed)
	}
	if rep.Shadowed[0].Rule != "second" {
		t.Errorf("shadowed rule = %q, want second", rep.Shadowed[0].Rule)
	}
	if !strings.Contains(rep.Shadowed[0].Reason, `"first"`) {
		t.Errorf("reason should name the earlier rule: %q", rep.Shadowed[0].Reason)
	}
}

func TestCheckInstructionRulesNeverShadow(t *testing.T) {
	ai := func(name string) rules.Rule {
		return rules.Rule{
			Name:       name,
			AccountID:  "acct-1",
			Enabled:    true,
			Conditions: rules.ConditionSet{Instructions: "is this urgent?"},
			Actions:    []rules.Action{{Type: rules.ActionArchive}},
		}
	}
	rep := Check("acct-1", []rules.Rule{ai("a"), ai("b")})
	if len(rep.Shadowed) != 0 {
		t.Fatalf("instruction rules must not shadow each other: %+v", rep.Shadowed)
	}
}

func TestCheckUnknownTemplateMarker(t *testing.T) {
	r := staticRule("greeter", "x@example.com", rules.Action{
		Type:    rules.ActionReply,
		Content: rules.Lit("Hi {{sender.name}}, re {{ticket_id}}"),
	})
	rep := Check("acct-1", []rules.Rule{r})
	if len(rep.BadTemplates) != 1 {
		t.Fatalf("BadTemplates = %+v, want one finding", rep.BadTemplates)
	}
	if !strings.Contains(rep.BadTemplates[0].Reason, "ticket_id") {
		t.Errorf("finding should name the marker: %q", rep.BadTemplates[0].Reason)
	}
}

func TestCheckWebhookURL(t *testing.T) {
	cases := []struct {
		url  string
		want int
	}{
		{"https://hooks.example.com/triage", 0},
		{"ftp://example.com/x", 1},
		{"not a url", 1},
	}
	for _, tc := range cases {
		r := staticRule("hook", "x@example.com", rules.Action{
			Type: rules.ActionCallWebhook, URL: tc.url,
		})
		rep := Check("acct-1", []rules.Rule{r})
		if len(rep.Invalid) != tc.want {
			t.Errorf("url %q: Invalid = %+v, want %d findings", tc.url, rep.Invalid, tc.want)
		}
	}
}

func TestCheckConflictingDispositions(t *testing.T) {
	archive := staticRule("quiet", "news@example.com", rules.Action{Type: rules.ActionArchive})
	spam := staticRule("nuke", "news@example.com", rules.Action{Type: rules.ActionMarkSpam})
	rep := Check("acct-1", []rules.Rule{archive, spam})
	if len(rep.Conflicts) != 1 {
		t.Fatalf("Conflicts = %+v, want one", rep.Conflicts)
	}
	got := rep.Conflicts[0]
	if len(got.Rules) != 2 {
		t.Errorf("conflict rules = %v, want both", got.Rules)
	}
}

func TestCheckDisabledRulesSkipAnalysis(t *testing.T) {
	on := staticRule("on", "news@example.com", rules.Action{Type: rules.ActionArchive})
	off := staticRule("off", "news@example.com", rules.Action{Type: rules.ActionMarkSpam})
	off.Enabled = false
	rep := Check("acct-1", []rules.Rule{on, off})
	if len(rep.Conflicts) != 0 || len(rep.Shadowed) != 0 {
		t.Fatalf("disabled rules must not participate: %+v", rep)
	}
}

func TestShouldFail(t *testing.T) {
	rep := Report{Shadowed: []Finding{{Rule: "x"}}}
	cases := []struct {
		failOn string
		want   bool
	}{
		{"", false},
		{"shadowed", true},
		{"invalid,conflict", false},
		{"INVALID, Shadowed", true},
	}
	for _, tc := range cases {
		if got := rep.ShouldFail(ParseFailOn(tc.failOn)); got != tc.want {
			t.Errorf("ShouldFail(%q) = %v, want %v", tc.failOn, got, tc.want)
		}
	}
}

func TestHumanSummaryClean(t *testing.T) {
	rep := Report{Account: "acct-1", Total: 3}
	out := rep.HumanSummary()
	if !strings.Contains(out, "no findings") {
		t.Errorf("clean summary = %q", out)
	}
}
