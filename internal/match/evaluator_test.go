package match

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/reasoning"
	"github.com/joshsymonds/inboxflow/internal/rules"
)

type fakeReasoning struct {
	verdicts map[string]bool
	err      error
	calls    int
}

func (f *fakeReasoning) EvaluateCondition(ctx context.Context, instruction string, email mailbox.Email) (reasoning.Verdict, error) {
	_ = ctx
	_ = email
	f.calls++
	if f.err != nil {
		return reasoning.Verdict{}, f.err
	}
	return reasoning.Verdict{Match: f.verdicts[instruction]}, nil
}

func (f *fakeReasoning) CompleteField(ctx context.Context, instruction string, email mailbox.Email) (string, error) {
	_ = ctx
	_ = email
	return "", errors.New("not used")
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEmail() mailbox.Email {
	return mailbox.Email{
		ID:       "m1",
		ThreadID: "t1",
		From:     mailbox.Address{Name: "Acme News", Email: "newsletter@x.com"},
		To:       []mailbox.Address{{Email: "me@example.com"}},
		Subject:  "Weekly digest",
		TextBody: "This week in Acme…",
	}
}

func staticRule(name, from string) rules.Rule {
	return rules.Rule{
		ID:         name,
		Name:       name,
		Enabled:    true,
		Conditions: rules.ConditionSet{Static: &rules.StaticMatch{From: from}},
	}
}

func instructionRule(name, instruction string) rules.Rule {
	return rules.Rule{
		ID:         name,
		Name:       name,
		Enabled:    true,
		Conditions: rules.ConditionSet{Instructions: instruction},
	}
}

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		value   string
		want    bool
	}{
		{"containment", "newsletter@x.com", "Acme News <newsletter@x.com>", true},
		{"case-insensitive", "NEWSLETTER@X.COM", "newsletter@x.com", true},
		{"no-match", "billing@x.com", "newsletter@x.com", false},
		{"wildcard-domain", "*@x.com", "newsletter@x.com", true},
		{"wildcard-middle", "invoice*paid", "invoice #42 paid", true},
		{"wildcard-anchored-prefix", "invoice*", "your invoice", false},
		{"wildcard-anchored-suffix", "*digest", "weekly digest", true},
		{"wildcard-anchored-suffix-miss", "*digest", "digest inside", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := patternMatches(tt.pattern, tt.value); got != tt.want {
				t.Fatalf("patternMatches(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
			}
		})
	}
}

func TestEvaluateStaticOnly(t *testing.T) {
	e := NewEvaluator(&fakeReasoning{}, slogDiscard())
	email := testEmail()

	res := e.Evaluate(context.Background(), staticRule("a", "newsletter@x.com"), email)
	if res.Outcome != Matched || !res.StaticMatched {
		t.Fatalf("expected static match, got %+v", res)
	}

	res = e.Evaluate(context.Background(), staticRule("b", "other@y.com"), email)
	if res.Outcome != NotMatched {
		t.Fatalf("expected no match, got %+v", res)
	}
}

func TestEvaluateDisabledRuleNeverMatches(t *testing.T) {
	e := NewEvaluator(&fakeReasoning{}, slogDiscard())
	rule := staticRule("a", "newsletter@x.com")
	rule.Enabled = false
	if res := e.Evaluate(context.Background(), rule, testEmail()); res.Outcome != NotMatched {
		t.Fatalf("disabled rule matched: %+v", res)
	}
}

func TestEvaluateEmptyConditionsNeverMatch(t *testing.T) {
	e := NewEvaluator(&fakeReasoning{}, slogDiscard())
	rule := rules.Rule{ID: "a", Name: "a", Enabled: true}
	if res := e.Evaluate(context.Background(), rule, testEmail()); res.Outcome != NotMatched {
		t.Fatalf("empty condition set matched: %+v", res)
	}
}

func TestEvaluateInstructionFailureIsIndeterminate(t *testing.T) {
	provider := &fakeReasoning{err: errors.New("model timeout")}
	e := NewEvaluator(provider, slogDiscard())

	res := e.Evaluate(context.Background(), instructionRule("a", "urgent emails"), testEmail())
	if res.Outcome != Indeterminate {
		t.Fatalf("expected indeterminate, got %+v", res)
	}
	if res.Err == nil {
		t.Fatalf("expected recorded error")
	}
}

func TestEvaluateCombination(t *testing.T) {
	email := testEmail()
	tests := []struct {
		name       string
		operator   rules.Operator
		from       string
		verdict    bool
		want       Outcome
		wantCalls  int
		wantStatic bool
	}{
		{"and-both-true", rules.OperatorAnd, "newsletter@x.com", true, Matched, 1, true},
		{"and-static-false-short-circuits", rules.OperatorAnd, "other@y.com", true, NotMatched, 0, false},
		{"and-instruction-false", rules.OperatorAnd, "newsletter@x.com", false, NotMatched, 1, false},
		{"or-static-true-short-circuits", rules.OperatorOr, "newsletter@x.com", false, Matched, 0, true},
		{"or-instruction-true", rules.OperatorOr, "other@y.com", true, Matched, 1, false},
		{"default-operator-is-and", "", "other@y.com", true, NotMatched, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeReasoning{verdicts: map[string]bool{"urgent": tt.verdict}}
			e := NewEvaluator(provider, slogDiscard())
			rule := rules.Rule{
				ID:       "r",
				Name:     "r",
				Enabled:  true,
				Operator: tt.operator,
				Conditions: rules.ConditionSet{
					Instructions: "urgent",
					Static:       &rules.StaticMatch{From: tt.from},
				},
			}
			res := e.Evaluate(context.Background(), rule, email)
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %v, want %v", res.Outcome, tt.want)
			}
			if provider.calls != tt.wantCalls {
				t.Fatalf("reasoning calls = %d, want %d", provider.calls, tt.wantCalls)
			}
			if res.StaticMatched != tt.wantStatic {
				t.Fatalf("staticMatched = %v, want %v", res.StaticMatched, tt.wantStatic)
			}
		})
	}
}

func TestSelectPreservesStoredOrder(t *testing.T) {
	provider := &fakeReasoning{verdicts: map[string]bool{"anything": true}}
	sel := NewSelector(NewEvaluator(provider, slogDiscard()))

	ruleset := []rules.Rule{
		instructionRule("first", "anything"),
		staticRule("second", "newsletter@x.com"),
		staticRule("third", "nobody@nowhere.com"),
		staticRule("fourth", "*@x.com"),
	}
	matches := sel.Select(context.Background(), ruleset, testEmail())
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	want := []string{"first", "second", "fourth"}
	for i, m := range matches {
		if m.Rule.Name != want[i] {
			t.Fatalf("match %d = %s, want %s", i, m.Rule.Name, want[i])
		}
	}
}

func TestSelectIsolatesFailingRules(t *testing.T) {
	provider := &fakeReasoning{err: errors.New("capability down")}
	sel := NewSelector(NewEvaluator(provider, slogDiscard()))

	ruleset := []rules.Rule{
		instructionRule("broken", "urgent"),
		staticRule("works", "newsletter@x.com"),
	}
	matches := sel.Select(context.Background(), ruleset, testEmail())
	if len(matches) != 1 || matches[0].Rule.Name != "works" {
		t.Fatalf("expected only the static rule to match, got %+v", matches)
	}
}

func TestBestPrefersStaticMatch(t *testing.T) {
	// Rule A matches statically, rule B matches via its instruction. The
	// single-best pick must be deterministic and prefer A even when B comes
	// first in stored order.
	provider := &fakeReasoning{verdicts: map[string]bool{"emails requesting urgent action": true}}
	sel := NewSelector(NewEvaluator(provider, slogDiscard()))

	ruleB := instructionRule("urgent", "emails requesting urgent action")
	ruleA := staticRule("newsletters", "newsletter@x.com")
	matches := sel.Select(context.Background(), []rules.Rule{ruleB, ruleA}, testEmail())
	if len(matches) != 2 {
		t.Fatalf("expected both rules to match, got %d", len(matches))
	}

	best, ok := Best(matches)
	if !ok || best.Rule.Name != "newsletters" {
		t.Fatalf("best = %+v, want the static rule", best)
	}
}

func TestScenarioNewsletterBeatsAIWhenAIDeclines(t *testing.T) {
	// newsletter@x.com / "Weekly digest": the static newsletter rule matches
	// and the urgency rule does not, so the winning action is the
	// newsletter label.
	provider := &fakeReasoning{verdicts: map[string]bool{"emails requesting urgent action": false}}
	sel := NewSelector(NewEvaluator(provider, slogDiscard()))

	ruleA := staticRule("newsletters", "newsletter@x.com")
	ruleA.Actions = []rules.Action{{Type: rules.ActionLabel, Label: rules.Lit("Newsletter")}}
	ruleB := instructionRule("urgent", "emails requesting urgent action")
	ruleB.Actions = []rules.Action{{Type: rules.ActionLabel, Label: rules.Lit("Urgent")}}

	matches := sel.Select(context.Background(), []rules.Rule{ruleA, ruleB}, testEmail())
	if len(matches) != 1 {
		t.Fatalf("expected exactly one match, got %d", len(matches))
	}
	best, _ := Best(matches)
	if got := best.Rule.Actions[0].Label.Literal; got != "Newsletter" {
		t.Fatalf("winning label = %q, want Newsletter", got)
	}
}

func TestFailClosedAIOnlyRule(t *testing.T) {
	// An instruction-only rule whose model call errors must come back
	// unmatched, never matched.
	provider := &fakeReasoning{err: context.DeadlineExceeded}
	sel := NewSelector(NewEvaluator(provider, slogDiscard()))

	matches := sel.Select(context.Background(), []rules.Rule{instructionRule("ai", "invoices")}, testEmail())
	if len(matches) != 0 {
		t.Fatalf("indeterminate rule must not match, got %+v", matches)
	}
}
