package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joshsymonds/inboxflow/internal/approval"
	"github.com/joshsymonds/inboxflow/internal/execute"
	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/match"
	"github.com/joshsymonds/inboxflow/internal/reasoning"
	"github.com/joshsymonds/inboxflow/internal/resolve"
	"github.com/joshsymonds/inboxflow/internal/rules"
	"github.com/joshsymonds/inboxflow/internal/schedule"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	mailbox.Client

	ensureCalls map[string]int
	archived    []mailbox.ThreadID
	labeled     map[mailbox.ThreadID][]mailbox.LabelID
	sent        []mailbox.Outgoing
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		ensureCalls: map[string]int{},
		labeled:     map[mailbox.ThreadID][]mailbox.LabelID{},
	}
}

func (f *fakeClient) ValidateLabelName(string) error { return nil }

func (f *fakeClient) EnsureLabel(_ context.Context, name string) (mailbox.LabelID, error) {
	f.ensureCalls[name]++
	return mailbox.LabelID("id-" + name), nil
}

func (f *fakeClient) ArchiveThread(_ context.Context, thread mailbox.ThreadID) error {
	f.archived = append(f.archived, thread)
	return nil
}

func (f *fakeClient) LabelThread(_ context.Context, thread mailbox.ThreadID, label mailbox.LabelID) error {
	f.labeled[thread] = append(f.labeled[thread], label)
	return nil
}

func (f *fakeClient) SendEmail(_ context.Context, msg mailbox.Outgoing) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fakeReasoning struct {
	verdicts map[string]bool
	err      error
}

func (f *fakeReasoning) EvaluateCondition(_ context.Context, instruction string, _ mailbox.Email) (reasoning.Verdict, error) {
	if f.err != nil {
		return reasoning.Verdict{}, f.err
	}
	return reasoning.Verdict{Match: f.verdicts[instruction]}, nil
}

func (f *fakeReasoning) CompleteField(_ context.Context, prompt string, _ mailbox.Email) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "completed: " + prompt, nil
}

// memQueue satisfies schedule.Queue for tests that never enqueue.
type memQueue struct{}

func (memQueue) Enqueue(context.Context, resolve.Action, time.Time) (string, error) {
	return "q1", nil
}

func (memQueue) Due(context.Context, time.Time) ([]schedule.Item, error) { return nil, nil }

func (memQueue) MarkDone(context.Context, string, string) error { return nil }

func newTestPipeline(client *fakeClient, provider reasoning.Provider) (*Pipeline, *approval.Memory) {
	gate := approval.NewMemory()
	executor := execute.New(client, gate, schedule.QueueScheduler{Queue: memQueue{}}, slogDiscard())
	selector := match.NewSelector(match.NewEvaluator(provider, slogDiscard()))
	return New("test@example.com", client, provider, selector, executor, slogDiscard()), gate
}

func testEmail() mailbox.Email {
	return mailbox.Email{
		ID:       "m1",
		ThreadID: "t1",
		From:     mailbox.Address{Name: "Acme Billing", Email: "billing@acme.com"},
		To:       []mailbox.Address{{Email: "me@example.com"}},
		Subject:  "Your March invoice",
		TextBody: "Invoice attached.",
	}
}

func labelRule(name, label string, static *rules.StaticMatch, instr string) rules.Rule {
	return rules.Rule{
		ID: "r-" + name, Name: name, Enabled: true,
		Conditions: rules.ConditionSet{Instructions: instr, Static: static},
		Actions:    []rules.Action{{Type: rules.ActionLabel, Label: rules.Lit(label)}},
	}
}

func TestRunAppliesBestMatch(t *testing.T) {
	client := newFakeClient()
	provider := &fakeReasoning{verdicts: map[string]bool{"looks like an invoice": true}}
	p, _ := newTestPipeline(client, provider)

	ruleset := []rules.Rule{
		labelRule("ai-invoices", "Invoices", nil, "looks like an invoice"),
		labelRule("acme", "Acme", &rules.StaticMatch{From: "acme.com"}, ""),
	}
	report := p.Run(context.Background(), ruleset, testEmail(), Options{})

	if len(report.Matched) != 2 {
		t.Fatalf("matched = %v, want both rules", report.Matched)
	}
	if len(report.Applied) != 1 || report.Applied[0] != "acme" {
		t.Fatalf("applied = %v, want the static match to win", report.Applied)
	}
	if got := client.labeled["t1"]; len(got) != 1 || got[0] != "id-Acme" {
		t.Errorf("labels applied = %v", got)
	}
}

func TestRunAllMatches(t *testing.T) {
	client := newFakeClient()
	p, _ := newTestPipeline(client, &fakeReasoning{})

	ruleset := []rules.Rule{
		labelRule("acme", "Acme", &rules.StaticMatch{From: "acme.com"}, ""),
		labelRule("invoices", "Invoices", &rules.StaticMatch{Subject: "invoice"}, ""),
	}
	report := p.Run(context.Background(), ruleset, testEmail(), Options{AllMatches: true})

	if len(report.Applied) != 2 {
		t.Fatalf("applied = %v, want both", report.Applied)
	}
	if got := client.labeled["t1"]; len(got) != 2 {
		t.Errorf("labels applied = %v, want two", got)
	}
}

func TestRunNoMatchIsANoOp(t *testing.T) {
	client := newFakeClient()
	p, _ := newTestPipeline(client, &fakeReasoning{})

	ruleset := []rules.Rule{
		labelRule("github", "GitHub", &rules.StaticMatch{From: "github.com"}, ""),
	}
	report := p.Run(context.Background(), ruleset, testEmail(), Options{})

	if report.Acted() || len(report.Results) != 0 {
		t.Fatalf("nothing should run without a match: %+v", report)
	}
	if len(client.labeled) != 0 || len(client.archived) != 0 {
		t.Error("mailbox touched without a match")
	}
}

func TestRunThreadUpdateFiltersRules(t *testing.T) {
	client := newFakeClient()
	p, _ := newTestPipeline(client, &fakeReasoning{})

	withThreads := labelRule("acme", "Acme", &rules.StaticMatch{From: "acme.com"}, "")
	withThreads.RunOnThreads = true
	withoutThreads := labelRule("invoices", "Invoices", &rules.StaticMatch{Subject: "invoice"}, "")

	report := p.Run(context.Background(), []rules.Rule{withThreads, withoutThreads},
		testEmail(), Options{ThreadUpdate: true, AllMatches: true})

	if len(report.Applied) != 1 || report.Applied[0] != "acme" {
		t.Fatalf("applied = %v, want only the thread-rerun rule", report.Applied)
	}
}

func TestRunResolutionFailureIsolatedPerAction(t *testing.T) {
	client := newFakeClient()
	provider := &fakeReasoning{err: fmt.Errorf("model unavailable")}
	p, _ := newTestPipeline(client, provider)

	rule := rules.Rule{
		ID: "r1", Name: "triage", Enabled: true,
		Conditions: rules.ConditionSet{Static: &rules.StaticMatch{From: "acme.com"}},
		Actions: []rules.Action{
			{Type: rules.ActionLabel, Label: rules.Dir("pick a category")},
			{Type: rules.ActionArchive},
		},
	}
	report := p.Run(context.Background(), []rules.Rule{rule}, testEmail(), Options{})

	if len(report.Results) != 2 {
		t.Fatalf("got %d results, want one per action", len(report.Results))
	}
	if report.Results[0].Error == "" {
		t.Error("directive resolution should fail when the provider is down")
	}
	if !report.Results[1].Success {
		t.Errorf("archive should still run: %+v", report.Results[1])
	}
	if len(client.archived) != 1 {
		t.Errorf("archived = %v", client.archived)
	}
}

func TestRunGatesSendAndApplyDecisionResumes(t *testing.T) {
	client := newFakeClient()
	p, gate := newTestPipeline(client, &fakeReasoning{})

	rule := rules.Rule{
		ID: "r1", Name: "auto-ack", Enabled: true,
		Conditions: rules.ConditionSet{Static: &rules.StaticMatch{From: "acme.com"}},
		Actions: []rules.Action{{
			Type:    rules.ActionSendEmail,
			To:      rules.Lit("support@example.com"),
			Content: rules.Lit("ack"),
		}},
	}
	report := p.Run(context.Background(), []rules.Rule{rule}, testEmail(), Options{})

	r := report.Results[0]
	if !r.RequiresApproval || r.ApprovalID == "" {
		t.Fatalf("send should park for approval: %+v", r)
	}
	if len(client.sent) != 0 {
		t.Fatal("nothing may be sent before approval")
	}

	res, err := p.ApplyDecision(context.Background(), gate, r.ApprovalID, true)
	if err != nil {
		t.Fatalf("apply decision: %v", err)
	}
	if !res.Success {
		t.Fatalf("approved action should run: %+v", res)
	}
	if len(client.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(client.sent))
	}

	// Deciding again must conflict and must not re-send.
	if _, err := p.ApplyDecision(context.Background(), gate, r.ApprovalID, true); err == nil {
		t.Fatal("second decision should conflict")
	}
	if len(client.sent) != 1 {
		t.Fatalf("second decision re-sent the message: %d", len(client.sent))
	}
}

func TestApplyDecisionDenyIsTerminal(t *testing.T) {
	client := newFakeClient()
	p, gate := newTestPipeline(client, &fakeReasoning{})

	id, err := gate.Create(context.Background(), resolve.Action{Type: rules.ActionSendEmail, To: []string{"x@example.com"}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.ApplyDecision(context.Background(), gate, id, false)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if res.Success || res.Reason == "" {
		t.Fatalf("denied action must not run: %+v", res)
	}
	if len(client.sent) != 0 {
		t.Error("denied action was sent")
	}
}
