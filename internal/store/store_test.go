package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/joshsymonds/inboxflow/internal/approval"
	"github.com/joshsymonds/inboxflow/internal/resolve"
	"github.com/joshsymonds/inboxflow/internal/rules"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "inboxflow.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRule(account, name string) rules.Rule {
	return rules.Rule{
		AccountID: account,
		Name:      name,
		Enabled:   true,
		Conditions: rules.ConditionSet{
			Static: &rules.StaticMatch{From: "billing@acme.com"},
		},
		Actions: []rules.Action{
			{Type: rules.ActionLabel, Label: rules.Lit("Receipts")},
		},
	}
}

func TestRuleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateRule(ctx, sampleRule("acct-1", "receipts"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Version != 1 {
		t.Fatalf("created = %+v", created)
	}

	got, err := s.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "receipts" || !got.Enabled {
		t.Errorf("got = %+v", got)
	}
	if got.Conditions.Static == nil || got.Conditions.Static.From != "billing@acme.com" {
		t.Errorf("conditions lost in round trip: %+v", got.Conditions)
	}
	if len(got.Actions) != 1 || got.Actions[0].Label.Literal != "Receipts" {
		t.Errorf("actions lost in round trip: %+v", got.Actions)
	}
}

func TestRuleNameUniquePerAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRule(ctx, sampleRule("acct-1", "receipts")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.CreateRule(ctx, sampleRule("acct-1", "receipts"))
	if !errors.Is(err, rules.ErrDuplicateName) {
		t.Fatalf("duplicate name in same account: err = %v", err)
	}

	// Same name in another account is fine.
	if _, err := s.CreateRule(ctx, sampleRule("acct-2", "receipts")); err != nil {
		t.Fatalf("same name, other account: %v", err)
	}
}

func TestUpdateRuleStaleVersionRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateRule(ctx, sampleRule("acct-1", "receipts"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first := created
	first.Name = "receipts-v2"
	updated, err := s.UpdateRule(ctx, first)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	// A second writer still holding version 1 must be rejected.
	stale := created
	stale.Name = "receipts-v3"
	if _, err := s.UpdateRule(ctx, stale); !errors.Is(err, rules.ErrStaleVersion) {
		t.Fatalf("stale update: err = %v", err)
	}

	got, err := s.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "receipts-v2" {
		t.Errorf("stale write overwrote the rule: name = %q", got.Name)
	}
}

func TestListRulesPreservesCreationOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	names := []string{"first", "second", "third"}
	for _, n := range names {
		if _, err := s.CreateRule(ctx, sampleRule("acct-1", n)); err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
	}

	listed, err := s.ListRules(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed %d rules, want 3", len(listed))
	}
	for i, n := range names {
		if listed[i].Name != n {
			t.Errorf("listed[%d] = %q, want %q", i, listed[i].Name, n)
		}
	}
}

func TestDeleteRule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateRule(ctx, sampleRule("acct-1", "receipts"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRule(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetRule(ctx, created.ID); !errors.Is(err, rules.ErrNotFound) {
		t.Fatalf("get after delete: err = %v", err)
	}
	if err := s.DeleteRule(ctx, created.ID); !errors.Is(err, rules.ErrNotFound) {
		t.Fatalf("double delete: err = %v", err)
	}
}

func TestApprovalGateDecideOnce(t *testing.T) {
	s := openTestStore(t)
	gate := s.Approvals()
	ctx := context.Background()

	action := resolve.Action{
		Type: rules.ActionSendEmail, RuleName: "escalate",
		To: []string{"oncall@example.com"}, Body: "ping",
	}
	id, err := gate.Create(ctx, action)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	p, err := gate.Decide(ctx, id, true)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if p.Status != approval.StatusApproved || p.DecidedAt == nil {
		t.Fatalf("decided = %+v", p)
	}
	if p.Action.RuleName != "escalate" || len(p.Action.To) != 1 {
		t.Errorf("action lost in round trip: %+v", p.Action)
	}

	// The second decision must conflict and leave the first intact.
	p2, err := gate.Decide(ctx, id, false)
	if !errors.Is(err, approval.ErrAlreadyDecided) {
		t.Fatalf("second decide: err = %v", err)
	}
	if p2.Status != approval.StatusApproved {
		t.Errorf("second decide changed status to %q", p2.Status)
	}
}

func TestApprovalGateUnknownID(t *testing.T) {
	s := openTestStore(t)
	gate := s.Approvals()

	if _, err := gate.Decide(context.Background(), "nope", true); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListPendingApprovals(t *testing.T) {
	s := openTestStore(t)
	gate := s.Approvals()
	ctx := context.Background()

	a, err := gate.Create(ctx, resolve.Action{Type: rules.ActionReply})
	if err != nil {
		t.Fatal(err)
	}
	b, err := gate.Create(ctx, resolve.Action{Type: rules.ActionForward})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Decide(ctx, a, false); err != nil {
		t.Fatal(err)
	}

	pending, err := gate.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != b {
		t.Fatalf("pending = %+v, want only the undecided one", pending)
	}
}

func TestScheduleQueueDueOrdering(t *testing.T) {
	s := openTestStore(t)
	q := s.Schedule()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	late, err := q.Enqueue(ctx, resolve.Action{Type: rules.ActionArchive, ThreadID: "t-late"}, base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	early, err := q.Enqueue(ctx, resolve.Action{Type: rules.ActionArchive, ThreadID: "t-early"}, base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	_ = late

	// Nothing due before the first run time.
	due, err := q.Due(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("due at base = %d items, want 0", len(due))
	}

	// Both due later, oldest first.
	due, err = q.Due(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d items, want 2", len(due))
	}
	if due[0].ID != early || due[0].Action.ThreadID != "t-early" {
		t.Errorf("due[0] = %+v, want the earlier item", due[0])
	}

	if err := q.MarkDone(ctx, early, ""); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	due, err = q.Due(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID == early {
		t.Fatalf("done item still due: %+v", due)
	}

	if err := q.MarkDone(ctx, early, ""); err == nil {
		t.Fatal("marking done twice should fail")
	}
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inboxflow.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	created, err := s.CreateRule(ctx, sampleRule("acct-1", "receipts"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Name != "receipts" {
		t.Errorf("got = %+v", got)
	}
}
