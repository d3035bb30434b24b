// Package execute runs resolved actions against a mail account. Each action
// moves through a small state machine: a policy may block it or park it for
// approval, a delay hands it to the scheduler, and only then does it touch
// the mailbox. Failures stay scoped to their own action — a batch never
// rolls back or aborts siblings.
package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/inboxflow/internal/approval"
	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/rate"
	"github.com/joshsymonds/inboxflow/internal/resolve"
	"github.com/joshsymonds/inboxflow/internal/rules"
	"github.com/joshsymonds/inboxflow/internal/schedule"
)

// Result is the per-action outcome. Exactly one of Success,
// RequiresApproval, Scheduled, Reason, or Error is the terminal outcome.
type Result struct {
	Action resolve.Action

	Success          bool
	RequiresApproval bool
	ApprovalID       string
	Scheduled        bool
	ScheduledFor     time.Time
	// Reason is set when policy blocked the action outright.
	Reason string
	Error  string
	// DryRun marks a Success that deliberately skipped the mailbox call.
	DryRun bool

	// Batch holds per-thread outcomes for bulk operations.
	Batch []ThreadOutcome
}

// ThreadOutcome records one thread's result within a bulk operation.
type ThreadOutcome struct {
	Thread mailbox.ThreadID
	Error  string
}

// Policy classifies resolved actions before execution.
type Policy struct {
	// RequireApproval parks the action for a human decision when true.
	RequireApproval func(resolve.Action) bool
	// Block rejects the action with the returned reason; empty means allowed.
	Block func(resolve.Action) string
	// DryRun reports what would run without touching the mailbox.
	DryRun bool
}

// DefaultPolicy gates every action that sends mail on someone's behalf.
func DefaultPolicy() Policy {
	return Policy{
		RequireApproval: func(a resolve.Action) bool {
			switch a.Type {
			case rules.ActionSendEmail, rules.ActionReply, rules.ActionForward:
				return true
			default:
				return false
			}
		},
	}
}

const (
	defaultBatchWidth = 10
	defaultBulkLimit  = 500
	transientRetries  = 2
	retryBackoff      = 500 * time.Millisecond
)

// Executor drives resolved actions through the capability interface.
type Executor struct {
	Client     mailbox.Client
	Gate       approval.Gate
	Scheduler  schedule.Scheduler
	Limiter    rate.Limiter
	HTTPClient *http.Client
	Log        *slog.Logger
	Clock      func() time.Time
	// BatchWidth bounds in-flight provider calls during bulk operations.
	BatchWidth int
	// BulkLimit caps how many threads one bulk action may touch.
	BulkLimit int
}

// New builds an Executor with sane defaults.
func New(client mailbox.Client, gate approval.Gate, scheduler schedule.Scheduler, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Client:     client,
		Gate:       gate,
		Scheduler:  scheduler,
		Limiter:    rate.None{},
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Log:        logger,
		Clock:      time.Now,
		BatchWidth: defaultBatchWidth,
		BulkLimit:  defaultBulkLimit,
	}
}

// Execute runs each action independently and returns one result per input,
// in input order. Once the context is cancelled, in-flight provider calls
// finish but no further actions start; the skipped ones report the
// cancellation as their error.
func (x *Executor) Execute(ctx context.Context, actions []resolve.Action, policy Policy) []Result {
	results := make([]Result, len(actions))
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Action: a, Error: fmt.Sprintf("not started: %v", err)}
			continue
		}
		results[i] = x.executeOne(ctx, a, policy)
	}
	return results
}

func (x *Executor) executeOne(ctx context.Context, a resolve.Action, policy Policy) Result {
	if policy.Block != nil {
		if reason := policy.Block(a); reason != "" {
			x.Log.InfoContext(ctx, "action blocked by policy",
				"rule", a.RuleName, "type", a.Type, "reason", reason)
			return Result{Action: a, Reason: reason}
		}
	}

	if policy.RequireApproval != nil && policy.RequireApproval(a) {
		id, err := x.Gate.Create(ctx, a)
		if err != nil {
			return Result{Action: a, Error: fmt.Sprintf("register approval: %v", err)}
		}
		x.Log.InfoContext(ctx, "action parked for approval",
			"rule", a.RuleName, "type", a.Type, "approval_id", id)
		return Result{Action: a, RequiresApproval: true, ApprovalID: id}
	}

	return x.Resume(ctx, a, policy.DryRun)
}

// Resume continues an action past the approval stage: delayed actions go to
// the scheduler, everything else runs now. Called both from Execute and
// after an approval decision.
func (x *Executor) Resume(ctx context.Context, a resolve.Action, dryRun bool) Result {
	if a.Delay > 0 {
		when := x.now().Add(a.Delay)
		if dryRun {
			return Result{Action: a, Scheduled: true, ScheduledFor: when, DryRun: true}
		}
		snapshot := a
		snapshot.Delay = 0
		if _, err := x.Scheduler.ScheduleAt(ctx, snapshot, when); err != nil {
			return Result{Action: a, Error: fmt.Sprintf("schedule: %v", err)}
		}
		x.Log.InfoContext(ctx, "action scheduled",
			"rule", a.RuleName, "type", a.Type, "run_at", when)
		return Result{Action: a, Scheduled: true, ScheduledFor: when}
	}
	if dryRun {
		return Result{Action: a, Success: true, DryRun: true}
	}
	return x.Run(ctx, a)
}

// Run performs the mailbox mutation immediately, bypassing policy. It is
// the entry point for scheduler callbacks and approved actions.
func (x *Executor) Run(ctx context.Context, a resolve.Action) Result {
	if a.Type == rules.ActionArchive && a.Sender != "" {
		return x.runBulkArchive(ctx, a)
	}

	err := x.withRetry(ctx, a.Type, func() error {
		return x.dispatch(ctx, a)
	})
	if err != nil {
		x.Log.WarnContext(ctx, "action failed",
			"rule", a.RuleName, "type", a.Type, "error", err)
		return Result{Action: a, Error: err.Error()}
	}
	x.Log.InfoContext(ctx, "action executed", "rule", a.RuleName, "type", a.Type)
	return Result{Action: a, Success: true}
}

// withRetry retries transient failures for idempotent operations only.
// Sending twice is a correctness violation, so anything that produces mail
// gets exactly one attempt.
func (x *Executor) withRetry(ctx context.Context, t rules.ActionType, call func() error) error {
	attempts := 1
	if idempotent(t) {
		attempts = transientRetries
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		if err = call(); err == nil || !mailbox.IsTransient(err) {
			return err
		}
	}
	return err
}

func idempotent(t rules.ActionType) bool {
	switch t {
	case rules.ActionArchive, rules.ActionLabel, rules.ActionMoveFolder,
		rules.ActionMarkRead, rules.ActionMarkSpam, rules.ActionDigest,
		rules.ActionTrackThread:
		return true
	default:
		return false
	}
}

func (x *Executor) dispatch(ctx context.Context, a resolve.Action) error {
	if err := x.Limiter.Wait(ctx); err != nil {
		return err
	}
	switch a.Type {
	case rules.ActionArchive:
		return x.Client.ArchiveThread(ctx, a.ThreadID)
	case rules.ActionLabel, rules.ActionDigest, rules.ActionTrackThread:
		return x.Client.LabelThread(ctx, a.ThreadID, a.LabelID)
	case rules.ActionMoveFolder:
		return x.Client.MoveToFolder(ctx, a.ThreadID, a.FolderID)
	case rules.ActionMarkRead:
		return x.Client.MarkRead(ctx, a.ThreadID)
	case rules.ActionMarkSpam:
		return x.Client.MarkSpam(ctx, a.ThreadID)
	case rules.ActionDraftEmail:
		_, err := x.Client.DraftEmail(ctx, outgoing(a))
		return err
	case rules.ActionReply:
		return x.Client.ReplyToEmail(ctx, a.MessageID, outgoing(a))
	case rules.ActionSendEmail:
		return x.Client.SendEmail(ctx, outgoing(a))
	case rules.ActionForward:
		return x.Client.ForwardEmail(ctx, a.MessageID, outgoing(a))
	case rules.ActionCallWebhook:
		return x.callWebhook(ctx, a)
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func outgoing(a resolve.Action) mailbox.Outgoing {
	return mailbox.Outgoing{
		To:      a.To,
		Cc:      a.Cc,
		Bcc:     a.Bcc,
		Subject: a.Subject,
		Body:    a.Body,
	}
}

// runBulkArchive archives every thread from a sender in bounded batches so
// provider rate limits hold and partial success stays observable per
// thread.
func (x *Executor) runBulkArchive(ctx context.Context, a resolve.Action) Result {
	limit := x.BulkLimit
	if limit <= 0 {
		limit = defaultBulkLimit
	}
	threads, err := x.Client.ThreadsFromSender(ctx, a.Sender, limit)
	if err != nil {
		return Result{Action: a, Error: fmt.Sprintf("list threads from %s: %v", a.Sender, err)}
	}
	if len(threads) == 0 {
		return Result{Action: a, Success: true}
	}

	width := x.BatchWidth
	if width <= 0 {
		width = defaultBatchWidth
	}
	outcomes := make([]ThreadOutcome, len(threads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)
	for i, thread := range threads {
		g.Go(func() error {
			outcomes[i] = ThreadOutcome{Thread: thread}
			if err := x.Limiter.Wait(gctx); err != nil {
				outcomes[i].Error = err.Error()
				return nil
			}
			if err := x.Client.ArchiveThread(gctx, thread); err != nil {
				outcomes[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	res := Result{Action: a, Batch: outcomes}
	if failed == 0 {
		res.Success = true
	} else {
		res.Error = fmt.Sprintf("%d of %d threads failed", failed, len(threads))
	}
	x.Log.InfoContext(ctx, "bulk archive finished",
		"sender", a.Sender, "threads", len(threads), "failed", failed)
	return res
}

type webhookPayload struct {
	Rule      string `json:"rule"`
	Action    string `json:"action"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	Label     string `json:"label,omitempty"`
}

func (x *Executor) callWebhook(ctx context.Context, a resolve.Action) error {
	payload, err := json.Marshal(webhookPayload{
		Rule:      a.RuleName,
		Action:    string(a.Type),
		MessageID: string(a.MessageID),
		ThreadID:  string(a.ThreadID),
		Label:     a.LabelName,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := x.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("call webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (x *Executor) now() time.Time {
	if x.Clock != nil {
		return x.Clock()
	}
	return time.Now()
}
