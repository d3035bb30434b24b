// Package pipeline ties the triage stages together: select the matching
// rules for a message, resolve their actions into concrete operations, and
// execute them. One Run call covers one message; resolution caching lives
// inside that call and is never shared across messages.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/inboxflow/internal/approval"
	"github.com/joshsymonds/inboxflow/internal/execute"
	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/match"
	"github.com/joshsymonds/inboxflow/internal/metrics"
	"github.com/joshsymonds/inboxflow/internal/reasoning"
	"github.com/joshsymonds/inboxflow/internal/resolve"
	"github.com/joshsymonds/inboxflow/internal/rules"
)

// Options tune one Run call.
type Options struct {
	// AllMatches applies every matching rule instead of only the best one.
	AllMatches bool
	// ThreadUpdate marks the message as a follow-up on an already-triaged
	// thread; only rules that opted into thread reruns are considered.
	ThreadUpdate bool
}

// Report is the outcome of one message through the pipeline.
type Report struct {
	MessageID mailbox.MessageID
	// Matched lists every rule that matched, in stored order.
	Matched []string
	// Applied lists the rules whose actions actually ran.
	Applied []string
	Results []execute.Result
}

// Acted reports whether any rule's actions were run.
func (r Report) Acted() bool { return len(r.Applied) > 0 }

// Pipeline wires the stages for one account.
type Pipeline struct {
	Account   string
	Client    mailbox.Client
	Reasoning reasoning.Provider
	Selector  *match.Selector
	Executor  *execute.Executor
	Policy    execute.Policy
	Log       *slog.Logger
}

// New builds a pipeline with the default gating policy.
func New(account string, client mailbox.Client, provider reasoning.Provider, selector *match.Selector, executor *execute.Executor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Account:   account,
		Client:    client,
		Reasoning: provider,
		Selector:  selector,
		Executor:  executor,
		Policy:    execute.DefaultPolicy(),
		Log:       logger,
	}
}

// Run triages one message against the rule set and returns what happened.
// The ruleset must already be scoped to the pipeline's account.
func (p *Pipeline) Run(ctx context.Context, ruleset []rules.Rule, email mailbox.Email, opts Options) Report {
	start := time.Now()
	defer func() { metrics.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	if opts.ThreadUpdate {
		ruleset = threadRules(ruleset)
	}

	report := Report{MessageID: email.ID}
	matches := p.Selector.Select(ctx, ruleset, email)
	for _, m := range matches {
		report.Matched = append(report.Matched, m.Rule.Name)
		metrics.RulesEvaluated.WithLabelValues(p.Account, "matched").Inc()
	}
	metrics.RulesEvaluated.WithLabelValues(p.Account, "unmatched").
		Add(float64(len(ruleset) - len(matches)))

	if len(matches) == 0 {
		metrics.EmailsProcessed.WithLabelValues(p.Account, "no_match").Inc()
		p.Log.DebugContext(ctx, "no rule matched", "message", email.ID)
		return report
	}

	apply := matches
	if !opts.AllMatches {
		best, _ := match.Best(matches)
		apply = []match.Selection{best}
	}

	// One resolver per message keeps repeated label references to a single
	// lookup without leaking ids across messages.
	resolver := resolve.New(p.Client, p.Reasoning, p.Log)
	for _, sel := range apply {
		report.Applied = append(report.Applied, sel.Rule.Name)
		report.Results = append(report.Results, p.applyRule(ctx, resolver, sel.Rule, email)...)
	}

	metrics.EmailsProcessed.WithLabelValues(p.Account, "acted").Inc()
	for _, r := range report.Results {
		metrics.ActionsExecuted.WithLabelValues(string(r.Action.Type), resultLabel(r)).Inc()
	}
	p.Log.InfoContext(ctx, "message triaged",
		"message", email.ID, "matched", len(matches), "applied", report.Applied)
	return report
}

// applyRule resolves and executes one rule's actions. An action that fails
// to resolve yields an error result in its slot; the rest still run.
func (p *Pipeline) applyRule(ctx context.Context, resolver *resolve.Resolver, rule rules.Rule, email mailbox.Email) []execute.Result {
	resolved, errs := resolver.ResolveAll(ctx, rule, rule.Actions, email)

	results := make([]execute.Result, len(rule.Actions))
	var runnable []resolve.Action
	var slots []int
	for i := range rule.Actions {
		if errs[i] != nil {
			p.Log.WarnContext(ctx, "action failed to resolve",
				"rule", rule.Name, "type", rule.Actions[i].Type, "error", errs[i])
			results[i] = execute.Result{
				Action: resolve.Action{Type: rule.Actions[i].Type, RuleID: rule.ID, RuleName: rule.Name},
				Error:  errs[i].Error(),
			}
			continue
		}
		runnable = append(runnable, resolved[i])
		slots = append(slots, i)
	}

	executed := p.Executor.Execute(ctx, runnable, p.Policy)
	for j, r := range executed {
		results[slots[j]] = r
	}
	return results
}

// ApplyDecision records a human decision on a parked action and, on
// approval, resumes it: delayed actions go to the scheduler, the rest run
// now. Denied actions are terminal.
func (p *Pipeline) ApplyDecision(ctx context.Context, gate approval.Gate, id string, approve bool) (execute.Result, error) {
	pending, err := gate.Decide(ctx, id, approve)
	if err != nil {
		return execute.Result{}, fmt.Errorf("decide approval %s: %w", id, err)
	}
	if pending.Status == approval.StatusDenied {
		p.Log.InfoContext(ctx, "approval denied", "id", id, "type", pending.Action.Type)
		return execute.Result{Action: pending.Action, Reason: "denied"}, nil
	}
	p.Log.InfoContext(ctx, "approval granted", "id", id, "type", pending.Action.Type)
	res := p.Executor.Resume(ctx, pending.Action, p.Policy.DryRun)
	metrics.ActionsExecuted.WithLabelValues(string(res.Action.Type), resultLabel(res)).Inc()
	return res, nil
}

func threadRules(ruleset []rules.Rule) []rules.Rule {
	out := make([]rules.Rule, 0, len(ruleset))
	for _, r := range ruleset {
		if r.RunOnThreads {
			out = append(out, r)
		}
	}
	return out
}

func resultLabel(r execute.Result) string {
	switch {
	case r.RequiresApproval:
		return "pending_approval"
	case r.Scheduled:
		return "scheduled"
	case r.Reason != "":
		return "blocked"
	case r.Error != "":
		return "error"
	default:
		return "ok"
	}
}
