// Package match decides which rules apply to a message: the Evaluator tests
// one rule's conditions, the Selector runs the whole rule set and orders the
// matches. Matching is read-only and fail-closed — a rule whose instruction
// cannot be evaluated is reported as unmatched, never matched.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/reasoning"
	"github.com/joshsymonds/inboxflow/internal/rules"
)

// Outcome classifies one rule against one message.
type Outcome int

const (
	NotMatched Outcome = iota
	Matched
	// Indeterminate means the reasoning call failed or timed out. Selectors
	// treat it as NotMatched; it is kept distinct so callers can log it.
	Indeterminate
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Indeterminate:
		return "indeterminate"
	default:
		return "not-matched"
	}
}

// Result is the full evaluation of one rule.
type Result struct {
	Outcome Outcome
	// StaticMatched is true when the static half was present and matched.
	// Single-best selection prefers these over instruction-only matches.
	StaticMatched bool
	// Rationale carries the model's justification, when there is one.
	Rationale string
	// Err records why an evaluation was Indeterminate.
	Err error
}

// Evaluator tests rule conditions against normalized messages. It holds no
// per-message state and is safe for concurrent use.
type Evaluator struct {
	Reasoning reasoning.Provider
	Log       *slog.Logger
	// Timeout bounds each reasoning call. Zero means 20s.
	Timeout time.Duration
}

// NewEvaluator constructs an Evaluator with sane defaults.
func NewEvaluator(provider reasoning.Provider, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{Reasoning: provider, Log: logger, Timeout: 20 * time.Second}
}

// Evaluate reports whether the rule's conditions hold for the message.
// Disabled rules and inactive condition sets never match. Evaluation is
// idempotent up to model non-determinism.
func (e *Evaluator) Evaluate(ctx context.Context, rule rules.Rule, email mailbox.Email) Result {
	if !rule.Enabled || !rule.Conditions.Active() {
		return Result{Outcome: NotMatched}
	}

	hasStatic := rule.Conditions.HasStatic()
	hasInstr := rule.Conditions.HasInstructions()

	staticOK := false
	if hasStatic {
		staticOK = staticMatches(*rule.Conditions.Static, email)
	}

	// Short-circuit before spending a model call where the static half
	// already settles the answer.
	if hasStatic && hasInstr {
		if rule.CombineWith() == rules.OperatorAnd && !staticOK {
			return Result{Outcome: NotMatched}
		}
		if rule.CombineWith() == rules.OperatorOr && staticOK {
			return Result{Outcome: Matched, StaticMatched: true}
		}
	}
	if hasStatic && !hasInstr {
		if staticOK {
			return Result{Outcome: Matched, StaticMatched: true}
		}
		return Result{Outcome: NotMatched}
	}

	verdict, err := e.evaluateInstruction(ctx, rule.Conditions.Instructions, email)
	if err != nil {
		e.Log.WarnContext(ctx, "instruction evaluation failed",
			"rule", rule.Name, "error", err)
		return Result{Outcome: Indeterminate, Err: err}
	}
	if !verdict.Match {
		return Result{Outcome: NotMatched, Rationale: verdict.Rationale}
	}
	return Result{
		Outcome:       Matched,
		StaticMatched: hasStatic && staticOK,
		Rationale:     verdict.Rationale,
	}
}

func (e *Evaluator) evaluateInstruction(ctx context.Context, instruction string, email mailbox.Email) (reasoning.Verdict, error) {
	if e.Reasoning == nil {
		return reasoning.Verdict{}, fmt.Errorf("no reasoning provider configured")
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.Reasoning.EvaluateCondition(cctx, instruction, email)
}

func staticMatches(m rules.StaticMatch, email mailbox.Email) bool {
	if p := strings.TrimSpace(m.From); p != "" && !patternMatches(p, email.From.String()) {
		return false
	}
	if p := strings.TrimSpace(m.To); p != "" && !patternMatches(p, joinAddresses(email.To)) {
		return false
	}
	if p := strings.TrimSpace(m.Subject); p != "" && !patternMatches(p, email.Subject) {
		return false
	}
	return true
}

// patternMatches compares case-insensitively. A plain pattern matches by
// containment; a pattern with "*" matches when its segments appear in order,
// anchored at the ends when the pattern does not start or end with "*".
func patternMatches(pattern, value string) bool {
	pattern = strings.ToLower(pattern)
	value = strings.ToLower(value)
	if !strings.Contains(pattern, "*") {
		return strings.Contains(value, pattern)
	}

	segments := strings.Split(pattern, "*")
	rest := value
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		idx := strings.Index(rest, seg)
		if idx == -1 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		rest = rest[idx+len(seg):]
	}
	if last := segments[len(segments)-1]; last != "" && !strings.HasSuffix(value, last) {
		return false
	}
	return true
}

func joinAddresses(addrs []mailbox.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
