package match

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/rules"
)

// Selection pairs a rule with its evaluation.
type Selection struct {
	Rule   rules.Rule
	Result Result
}

// Selector evaluates a whole rule set against one message. It never reorders
// rules: matches come back in stored order, and how many to act on is the
// caller's policy, not ours.
type Selector struct {
	Evaluator *Evaluator
	// Concurrency bounds how many rules evaluate in parallel. Only rules
	// with instructions actually wait on the model, so a small width is
	// plenty. Zero means 4.
	Concurrency int
}

// NewSelector builds a Selector over the given evaluator.
func NewSelector(e *Evaluator) *Selector {
	return &Selector{Evaluator: e, Concurrency: 4}
}

// Select evaluates every rule and returns the matches in stored order. A
// failing rule is recorded as unmatched and the rest keep evaluating; the
// error stays visible on its Result for logging.
func (s *Selector) Select(ctx context.Context, ruleset []rules.Rule, email mailbox.Email) []Selection {
	results := make([]Result, len(ruleset))

	width := s.Concurrency
	if width <= 0 {
		width = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)
	for i := range ruleset {
		g.Go(func() error {
			results[i] = s.Evaluator.Evaluate(gctx, ruleset[i], email)
			return nil
		})
	}
	// Workers never return errors; failures land in their Result.
	_ = g.Wait()

	var matches []Selection
	for i, res := range results {
		if res.Outcome == Matched {
			matches = append(matches, Selection{Rule: ruleset[i], Result: res})
		}
	}
	return matches
}

// Best picks the single winning match: the first whose static conditions
// matched, falling back to the first match of any kind. Returns false when
// nothing matched.
func Best(matches []Selection) (Selection, bool) {
	for _, m := range matches {
		if m.Result.StaticMatched {
			return m, true
		}
	}
	if len(matches) > 0 {
		return matches[0], true
	}
	return Selection{}, false
}
