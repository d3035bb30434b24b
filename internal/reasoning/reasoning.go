// Package reasoning abstracts the natural-language capability the engine
// leans on for instruction-based rule conditions and model-authored action
// fields. The engine treats it as a remote call with a deadline and no
// mailbox side effects; a failure never becomes a match.
package reasoning

import (
	"context"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
)

// Verdict is the answer to "does this instruction describe this message".
type Verdict struct {
	Match     bool
	Rationale string
}

// Provider is the reasoning capability surface.
type Provider interface {
	// EvaluateCondition decides whether the instruction applies to the
	// message.
	EvaluateCondition(ctx context.Context, instruction string, email mailbox.Email) (Verdict, error)

	// CompleteField produces the text value for a directive field, using the
	// instruction as the prompt and the message as context.
	CompleteField(ctx context.Context, instruction string, email mailbox.Email) (string, error)
}
