// Package rules holds the user-facing automation model: named rules owned by
// one account, each combining static field matchers and/or a natural-language
// instruction with an ordered action list. Rules are long-lived and only
// mutated through the management boundary; the engine reads them.
package rules

import (
	"fmt"
	"strings"
	"time"
)

// Operator combines the static and instruction halves of a condition set.
type Operator string

const (
	OperatorAnd Operator = "and"
	OperatorOr  Operator = "or"
)

// StaticMatch holds per-field patterns compared against the message. An
// empty field is not evaluated. A pattern is matched case-insensitively by
// containment, or segment-wise when it contains "*" wildcards.
type StaticMatch struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Empty reports whether no field carries a pattern.
func (m StaticMatch) Empty() bool {
	return strings.TrimSpace(m.From) == "" &&
		strings.TrimSpace(m.To) == "" &&
		strings.TrimSpace(m.Subject) == ""
}

// ConditionSet pairs an optional natural-language instruction with an
// optional static matcher. At least one must be present for the set to be
// active; an inactive set never matches.
type ConditionSet struct {
	Instructions string       `json:"instructions,omitempty"`
	Static       *StaticMatch `json:"static,omitempty"`
}

// HasInstructions reports whether the instruction half is present.
func (c ConditionSet) HasInstructions() bool {
	return strings.TrimSpace(c.Instructions) != ""
}

// HasStatic reports whether the static half is present.
func (c ConditionSet) HasStatic() bool {
	return c.Static != nil && !c.Static.Empty()
}

// Active reports whether the set can match anything at all.
func (c ConditionSet) Active() bool {
	return c.HasInstructions() || c.HasStatic()
}

// Rule is one automation: when its conditions hold for a message, its
// actions run in order. Name is unique within an account. Version is an
// optimistic-concurrency token bumped on every update; stale updates are
// rejected rather than silently overwriting.
type Rule struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"account_id"`
	Name         string       `json:"name"`
	Enabled      bool         `json:"enabled"`
	RunOnThreads bool         `json:"run_on_threads"`
	Operator     Operator     `json:"operator,omitempty"`
	Conditions   ConditionSet `json:"conditions"`
	Actions      []Action     `json:"actions"`
	SystemType   string       `json:"system_type,omitempty"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CombineWith returns the effective operator, defaulting to AND.
func (r Rule) CombineWith() Operator {
	if r.Operator == OperatorOr {
		return OperatorOr
	}
	return OperatorAnd
}

// Validate checks the structural invariants enforced at the management
// boundary.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if !r.Conditions.Active() {
		return fmt.Errorf("rule %q has no conditions and would match nothing", r.Name)
	}
	if r.Operator != "" && r.Operator != OperatorAnd && r.Operator != OperatorOr {
		return fmt.Errorf("rule %q has unknown operator %q", r.Name, r.Operator)
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("rule %q action %d: %w", r.Name, i, err)
		}
	}
	return nil
}
