// Package approval holds actions that must pause for a human decision. The
// gate records a snapshot of the resolved action when the executor parks it,
// and guarantees each approval is decided at most once — a second decision
// is a conflict, never a second execution.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/inboxflow/internal/resolve"
)

// Status tracks the lifecycle of one pending approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

var (
	// ErrNotFound means no approval exists with the given id.
	ErrNotFound = errors.New("approval not found")

	// ErrAlreadyDecided means the approval was decided before; the caller's
	// decision was not applied.
	ErrAlreadyDecided = errors.New("approval already decided")
)

// Pending is the stored record for one gated action.
type Pending struct {
	ID        string
	Action    resolve.Action
	Status    Status
	CreatedAt time.Time
	DecidedAt *time.Time
}

// Gate is the approval surface the executor and the decision boundary share.
// Create registers a gated action, Decide applies a human decision exactly
// once, Get reads current state.
type Gate interface {
	Create(ctx context.Context, action resolve.Action) (string, error)
	Decide(ctx context.Context, id string, approve bool) (Pending, error)
	Get(ctx context.Context, id string) (Pending, error)
}

// Memory is an in-process Gate for tests and single-shot runs.
type Memory struct {
	mu      sync.Mutex
	pending map[string]Pending
	clock   func() time.Time
}

// NewMemory builds an empty in-memory gate.
func NewMemory() *Memory {
	return &Memory{pending: map[string]Pending{}, clock: time.Now}
}

func (m *Memory) Create(ctx context.Context, action resolve.Action) (string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.pending[id] = Pending{
		ID:        id,
		Action:    action,
		Status:    StatusPending,
		CreatedAt: m.clock(),
	}
	return id, nil
}

func (m *Memory) Decide(ctx context.Context, id string, approve bool) (Pending, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return Pending{}, ErrNotFound
	}
	if p.Status != StatusPending {
		return p, ErrAlreadyDecided
	}
	now := m.clock()
	p.DecidedAt = &now
	if approve {
		p.Status = StatusApproved
	} else {
		p.Status = StatusDenied
	}
	m.pending[id] = p
	return p, nil
}

func (m *Memory) Get(ctx context.Context, id string) (Pending, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return Pending{}, ErrNotFound
	}
	return p, nil
}

var _ Gate = (*Memory)(nil)
