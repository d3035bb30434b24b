package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/inboxflow/internal/approval"
	"github.com/joshsymonds/inboxflow/internal/resolve"
)

// ApprovalGate is the durable approval.Gate. Decide-once is enforced by the
// database, not by process memory: the decision is a conditional UPDATE
// that only lands while the row is still pending, so two racing deciders
// cannot both win.
type ApprovalGate struct {
	store *SQLiteStore
}

// Approvals returns the store's approval gate.
func (s *SQLiteStore) Approvals() *ApprovalGate {
	return &ApprovalGate{store: s}
}

func (g *ApprovalGate) Create(ctx context.Context, action resolve.Action) (string, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("marshaling action: %w", err)
	}
	id := uuid.New().String()
	_, err = g.store.db.ExecContext(ctx, `
		INSERT INTO approvals (id, action, status, created_at)
		VALUES (?, ?, ?, ?)`,
		id, string(raw), string(approval.StatusPending), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("creating approval: %w", err)
	}
	return id, nil
}

func (g *ApprovalGate) Decide(ctx context.Context, id string, approve bool) (approval.Pending, error) {
	status := approval.StatusDenied
	if approve {
		status = approval.StatusApproved
	}
	result, err := g.store.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		string(status), time.Now().UTC(), id, string(approval.StatusPending),
	)
	if err != nil {
		return approval.Pending{}, fmt.Errorf("deciding approval %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		p, err := g.Get(ctx, id)
		if err != nil {
			return approval.Pending{}, err
		}
		return p, fmt.Errorf("approval %s: %w", id, approval.ErrAlreadyDecided)
	}
	return g.Get(ctx, id)
}

func (g *ApprovalGate) Get(ctx context.Context, id string) (approval.Pending, error) {
	var (
		p         approval.Pending
		raw       string
		status    string
		decidedAt sql.NullTime
	)
	err := g.store.db.QueryRowxContext(ctx,
		"SELECT id, action, status, created_at, decided_at FROM approvals WHERE id = ?", id,
	).Scan(&p.ID, &raw, &status, &p.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Pending{}, fmt.Errorf("approval %s: %w", id, approval.ErrNotFound)
	}
	if err != nil {
		return approval.Pending{}, fmt.Errorf("getting approval %s: %w", id, err)
	}
	p.Status = approval.Status(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		p.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(raw), &p.Action); err != nil {
		return approval.Pending{}, fmt.Errorf("unmarshaling approval action: %w", err)
	}
	return p, nil
}

// ListPending returns undecided approvals, oldest first, for the review
// surface.
func (g *ApprovalGate) ListPending(ctx context.Context) ([]approval.Pending, error) {
	rows, err := g.store.db.QueryxContext(ctx, `
		SELECT id, action, status, created_at, decided_at FROM approvals
		WHERE status = ? ORDER BY created_at`,
		string(approval.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending approvals: %w", err)
	}
	defer rows.Close()

	var out []approval.Pending
	for rows.Next() {
		var (
			p         approval.Pending
			raw       string
			status    string
			decidedAt sql.NullTime
		)
		if err := rows.Scan(&p.ID, &raw, &status, &p.CreatedAt, &decidedAt); err != nil {
			return nil, fmt.Errorf("scanning approval row: %w", err)
		}
		p.Status = approval.Status(status)
		if err := json.Unmarshal([]byte(raw), &p.Action); err != nil {
			return nil, fmt.Errorf("unmarshaling approval action: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ approval.Gate = (*ApprovalGate)(nil)
