package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/inboxflow/internal/resolve"
	"github.com/joshsymonds/inboxflow/internal/schedule"
)

// ScheduleQueue is the durable schedule.Queue: delayed actions survive a
// restart and the poller picks them up when due.
type ScheduleQueue struct {
	store *SQLiteStore
}

// Schedule returns the store's delayed-action queue.
func (s *SQLiteStore) Schedule() *ScheduleQueue {
	return &ScheduleQueue{store: s}
}

func (q *ScheduleQueue) Enqueue(ctx context.Context, action resolve.Action, runAt time.Time) (string, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("marshaling action: %w", err)
	}
	id := uuid.New().String()
	_, err = q.store.db.ExecContext(ctx, `
		INSERT INTO scheduled_actions (id, action, run_at, created_at)
		VALUES (?, ?, ?, ?)`,
		id, string(raw), runAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("enqueueing action: %w", err)
	}
	return id, nil
}

func (q *ScheduleQueue) Due(ctx context.Context, now time.Time) ([]schedule.Item, error) {
	rows, err := q.store.db.QueryxContext(ctx, `
		SELECT id, action, run_at FROM scheduled_actions
		WHERE done = 0 AND run_at <= ? ORDER BY run_at, id`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying due actions: %w", err)
	}
	defer rows.Close()

	var items []schedule.Item
	for rows.Next() {
		var (
			item schedule.Item
			raw  string
		)
		if err := rows.Scan(&item.ID, &raw, &item.RunAt); err != nil {
			return nil, fmt.Errorf("scanning scheduled action: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &item.Action); err != nil {
			return nil, fmt.Errorf("unmarshaling scheduled action %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *ScheduleQueue) MarkDone(ctx context.Context, id string, execErr string) error {
	result, err := q.store.db.ExecContext(ctx, `
		UPDATE scheduled_actions SET done = 1, exec_error = ?, done_at = ?
		WHERE id = ? AND done = 0`,
		execErr, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking scheduled action %s done: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("scheduled action %s not found or already done", id)
	}
	return nil
}

var _ schedule.Queue = (*ScheduleQueue)(nil)
