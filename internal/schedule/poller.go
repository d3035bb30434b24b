package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/inboxflow/internal/resolve"
)

// RunFunc executes one due action. The poller does not interpret results
// beyond success/failure; the executor behind the function owns gating and
// batching. Actions reaching the queue have already cleared approval, so the
// function runs them directly.
type RunFunc func(ctx context.Context, action resolve.Action) error

// Poller drains the queue on a fixed interval.
type Poller struct {
	Queue    Queue
	Run      RunFunc
	Log      *slog.Logger
	Interval time.Duration
	Clock    func() time.Time
}

// NewPoller builds a poller with sane defaults.
func NewPoller(queue Queue, run RunFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		Queue:    queue,
		Run:      run,
		Log:      logger,
		Interval: 30 * time.Second,
		Clock:    time.Now,
	}
}

// Start polls until the context is cancelled. Queue errors are logged and
// the next tick retries; only cancellation stops the loop.
func (p *Poller) Start(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Drain(ctx); err != nil {
			p.Log.ErrorContext(ctx, "drain scheduled actions", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain runs everything currently due. Each item finishes independently: a
// failing action is marked done with its error and the rest still run. When
// the context is cancelled mid-drain, the in-flight action completes but no
// further items start.
func (p *Poller) Drain(ctx context.Context) error {
	due, err := p.Queue.Due(ctx, p.now())
	if err != nil {
		return fmt.Errorf("list due actions: %w", err)
	}
	for _, item := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		execErr := p.Run(ctx, item.Action)
		msg := ""
		if execErr != nil {
			msg = execErr.Error()
			p.Log.WarnContext(ctx, "scheduled action failed",
				"id", item.ID, "type", item.Action.Type, "error", execErr)
		} else {
			p.Log.InfoContext(ctx, "scheduled action executed",
				"id", item.ID, "type", item.Action.Type)
		}
		if err := p.Queue.MarkDone(ctx, item.ID, msg); err != nil {
			return fmt.Errorf("mark %s done: %w", item.ID, err)
		}
	}
	return nil
}

func (p *Poller) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}
