package store

import (
	"context"
	"errors"
	"log/slog"
)

// Undo collects compensating writes for a multi-key mutation. Nothing in
// the Store contract spans keys, so a caller that fails halfway through a
// sequence replays the compensations to put the earlier keys back.
type Undo struct {
	steps []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// Push registers the compensation for a write that just succeeded.
func (u *Undo) Push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// Run replays compensations newest first. It keeps going past failures and
// returns them joined. The request context may already be cancelled, so
// compensations run on a context that ignores cancellation.
func (u *Undo) Run(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			slog.Error("compensation failed", "step", step.name, "err", err)
			errs = append(errs, err)
		}
	}
	u.steps = nil
	return errors.Join(errs...)
}
