// Package lock provides per-entity exclusive locks with bounded waits.
//
// Every read-modify-write of a user or market record runs inside the lock
// for that record's key. Acquisition never blocks indefinitely: when the
// wait or retry budget runs out the caller gets model.ErrConflict.
//
// Locks held through Hold are recorded on the returned context, so a
// callee that asks for a key its caller already holds does not deadlock.
package lock

import (
	"context"
	"errors"
	"sort"

	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/model"
)

// Locker acquires exclusive access to a single key.
type Locker interface {
	// Lock blocks until key is held or the bound is exhausted.
	// unlock must be called exactly once on success.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type heldKeysCtx struct{}

// heldKeys returns the keys held by ctx.
func heldKeys(ctx context.Context) map[string]struct{} {
	held, _ := ctx.Value(heldKeysCtx{}).(map[string]struct{})
	return held
}

// Held reports whether ctx already holds key.
func Held(ctx context.Context, key string) bool {
	_, ok := heldKeys(ctx)[key]
	return ok
}

// Hold acquires every key not already held by ctx, in sorted order, and
// returns a context recording them. release unlocks in reverse order.
// On failure nothing acquired by this call stays held.
func Hold(ctx context.Context, l Locker, keys ...string) (context.Context, func(), error) {
	held := heldKeys(ctx)

	want := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := held[k]; ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		want = append(want, k)
	}
	if len(want) == 0 {
		return ctx, func() {}, nil
	}
	sort.Strings(want)

	unlocks := make([]func(), 0, len(want))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, k := range want {
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			release()
			if errors.Is(err, model.ErrConflict) {
				metrics.LockConflicts.Inc()
			}
			return ctx, nil, err
		}
		unlocks = append(unlocks, unlock)
	}

	next := make(map[string]struct{}, len(held)+len(want))
	for k := range held {
		next[k] = struct{}{}
	}
	for _, k := range want {
		next[k] = struct{}{}
	}
	return context.WithValue(ctx, heldKeysCtx{}, next), release, nil
}
