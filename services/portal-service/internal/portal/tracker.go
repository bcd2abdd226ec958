package portal

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned by a query that a newer query for the same view replaced.
var ErrSuperseded = errors.New("superseded by a newer request")

// Tracker lets the latest query per key win. Starting a query cancels the one still
// in flight under the same key, with ErrSuperseded as the cancellation cause.
type Tracker struct {
	mu       sync.Mutex
	seq      uint64
	inflight map[string]inflight
}

type inflight struct {
	id     uint64
	cancel context.CancelCauseFunc
}

func NewTracker() *Tracker {
	return &Tracker{inflight: map[string]inflight{}}
}

// Begin registers a query under key. The returned func must be called when the query
// finishes; it only unregisters the query if no newer one took its place.
func (t *Tracker) Begin(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	t.mu.Lock()
	t.seq++
	id := t.seq
	if prev, ok := t.inflight[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	t.inflight[key] = inflight{id: id, cancel: cancel}
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		if cur, ok := t.inflight[key]; ok && cur.id == id {
			delete(t.inflight, key)
		}
		t.mu.Unlock()
		cancel(nil)
	}
}

// InFlight reports how many keys have a running query.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// superseded reports whether ctx was cancelled because a newer query started.
func superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSuperseded)
}
