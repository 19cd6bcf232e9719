package rfc003

import (
	"sync"
	"testing"
)

func TestStoreInsertIdempotentAndDuplicate(t *testing.T) {
	store := NewStore()
	id := NewSwapId()

	if err := store.Insert(id, Start(SecretHash{})); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.Insert(id, Start(SecretHash{})); err != nil {
		t.Fatalf("idempotent re-insert with equal state should succeed: %v", err)
	}

	other := Transition(Start(SecretHash{}), Event{Kind: EventAccept})
	if err := store.Insert(id, other); err == nil {
		t.Fatalf("expected ErrDuplicate inserting a different state0 for a live id")
	}
}

func TestStoreGetUnknownIsNotFound(t *testing.T) {
	store := NewStore()
	if _, err := store.Get(NewSwapId()); err == nil {
		t.Fatalf("expected ErrNotFound for unknown id")
	}
}

func TestStoreUpdateTerminalIsRejected(t *testing.T) {
	store := NewStore()
	id := NewSwapId()
	_ = store.Insert(id, Start(SecretHash{}))

	if _, err := store.Update(id, Event{Kind: EventDecline}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := store.Update(id, Event{Kind: EventAccept}); err == nil {
		t.Fatalf("expected ErrTerminal mutating a declined swap")
	}
}

// TestStoreConcurrentUpdatesAreLinearizable applies Accept, then drives many
// goroutines issuing the same Funded(alpha) event for one id and checks
// the final state is what a single-threaded application of those events
// would produce: the per-id lock must serialize every update (spec.md §8).
func TestStoreConcurrentUpdatesAreLinearizable(t *testing.T) {
	store := NewStore()
	id := NewSwapId()
	_ = store.Insert(id, Start(SecretHash{}))
	_, _ = store.Update(id, Event{Kind: EventAccept})

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = store.Update(id, Event{Kind: EventFunded, Side: Alpha})
		}()
	}
	wg.Wait()

	final, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Alpha != HtlcFundedStatus {
		t.Fatalf("expected alpha funded exactly once regardless of interleaving, got %v", final.Alpha)
	}
}

func TestStoreAllSnapshotsEveryId(t *testing.T) {
	store := NewStore()
	ids := make([]SwapId, 5)
	for i := range ids {
		ids[i] = NewSwapId()
		_ = store.Insert(ids[i], Start(SecretHash{}))
	}

	all := store.All()
	if len(all) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(all))
	}
	for _, id := range ids {
		if _, ok := all[id]; !ok {
			t.Fatalf("missing id %s in snapshot", id)
		}
	}
}
