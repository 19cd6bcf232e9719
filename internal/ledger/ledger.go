// Package ledger implements C1 (ledger event watchers) and C2 (HTLC
// contract adapters) as a closed dispatch matrix over (Ledger, Asset)
// pairs: Bitcoin/Bitcoin, Ethereum/Ether, Ethereum/Erc20. Adding a ledger
// means adding a cell to this matrix, not registering an open-ended
// plug-in (spec.md §9).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/klingon-exchange/swapd/internal/rfc003"
)

// ErrWatcherFailed is matched by errors sent on a watcher's error channel when a permanent
// chain error (genesis mismatch, disagreeing network id) has occurred;
// transient RPC errors are retried internally and never surface here.
var ErrWatcherFailed = errors.New("watcher failed")

// HtlcEventKind mirrors rfc003.EventKind for the subset a watcher emits.
type HtlcEventKind int

const (
	Deployed HtlcEventKind = iota
	Funded
	Redeemed
	Refunded
)

// HtlcEvent is one observation a Watcher emits. TxID is the originating
// transaction's hash in the ledger's native hex form.
type HtlcEvent struct {
	Kind   HtlcEventKind
	TxID   string
	Amount uint64        // populated for Funded
	Secret rfc003.Secret // populated for Redeemed
}

// Watcher turns per-chain polling into the typed HTLC event sequence of
// spec.md §4.1: Deployed, Funded, then exactly one of Redeemed or
// Refunded. Watch returns a channel that is closed once a terminal event
// has been sent or ctx is cancelled; a permanent failure sends a single
// event with an error obtainable via the returned error channel semantics
// documented on each concrete implementation.
type Watcher interface {
	Watch(ctx context.Context, params rfc003.HtlcParams, startOfSwap int64) (<-chan HtlcEvent, <-chan error)
}

// Adapter is the C2 contract for one (Ledger, Asset) cell: compile the
// HTLC parameters to their on-chain artifact, and recover the preimage
// from a witnessing redeem.
type Adapter interface {
	// Compile is deterministic: equal params produce equal bytes.
	Compile(params rfc003.HtlcParams) ([]byte, error)
	// ExtractSecret recovers the preimage from a redeem transaction/log
	// identified by txID.
	ExtractSecret(ctx context.Context, txID string) (rfc003.Secret, error)
}

// Registry is the closed (Ledger, Asset) dispatch matrix: one Watcher and
// one Adapter per supported cell, looked up by kind pair.
type Registry struct {
	watchers map[cellKey]Watcher
	adapters map[cellKey]Adapter
}

type cellKey struct {
	ledger rfc003.LedgerKind
	asset  rfc003.AssetKind
}

func NewRegistry() *Registry {
	return &Registry{
		watchers: make(map[cellKey]Watcher),
		adapters: make(map[cellKey]Adapter),
	}
}

func (r *Registry) Register(ledger rfc003.LedgerKind, asset rfc003.AssetKind, w Watcher, a Adapter) {
	key := cellKey{ledger, asset}
	r.watchers[key] = w
	r.adapters[key] = a
}

func (r *Registry) Watcher(ledger rfc003.LedgerKind, asset rfc003.AssetKind) (Watcher, error) {
	w, ok := r.watchers[cellKey{ledger, asset}]
	if !ok {
		return nil, fmt.Errorf("ledger: no watcher registered for (%s, %s)", ledger, asset)
	}
	return w, nil
}

func (r *Registry) Adapter(ledger rfc003.LedgerKind, asset rfc003.AssetKind) (Adapter, error) {
	a, ok := r.adapters[cellKey{ledger, asset}]
	if !ok {
		return nil, fmt.Errorf("ledger: no adapter registered for (%s, %s)", ledger, asset)
	}
	return a, nil
}
