package ethereum

import (
	"context"
	"time"

	"github.com/klingon-exchange/swapd/internal/contracts/htlc"
	"github.com/klingon-exchange/swapd/internal/ledger"
	"github.com/klingon-exchange/swapd/internal/rfc003"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

// Watcher implements ledger.Watcher for the Ethereum cells by polling the
// swap's on-chain record until it is created (which atomically funds it,
// since createSwapNative/createSwapERC20 pull funds in the same call),
// then subscribing to the contract's SwapClaimed/SwapRefunded events to
// catch the terminal transition with as little latency as possible.
type Watcher struct {
	Client               *htlc.Client
	CounterpartyIdentity rfc003.Identity
	PollInterval         time.Duration

	log *logging.Logger
}

func NewWatcher(client *htlc.Client, counterparty rfc003.Identity) *Watcher {
	return &Watcher{
		Client:               client,
		CounterpartyIdentity: counterparty,
		PollInterval:         15 * time.Second,
		log:                  logging.GetDefault().Component("ethereum-watcher"),
	}
}

func (w *Watcher) Watch(ctx context.Context, params rfc003.HtlcParams, startOfSwap int64) (<-chan ledger.HtlcEvent, <-chan error) {
	events := make(chan ledger.HtlcEvent, 4)
	errs := make(chan error, 1)

	counterparty := w.CounterpartyIdentity
	if counterparty == "" {
		counterparty = params.RefundIdentity
	}
	swapID := DeriveSwapID(params, counterparty)

	go func() {
		defer close(events)
		defer close(errs)

		if !w.waitForCreation(ctx, swapID, events) {
			return
		}
		w.waitForTerminal(ctx, swapID, events, errs)
	}()

	return events, errs
}

// waitForCreation polls GetSwap until the swap transitions out of the
// empty state, then emits Deployed and Funded (the single creation call
// does both). Returns false if ctx was cancelled first.
func (w *Watcher) waitForCreation(ctx context.Context, swapID [32]byte, events chan<- ledger.HtlcEvent) bool {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		swap, err := w.Client.GetSwap(ctx, swapID)
		if err != nil {
			w.log.Debug("swap lookup failed, retrying", "error", err)
			continue
		}
		if swap.State == htlc.SwapStateEmpty {
			continue
		}

		events <- ledger.HtlcEvent{Kind: ledger.Deployed}
		events <- ledger.HtlcEvent{Kind: ledger.Funded, Amount: swap.Amount.Uint64()}
		return true
	}
}

// waitForTerminal subscribes to SwapClaimed/SwapRefunded and emits the
// first one observed for swapID, then returns.
func (w *Watcher) waitForTerminal(ctx context.Context, swapID [32]byte, events chan<- ledger.HtlcEvent, errs chan<- error) {
	claimed, err := w.Client.WatchSwapClaimed(ctx, [][32]byte{swapID})
	if err != nil {
		errs <- wrapWatcherErr("subscribe SwapClaimed", err)
		return
	}
	refunded, err := w.Client.WatchSwapRefunded(ctx, [][32]byte{swapID})
	if err != nil {
		errs <- wrapWatcherErr("subscribe SwapRefunded", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-claimed:
			if ev == nil {
				continue
			}
			events <- ledger.HtlcEvent{
				Kind:   ledger.Redeemed,
				TxID:   ev.TxHash.Hex(),
				Secret: rfc003.Secret(ev.Secret),
			}
			return
		case ev := <-refunded:
			if ev == nil {
				continue
			}
			events <- ledger.HtlcEvent{Kind: ledger.Refunded, TxID: ev.TxHash.Hex()}
			return
		}
	}
}

func wrapWatcherErr(op string, err error) error {
	return &watcherError{op: op, err: err}
}

type watcherError struct {
	op  string
	err error
}

func (e *watcherError) Error() string { return "ethereum watcher: " + e.op + ": " + e.err.Error() }
func (e *watcherError) Unwrap() error { return e.err }
func (e *watcherError) Is(target error) bool { return target == ledger.ErrWatcherFailed }
