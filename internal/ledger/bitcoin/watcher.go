package bitcoin

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/swapd/internal/backend"
	"github.com/klingon-exchange/swapd/internal/ledger"
	"github.com/klingon-exchange/swapd/internal/rfc003"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

// Watcher implements ledger.Watcher for (Bitcoin, Bitcoin) by polling a
// backend.Backend for new transactions paying the compiled HTLC's P2WSH
// address, grounded in internal/swap/monitor.go's ticker-driven poll loop.
type Watcher struct {
	Backend       backend.Backend
	Cache         *ledger.BlockCache
	ChainParams   *chaincfg.Params
	PollInterval  time.Duration
	Confirmations int64 // required confirmation depth before an event is emitted (reorg policy, spec.md §9)

	log *logging.Logger
}

func NewWatcher(b backend.Backend, cache *ledger.BlockCache, chainParams *chaincfg.Params) *Watcher {
	return &Watcher{
		Backend:       b,
		Cache:         cache,
		ChainParams:   chainParams,
		PollInterval:  30 * time.Second,
		Confirmations: 1,
		log:           logging.GetDefault().Component("bitcoin-watcher"),
	}
}

// Watch implements ledger.Watcher. It polls the HTLC address, emitting
// Deployed/Funded the first time a confirmed output pays it, then watches
// for the spending transaction to classify Redeemed (claim witness carries
// the preimage) versus Refunded (refund witness does not).
func (w *Watcher) Watch(ctx context.Context, params rfc003.HtlcParams, startOfSwap int64) (<-chan ledger.HtlcEvent, <-chan error) {
	events := make(chan ledger.HtlcEvent, 4)
	errs := make(chan error, 1)

	adapter := NewAdapter(w.ChainParams)
	compiled, compileErr := adapter.CompileFull(params)

	go func() {
		defer close(events)
		defer close(errs)

		if compileErr != nil {
			errs <- fmt.Errorf("%w: compile htlc: %v", ledger.ErrWatcherFailed, compileErr)
			return
		}

		var fundingTxID string
		funded := false
		ticker := time.NewTicker(w.PollInterval)
		defer ticker.Stop()

		backoff := w.PollInterval
		const maxBackoff = 10 * time.Minute

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if !funded {
				txID, amount, err := w.findFunding(ctx, compiled.Address, startOfSwap)
				if err != nil {
					w.log.Debug("funding scan error, retrying with backoff", "error", err, "backoff", backoff)
					backoff = nextBackoff(backoff, maxBackoff)
					continue
				}
				backoff = w.PollInterval
				if txID == "" {
					continue
				}
				fundingTxID = txID
				funded = true
				events <- ledger.HtlcEvent{Kind: ledger.Deployed, TxID: fundingTxID}
				events <- ledger.HtlcEvent{Kind: ledger.Funded, TxID: fundingTxID, Amount: amount}
				continue
			}

			spend, err := w.findSpend(ctx, compiled.Address, fundingTxID)
			if err != nil {
				w.log.Debug("spend scan error, retrying with backoff", "error", err, "backoff", backoff)
				backoff = nextBackoff(backoff, maxBackoff)
				continue
			}
			if spend == nil {
				continue
			}

			if spend.secret != nil {
				events <- ledger.HtlcEvent{Kind: ledger.Redeemed, TxID: spend.txID, Secret: *spend.secret}
			} else {
				events <- ledger.HtlcEvent{Kind: ledger.Refunded, TxID: spend.txID}
			}
			return
		}
	}()

	return events, errs
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// findFunding scans the HTLC address for a confirmed transaction paying
// it, not reporting anything whose block time precedes startOfSwap.
func (w *Watcher) findFunding(ctx context.Context, address string, startOfSwap int64) (txID string, amount uint64, err error) {
	txs, err := w.Backend.GetAddressTxs(ctx, address, "")
	if err != nil {
		return "", 0, err
	}
	for _, tx := range txs {
		if !tx.Confirmed || tx.Confirmations < w.Confirmations {
			continue
		}
		if tx.BlockTime != 0 && tx.BlockTime < startOfSwap {
			continue
		}
		for _, out := range tx.Outputs {
			if out.ScriptPubKeyAddr == address {
				return tx.TxID, out.Value, nil
			}
		}
	}
	return "", 0, nil
}

type spendObservation struct {
	txID   string
	secret *rfc003.Secret
}

// findSpend looks for a confirmed transaction spending the HTLC's funding
// output and classifies it by witness shape: a 32-byte element at witness
// index 1 is taken as the secret of a claim; any other spend is reported
// as a refund.
func (w *Watcher) findSpend(ctx context.Context, address, fundingTxID string) (*spendObservation, error) {
	txs, err := w.Backend.GetAddressTxs(ctx, address, "")
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if !tx.Confirmed || tx.Confirmations < w.Confirmations {
			continue
		}
		for _, in := range tx.Inputs {
			if in.TxID != fundingTxID {
				continue
			}
			if len(in.Witness) < 2 {
				return &spendObservation{txID: tx.TxID}, nil
			}
			secretHex := in.Witness[1]
			raw, err := hex.DecodeString(secretHex)
			if err != nil || len(raw) != 32 {
				return &spendObservation{txID: tx.TxID}, nil
			}
			var secret rfc003.Secret
			copy(secret[:], raw)
			return &spendObservation{txID: tx.TxID, secret: &secret}, nil
		}
	}
	return nil, nil
}
