// Package coordinator implements C6: the per-swap lifecycle owner wiring
// the protocol state machine (internal/rfc003), the ledger watchers
// (internal/ledger), and the announce protocol (internal/announce)
// together, grounded in internal/swap/coordinator.go's dependency-holding,
// event-handler-fan-out design.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapd/internal/announce"
	"github.com/klingon-exchange/swapd/internal/ledger"
	"github.com/klingon-exchange/swapd/internal/persistence"
	"github.com/klingon-exchange/swapd/internal/rfc003"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

var (
	ErrSwapNotFound  = errors.New("coordinator: swap not found")
	ErrSwapDeclined  = errors.New("coordinator: swap declined by counterparty")
	ErrNoLedgerCells = errors.New("coordinator: no registered watcher/adapter for one of the swap's ledgers")
)

// SwapEvent is emitted to registered handlers on every state transition.
type SwapEvent struct {
	SwapId    rfc003.SwapId
	EventType string
	Data      interface{}
	Timestamp time.Time
}

// EventHandler observes swap lifecycle events.
type EventHandler func(event SwapEvent)

// AcceptPolicy decides, on behalf of Bob, whether to accept an incoming
// swap proposal, returning the SwapAccept to send back when accepting.
type AcceptPolicy func(from peer.ID, req rfc003.SwapRequest) (accept bool, swapAccept rfc003.SwapAccept, reason string)

// Announcer is the subset of *announce.Service the coordinator needs to
// propose a swap to a counterparty and await its accept/decline. Narrowing
// this to an interface, the way internal/ledger.Registry narrows watchers
// and adapters, lets tests exercise Initiate's error-handling paths (I2,
// announce timeout) against a fake instead of a live libp2p host.
type Announcer interface {
	Announce(ctx context.Context, peerID peer.ID, req announce.Request) (announce.Reply, error)
}

// swapMeta is the metadata the coordinator keeps alongside a swap's
// rfc003.State: the negotiated request/accept, the role this process
// plays, and the counterparty's peer id for announce purposes.
type swapMeta struct {
	Request      rfc003.SwapRequest
	Accept       rfc003.SwapAccept
	Role         rfc003.Role
	Counterparty peer.ID
	StartOfSwap  int64
}

// Coordinator owns every active swap's watchers and exposes the
// negotiation entry points used by the RPC surface (C9).
type Coordinator struct {
	mu sync.RWMutex

	store       *rfc003.Store
	registry    *ledger.Registry
	announce    Announcer
	persistence *persistence.Store
	policy      AcceptPolicy

	meta          map[rfc003.SwapId]*swapMeta
	pending       map[string]*PendingProposal
	eventHandlers []EventHandler

	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	Store    *rfc003.Store
	Registry *ledger.Registry
	Announce Announcer
	// Persistence is optional: without it, swaps are held in memory only
	// and do not survive a restart.
	Persistence *persistence.Store
	Policy      AcceptPolicy
}

func NewCoordinator(cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:       cfg.Store,
		registry:    cfg.Registry,
		announce:    cfg.Announce,
		persistence: cfg.Persistence,
		policy:      cfg.Policy,
		meta:        make(map[rfc003.SwapId]*swapMeta),
		pending:     make(map[string]*PendingProposal),
		log:         logging.GetDefault().Component("coordinator"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetPolicy replaces the AcceptPolicy used by future HandleAnnounce calls.
// Callers that need ManualAcceptPolicy's coordinator-bound closure (which
// cannot exist before the Coordinator itself does) set it here right after
// construction instead of via Config.
func (c *Coordinator) SetPolicy(p AcceptPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// HandleAnnounce implements announce.Handler for the Bob side: it applies
// the configured AcceptPolicy, and on acceptance assigns a SwapId, seeds
// the state machine, and starts both ledgers' watchers.
func (c *Coordinator) HandleAnnounce(ctx context.Context, from peer.ID, req announce.Request) announce.Reply {
	digest, err := rfc003.ComputeDigest(req.SwapRequest)
	if err != nil {
		return announce.Reply{Accepted: false, Reason: "invalid swap request: " + err.Error()}
	}
	if digest != req.Digest {
		return announce.Reply{Accepted: false, Reason: "digest does not match announced swap request"}
	}

	c.mu.RLock()
	policy := c.policy
	c.mu.RUnlock()
	if policy == nil {
		return announce.Reply{Accepted: false, Reason: "no accept policy configured"}
	}

	ok, swapAccept, reason := policy(from, req.SwapRequest)
	if !ok {
		return announce.Reply{Accepted: false, Reason: reason}
	}

	id := rfc003.NewSwapId()
	if err := c.seed(id, req.SwapRequest, swapAccept, rfc003.RoleBob, from); err != nil {
		return announce.Reply{Accepted: false, Reason: err.Error()}
	}

	return announce.Reply{Accepted: true, SwapId: id, Accept: &swapAccept}
}

// Initiate is the Alice side: announce a proposal to the counterparty,
// and on acceptance seed the state machine and start watchers.
func (c *Coordinator) Initiate(ctx context.Context, peerID peer.ID, req rfc003.SwapRequest) (rfc003.SwapId, error) {
	digest, err := rfc003.ComputeDigest(req)
	if err != nil {
		return rfc003.SwapId{}, fmt.Errorf("coordinator: compute digest: %w", err)
	}

	reply, err := c.announce.Announce(ctx, peerID, announce.Request{SwapRequest: req, Digest: digest})
	if err != nil {
		if errors.Is(err, announce.ErrAnnounceTimeout) {
			// Alice has no SwapId from Bob yet (he never replied), so record
			// the terminal failure under a locally generated provisional one
			// (spec.md §8 scenario 6) so it still shows up in swaps_list.
			id := rfc003.NewSwapId()
			errState := rfc003.State{Phase: rfc003.PhaseError, Err: rfc003.ErrAnnounceTimeout}
			if insertErr := c.store.Insert(id, errState); insertErr != nil {
				c.log.Warn("failed to record announce timeout", "error", insertErr)
			} else {
				c.mu.Lock()
				c.meta[id] = &swapMeta{Request: req, Role: rfc003.RoleAlice, Counterparty: peerID, StartOfSwap: unixNow()}
				c.mu.Unlock()
				c.emit(id, "announce_timeout", errState)
			}
			return id, fmt.Errorf("coordinator: announce: %w", rfc003.ErrAnnounceTimeout)
		}
		return rfc003.SwapId{}, fmt.Errorf("coordinator: announce: %w", err)
	}
	if !reply.Accepted {
		return rfc003.SwapId{}, fmt.Errorf("%w: %s", ErrSwapDeclined, reply.Reason)
	}

	var swapAccept rfc003.SwapAccept
	if reply.Accept != nil {
		swapAccept = *reply.Accept
	}

	if err := c.seed(reply.SwapId, req, swapAccept, rfc003.RoleAlice, peerID); err != nil {
		return rfc003.SwapId{}, err
	}
	return reply.SwapId, nil
}

func (c *Coordinator) seed(id rfc003.SwapId, req rfc003.SwapRequest, accept rfc003.SwapAccept, role rfc003.Role, counterparty peer.ID) error {
	if err := rfc003.CheckExpiryInvariant(req.AlphaExpiry, req.BetaExpiry); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	state0 := rfc003.Start(req.SecretHash)
	state0 = rfc003.Transition(state0, rfc003.Event{Kind: rfc003.EventAccept})
	if err := c.store.Insert(id, state0); err != nil {
		return fmt.Errorf("coordinator: seed store: %w", err)
	}

	meta := &swapMeta{
		Request:      req,
		Accept:       accept,
		Role:         role,
		Counterparty: counterparty,
		StartOfSwap:  unixNow(),
	}

	if c.persistence != nil {
		if err := c.persistence.SaveSwap(persistence.SwapRecord{
			SwapId:       id,
			Role:         role,
			Counterparty: counterparty,
			StartOfSwap:  meta.StartOfSwap,
			Request:      req,
			Accept:       accept,
			CreatedAt:    time.Unix(meta.StartOfSwap, 0),
		}); err != nil {
			return fmt.Errorf("coordinator: persist swap: %w", err)
		}
	}

	c.mu.Lock()
	c.meta[id] = meta
	c.mu.Unlock()

	c.emit(id, "accepted", meta)

	alphaParams := alphaHtlcParams(req, role)
	betaParams := betaHtlcParams(req, role)
	if err := c.startWatcher(id, req.AlphaLedger, req.AlphaAsset, alphaParams, rfc003.Alpha, meta.StartOfSwap); err != nil {
		return err
	}
	if err := c.startWatcher(id, req.BetaLedger, req.BetaAsset, betaParams, rfc003.Beta, meta.StartOfSwap); err != nil {
		return err
	}
	return nil
}

// Restore rehydrates every swap persisted by a prior process: it reseeds
// the state machine as accepted and restarts both sides' watchers, without
// re-announcing or re-checking (I2), since both already held at Accept time.
// Chain state is re-derived by the watchers themselves, not read back from
// disk.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.persistence == nil {
		return nil
	}
	records, err := c.persistence.ListSwaps()
	if err != nil {
		return fmt.Errorf("coordinator: list persisted swaps: %w", err)
	}

	for _, rec := range records {
		state0 := rfc003.Start(rec.Request.SecretHash)
		state0 = rfc003.Transition(state0, rfc003.Event{Kind: rfc003.EventAccept})
		if err := c.store.Insert(rec.SwapId, state0); err != nil {
			c.log.Warn("failed to rehydrate persisted swap", "swap_id", rec.SwapId, "error", err)
			continue
		}

		meta := &swapMeta{
			Request:      rec.Request,
			Accept:       rec.Accept,
			Role:         rec.Role,
			Counterparty: rec.Counterparty,
			StartOfSwap:  rec.StartOfSwap,
		}
		c.mu.Lock()
		c.meta[rec.SwapId] = meta
		c.mu.Unlock()

		c.emit(rec.SwapId, "restored", meta)
		c.startWatchers(rec.SwapId, meta)
	}
	return nil
}

// startWatchers starts both sides' watchers for a freshly seeded or
// restored swap.
func (c *Coordinator) startWatchers(id rfc003.SwapId, meta *swapMeta) {
	alphaParams := alphaHtlcParams(meta.Request, meta.Role)
	betaParams := betaHtlcParams(meta.Request, meta.Role)

	if err := c.startWatcher(id, meta.Request.AlphaLedger, meta.Request.AlphaAsset, alphaParams, rfc003.Alpha, meta.StartOfSwap); err != nil {
		c.log.Warn("failed to start alpha watcher", "swap_id", id, "error", err)
	}
	if err := c.startWatcher(id, meta.Request.BetaLedger, meta.Request.BetaAsset, betaParams, rfc003.Beta, meta.StartOfSwap); err != nil {
		c.log.Warn("failed to start beta watcher", "swap_id", id, "error", err)
	}
}

func alphaHtlcParams(req rfc003.SwapRequest, role rfc003.Role) rfc003.HtlcParams {
	redeem, refund := req.AlphaRedeemIdentity, req.AlphaRefundIdentity
	return rfc003.HtlcParams{
		Ledger:         req.AlphaLedger,
		Asset:          req.AlphaAsset,
		RedeemIdentity: redeem,
		RefundIdentity: refund,
		Expiry:         req.AlphaExpiry,
		SecretHash:     req.SecretHash,
	}
}

func betaHtlcParams(req rfc003.SwapRequest, role rfc003.Role) rfc003.HtlcParams {
	redeem, refund := req.BetaRedeemIdentity, req.BetaRefundIdentity
	return rfc003.HtlcParams{
		Ledger:         req.BetaLedger,
		Asset:          req.BetaAsset,
		RedeemIdentity: redeem,
		RefundIdentity: refund,
		Expiry:         req.BetaExpiry,
		SecretHash:     req.SecretHash,
	}
}

// startWatcher looks up the registered Watcher for (ledger, asset), starts
// it, and forwards its HtlcEvent stream into the swap's state machine.
func (c *Coordinator) startWatcher(id rfc003.SwapId, l rfc003.Ledger, a rfc003.Asset, params rfc003.HtlcParams, side rfc003.Side, startOfSwap int64) error {
	w, err := c.registry.Watcher(l.Kind, a.Kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoLedgerCells, err)
	}

	events, errs := w.Watch(c.ctx, params, startOfSwap)
	go c.pumpEvents(id, side, events, errs)
	return nil
}

func (c *Coordinator) pumpEvents(id rfc003.SwapId, side rfc003.Side, events <-chan ledger.HtlcEvent, errs <-chan error) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				c.log.Warn("ledger watcher error", "swap_id", id, "side", side, "error", err)
				c.emit(id, "watcher_error", err)
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.applyLedgerEvent(id, side, ev)
		}
	}
}

func (c *Coordinator) applyLedgerEvent(id rfc003.SwapId, side rfc003.Side, ev ledger.HtlcEvent) {
	event := rfc003.Event{Side: side}
	switch ev.Kind {
	case ledger.Deployed:
		event.Kind = rfc003.EventDeployed
	case ledger.Funded:
		event.Kind = rfc003.EventFunded
	case ledger.Redeemed:
		event.Kind = rfc003.EventRedeemed
		event.Secret = ev.Secret
	case ledger.Refunded:
		event.Kind = rfc003.EventRefunded
	}

	state, err := c.store.Update(id, event)
	if err != nil {
		c.log.Warn("failed to apply ledger event", "swap_id", id, "error", err)
		return
	}
	c.emit(id, "state_changed", state)
}

// AvailableActions returns the actions this process may currently take on
// swap id, given its role and whether each side's expiry has passed.
func (c *Coordinator) AvailableActions(id rfc003.SwapId, alphaExpired, betaExpired bool) ([]rfc003.Action, error) {
	c.mu.RLock()
	meta, ok := c.meta[id]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrSwapNotFound
	}
	state, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	return rfc003.AvailableActions(state, meta.Role, alphaExpired, betaExpired), nil
}

// SwapSummary is a read-only snapshot of a swap's negotiated metadata and
// current protocol state, for the RPC surface (C9)'s swaps_list/swap_get.
type SwapSummary struct {
	SwapId       rfc003.SwapId
	Role         rfc003.Role
	Counterparty peer.ID
	Request      rfc003.SwapRequest
	Accept       rfc003.SwapAccept
	State        rfc003.State
	StartOfSwap  int64
}

// ListSwaps returns a summary for every swap the coordinator currently
// tracks, in no particular order.
func (c *Coordinator) ListSwaps() []SwapSummary {
	c.mu.RLock()
	metas := make(map[rfc003.SwapId]*swapMeta, len(c.meta))
	for id, m := range c.meta {
		metas[id] = m
	}
	c.mu.RUnlock()

	out := make([]SwapSummary, 0, len(metas))
	for id, m := range metas {
		state, err := c.store.Get(id)
		if err != nil {
			continue
		}
		out = append(out, SwapSummary{
			SwapId:       id,
			Role:         m.Role,
			Counterparty: m.Counterparty,
			Request:      m.Request,
			Accept:       m.Accept,
			State:        state,
			StartOfSwap:  m.StartOfSwap,
		})
	}
	return out
}

// GetSwap returns a single swap's summary.
func (c *Coordinator) GetSwap(id rfc003.SwapId) (SwapSummary, error) {
	c.mu.RLock()
	m, ok := c.meta[id]
	c.mu.RUnlock()
	if !ok {
		return SwapSummary{}, ErrSwapNotFound
	}

	state, err := c.store.Get(id)
	if err != nil {
		return SwapSummary{}, err
	}

	return SwapSummary{
		SwapId:       id,
		Role:         m.Role,
		Counterparty: m.Counterparty,
		Request:      m.Request,
		Accept:       m.Accept,
		State:        state,
		StartOfSwap:  m.StartOfSwap,
	}, nil
}

// OnEvent registers a handler invoked for every swap lifecycle event.
func (c *Coordinator) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers = append(c.eventHandlers, handler)
}

// emit fans an event out to all registered handlers, copying the handler
// slice first so a handler registering another handler cannot deadlock.
func (c *Coordinator) emit(id rfc003.SwapId, eventType string, data interface{}) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.eventHandlers))
	copy(handlers, c.eventHandlers)
	c.mu.RUnlock()

	event := SwapEvent{SwapId: id, EventType: eventType, Data: data, Timestamp: time.Now()}
	for _, h := range handlers {
		go h(event)
	}
}

// Close shuts down every watcher goroutine started by this coordinator.
func (c *Coordinator) Close() error {
	c.cancel()
	return nil
}

func unixNow() int64 {
	return time.Now().Unix()
}
