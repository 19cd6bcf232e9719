package coordinator

import (
	"errors"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapd/internal/rfc003"
)

var (
	ErrProposalNotFound  = errors.New("coordinator: pending proposal not found")
	ErrProposalResolved   = errors.New("coordinator: pending proposal already resolved")
)

// pendingDecision is sent on a pendingProposal's channel to unblock the
// ManualAcceptPolicy call waiting on it.
type pendingDecision struct {
	accept     bool
	swapAccept rfc003.SwapAccept
	reason     string
}

// PendingProposal describes an inbound swap proposal awaiting an operator
// decision (swap_accept / swap_decline over the RPC surface) instead of an
// automatic AcceptPolicy.
type PendingProposal struct {
	Digest       string
	From         peer.ID
	Request      rfc003.SwapRequest
	ReceivedAt   time.Time
	resultCh     chan pendingDecision
}

// ManualAcceptPolicy returns an AcceptPolicy that defers every decision to
// an external caller: it registers the proposal and blocks until
// ResolveProposal is called for its digest, or timeout elapses. Grounded in
// the teacher's channel-rendezvous pattern for cross-goroutine handoffs
// (internal/swap/coordinator_nonces.go's pending-nonce channels), repurposed
// here for an operator decision instead of a counterparty's signature share.
func (c *Coordinator) ManualAcceptPolicy(timeout time.Duration) AcceptPolicy {
	return func(from peer.ID, req rfc003.SwapRequest) (bool, rfc003.SwapAccept, string) {
		digest, err := rfc003.ComputeDigest(req)
		if err != nil {
			return false, rfc003.SwapAccept{}, "invalid swap request: " + err.Error()
		}
		key := digest.String()

		ch := make(chan pendingDecision, 1)
		c.mu.Lock()
		if c.pending == nil {
			c.pending = make(map[string]*PendingProposal)
		}
		c.pending[key] = &PendingProposal{
			Digest:     key,
			From:       from,
			Request:    req,
			ReceivedAt: time.Now(),
			resultCh:   ch,
		}
		c.mu.Unlock()

		defer func() {
			c.mu.Lock()
			delete(c.pending, key)
			c.mu.Unlock()
		}()

		select {
		case d := <-ch:
			return d.accept, d.swapAccept, d.reason
		case <-time.After(timeout):
			return false, rfc003.SwapAccept{}, "manual accept timed out"
		}
	}
}

// PendingProposals lists every proposal currently awaiting a decision.
func (c *Coordinator) PendingProposals() []PendingProposal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]PendingProposal, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, PendingProposal{
			Digest:     p.Digest,
			From:       p.From,
			Request:    p.Request,
			ReceivedAt: p.ReceivedAt,
		})
	}
	return out
}

// ResolveProposal delivers an operator's decision for the pending proposal
// identified by digest. accept selects whether the swap proceeds;
// swapAccept is ignored when accept is false.
func (c *Coordinator) ResolveProposal(digest string, accept bool, swapAccept rfc003.SwapAccept, reason string) error {
	c.mu.RLock()
	p, ok := c.pending[digest]
	c.mu.RUnlock()
	if !ok {
		return ErrProposalNotFound
	}

	select {
	case p.resultCh <- pendingDecision{accept: accept, swapAccept: swapAccept, reason: reason}:
		return nil
	default:
		return ErrProposalResolved
	}
}
