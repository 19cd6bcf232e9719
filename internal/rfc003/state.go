package rfc003

import "fmt"

// Side distinguishes the two ledgers a swap touches. Alpha is the ledger
// Alice funds and Bob redeems; Beta is the ledger Bob funds and Alice
// redeems, revealing the secret in the process. This assignment is fixed
// at creation (I4) and never flips mid-swap.
type Side int

const (
	Alpha Side = iota
	Beta
)

func (s Side) String() string {
	if s == Alpha {
		return "alpha"
	}
	return "beta"
}

// HtlcStatus is the per-ledger progress of one side's HTLC, following the
// event sequence C1 watchers emit: Deployed, then Funded, then exactly one
// of Redeemed or Refunded.
type HtlcStatus int

const (
	NotFunded HtlcStatus = iota
	HtlcDeployedStatus
	HtlcFundedStatus
	HtlcRedeemedStatus
	HtlcRefundedStatus
)

func (s HtlcStatus) terminal() bool {
	return s == HtlcRedeemedStatus || s == HtlcRefundedStatus
}

// Phase is the swap's macro-phase.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseAccepted
	PhaseDeclined // terminal
	PhaseError    // terminal
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseAccepted:
		return "accepted"
	case PhaseDeclined:
		return "declined"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the value C4 holds per swap: the sum type of spec.md §4.3,
// represented as a macro-phase plus independent per-side HTLC status so
// the machine stays total over interleavings of alpha/beta events instead
// of enumerating every mixed-outcome combination by name.
type State struct {
	Phase Phase
	Alpha HtlcStatus
	Beta  HtlcStatus

	// SecretHash is fixed at Start and never changes (I4): it is the
	// value every observed redeem must hash to (I1).
	SecretHash SecretHash

	// Secret becomes known once Beta is redeemed (Alice reveals it by
	// redeeming the ledger she does not control the preimage-check on
	// for Bob's benefit) or, for Alice herself, is known from creation.
	Secret *Secret

	// Err records the reason the machine entered PhaseError. Nil unless
	// Phase == PhaseError.
	Err error
}

// IsTerminal reports whether no further transitions are defined (I5): an
// accepted swap ends when both sides are redeemed or refunded, or when one
// side is refunded while the other was never funded.
func (s State) IsTerminal() bool {
	switch s.Phase {
	case PhaseDeclined, PhaseError:
		return true
	case PhaseAccepted:
		return (s.Alpha.terminal() && s.Beta.terminal()) ||
			(s.Alpha == HtlcRefundedStatus && s.Beta == NotFunded) ||
			(s.Beta == HtlcRefundedStatus && s.Alpha == NotFunded)
	default:
		return false
	}
}

// Start is the initial state of every swap (I3: unique per SwapId). hash is
// the swap's SecretHash, against which every later redeem event is checked
// (I1): it is fixed here and never changes for the swap's lifetime (I4).
func Start(hash SecretHash) State {
	return State{Phase: PhaseStart, SecretHash: hash}
}

// EventKind is the tag of an external event driving a transition. The
// machine is a pure function (state, event) -> state'; it neither blocks
// nor performs I/O (spec.md §4.3).
type EventKind int

const (
	EventAccept EventKind = iota
	EventDecline
	EventDeployed
	EventFunded
	EventRedeemed
	EventRefunded
)

// Event is one external occurrence: either the Accept/Decline decision, or
// a watcher event from one of the two ledgers (C1).
type Event struct {
	Kind   EventKind
	Side   Side   // meaningful only for watcher events
	Secret Secret // meaningful only for EventRedeemed
}

// Transition applies event to state and returns the successor state. It is
// total: every (state, event) pair yields exactly one successor, silently
// ignoring events that cannot advance the current state (spec.md §8).
func Transition(s State, e Event) State {
	if s.IsTerminal() {
		return s
	}

	switch e.Kind {
	case EventAccept:
		if s.Phase == PhaseStart {
			return State{Phase: PhaseAccepted, SecretHash: s.SecretHash}
		}
		return s

	case EventDecline:
		if s.Phase == PhaseStart {
			return State{Phase: PhaseDeclined, SecretHash: s.SecretHash}
		}
		return s

	case EventDeployed, EventFunded, EventRedeemed, EventRefunded:
		if s.Phase != PhaseAccepted {
			// Watcher events before Accept cannot happen under a correct
			// coordinator (C6 only spawns watchers after Accept); ignored
			// here to keep the function total rather than panicking.
			return s
		}
		return applyLedgerEvent(s, e)

	default:
		return s
	}
}

func applyLedgerEvent(s State, e Event) State {
	cur := s.Alpha
	if e.Side == Beta {
		cur = s.Beta
	}

	// (I1): a redeem that actually advances this side's status must carry
	// the secret whose SHA-256 is the swap's committed SecretHash. A
	// redeem event with a non-matching secret is exactly as much a
	// reorg/misconfiguration symptom as the redeemed/refunded conflict
	// below, so it is handled the same way: the whole swap goes to Error
	// and stops accepting further transitions (spec.md §7's
	// InvariantViolation, §8's "secret_hash == SHA256(secret)" property).
	// A redeem event observed again on an already-terminal side is left
	// to advanceHtlc's own conflict/no-op handling below rather than
	// re-verified here.
	if e.Kind == EventRedeemed && !cur.terminal() && !VerifySecret(e.Secret, s.SecretHash) {
		s.Phase = PhaseError
		s.Err = fmt.Errorf("%w: %s htlc redeemed with a secret that does not hash to secret_hash", ErrInvariantViolation, e.Side)
		return s
	}

	next, secret, conflict := advanceHtlc(cur, e)
	if conflict {
		s.Phase = PhaseError
		s.Err = fmt.Errorf("%w: %s htlc observed both redeemed and refunded", ErrInvariantViolation, e.Side)
		return s
	}

	if e.Side == Alpha {
		s.Alpha = next
	} else {
		s.Beta = next
	}
	if secret != nil {
		s.Secret = secret
	}
	return s
}

// advanceHtlc applies one watcher event to a single side's status. It
// returns the revealed secret when e is a Redeemed event, and conflict=true
// if e contradicts an already-terminal status (the reorg/misconfiguration
// case of spec.md §4.3's tie-break policy, which sends the whole swap to
// Error).
func advanceHtlc(cur HtlcStatus, e Event) (next HtlcStatus, secret *Secret, conflict bool) {
	switch e.Kind {
	case EventDeployed:
		if cur == NotFunded {
			return HtlcDeployedStatus, nil, false
		}
		return cur, nil, false

	case EventFunded:
		if cur == NotFunded || cur == HtlcDeployedStatus {
			return HtlcFundedStatus, nil, false
		}
		return cur, nil, false

	case EventRedeemed:
		if cur.terminal() {
			if cur == HtlcRefundedStatus {
				return cur, nil, true
			}
			return cur, nil, false
		}
		sec := e.Secret
		return HtlcRedeemedStatus, &sec, false

	case EventRefunded:
		if cur.terminal() {
			if cur == HtlcRedeemedStatus {
				return cur, nil, true
			}
			return cur, nil, false
		}
		return HtlcRefundedStatus, nil, false

	default:
		return cur, nil, false
	}
}
