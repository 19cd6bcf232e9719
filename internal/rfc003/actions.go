package rfc003

// ActionKind enumerates the actions the Swap Coordinator (C6) may expose
// to the local actor for a given swap, derived from State+Role.
type ActionKind int

const (
	ActionAccept ActionKind = iota
	ActionDecline
	ActionFund
	ActionRedeem
	ActionRefund
)

func (k ActionKind) String() string {
	switch k {
	case ActionAccept:
		return "accept"
	case ActionDecline:
		return "decline"
	case ActionFund:
		return "fund"
	case ActionRedeem:
		return "redeem"
	case ActionRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// Action is one entry of the derived "actions available" set of spec.md
// §4.3. Side and Secret are populated only where meaningful for Kind.
type Action struct {
	Kind   ActionKind
	Side   Side
	Secret *Secret
}

// fundSide returns the ledger the given role funds: Alice funds Alpha
// (she is the initiator), Bob funds Beta. redeemSide is the complement:
// the ledger the role redeems from, revealing or consuming the secret.
func fundSide(role Role) Side {
	if role == RoleAlice {
		return Alpha
	}
	return Beta
}

func redeemSide(role Role) Side {
	if role == RoleAlice {
		return Beta
	}
	return Alpha
}

func statusOf(s State, side Side) HtlcStatus {
	if side == Alpha {
		return s.Alpha
	}
	return s.Beta
}

// AvailableActions derives the set of actions the local actor may take now
// (spec.md §4.3's "derived actions available" query). alphaExpired and
// betaExpired report whether the respective ledger's expiry has already
// been observed past by the caller (C6); the machine itself performs no
// wall-clock or block-height comparison.
func AvailableActions(s State, role Role, alphaExpired, betaExpired bool) []Action {
	if s.IsTerminal() {
		return nil
	}

	switch s.Phase {
	case PhaseStart:
		if role == RoleBob {
			return []Action{{Kind: ActionAccept}, {Kind: ActionDecline}}
		}
		return nil

	case PhaseAccepted:
		var actions []Action

		fs, rs := fundSide(role), redeemSide(role)

		if statusOf(s, fs) == NotFunded {
			actions = append(actions, Action{Kind: ActionFund, Side: fs})
		}

		actions = append(actions, redeemActions(s, role)...)
		if a, ok := refundAction(s, fs, rs, expiredOf(fs, alphaExpired, betaExpired)); ok {
			actions = append(actions, a)
		}

		return actions

	default:
		return nil
	}
}

func expiredOf(side Side, alphaExpired, betaExpired bool) bool {
	if side == Alpha {
		return alphaExpired
	}
	return betaExpired
}

// redeemActions covers the two asymmetric redeem rules of spec.md §4.3:
// Alice may redeem beta once both HTLCs are funded (she always holds the
// secret); Bob may redeem alpha only once he has learned the secret, which
// happens the instant beta is observed redeemed.
func redeemActions(s State, role Role) []Action {
	switch role {
	case RoleAlice:
		if s.Alpha >= HtlcFundedStatus && s.Beta == HtlcFundedStatus {
			return []Action{{Kind: ActionRedeem, Side: Beta}}
		}
	case RoleBob:
		if s.Secret != nil && s.Alpha == HtlcFundedStatus {
			secret := *s.Secret
			return []Action{{Kind: ActionRedeem, Side: Alpha, Secret: &secret}}
		}
	}
	return nil
}

// refundAction implements: any party past its own refund-expiry whose
// counterparty HTLC is still unredeemed may refund its own HTLC.
func refundAction(s State, fs, rs Side, ownExpired bool) (Action, bool) {
	own := statusOf(s, fs)
	counterparty := statusOf(s, rs)
	if !ownExpired {
		return Action{}, false
	}
	if own != HtlcDeployedStatus && own != HtlcFundedStatus {
		return Action{}, false
	}
	if counterparty == HtlcRedeemedStatus {
		return Action{}, false
	}
	return Action{Kind: ActionRefund, Side: fs}, true
}
