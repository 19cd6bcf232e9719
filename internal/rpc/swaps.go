package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapd/internal/chain"
	"github.com/klingon-exchange/swapd/internal/coordinator"
	"github.com/klingon-exchange/swapd/internal/rfc003"
)

// resolveTokenSymbols fills in an Erc20 asset's TokenContract from its
// TokenSymbol against the well-known registry when the caller supplied a
// symbol instead of a raw contract address. Unresolvable symbols are left
// for Initiate/HandleAnnounce to reject when they validate the request.
func resolveTokenSymbols(req *rfc003.SwapRequest) {
	for _, pair := range []struct {
		ledger *rfc003.Ledger
		asset  *rfc003.Asset
	}{
		{&req.AlphaLedger, &req.AlphaAsset},
		{&req.BetaLedger, &req.BetaAsset},
	} {
		if pair.asset.Kind != rfc003.AssetErc20 || pair.asset.TokenSymbol == "" || pair.asset.TokenContract != "" {
			continue
		}
		if addr := chain.GetTokenAddress(pair.ledger.ChainID, pair.asset.TokenSymbol); addr != "" {
			pair.asset.TokenContract = addr
		}
	}
}

// ========================================
// Swap handlers
// ========================================

// SwapInfo is the JSON-serializable view of a coordinator.SwapSummary.
type SwapInfo struct {
	SwapId       string `json:"swap_id"`
	Role         string `json:"role"`
	Counterparty string `json:"counterparty"`
	AlphaLedger  string `json:"alpha_ledger"`
	BetaLedger   string `json:"beta_ledger"`
	Phase        string `json:"phase"`
	AlphaStatus  string `json:"alpha_status"`
	BetaStatus   string `json:"beta_status"`
	StartOfSwap  int64  `json:"start_of_swap"`
}

func swapInfoFrom(s coordinator.SwapSummary) SwapInfo {
	return SwapInfo{
		SwapId:       s.SwapId.String(),
		Role:         string(s.Role),
		Counterparty: s.Counterparty.String(),
		AlphaLedger:  string(s.Request.AlphaLedger.Kind),
		BetaLedger:   string(s.Request.BetaLedger.Kind),
		Phase:        s.State.Phase.String(),
		AlphaStatus:  htlcStatusString(s.State.Alpha),
		BetaStatus:   htlcStatusString(s.State.Beta),
		StartOfSwap:  s.StartOfSwap,
	}
}

func htlcStatusString(st rfc003.HtlcStatus) string {
	switch st {
	case rfc003.NotFunded:
		return "not_funded"
	case rfc003.HtlcDeployedStatus:
		return "deployed"
	case rfc003.HtlcFundedStatus:
		return "funded"
	case rfc003.HtlcRedeemedStatus:
		return "redeemed"
	case rfc003.HtlcRefundedStatus:
		return "refunded"
	default:
		return "unknown"
	}
}

// SwapsListResult is the response for swaps_list.
type SwapsListResult struct {
	Swaps []SwapInfo `json:"swaps"`
	Count int        `json:"count"`
}

func (s *Server) swapsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.coordinator == nil {
		return &SwapsListResult{Swaps: []SwapInfo{}}, nil
	}
	summaries := s.coordinator.ListSwaps()
	infos := make([]SwapInfo, 0, len(summaries))
	for _, sum := range summaries {
		infos = append(infos, swapInfoFrom(sum))
	}
	return &SwapsListResult{Swaps: infos, Count: len(infos)}, nil
}

// SwapIdParams is the parameters shared by swap_get/swap_actions.
type SwapIdParams struct {
	SwapId string `json:"swap_id"`
}

func (s *Server) swapGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapIdParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := rfc003.ParseSwapId(p.SwapId)
	if err != nil {
		return nil, fmt.Errorf("invalid swap_id: %w", err)
	}

	summary, err := s.coordinator.GetSwap(id)
	if err != nil {
		return nil, err
	}
	return swapInfoFrom(summary), nil
}

// SwapActionsResult is the response for swap_actions.
type SwapActionsResult struct {
	Actions []ActionInfo `json:"actions"`
}

// ActionInfo is the JSON view of an rfc003.Action.
type ActionInfo struct {
	Kind   string `json:"kind"`
	Side   string `json:"side,omitempty"`
	Secret string `json:"secret,omitempty"`
}

func (s *Server) swapActions(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapIdParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := rfc003.ParseSwapId(p.SwapId)
	if err != nil {
		return nil, fmt.Errorf("invalid swap_id: %w", err)
	}

	summary, err := s.coordinator.GetSwap(id)
	if err != nil {
		return nil, err
	}

	now := uint64(time.Now().Unix())
	alphaExpired := now >= summary.Request.AlphaExpiry
	betaExpired := now >= summary.Request.BetaExpiry

	actions, err := s.coordinator.AvailableActions(id, alphaExpired, betaExpired)
	if err != nil {
		return nil, err
	}

	result := make([]ActionInfo, 0, len(actions))
	for _, a := range actions {
		info := ActionInfo{Kind: a.Kind.String()}
		if a.Kind == rfc003.ActionFund || a.Kind == rfc003.ActionRedeem || a.Kind == rfc003.ActionRefund {
			info.Side = a.Side.String()
		}
		if a.Secret != nil {
			info.Secret = fmt.Sprintf("%x", a.Secret[:])
		}
		result = append(result, info)
	}
	return &SwapActionsResult{Actions: result}, nil
}

// SwapsPendingResult is the response for swaps_pending: proposals awaiting
// an operator's accept/decline decision under a manual AcceptPolicy.
type SwapsPendingResult struct {
	Proposals []ProposalInfo `json:"proposals"`
}

// ProposalInfo is the JSON view of a coordinator.PendingProposal.
type ProposalInfo struct {
	Digest      string `json:"digest"`
	From        string `json:"from"`
	AlphaLedger string `json:"alpha_ledger"`
	BetaLedger  string `json:"beta_ledger"`
	ReceivedAt  int64  `json:"received_at"`
}

func (s *Server) swapsPending(ctx context.Context, params json.RawMessage) (interface{}, error) {
	proposals := s.coordinator.PendingProposals()
	out := make([]ProposalInfo, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, ProposalInfo{
			Digest:      p.Digest,
			From:        p.From.String(),
			AlphaLedger: string(p.Request.AlphaLedger.Kind),
			BetaLedger:  string(p.Request.BetaLedger.Kind),
			ReceivedAt:  p.ReceivedAt.Unix(),
		})
	}
	return &SwapsPendingResult{Proposals: out}, nil
}

// SwapAcceptParams is the parameters for swap_accept: the pending
// proposal's digest plus the redeem/refund identities this process
// contributes, matching spec.md's SwapAccept shape.
type SwapAcceptParams struct {
	Digest              string `json:"digest"`
	AlphaRefundIdentity string `json:"alpha_refund_identity,omitempty"`
	AlphaRedeemIdentity string `json:"alpha_redeem_identity,omitempty"`
	BetaRefundIdentity  string `json:"beta_refund_identity,omitempty"`
	BetaRedeemIdentity  string `json:"beta_redeem_identity,omitempty"`
}

func (s *Server) swapAccept(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapAcceptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Digest == "" {
		return nil, fmt.Errorf("digest is required")
	}

	accept := rfc003.SwapAccept{
		AlphaRefundIdentity: rfc003.Identity(p.AlphaRefundIdentity),
		AlphaRedeemIdentity: rfc003.Identity(p.AlphaRedeemIdentity),
		BetaRefundIdentity:  rfc003.Identity(p.BetaRefundIdentity),
		BetaRedeemIdentity:  rfc003.Identity(p.BetaRedeemIdentity),
	}

	if err := s.coordinator.ResolveProposal(p.Digest, true, accept, ""); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "digest": p.Digest}, nil
}

// SwapDeclineParams is the parameters for swap_decline.
type SwapDeclineParams struct {
	Digest string `json:"digest"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) swapDecline(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapDeclineParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Digest == "" {
		return nil, fmt.Errorf("digest is required")
	}

	if err := s.coordinator.ResolveProposal(p.Digest, false, rfc003.SwapAccept{}, p.Reason); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "digest": p.Digest}, nil
}

// SwapInitiateParams is the parameters for swap_initiate: the local actor
// proposes a swap to peer_id as Alice.
type SwapInitiateParams struct {
	PeerId      string          `json:"peer_id"`
	SwapRequest json.RawMessage `json:"swap_request"`
}

// SwapInitiateResult is the response for swap_initiate.
type SwapInitiateResult struct {
	SwapId string `json:"swap_id"`
}

func (s *Server) swapInitiate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapInitiateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.PeerId == "" {
		return nil, fmt.Errorf("peer_id is required")
	}

	peerID, err := peer.Decode(p.PeerId)
	if err != nil {
		return nil, fmt.Errorf("invalid peer_id: %w", err)
	}

	var req rfc003.SwapRequest
	if err := json.Unmarshal(p.SwapRequest, &req); err != nil {
		return nil, fmt.Errorf("invalid swap_request: %w", err)
	}
	resolveTokenSymbols(&req)

	initiateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	id, err := s.coordinator.Initiate(initiateCtx, peerID, req)
	if err != nil {
		return nil, err
	}
	return &SwapInitiateResult{SwapId: id.String()}, nil
}
