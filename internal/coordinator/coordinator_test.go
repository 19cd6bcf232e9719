package coordinator

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapd/internal/announce"
	"github.com/klingon-exchange/swapd/internal/ledger"
	"github.com/klingon-exchange/swapd/internal/persistence"
	"github.com/klingon-exchange/swapd/internal/rfc003"
)

// fakeWatcher emits a pre-scripted event sequence immediately.
type fakeWatcher struct {
	events []ledger.HtlcEvent
}

func (w *fakeWatcher) Watch(ctx context.Context, params rfc003.HtlcParams, startOfSwap int64) (<-chan ledger.HtlcEvent, <-chan error) {
	events := make(chan ledger.HtlcEvent, len(w.events))
	errs := make(chan error)
	for _, e := range w.events {
		events <- e
	}
	close(events)
	close(errs)
	return events, errs
}

type fakeAdapter struct{}

func (fakeAdapter) Compile(params rfc003.HtlcParams) ([]byte, error) { return []byte("script"), nil }
func (fakeAdapter) ExtractSecret(ctx context.Context, txID string) (rfc003.Secret, error) {
	return rfc003.Secret{}, nil
}

func sampleRequest() rfc003.SwapRequest {
	return rfc003.SwapRequest{
		AlphaLedger: rfc003.Ledger{Kind: rfc003.LedgerBitcoin},
		BetaLedger:  rfc003.Ledger{Kind: rfc003.LedgerEthereum},
		AlphaAsset:  rfc003.Asset{Kind: rfc003.AssetBitcoin, Amount: 100},
		BetaAsset:   rfc003.Asset{Kind: rfc003.AssetEther, Amount: 100},

		AlphaRefundIdentity: "a-refund",
		AlphaRedeemIdentity: "a-redeem",
		BetaRefundIdentity:  "b-refund",
		BetaRedeemIdentity:  "b-redeem",

		AlphaExpiry: 2_000_000_000,
		BetaExpiry:  1_900_000_000,

		SecretHash: rfc003.HashSecret(rfc003.Secret{1, 2, 3}),
	}
}

func newTestCoordinator(t *testing.T, alphaEvents, betaEvents []ledger.HtlcEvent) *Coordinator {
	t.Helper()
	registry := ledger.NewRegistry()
	registry.Register(rfc003.LedgerBitcoin, rfc003.AssetBitcoin, &fakeWatcher{events: alphaEvents}, fakeAdapter{})
	registry.Register(rfc003.LedgerEthereum, rfc003.AssetEther, &fakeWatcher{events: betaEvents}, fakeAdapter{})

	return NewCoordinator(Config{
		Store:    rfc003.NewStore(),
		Registry: registry,
	})
}

func TestSeedStartsWatchersAndAppliesEvents(t *testing.T) {
	alphaEvents := []ledger.HtlcEvent{
		{Kind: ledger.Deployed},
		{Kind: ledger.Funded, Amount: 100},
	}
	betaEvents := []ledger.HtlcEvent{
		{Kind: ledger.Deployed},
		{Kind: ledger.Funded, Amount: 100},
	}
	c := newTestCoordinator(t, alphaEvents, betaEvents)
	defer c.Close()

	var mu sync.Mutex
	var got []SwapEvent
	done := make(chan struct{})
	const wantEvents = 5 // accepted + 4 ledger-driven state_changed events (deployed/funded x2 sides)
	c.OnEvent(func(e SwapEvent) {
		mu.Lock()
		got = append(got, e)
		if len(got) >= wantEvents {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		mu.Unlock()
	})

	req := sampleRequest()
	id := rfc003.NewSwapId()
	if err := c.seed(id, req, rfc003.SwapAccept{}, rfc003.RoleAlice, peer.ID("")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		mu.Lock()
		n := len(got)
		mu.Unlock()
		t.Fatalf("timed out waiting for %d events, got %d", wantEvents, n)
	}

	state, err := c.store.Get(id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Alpha != rfc003.HtlcFundedStatus || state.Beta != rfc003.HtlcFundedStatus {
		t.Fatalf("expected both sides funded, got alpha=%v beta=%v", state.Alpha, state.Beta)
	}
}

func TestSeedRejectsInvariantViolation(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	defer c.Close()

	req := sampleRequest()
	req.AlphaExpiry = req.BetaExpiry // violates I2 outright

	if err := c.seed(rfc003.NewSwapId(), req, rfc003.SwapAccept{}, rfc003.RoleAlice, peer.ID("")); err == nil {
		t.Fatalf("expected invariant violation error")
	}
}

func TestRestoreRehydratesPersistedSwapsAndRestartsWatchers(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "swapd-coordinator-restore-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := persistence.New(&persistence.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("persistence.New: %v", err)
	}
	defer store.Close()

	req := sampleRequest()
	id := rfc003.NewSwapId()
	if err := store.SaveSwap(persistence.SwapRecord{
		SwapId:       id,
		Role:         rfc003.RoleBob,
		Counterparty: peer.ID("counterparty"),
		StartOfSwap:  1_700_000_000,
		Request:      req,
		Accept:       rfc003.SwapAccept{},
		CreatedAt:    time.Unix(1_700_000_000, 0),
	}); err != nil {
		t.Fatalf("SaveSwap: %v", err)
	}

	alphaEvents := []ledger.HtlcEvent{{Kind: ledger.Deployed}}
	betaEvents := []ledger.HtlcEvent{{Kind: ledger.Deployed}}

	registry := ledger.NewRegistry()
	registry.Register(rfc003.LedgerBitcoin, rfc003.AssetBitcoin, &fakeWatcher{events: alphaEvents}, fakeAdapter{})
	registry.Register(rfc003.LedgerEthereum, rfc003.AssetEther, &fakeWatcher{events: betaEvents}, fakeAdapter{})

	c := NewCoordinator(Config{
		Store:       rfc003.NewStore(),
		Registry:    registry,
		Persistence: store,
	})
	defer c.Close()

	var mu sync.Mutex
	var got []SwapEvent
	done := make(chan struct{})
	const wantEvents = 3 // restored + 2 deployed state_changed events
	c.OnEvent(func(e SwapEvent) {
		mu.Lock()
		got = append(got, e)
		if len(got) >= wantEvents {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		mu.Unlock()
	})

	if err := c.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		mu.Lock()
		n := len(got)
		mu.Unlock()
		t.Fatalf("timed out waiting for %d events, got %d", wantEvents, n)
	}

	state, err := c.store.Get(id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Alpha != rfc003.HtlcDeployedStatus || state.Beta != rfc003.HtlcDeployedStatus {
		t.Fatalf("expected both sides deployed after restore, got alpha=%v beta=%v", state.Alpha, state.Beta)
	}
}

func TestListSwapsAndGetSwap(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	defer c.Close()

	req := sampleRequest()
	id := rfc003.NewSwapId()
	if err := c.seed(id, req, rfc003.SwapAccept{}, rfc003.RoleAlice, peer.ID("bob")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	summaries := c.ListSwaps()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 swap, got %d", len(summaries))
	}
	if summaries[0].SwapId != id {
		t.Fatalf("expected summary for %s, got %s", id, summaries[0].SwapId)
	}

	got, err := c.GetSwap(id)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if got.Role != rfc003.RoleAlice || got.Counterparty != peer.ID("bob") {
		t.Fatalf("unexpected summary: %+v", got)
	}

	if _, err := c.GetSwap(rfc003.NewSwapId()); err == nil {
		t.Fatalf("expected error for unknown swap id")
	}
}

func TestManualAcceptPolicyResolvesOnAccept(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	defer c.Close()
	c.SetPolicy(c.ManualAcceptPolicy(time.Second))

	req := sampleRequest()
	digest, err := rfc003.ComputeDigest(req)
	if err != nil {
		t.Fatalf("ComputeDigest: %v", err)
	}

	resultCh := make(chan announceResult, 1)
	go func() {
		reply := c.HandleAnnounce(context.Background(), peer.ID("alice"), announce.Request{SwapRequest: req, Digest: digest})
		resultCh <- announceResult{reply: reply}
	}()

	var proposal PendingProposal
	for i := 0; i < 100; i++ {
		pending := c.PendingProposals()
		if len(pending) == 1 {
			proposal = pending[0]
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if proposal.Digest == "" {
		t.Fatalf("expected a pending proposal to appear")
	}
	if proposal.Digest != digest.String() {
		t.Fatalf("pending proposal digest = %s, want %s", proposal.Digest, digest.String())
	}
	if proposal.From != peer.ID("alice") {
		t.Fatalf("pending proposal from = %s, want alice", proposal.From)
	}

	accept := rfc003.SwapAccept{
		AlphaRefundIdentity: "bob-refund",
		AlphaRedeemIdentity: "bob-redeem",
		BetaRefundIdentity:  "bob-refund-2",
		BetaRedeemIdentity:  "bob-redeem-2",
	}
	if err := c.ResolveProposal(proposal.Digest, true, accept, ""); err != nil {
		t.Fatalf("ResolveProposal: %v", err)
	}

	select {
	case res := <-resultCh:
		if !res.reply.Accepted {
			t.Fatalf("expected accepted reply, got %+v", res.reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for HandleAnnounce to return")
	}

	if len(c.PendingProposals()) != 0 {
		t.Fatalf("expected no pending proposals after resolution")
	}
}

type announceResult struct {
	reply announce.Reply
}

// fakeAnnouncer lets tests drive Initiate's error-handling paths without a
// live libp2p host.
type fakeAnnouncer struct {
	reply announce.Reply
	err   error
}

func (f *fakeAnnouncer) Announce(ctx context.Context, peerID peer.ID, req announce.Request) (announce.Reply, error) {
	return f.reply, f.err
}

// TestInitiateRecordsAnnounceTimeoutAsTerminalError covers spec.md §8
// scenario 6: Alice against an unreachable Bob lands in a terminal
// Error(AnnounceTimeout) state readable back from the store, rather than
// the announce failure simply vanishing with the returned error.
func TestInitiateRecordsAnnounceTimeoutAsTerminalError(t *testing.T) {
	registry := ledger.NewRegistry()
	registry.Register(rfc003.LedgerBitcoin, rfc003.AssetBitcoin, &fakeWatcher{}, fakeAdapter{})
	registry.Register(rfc003.LedgerEthereum, rfc003.AssetEther, &fakeWatcher{}, fakeAdapter{})

	c := NewCoordinator(Config{
		Store:    rfc003.NewStore(),
		Registry: registry,
		Announce: &fakeAnnouncer{err: announce.ErrAnnounceTimeout},
	})
	defer c.Close()

	req := sampleRequest()
	id, err := c.Initiate(context.Background(), peer.ID("bob"), req)
	if !errors.Is(err, rfc003.ErrAnnounceTimeout) {
		t.Fatalf("expected ErrAnnounceTimeout, got %v", err)
	}

	state, getErr := c.store.Get(id)
	if getErr != nil {
		t.Fatalf("expected a terminal state recorded under the provisional id: %v", getErr)
	}
	if state.Phase != rfc003.PhaseError || !errors.Is(state.Err, rfc003.ErrAnnounceTimeout) {
		t.Fatalf("expected Error(AnnounceTimeout) state, got %+v", state)
	}
	if !state.IsTerminal() {
		t.Fatalf("expected announce-timeout state to be terminal")
	}

	summary, getErr := c.GetSwap(id)
	if getErr != nil {
		t.Fatalf("expected swap summary for the provisional id: %v", getErr)
	}
	if summary.Role != rfc003.RoleAlice || summary.Counterparty != peer.ID("bob") {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if actions, actErr := c.AvailableActions(id, true, true); actErr != nil || len(actions) != 0 {
		t.Fatalf("expected no available actions on a terminal announce-timeout swap, got %v, %v", actions, actErr)
	}
}
