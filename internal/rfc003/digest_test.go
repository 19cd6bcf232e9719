package rfc003

import "testing"

func sampleRequest() SwapRequest {
	return SwapRequest{
		AlphaLedger: Ledger{Kind: LedgerBitcoin, Network: "regtest"},
		BetaLedger:  Ledger{Kind: LedgerEthereum, Network: "regtest", ChainID: 1337},
		AlphaAsset:  Asset{Kind: AssetBitcoin, Amount: 100_000_000},
		BetaAsset:   Asset{Kind: AssetEther, Amount: 0, Quantity: "10000000000000000000"},

		AlphaRefundIdentity: "bc1qalpharefund",
		AlphaRedeemIdentity: "bc1qalpharedeem",
		BetaRefundIdentity:  "0xbetarefund",
		BetaRedeemIdentity:  "0xbetaredeem",

		AlphaExpiry: 200,
		BetaExpiry:  100,

		SecretHash: HashSecret(Secret{1, 2, 3}),
	}
}

func TestDigestIsBytewiseIdenticalForEqualRequests(t *testing.T) {
	r1 := sampleRequest()
	r2 := sampleRequest()

	d1, err := ComputeDigest(r1)
	if err != nil {
		t.Fatalf("compute digest 1: %v", err)
	}
	d2, err := ComputeDigest(r2)
	if err != nil {
		t.Fatalf("compute digest 2: %v", err)
	}
	if !d1.Equal(d2) {
		t.Fatalf("expected identical digests for equal requests, got %s vs %s", d1, d2)
	}
}

func TestDigestDiffersWhenAnyFieldChanges(t *testing.T) {
	r1 := sampleRequest()
	r2 := sampleRequest()
	r2.AlphaExpiry = 201

	d1, _ := ComputeDigest(r1)
	d2, _ := ComputeDigest(r2)
	if d1.Equal(d2) {
		t.Fatalf("expected digests to differ when alpha_expiry changes")
	}
}

func TestDigestJSONRoundTrip(t *testing.T) {
	d1, err := ComputeDigest(sampleRequest())
	if err != nil {
		t.Fatalf("compute digest: %v", err)
	}
	b, err := d1.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var d2 SwapDigest
	if err := d2.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !d1.Equal(d2) {
		t.Fatalf("expected digest to round-trip through JSON")
	}
}

func TestSecretRoundTrip(t *testing.T) {
	var s Secret
	copy(s[:], []byte("hello world, you are beautiful!!"))
	hash := HashSecret(s)
	if !VerifySecret(s, hash) {
		t.Fatalf("expected secret to verify against its own hash")
	}
	var other Secret
	copy(other[:], []byte("a different 32 byte long secret"))
	if VerifySecret(other, hash) {
		t.Fatalf("expected a different secret to fail verification")
	}
}
