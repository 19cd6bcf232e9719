package bitcoin

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/klingon-exchange/swapd/internal/rfc003"
)

func mustPubKey(t *testing.T, hexKey string) []byte {
	t.Helper()
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		t.Fatalf("decode pubkey: %v", err)
	}
	return b
}

func TestBuildScriptParseScriptRoundTrip(t *testing.T) {
	redeemPK := mustPubKey(t, "02"+hexRepeat("ab", 32))
	refundPK := mustPubKey(t, "03"+hexRepeat("cd", 32))
	secretHash := rfc003.HashSecret(rfc003.Secret{9, 9, 9})

	script, err := BuildScript(secretHash, redeemPK, refundPK, 1800000000)
	if err != nil {
		t.Fatalf("build script: %v", err)
	}

	gotHash, gotRedeem, gotRefund, gotExpiry, err := ParseScript(script)
	if err != nil {
		t.Fatalf("parse script: %v", err)
	}
	if gotHash != secretHash {
		t.Fatalf("secret hash mismatch: got %x want %x", gotHash, secretHash)
	}
	if !bytes.Equal(gotRedeem, redeemPK) {
		t.Fatalf("redeem pubkey mismatch")
	}
	if !bytes.Equal(gotRefund, refundPK) {
		t.Fatalf("refund pubkey mismatch")
	}
	if gotExpiry != 1800000000 {
		t.Fatalf("expiry mismatch: got %d want 1800000000", gotExpiry)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	params := rfc003.HtlcParams{
		RedeemIdentity: rfc003.Identity("02" + hexRepeat("ab", 32)),
		RefundIdentity: rfc003.Identity("03" + hexRepeat("cd", 32)),
		SecretHash:     rfc003.HashSecret(rfc003.Secret{1}),
		Expiry:         1800000000,
	}
	a := NewAdapter(nil)

	s1, err := a.Compile(params)
	if err != nil {
		t.Fatalf("compile 1: %v", err)
	}
	s2, err := a.Compile(params)
	if err != nil {
		t.Fatalf("compile 2: %v", err)
	}
	if !bytes.Equal(s1, s2) {
		t.Fatalf("expected identical scripts for identical params")
	}
}

func hexRepeat(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}
