package rfc003

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/multiformats/go-multihash"
)

// SwapDigest is a multihash fingerprint over the canonical serialization of
// the swap parameters that matter for atomicity. Two peers computing a
// digest over the same SwapRequest must produce identical bytes.
type SwapDigest struct {
	mh multihash.Multihash
}

func (d SwapDigest) Bytes() []byte { return []byte(d.mh) }

func (d SwapDigest) String() string { return d.mh.B58String() }

func (d SwapDigest) Equal(o SwapDigest) bool { return bytes.Equal(d.mh, o.mh) }

func (d SwapDigest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.mh.B58String())
}

func (d *SwapDigest) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	mh, err := multihash.FromB58String(s)
	if err != nil {
		return fmt.Errorf("rfc003: invalid swap digest: %w", err)
	}
	d.mh = mh
	return nil
}

// digestFields is the canonical, order-independent view of a SwapRequest
// that the digest is computed over. Field names are chosen so that
// json.Marshal's deterministic key ordering (Go emits struct fields in
// declaration order, and encoding/json sorts map keys, but this is a
// struct so declaration order is the canonical order both peers share by
// depending on the same type definition) produces identical bytes for
// equal parameters on both peers.
type digestFields struct {
	AlphaLedgerKind LedgerKind `json:"alpha_ledger_kind"`
	AlphaNetwork    string     `json:"alpha_network"`
	AlphaChainID    uint64     `json:"alpha_chain_id"`
	BetaLedgerKind  LedgerKind `json:"beta_ledger_kind"`
	BetaNetwork     string     `json:"beta_network"`
	BetaChainID     uint64     `json:"beta_chain_id"`

	AlphaAssetKind     AssetKind `json:"alpha_asset_kind"`
	AlphaAmount        uint64    `json:"alpha_amount"`
	AlphaQuantity      string    `json:"alpha_quantity"`
	AlphaTokenContract string    `json:"alpha_token_contract"`

	BetaAssetKind     AssetKind `json:"beta_asset_kind"`
	BetaAmount        uint64    `json:"beta_amount"`
	BetaQuantity      string    `json:"beta_quantity"`
	BetaTokenContract string    `json:"beta_token_contract"`

	AlphaRefundIdentity Identity `json:"alpha_refund_identity"`
	AlphaRedeemIdentity Identity `json:"alpha_redeem_identity"`
	BetaRefundIdentity  Identity `json:"beta_refund_identity"`
	BetaRedeemIdentity  Identity `json:"beta_redeem_identity"`

	AlphaExpiry uint64 `json:"alpha_expiry"`
	BetaExpiry  uint64 `json:"beta_expiry"`

	SecretHash string `json:"secret_hash"`
}

func toDigestFields(r SwapRequest) digestFields {
	return digestFields{
		AlphaLedgerKind: r.AlphaLedger.Kind,
		AlphaNetwork:    r.AlphaLedger.Network,
		AlphaChainID:    r.AlphaLedger.ChainID,
		BetaLedgerKind:  r.BetaLedger.Kind,
		BetaNetwork:     r.BetaLedger.Network,
		BetaChainID:     r.BetaLedger.ChainID,

		AlphaAssetKind:     r.AlphaAsset.Kind,
		AlphaAmount:        r.AlphaAsset.Amount,
		AlphaQuantity:      r.AlphaAsset.Quantity,
		AlphaTokenContract: r.AlphaAsset.TokenContract,

		BetaAssetKind:     r.BetaAsset.Kind,
		BetaAmount:        r.BetaAsset.Amount,
		BetaQuantity:      r.BetaAsset.Quantity,
		BetaTokenContract: r.BetaAsset.TokenContract,

		AlphaRefundIdentity: r.AlphaRefundIdentity,
		AlphaRedeemIdentity: r.AlphaRedeemIdentity,
		BetaRefundIdentity:  r.BetaRefundIdentity,
		BetaRedeemIdentity:  r.BetaRedeemIdentity,

		AlphaExpiry: r.AlphaExpiry,
		BetaExpiry:  r.BetaExpiry,

		SecretHash: r.SecretHash.String(),
	}
}

// ComputeDigest computes the SwapDigest for a SwapRequest. It is a pure
// function of r's digest-relevant fields: two nodes holding equal
// SwapRequest values always compute bitwise-identical digests (I3, tested
// by the round-trip property of spec.md §8).
func ComputeDigest(r SwapRequest) (SwapDigest, error) {
	fields := toDigestFields(r)

	canonical, err := canonicalJSON(fields)
	if err != nil {
		return SwapDigest{}, fmt.Errorf("rfc003: encode digest fields: %w", err)
	}

	sum := sha256.Sum256(canonical)
	mh, err := multihash.Encode(sum[:], multihash.SHA2_256)
	if err != nil {
		return SwapDigest{}, fmt.Errorf("rfc003: encode multihash: %w", err)
	}

	return SwapDigest{mh: mh}, nil
}

// canonicalJSON re-marshals v through a generic map so that map-typed
// sub-values (none currently, but any future addition) sort their keys,
// in addition to the struct's already-deterministic field order.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(generic))
	for k := range generic {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(generic[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
