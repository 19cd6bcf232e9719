// Package bitcoin implements the Bitcoin cell of the C1/C2 dispatch matrix:
// HTLC script compilation, P2WSH address derivation, and redeem-witness
// secret extraction, adapted from the teacher's MuSig2/order-book HTLC
// script builder to RFC003's absolute-expiry semantics.
package bitcoin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/swapd/internal/backend"
	"github.com/klingon-exchange/swapd/internal/rfc003"
)

// CompiledHTLC is returned by CompileFull: the script, its P2WSH address
// for the given chain params, and the scriptPubKey to watch for on the
// funding side.
type CompiledHTLC struct {
	Script       []byte
	ScriptHash   [32]byte
	Address      string
	ScriptPubKey []byte
}

// Adapter implements ledger.Adapter for (Bitcoin, Bitcoin). Backend is
// optional: Compile/CompileFull/ParseScript never touch the network, only
// ExtractSecret requires it.
type Adapter struct {
	ChainParams *chaincfg.Params
	Backend     backend.Backend
}

func NewAdapter(params *chaincfg.Params) *Adapter {
	return &Adapter{ChainParams: params}
}

func NewAdapterWithBackend(params *chaincfg.Params, b backend.Backend) *Adapter {
	return &Adapter{ChainParams: params, Backend: b}
}

// bip65Threshold is BIP65's LOCKTIME_THRESHOLD: an OP_CHECKLOCKTIMEVERIFY
// operand at or above this value is interpreted as a Unix timestamp
// rather than a block height.
const bip65Threshold = 500000000

// BuildScript builds the HTLC script:
//
//	OP_IF
//	    OP_SHA256 <secret_hash> OP_EQUALVERIFY
//	    <redeem_pubkey> OP_CHECKSIG
//	OP_ELSE
//	    <expiry_timestamp> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <refund_pubkey> OP_CHECKSIG
//	OP_ENDIF
//
// expiry is an absolute Unix timestamp, same unit as the other ledger's
// expiry, unlike the teacher's relative-CSV timeout: this adapter uses
// OP_CHECKLOCKTIMEVERIFY in BIP65's timestamp mode instead of
// OP_CHECKSEQUENCEVERIFY so both ledgers' expiries compare directly
// against each other and against wall-clock time (see DESIGN.md).
func BuildScript(secretHash rfc003.SecretHash, redeemPubKey, refundPubKey []byte, expiry uint64) ([]byte, error) {
	if len(redeemPubKey) != 33 {
		return nil, fmt.Errorf("bitcoin: redeem pubkey must be 33 bytes (compressed), got %d", len(redeemPubKey))
	}
	if len(refundPubKey) != 33 {
		return nil, fmt.Errorf("bitcoin: refund pubkey must be 33 bytes (compressed), got %d", len(refundPubKey))
	}
	if expiry < bip65Threshold || expiry > 0xFFFFFFFF {
		return nil, fmt.Errorf("bitcoin: expiry must be a BIP65 timestamp in [%d, %d], got %d", bip65Threshold, uint64(0xFFFFFFFF), expiry)
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(redeemPubKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(expiry))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundPubKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// BuildP2WSHScriptPubKey returns the OP_0 <scripthash> output script a
// funding transaction must pay to.
func BuildP2WSHScriptPubKey(script []byte) []byte {
	scriptHash := sha256.Sum256(script)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(scriptHash[:])
	out, _ := builder.Script()
	return out
}

func identityToPubKey(id rfc003.Identity) ([]byte, error) {
	b, err := hex.DecodeString(string(id))
	if err != nil {
		return nil, fmt.Errorf("bitcoin: identity %q is not hex-encoded compressed pubkey: %w", id, err)
	}
	return b, nil
}

// Compile implements ledger.Adapter: deterministic, equal HtlcParams
// produce equal bytes (spec.md §8 round-trip law).
func (a *Adapter) Compile(params rfc003.HtlcParams) ([]byte, error) {
	redeemPK, err := identityToPubKey(params.RedeemIdentity)
	if err != nil {
		return nil, err
	}
	refundPK, err := identityToPubKey(params.RefundIdentity)
	if err != nil {
		return nil, err
	}
	return BuildScript(params.SecretHash, redeemPK, refundPK, params.Expiry)
}

// CompileFull compiles params and derives the P2WSH address in one step,
// used by the watcher to know which scriptPubKey to scan for.
func (a *Adapter) CompileFull(params rfc003.HtlcParams) (*CompiledHTLC, error) {
	script, err := a.Compile(params)
	if err != nil {
		return nil, err
	}
	scriptHash := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], a.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: derive p2wsh address: %w", err)
	}
	return &CompiledHTLC{
		Script:       script,
		ScriptHash:   scriptHash,
		Address:      addr.EncodeAddress(),
		ScriptPubKey: BuildP2WSHScriptPubKey(script),
	}, nil
}

// ParseScript recovers the HTLC's components from a previously compiled
// script; ParseScript(Compile(p)) must reproduce p's redeem/refund
// pubkeys, secret hash and expiry (spec.md §8's compile∘parse identity).
func ParseScript(script []byte) (secretHash rfc003.SecretHash, redeemPubKey, refundPubKey []byte, expiry uint64, err error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	next := func(want byte) error {
		if !tokenizer.Next() || tokenizer.Opcode() != want {
			return fmt.Errorf("bitcoin: malformed htlc script: expected opcode %d", want)
		}
		return nil
	}

	if err = next(txscript.OP_IF); err != nil {
		return
	}
	if err = next(txscript.OP_SHA256); err != nil {
		return
	}
	if !tokenizer.Next() {
		err = fmt.Errorf("bitcoin: malformed htlc script: expected secret hash")
		return
	}
	data := tokenizer.Data()
	if len(data) != 32 {
		err = fmt.Errorf("bitcoin: secret hash must be 32 bytes, got %d", len(data))
		return
	}
	copy(secretHash[:], data)

	if err = next(txscript.OP_EQUALVERIFY); err != nil {
		return
	}
	if !tokenizer.Next() {
		err = fmt.Errorf("bitcoin: malformed htlc script: expected redeem pubkey")
		return
	}
	redeemPubKey = append([]byte(nil), tokenizer.Data()...)
	if len(redeemPubKey) != 33 {
		err = fmt.Errorf("bitcoin: redeem pubkey must be 33 bytes, got %d", len(redeemPubKey))
		return
	}

	if err = next(txscript.OP_CHECKSIG); err != nil {
		return
	}
	if err = next(txscript.OP_ELSE); err != nil {
		return
	}

	if !tokenizer.Next() {
		err = fmt.Errorf("bitcoin: malformed htlc script: expected expiry timestamp")
		return
	}
	op := tokenizer.Opcode()
	if txscript.IsSmallInt(op) {
		expiry = uint64(txscript.AsSmallInt(op))
	} else {
		numData := tokenizer.Data()
		if len(numData) == 0 {
			err = fmt.Errorf("bitcoin: malformed htlc script: empty expiry push")
			return
		}
		for i := 0; i < len(numData); i++ {
			expiry |= uint64(numData[i]) << (8 * i)
		}
	}

	if err = next(txscript.OP_CHECKLOCKTIMEVERIFY); err != nil {
		return
	}
	if err = next(txscript.OP_DROP); err != nil {
		return
	}
	if !tokenizer.Next() {
		err = fmt.Errorf("bitcoin: malformed htlc script: expected refund pubkey")
		return
	}
	refundPubKey = append([]byte(nil), tokenizer.Data()...)
	if len(refundPubKey) != 33 {
		err = fmt.Errorf("bitcoin: refund pubkey must be 33 bytes, got %d", len(refundPubKey))
		return
	}

	if err = next(txscript.OP_CHECKSIG); err != nil {
		return
	}
	if err = next(txscript.OP_ENDIF); err != nil {
		return
	}

	return secretHash, redeemPubKey, refundPubKey, expiry, nil
}

// ExtractSecret implements ledger.Adapter: it fetches the redeeming
// transaction and reads the preimage out of the witness stack of a claim
// spend, index 1 of [signature, secret, {0x01}, script].
func (a *Adapter) ExtractSecret(ctx context.Context, txID string) (rfc003.Secret, error) {
	if a.Backend == nil {
		return rfc003.Secret{}, fmt.Errorf("bitcoin: adapter has no backend configured")
	}
	tx, err := a.Backend.GetTransaction(ctx, txID)
	if err != nil {
		return rfc003.Secret{}, fmt.Errorf("bitcoin: fetch redeem tx %s: %w", txID, err)
	}
	for _, in := range tx.Inputs {
		if len(in.Witness) < 2 {
			continue
		}
		raw, err := hex.DecodeString(in.Witness[1])
		if err != nil || len(raw) != 32 {
			continue
		}
		var secret rfc003.Secret
		copy(secret[:], raw)
		return secret, nil
	}
	return rfc003.Secret{}, fmt.Errorf("bitcoin: no claim witness with a secret found in tx %s", txID)
}
