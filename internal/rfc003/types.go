// Package rfc003 implements the per-swap data model and state machine for
// atomic cross-chain swaps coordinated via Hash Time-Locked Contracts.
//
// A swap always has two sides, alpha and beta, each pinned to a ledger and
// an asset at creation time and never reassigned afterwards.
package rfc003

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors carry the offending SwapId when one is known; callers wrap them
// with fmt.Errorf("%w: %s", ErrX, id) to attach it.
var (
	ErrInvariantViolation = errors.New("invariant violation")
	ErrAnnounceTimeout    = errors.New("announce timeout")
	ErrWatcherFailed      = errors.New("watcher failed")
	ErrDuplicate          = errors.New("duplicate swap id")
	ErrNotFound           = errors.New("swap not found")
	ErrProtocolError      = errors.New("announce protocol error")
	ErrTerminal           = errors.New("swap is terminal")
)

// SwapId is a 128-bit opaque identifier, generated by Bob on Accept.
// Equality is bitwise.
type SwapId uuid.UUID

// NewSwapId generates a fresh random SwapId.
func NewSwapId() SwapId {
	return SwapId(uuid.New())
}

func (id SwapId) String() string { return uuid.UUID(id).String() }

// ParseSwapId parses the textual UUID form produced by String.
func ParseSwapId(s string) (SwapId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SwapId{}, fmt.Errorf("parse swap id: %w", err)
	}
	return SwapId(u), nil
}

func (id SwapId) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *SwapId) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("rfc003: invalid swap id literal")
	}
	parsed, err := ParseSwapId(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Role determines which HTLC the local node funds and which it redeems.
// Alice holds the secret; Bob never learns it until Alice redeems beta.
type Role string

const (
	RoleAlice Role = "alice"
	RoleBob   Role = "bob"
)

// LedgerKind is the closed set of ledger families this daemon speaks.
// Atomicity proofs depend on this set being closed: no open-ended plug-ins.
type LedgerKind string

const (
	LedgerBitcoin  LedgerKind = "bitcoin"
	LedgerEthereum LedgerKind = "ethereum"
	LedgerLightning LedgerKind = "lightning"
)

// AssetKind is the closed set of asset families paired with a LedgerKind to
// select a (Ledger, Asset) cell of the C1/C2 dispatch matrix.
type AssetKind string

const (
	AssetBitcoin AssetKind = "bitcoin"
	AssetEther   AssetKind = "ether"
	AssetErc20   AssetKind = "erc20"
)

// Ledger identifies one side's chain: its kind plus the network/chain id
// that distinguishes mainnet from a test network.
type Ledger struct {
	Kind    LedgerKind
	Network string // e.g. "mainnet", "testnet", "regtest" for Bitcoin
	ChainID uint64 // non-zero for Ethereum; identifies the EVM chain
}

// Asset is a quantity typed per-ledger: satoshi for Bitcoin, wei for Ether,
// token-contract+wei for an ERC20.
type Asset struct {
	Kind          AssetKind
	Amount        uint64 // satoshi or wei magnitude; ERC20 uses Quantity below for >64-bit amounts
	Quantity      string // decimal string, authoritative for ERC20 (wei can exceed uint64)
	TokenContract string // ERC20 only; hex address

	// TokenSymbol is an optional convenience input for AssetErc20: a
	// well-known symbol (e.g. "USDC") an RPC caller may supply instead of
	// a raw contract address. It is resolved to TokenContract by the RPC
	// layer before the request is digested and is never itself part of
	// the digest (see digest.go's digestFields) — two peers must still
	// agree on the resolved address, not the symbol used to look it up.
	TokenSymbol string `json:",omitempty"`
}

// Identity is a ledger-specific redeem/refund identity: an address for
// Bitcoin, an address for Ethereum, a pubkey-hash, etc. Opaque to the state
// machine beyond equality and the digest encoding.
type Identity string

// Secret is the 32-byte preimage of a SwapRequest's SecretHash. Alice owns
// it at creation; Bob learns it on-chain only when Alice redeems beta.
type Secret [32]byte

// SecretHash is SHA256(Secret).
type SecretHash [32]byte

func HashSecret(s Secret) SecretHash {
	return SecretHash(sha256.Sum256(s[:]))
}

// VerifySecret checks (I1): secret_hash == SHA256(secret).
func VerifySecret(s Secret, want SecretHash) bool {
	return HashSecret(s) == want
}

func (h SecretHash) String() string { return fmt.Sprintf("%x", h[:]) }

// SwapRequest is immutable once created: the two ledgers, two assets, the
// four redeem/refund identities, the two expiries, and the secret hash
// that must be identical bit-for-bit on both peers (I3's digest binding).
type SwapRequest struct {
	AlphaLedger Ledger
	BetaLedger  Ledger
	AlphaAsset  Asset
	BetaAsset   Asset

	AlphaRefundIdentity Identity
	AlphaRedeemIdentity Identity
	BetaRefundIdentity  Identity
	BetaRedeemIdentity  Identity

	// AlphaExpiry/BetaExpiry are absolute Unix timestamps on both ledgers,
	// including Bitcoin: BIP65 lets OP_CHECKLOCKTIMEVERIFY compare against
	// either a block height or a timestamp, distinguished by whether the
	// locktime value is below or at/above 500,000,000 (LOCKTIME_THRESHOLD);
	// using timestamps uniformly means both ledgers' expiries compare
	// directly without a block-time conversion step.
	AlphaExpiry uint64
	BetaExpiry  uint64

	SecretHash SecretHash
}

// SwapAccept carries the counterparty-chosen identities that close the
// request over to both HTLCs. Exactly one side contributes redeem/refund
// identities in the request; the other contributes them here.
type SwapAccept struct {
	AlphaRefundIdentity Identity
	AlphaRedeemIdentity Identity
	BetaRefundIdentity  Identity
	BetaRedeemIdentity  Identity
}

// HtlcParams is the tuple an HTLC contract adapter compiles into an
// on-chain artifact. A pure value: equal bytes produce an equal script.
// Expiry is an absolute Unix timestamp, as on SwapRequest.
type HtlcParams struct {
	Ledger         Ledger
	Asset          Asset
	RedeemIdentity Identity
	RefundIdentity Identity
	Expiry         uint64
	SecretHash     SecretHash
}

// SafetyMargin is the minimum gap invariant (I2) requires between the two
// expiries: alpha_expiry > beta_expiry + SafetyMargin.
const SafetyMargin = 6 * time.Hour

// CheckExpiryInvariant enforces (I2): the HTLC whose refund-path the local
// actor depends on must expire strictly after the one whose redeem-path
// reveals the secret, by at least SafetyMargin. Both expiries are absolute
// Unix timestamps (see SwapRequest), so no ledger-specific conversion is
// needed before calling this.
func CheckExpiryInvariant(alphaExpiry, betaExpiry uint64) error {
	margin := uint64(SafetyMargin / time.Second)
	if alphaExpiry <= betaExpiry+margin {
		return fmt.Errorf("%w: alpha_expiry %d does not exceed beta_expiry %d by safety margin %s",
			ErrInvariantViolation, alphaExpiry, betaExpiry, SafetyMargin)
	}
	return nil
}
