// Package identity defines the identity model for the multi-identity wallet.
//
// Identities are issued by an external identity store and are immutable once
// issued. The static capability table below governs what each identity type
// may do before any dynamic limit or risk adjustment applies.
package identity

import (
	"context"
	"errors"
	"time"
)

// Type classifies an identity and fixes its default wallet capabilities.
type Type string

const (
	TypeRoot       Type = "ROOT"
	TypeDAO        Type = "DAO"
	TypeEnterprise Type = "ENTERPRISE"
	TypeConsentida Type = "CONSENTIDA"
	TypeAID        Type = "AID"
)

// AllTypes lists every valid identity type.
var AllTypes = []Type{TypeRoot, TypeDAO, TypeEnterprise, TypeConsentida, TypeAID}

// Valid reports whether t is a known identity type.
func (t Type) Valid() bool {
	switch t {
	case TypeRoot, TypeDAO, TypeEnterprise, TypeConsentida, TypeAID:
		return true
	}
	return false
}

// Identity is issued by the external identity store. Immutable.
type Identity struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	GovernanceLevel string    `json:"governanceLevel"`
	IssuedAt        time.Time `json:"issuedAt"`
}

// OperationType names a wallet operation.
type OperationType string

const (
	OpTransfer     OperationType = "TRANSFER"
	OpReceive      OperationType = "RECEIVE"
	OpMint         OperationType = "MINT"
	OpSign         OperationType = "SIGN"
	OpPiWalletLink OperationType = "PI_WALLET_LINK"
	OpDeFi         OperationType = "DEFI"
	OpDAOAction    OperationType = "DAO_ACTION"
)

// Capabilities is the static per-type rule set consulted before any dynamic
// limit check. Mutable only through a new release, never at runtime.
type Capabilities struct {
	Operations    map[OperationType]bool
	AllowedTokens map[string]bool
	CanTransfer   bool
	CanLinkPi     bool
	CanGovern     bool // may approve governance change requests
}

func ops(types ...OperationType) map[OperationType]bool {
	m := make(map[OperationType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

func tokens(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// capabilityTable fixes what each identity type may do. CONSENTIDA (minor,
// parental consent) and AID (anonymous) cannot transfer and cannot link an
// external Pi-Wallet.
var capabilityTable = map[Type]Capabilities{
	TypeRoot: {
		Operations:    ops(OpTransfer, OpReceive, OpMint, OpSign, OpPiWalletLink, OpDeFi, OpDAOAction),
		AllowedTokens: tokens("QToken", "PI", "ETH", "USDC"),
		CanTransfer:   true,
		CanLinkPi:     true,
		CanGovern:     true,
	},
	TypeDAO: {
		Operations:    ops(OpTransfer, OpReceive, OpSign, OpPiWalletLink, OpDAOAction),
		AllowedTokens: tokens("QToken", "PI"),
		CanTransfer:   true,
		CanLinkPi:     true,
		CanGovern:     true,
	},
	TypeEnterprise: {
		Operations:    ops(OpTransfer, OpReceive, OpSign, OpPiWalletLink),
		AllowedTokens: tokens("QToken", "USDC"),
		CanTransfer:   true,
		CanLinkPi:     true,
	},
	TypeConsentida: {
		Operations:    ops(OpReceive),
		AllowedTokens: tokens("QToken"),
	},
	TypeAID: {
		Operations:    ops(OpReceive, OpSign),
		AllowedTokens: tokens("QToken"),
	},
}

// CapabilitiesFor returns the static capability set for an identity type.
// Unknown types get an empty (deny-everything) set.
func CapabilitiesFor(t Type) Capabilities {
	if c, ok := capabilityTable[t]; ok {
		return c
	}
	return Capabilities{Operations: map[OperationType]bool{}, AllowedTokens: map[string]bool{}}
}

// ErrNotFound is returned when the identity store has no such identity.
var ErrNotFound = errors.New("identity: not found")

// Provider resolves identities from the external identity store.
type Provider interface {
	Get(ctx context.Context, id string) (*Identity, error)
}
