package feeclaim

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// PoolKind identifies which fee program a claimable position belongs to.
type PoolKind int

const (
	KindVirtual PoolKind = iota
	KindDAMM
	KindCustomFeeVault
)

func (k PoolKind) String() string {
	switch k {
	case KindVirtual:
		return "virtual"
	case KindDAMM:
		return "damm"
	case KindCustomFeeVault:
		return "custom_fee_vault"
	default:
		return fmt.Sprintf("pool_kind(%d)", int(k))
	}
}

// Position is one claimable fee position. Ephemeral: read from the chain,
// summed, claimed, and discarded within a single tick.
type Position struct {
	Account   solana.PublicKey
	TokenMint solana.PublicKey
	Kind      PoolKind

	// ClaimableLamports is the directly claimable amount for Virtual and
	// DAMM positions.
	ClaimableLamports uint64

	// VaultBalance and FeeShareBps are set for CustomFeeVault positions,
	// whose claimable amount is a basis-point share of the vault balance.
	VaultBalance uint64
	FeeShareBps  uint16
}

// Claimable returns the claimable amount in lamports per the position's pool
// kind.
func (p Position) Claimable() uint64 {
	if p.Kind == KindCustomFeeVault {
		return p.VaultBalance * uint64(p.FeeShareBps) / 10_000
	}
	return p.ClaimableLamports
}
