package feeclaim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// Fee position account layout: kind byte, padding to 8, owner at 8..40,
// token mint at 40..72, claimable amount at 72..80, vault balance at 80..88,
// fee share bps at 88..90.
const (
	positionAccountMinLen = 90
	posOffsetOwner        = 8
	posOffsetMint         = 40
	posOffsetClaimable    = 72
	posOffsetVaultBalance = 80
	posOffsetFeeShareBps  = 88
)

const ixClaimFees byte = 4

// PositionSource lists claimable fee positions and assembles the claim
// transactions for them.
type PositionSource interface {
	ListClaimablePositions(ctx context.Context, owner solana.PublicKey) ([]Position, error)
	BuildClaimTxs(ctx context.Context, owner solana.PublicKey, pos Position) ([]*solana.Transaction, error)
}

// AccountScanner is the subset of the solana RPC client the program source
// needs.
type AccountScanner interface {
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error)
}

// TxBuilder assembles unsigned transactions paid by the worker key.
type TxBuilder interface {
	NewTransaction(ctx context.Context, instrs ...solana.Instruction) (*solana.Transaction, error)
}

type ProgramSourceConfig struct {
	Logger    *slog.Logger
	Scanner   AccountScanner
	Chain     TxBuilder
	ProgramID solana.PublicKey
}

func (cfg *ProgramSourceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Scanner == nil {
		return errors.New("account scanner is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain client is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	return nil
}

// ProgramSource reads fee position accounts owned by the worker from the fee
// program and builds claim transactions against it.
type ProgramSource struct {
	log *slog.Logger
	cfg ProgramSourceConfig
}

func NewProgramSource(cfg ProgramSourceConfig) (*ProgramSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ProgramSource{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (s *ProgramSource) ListClaimablePositions(ctx context.Context, owner solana.PublicKey) ([]Position, error) {
	accounts, err := s.cfg.Scanner.GetProgramAccountsWithOpts(ctx, s.cfg.ProgramID, &solanarpc.GetProgramAccountsOpts{
		Commitment: solanarpc.CommitmentConfirmed,
		Filters: []solanarpc.RPCFilter{
			{
				Memcmp: &solanarpc.RPCFilterMemcmp{
					Offset: posOffsetOwner,
					Bytes:  solana.Base58(owner.Bytes()),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan fee positions: %w", err)
	}

	positions := make([]Position, 0, len(accounts))
	for _, acc := range accounts {
		if acc == nil || acc.Account == nil {
			continue
		}
		pos, err := decodePosition(acc.Pubkey, acc.Account.Data.GetBinary())
		if err != nil {
			s.log.Warn("feeclaim: skipping undecodable position", "account", acc.Pubkey.String(), "error", err)
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func decodePosition(account solana.PublicKey, data []byte) (Position, error) {
	if len(data) < positionAccountMinLen {
		return Position{}, fmt.Errorf("position data too short: %d bytes", len(data))
	}
	kind := PoolKind(data[0])
	if kind != KindVirtual && kind != KindDAMM && kind != KindCustomFeeVault {
		return Position{}, fmt.Errorf("unknown pool kind %d", data[0])
	}
	return Position{
		Account:           account,
		TokenMint:         solana.PublicKeyFromBytes(data[posOffsetMint : posOffsetMint+32]),
		Kind:              kind,
		ClaimableLamports: binary.LittleEndian.Uint64(data[posOffsetClaimable:]),
		VaultBalance:      binary.LittleEndian.Uint64(data[posOffsetVaultBalance:]),
		FeeShareBps:       binary.LittleEndian.Uint16(data[posOffsetFeeShareBps:]),
	}, nil
}

// BuildClaimTxs assembles the claim transaction(s) for one position. Each
// pool kind claims with a single instruction today, so the slice has one
// element, but DAMM pools with both token sides may grow a second.
func (s *ProgramSource) BuildClaimTxs(ctx context.Context, owner solana.PublicKey, pos Position) ([]*solana.Transaction, error) {
	ix := solana.NewInstruction(
		s.cfg.ProgramID,
		solana.AccountMetaSlice{
			solana.Meta(pos.Account).WRITE(),
			solana.Meta(pos.TokenMint),
			solana.Meta(owner).WRITE().SIGNER(),
		},
		[]byte{ixClaimFees, byte(pos.Kind)},
	)

	tx, err := s.cfg.Chain.NewTransaction(ctx, ix)
	if err != nil {
		return nil, fmt.Errorf("failed to build claim transaction for %s: %w", pos.Account, err)
	}
	return []*solana.Transaction{tx}, nil
}
