package vrf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Randomness account layout: an 8-byte discriminator, the authority key, and
// the 32-byte round result buffer at a fixed offset.
const (
	randomnessAccountSpace = 104
	resultOffset           = 72
	resultLen              = 32
)

// Randomness program instruction opcodes.
const (
	ixCommit byte = 1
	ixReveal byte = 2
)

// TxClient is the subset of the chain client the oracle needs.
type TxClient interface {
	WorkerPublicKey() solana.PublicKey
	NewTransaction(ctx context.Context, instrs ...solana.Instruction) (*solana.Transaction, error)
	SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, extraSigners ...solana.PrivateKey) (solana.Signature, error)
	AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	RentExemptLamports(ctx context.Context, space uint64) (uint64, error)
}

type ProgramOracleConfig struct {
	Logger    *slog.Logger
	Chain     TxClient
	ProgramID solana.PublicKey
	// QueueAccount is the oracle queue the program draws fulfillers from.
	QueueAccount solana.PublicKey
}

func (cfg *ProgramOracleConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain client is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.QueueAccount.IsZero() {
		return errors.New("queue account is required")
	}
	return nil
}

// ProgramOracle implements Oracle against an on-demand randomness program.
// Every transaction it submits is confirmed before the method returns.
type ProgramOracle struct {
	log *slog.Logger
	cfg ProgramOracleConfig
}

func NewProgramOracle(cfg ProgramOracleConfig) (*ProgramOracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ProgramOracle{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (o *ProgramOracle) CreateAccount(ctx context.Context) (solana.PublicKey, error) {
	accountKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to generate randomness account key: %w", err)
	}
	account := accountKey.PublicKey()

	rent, err := o.cfg.Chain.RentExemptLamports(ctx, randomnessAccountSpace)
	if err != nil {
		return solana.PublicKey{}, err
	}

	ix := system.NewCreateAccountInstruction(
		rent,
		randomnessAccountSpace,
		o.cfg.ProgramID,
		o.cfg.Chain.WorkerPublicKey(),
		account,
	).Build()

	tx, err := o.cfg.Chain.NewTransaction(ctx, ix)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := o.cfg.Chain.SubmitAndConfirm(ctx, tx, accountKey); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create randomness account %s: %w", account, err)
	}

	o.log.Debug("vrf: randomness account created", "account", account.String())
	return account, nil
}

func (o *ProgramOracle) Commit(ctx context.Context, account solana.PublicKey) error {
	return o.submitOpcode(ctx, account, ixCommit, "commit")
}

func (o *ProgramOracle) Reveal(ctx context.Context, account solana.PublicKey) error {
	return o.submitOpcode(ctx, account, ixReveal, "reveal")
}

func (o *ProgramOracle) submitOpcode(ctx context.Context, account solana.PublicKey, opcode byte, name string) error {
	ix := solana.NewInstruction(
		o.cfg.ProgramID,
		solana.AccountMetaSlice{
			solana.Meta(account).WRITE(),
			solana.Meta(o.cfg.QueueAccount),
			solana.Meta(o.cfg.Chain.WorkerPublicKey()).SIGNER(),
		},
		[]byte{opcode},
	)

	tx, err := o.cfg.Chain.NewTransaction(ctx, ix)
	if err != nil {
		return err
	}
	if _, err := o.cfg.Chain.SubmitAndConfirm(ctx, tx); err != nil {
		return fmt.Errorf("%s transaction failed for %s: %w", name, account, err)
	}
	return nil
}

func (o *ProgramOracle) RoundData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	data, err := o.cfg.Chain.AccountData(ctx, account)
	if err != nil {
		return nil, err
	}
	if len(data) < resultOffset+resultLen {
		return nil, fmt.Errorf("randomness account %s data too short: %d bytes", account, len(data))
	}
	return data[resultOffset : resultOffset+resultLen], nil
}
