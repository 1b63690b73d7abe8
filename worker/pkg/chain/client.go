package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
)

// ErrConfirmTimeout is returned when a submitted transaction does not reach
// confirmed commitment within the configured polling bounds.
var ErrConfirmTimeout = errors.New("transaction confirmation timed out")

// RPC wraps the solana-go RPC client methods used by the worker.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment solanarpc.CommitmentType) (uint64, error)
}

type Config struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	RPC             RPC
	WorkerKey       solana.PrivateKey
	ConfirmAttempts int
	ConfirmDelay    time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.WorkerKey == nil {
		return errors.New("worker key is required")
	}
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = 30
	}
	if cfg.ConfirmDelay <= 0 {
		cfg.ConfirmDelay = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Client submits and confirms transactions signed by the worker key. All
// outbound transactions of the worker flow through one Client; the caller is
// responsible for not submitting concurrently (the scheduler's
// single-tick-at-a-time discipline covers this).
type Client struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (c *Client) WorkerPublicKey() solana.PublicKey {
	return c.cfg.WorkerKey.PublicKey()
}

// NewTransaction assembles an unsigned transaction from instrs with a fresh
// blockhash, paid by the worker key.
func (c *Client) NewTransaction(ctx context.Context, instrs ...solana.Instruction) (*solana.Transaction, error) {
	recent, err := c.cfg.RPC.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instrs, recent.Value.Blockhash, solana.TransactionPayer(c.WorkerPublicKey()))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}
	return tx, nil
}

// SubmitAndConfirm signs tx with the worker key (plus any extra signers),
// submits it, and polls signature status until it is confirmed or the polling
// bounds are exhausted. Confirmation, not submission, is the synchronization
// point for everything built on top of this.
func (c *Client) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, extraSigners ...solana.PrivateKey) (solana.Signature, error) {
	signers := make(map[solana.PublicKey]*solana.PrivateKey, len(extraSigners)+1)
	workerKey := c.cfg.WorkerKey
	signers[workerKey.PublicKey()] = &workerKey
	for i := range extraSigners {
		signers[extraSigners[i].PublicKey()] = &extraSigners[i]
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		return signers[key]
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: solanarpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.log.Debug("chain: transaction submitted", "signature", sig.String())

	if err := c.confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	for attempt := 1; attempt <= c.cfg.ConfirmAttempts; attempt++ {
		statuses, err := c.cfg.RPC.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			c.log.Debug("chain: signature status query failed", "signature", sig.String(), "error", err)
		} else if len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.cfg.Clock.After(c.cfg.ConfirmDelay):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrConfirmTimeout, sig, c.cfg.ConfirmAttempts)
}

// Transfer moves lamports from the worker account to the recipient and waits
// for confirmation.
func (c *Client) Transfer(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	ix := system.NewTransferInstruction(lamports, c.WorkerPublicKey(), to).Build()
	tx, err := c.NewTransaction(ctx, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.SubmitAndConfirm(ctx, tx)
}

// TokenBalance reads the current raw balance and decimals of a token account.
func (c *Client) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error) {
	res, err := c.cfg.RPC.GetTokenAccountBalance(ctx, account, solanarpc.CommitmentConfirmed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch token balance for %s: %w", account, err)
	}
	if res.Value == nil {
		return 0, 0, fmt.Errorf("empty token balance result for %s", account)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse token amount %q: %w", res.Value.Amount, err)
	}
	return amount, res.Value.Decimals, nil
}

// Burn destroys amount of mint held in account, owned by the worker key, and
// waits for confirmation.
func (c *Client) Burn(ctx context.Context, account, mint solana.PublicKey, amount uint64, decimals uint8) (solana.Signature, error) {
	ix := token.NewBurnCheckedInstruction(amount, decimals, account, mint, c.WorkerPublicKey(), nil).Build()
	tx, err := c.NewTransaction(ctx, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.SubmitAndConfirm(ctx, tx)
}

// AccountData fetches the raw data of an account. A missing account returns
// an error rather than nil data.
func (c *Client) AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	res, err := c.cfg.RPC.GetAccountInfo(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", account, err)
	}
	if res.Value == nil {
		return nil, fmt.Errorf("account %s not found", account)
	}
	return res.Value.Data.GetBinary(), nil
}

// RentExemptLamports returns the minimum balance for rent exemption of an
// account with the given data size.
func (c *Client) RentExemptLamports(ctx context.Context, space uint64) (uint64, error) {
	lamports, err := c.cfg.RPC.GetMinimumBalanceForRentExemption(ctx, space, solanarpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch rent exemption: %w", err)
	}
	return lamports, nil
}

// AssociatedTokenAccount derives the associated token account of wallet for
// mint.
func AssociatedTokenAccount(wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token account: %w", err)
	}
	return ata, nil
}
