package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/potwheel/potwheel/worker/pkg/chain"
	"github.com/potwheel/potwheel/worker/pkg/lottery"
	"github.com/potwheel/potwheel/worker/pkg/metrics"
	"github.com/potwheel/potwheel/worker/pkg/swap"
)

// Chain is the subset of the chain client the pipeline needs.
type Chain interface {
	WorkerPublicKey() solana.PublicKey
	Transfer(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error)
	SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, extraSigners ...solana.PrivateKey) (solana.Signature, error)
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error)
	Burn(ctx context.Context, account, mint solana.PublicKey, amount uint64, decimals uint8) (solana.Signature, error)
}

// SwapProvider quotes and builds the pot-to-token swap.
type SwapProvider interface {
	Quote(ctx context.Context, req swap.QuoteRequest) (*swap.Quote, error)
	BuildSwapTx(ctx context.Context, quote *swap.Quote, user solana.PublicKey) (*solana.Transaction, error)
}

// ReceiptSink persists completed-round receipts.
type ReceiptSink interface {
	InsertReceipt(ctx context.Context, receipt *lottery.Receipt) error
}

// RoundFinisher clears the running flag and resets the pot. The pipeline
// invokes it unconditionally so the next tick starts clean no matter which
// step failed.
type RoundFinisher interface {
	FinishRound()
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Chain    Chain
	Swap     SwapProvider
	Receipts ReceiptSink
	Rounds   RoundFinisher

	MarketID   string
	TargetMint solana.PublicKey

	// PayoutPercentage is the pot fraction transferred directly to the
	// winner; the remainder buys and burns the target token.
	PayoutPercentage float64
	SlippageBps      int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain client is required")
	}
	if cfg.Swap == nil {
		return errors.New("swap provider is required")
	}
	if cfg.Receipts == nil {
		return errors.New("receipt sink is required")
	}
	if cfg.Rounds == nil {
		return errors.New("round finisher is required")
	}
	if cfg.MarketID == "" {
		return errors.New("market id is required")
	}
	if cfg.TargetMint.IsZero() {
		return errors.New("target mint is required")
	}
	if cfg.PayoutPercentage <= 0 || cfg.PayoutPercentage >= 1 {
		cfg.PayoutPercentage = 0.25
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = 300
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Pipeline pays the winner, swaps the remaining pot into the target token,
// and burns whatever balance the swap produced.
type Pipeline struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run executes payout, swap, and burn for one round and persists the receipt.
// Round finalization is deferred: the running flag is cleared and the pot
// reset whether or not any step failed.
func (p *Pipeline) Run(ctx context.Context, winner string, potLamports uint64) (*lottery.Receipt, error) {
	defer p.cfg.Rounds.FinishRound()

	winnerKey, err := solana.PublicKeyFromBase58(winner)
	if err != nil {
		return nil, fmt.Errorf("invalid winner address %q: %w", winner, err)
	}

	payoutLamports := uint64(math.Floor(float64(potLamports) * p.cfg.PayoutPercentage))
	burnBudget := potLamports - payoutLamports

	p.log.Info("payout: paying winner",
		"winner", winner,
		"pot_lamports", potLamports,
		"payout_lamports", payoutLamports,
		"burn_budget_lamports", burnBudget)

	payoutSig, err := p.cfg.Chain.Transfer(ctx, winnerKey, payoutLamports)
	if err != nil {
		return nil, fmt.Errorf("payout transfer failed: %w", err)
	}

	quote, err := p.cfg.Swap.Quote(ctx, swap.QuoteRequest{
		InputMint:      solana.SolMint,
		OutputMint:     p.cfg.TargetMint,
		AmountLamports: burnBudget,
		SlippageBps:    p.cfg.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	swapTx, err := p.cfg.Swap.BuildSwapTx(ctx, quote, p.cfg.Chain.WorkerPublicKey())
	if err != nil {
		return nil, err
	}
	swapSig, err := p.cfg.Chain.SubmitAndConfirm(ctx, swapTx)
	if err != nil {
		return nil, fmt.Errorf("swap transaction failed: %w", err)
	}

	receipt := lottery.NewReceipt(p.cfg.MarketID, potLamports, winner, p.cfg.Clock.Now())
	receipt.PayoutTxID = payoutSig.String()
	receipt.SwapTxID = swapSig.String()

	// Burn the freshly observed on-chain balance, not the swap's reported
	// output: leftover balances and partial fills would otherwise drift.
	ata, err := chain.AssociatedTokenAccount(p.cfg.Chain.WorkerPublicKey(), p.cfg.TargetMint)
	if err != nil {
		return nil, err
	}
	balance, decimals, err := p.cfg.Chain.TokenBalance(ctx, ata)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-swap balance: %w", err)
	}

	receipt.BurnDecimals = decimals
	if balance == 0 {
		// Payout already happened; a missing swap output is recorded, not
		// treated as a round failure.
		p.log.Warn("payout: zero token balance after swap, skipping burn", "account", ata.String())
	} else {
		burnSig, err := p.cfg.Chain.Burn(ctx, ata, p.cfg.TargetMint, balance, decimals)
		if err != nil {
			return nil, fmt.Errorf("burn transaction failed: %w", err)
		}
		receipt.BurnTxID = burnSig.String()
		receipt.BurnAmountRaw = balance
		metrics.BurnedRawTotal.Add(float64(balance))
		p.log.Info("payout: burned", "amount_raw", balance, "decimals", decimals, "tx", burnSig.String())
	}

	if err := p.cfg.Receipts.InsertReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("failed to persist receipt: %w", err)
	}

	return receipt, nil
}
