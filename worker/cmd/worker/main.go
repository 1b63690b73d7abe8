package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/potwheel/potwheel/utils/pkg/logger"
	"github.com/potwheel/potwheel/utils/pkg/retry"
	"github.com/potwheel/potwheel/worker/pkg/chain"
	"github.com/potwheel/potwheel/worker/pkg/engine"
	"github.com/potwheel/potwheel/worker/pkg/feeclaim"
	"github.com/potwheel/potwheel/worker/pkg/metrics"
	"github.com/potwheel/potwheel/worker/pkg/ops"
	"github.com/potwheel/potwheel/worker/pkg/payout"
	"github.com/potwheel/potwheel/worker/pkg/store"
	"github.com/potwheel/potwheel/worker/pkg/swap"
	"github.com/potwheel/potwheel/worker/pkg/traders"
	"github.com/potwheel/potwheel/worker/pkg/vrf"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; flags and real env vars still apply.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	opsAddrFlag := flag.String("ops-addr", "0.0.0.0:8080", "Address for the ops HTTP server (health, status, metrics)")

	rpcURLFlag := flag.String("rpc-url", rpc.MainNetBeta_RPC, "Solana RPC endpoint (or set RPC_URL env var)")
	keypairPathFlag := flag.String("keypair-path", "", "Path to the worker keypair file (or set WORKER_KEYPAIR_PATH env var)")
	postgresURLFlag := flag.String("postgres-url", "", "Postgres connection URL (or set POSTGRES_URL env var)")
	migrateFlag := flag.Bool("migrate", true, "Run database migrations on startup")

	marketIDFlag := flag.String("market-id", "", "Market identifier (or set MARKET_ID env var)")
	marketMintFlag := flag.String("market-mint", "", "Token mint of the market's fee positions (or set MARKET_MINT env var)")
	targetMintFlag := flag.String("target-mint", "", "Token mint bought and burned after payout (or set TARGET_MINT env var)")
	feeProgramFlag := flag.String("fee-program", "", "Fee claim program ID (or set FEE_PROGRAM_ID env var)")
	vrfProgramFlag := flag.String("vrf-program", "", "VRF program ID (or set VRF_PROGRAM_ID env var)")
	vrfQueueFlag := flag.String("vrf-queue", "", "VRF oracle queue account (or set VRF_QUEUE_ACCOUNT env var)")

	tradesAPIFlag := flag.String("trades-api-url", "", "Base URL of the swap-history API (or set TRADES_API_URL env var)")
	swapAPIFlag := flag.String("swap-api-url", "https://quote-api.jup.ag/v6", "Base URL of the swap aggregator API (or set SWAP_API_URL env var)")

	potThresholdFlag := flag.Uint64("pot-threshold", 1_000_000_000, "Pot size in lamports that triggers a round")
	payoutPctFlag := flag.Float64("payout-percentage", 0.25, "Pot fraction paid to the winner; the rest is swapped and burned")
	slippageBpsFlag := flag.Int("swap-slippage-bps", 300, "Swap slippage tolerance in basis points")
	tickIntervalFlag := flag.Duration("tick-interval", 10*time.Second, "Scheduler tick interval")
	oracleMaxAttemptsFlag := flag.Int("oracle-max-attempts", 30, "Fulfillment polls per randomness attempt")
	oracleDelayFlag := flag.Duration("oracle-delay", 5*time.Second, "Delay between fulfillment polls")
	vrfMaxAttemptsFlag := flag.Int("vrf-max-attempts", 3, "Full randomness workflow attempts before the round fails")
	topTradersFlag := flag.Int("top-traders", 10, "Number of top traders eligible for the draw")
	traderWindowFlag := flag.Duration("trader-window", 24*time.Hour, "Trailing window for trader volume qualification")

	flag.Parse()

	log := logger.New(*verboseFlag)

	for _, override := range []struct {
		env  string
		dest *string
	}{
		{"RPC_URL", rpcURLFlag},
		{"WORKER_KEYPAIR_PATH", keypairPathFlag},
		{"POSTGRES_URL", postgresURLFlag},
		{"MARKET_ID", marketIDFlag},
		{"MARKET_MINT", marketMintFlag},
		{"TARGET_MINT", targetMintFlag},
		{"FEE_PROGRAM_ID", feeProgramFlag},
		{"VRF_PROGRAM_ID", vrfProgramFlag},
		{"VRF_QUEUE_ACCOUNT", vrfQueueFlag},
		{"TRADES_API_URL", tradesAPIFlag},
		{"SWAP_API_URL", swapAPIFlag},
	} {
		if v := os.Getenv(override.env); v != "" {
			*override.dest = v
		}
	}

	if *keypairPathFlag == "" {
		return fmt.Errorf("--keypair-path is required")
	}
	if *postgresURLFlag == "" {
		return fmt.Errorf("--postgres-url is required")
	}
	if *marketIDFlag == "" {
		return fmt.Errorf("--market-id is required")
	}
	if *tradesAPIFlag == "" {
		return fmt.Errorf("--trades-api-url is required")
	}

	marketMint, err := solana.PublicKeyFromBase58(*marketMintFlag)
	if err != nil {
		return fmt.Errorf("invalid --market-mint: %w", err)
	}
	targetMint, err := solana.PublicKeyFromBase58(*targetMintFlag)
	if err != nil {
		return fmt.Errorf("invalid --target-mint: %w", err)
	}
	feeProgram, err := solana.PublicKeyFromBase58(*feeProgramFlag)
	if err != nil {
		return fmt.Errorf("invalid --fee-program: %w", err)
	}
	vrfProgram, err := solana.PublicKeyFromBase58(*vrfProgramFlag)
	if err != nil {
		return fmt.Errorf("invalid --vrf-program: %w", err)
	}
	vrfQueue, err := solana.PublicKeyFromBase58(*vrfQueueFlag)
	if err != nil {
		return fmt.Errorf("invalid --vrf-queue: %w", err)
	}

	workerKey, err := solana.PrivateKeyFromSolanaKeygenFile(*keypairPathFlag)
	if err != nil {
		return fmt.Errorf("failed to load worker keypair: %w", err)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     dsn,
			Release: version,
		}); err != nil {
			log.Warn("sentry init failed, continuing without it", "error", err)
		} else {
			defer sentry.Flush(5 * time.Second)
		}
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := store.Connect(ctx, log, *postgresURLFlag, *migrateFlag)
	if err != nil {
		return err
	}
	defer pool.Close()

	db, err := store.New(store.Config{Logger: log, DB: pool})
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	rpcClient := rpc.New(*rpcURLFlag)

	chainClient, err := chain.New(chain.Config{
		Logger:    log,
		Clock:     clock,
		RPC:       rpcClient,
		WorkerKey: workerKey,
	})
	if err != nil {
		return err
	}
	log.Info("worker initialized",
		"version", version,
		"worker", chainClient.WorkerPublicKey().String(),
		"market", *marketIDFlag)

	feeSource, err := feeclaim.NewProgramSource(feeclaim.ProgramSourceConfig{
		Logger:    log,
		Scanner:   rpcClient,
		Chain:     chainClient,
		ProgramID: feeProgram,
	})
	if err != nil {
		return err
	}
	claimMonitor, err := feeclaim.NewMonitor(feeclaim.MonitorConfig{
		Logger:     log,
		Source:     feeSource,
		Chain:      chainClient,
		MarketMint: marketMint,
		Threshold:  *potThresholdFlag,
	})
	if err != nil {
		return err
	}

	oracle, err := vrf.NewProgramOracle(vrf.ProgramOracleConfig{
		Logger:       log,
		Chain:        chainClient,
		ProgramID:    vrfProgram,
		QueueAccount: vrfQueue,
	})
	if err != nil {
		return err
	}
	randomness, err := vrf.NewClient(vrf.Config{
		Logger:              log,
		Clock:               clock,
		Oracle:              oracle,
		MaxPollAttempts:     *oracleMaxAttemptsFlag,
		PollDelay:           *oracleDelayFlag,
		MaxWorkflowAttempts: *vrfMaxAttemptsFlag,
	})
	if err != nil {
		return err
	}

	swapClient, err := swap.New(swap.Config{
		Logger:     log,
		BaseURL:    *swapAPIFlag,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Retry:      retry.Config{MaxAttempts: 3},
	})
	if err != nil {
		return err
	}

	traderService, err := traders.New(traders.Config{
		Logger:     log,
		BaseURL:    *tradesAPIFlag,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		TopN:       *topTradersFlag,
		Window:     *traderWindowFlag,
		Retry:      retry.Config{MaxAttempts: 3},
		RateLimit:  rate.Limit(5),
		RateBurst:  10,
	})
	if err != nil {
		return err
	}

	state := engine.NewRoundState()

	payoutPipeline, err := payout.New(payout.Config{
		Logger:           log,
		Clock:            clock,
		Chain:            chainClient,
		Swap:             swapClient,
		Receipts:         db,
		Rounds:           state,
		MarketID:         *marketIDFlag,
		TargetMint:       targetMint,
		PayoutPercentage: *payoutPctFlag,
		SlippageBps:      *slippageBpsFlag,
	})
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		Logger:       log,
		Clock:        clock,
		MarketID:     *marketIDFlag,
		TickInterval: *tickIntervalFlag,
		State:        state,
		Claims:       claimMonitor,
		Traders:      traderService,
		Randomness:   randomness,
		Payout:       payoutPipeline,
		Status:       db,
	})
	if err != nil {
		return err
	}

	opsServer, err := ops.New(ops.Config{
		Logger:   log,
		Addr:     *opsAddrFlag,
		MarketID: *marketIDFlag,
		State:    state,
		Receipts: db,
		Ready: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return opsServer.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("worker shut down cleanly")
	return nil
}
