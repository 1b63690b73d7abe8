package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/potwheel/potwheel/worker/pkg/lottery"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// statusChannel is the pg_notify channel subscribers listen on for status
// changes. The worker only publishes; it never listens.
const statusChannel = "lottery_status"

// Status mirrors the in-memory round state for observability. It is not the
// authoritative copy; the engine's RoundState is.
type Status struct {
	MarketID        string
	IsRunning       bool
	PotSizeLamports uint64
	UpdatedAt       time.Time
}

type Config struct {
	Logger *slog.Logger
	DB     *pgxpool.Pool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("database pool is required")
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Connect opens a pgx pool against databaseURL and optionally runs
// migrations.
func Connect(ctx context.Context, log *slog.Logger, databaseURL string, runMigrations bool) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if runMigrations {
		if err := migrate(databaseURL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("store: migrations completed")
	}

	return pool, nil
}

func migrate(databaseURL string) error {
	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return err
	}
	return nil
}

// UpsertStatus mirrors the current round state and notifies subscribers on
// the status channel.
func (s *Store) UpsertStatus(ctx context.Context, status Status) error {
	_, err := s.cfg.DB.Exec(ctx, `
		INSERT INTO lottery_status (market_id, is_running, pot_size_lamports, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id) DO UPDATE SET
			is_running = EXCLUDED.is_running,
			pot_size_lamports = EXCLUDED.pot_size_lamports,
			updated_at = EXCLUDED.updated_at`,
		status.MarketID, status.IsRunning, int64(status.PotSizeLamports), status.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert status: %w", err)
	}

	if _, err := s.cfg.DB.Exec(ctx, `SELECT pg_notify($1, $2)`, statusChannel, status.MarketID); err != nil {
		// Subscribers missing one notification is harmless; the row is
		// already current.
		s.log.Warn("store: status notify failed", "error", err)
	}
	return nil
}

// InsertReceipt appends one completed-round receipt. Receipts are immutable
// once written.
func (s *Store) InsertReceipt(ctx context.Context, r *lottery.Receipt) error {
	_, err := s.cfg.DB.Exec(ctx, `
		INSERT INTO lottery_receipts (
			id, market_id, pot_size_lamports, winner_address,
			payout_tx_id, swap_tx_id, burn_tx_id, burn_amount_raw, burn_decimals, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.MarketID, int64(r.PotSizeLamports), r.WinnerAddress,
		r.PayoutTxID, r.SwapTxID, r.BurnTxID, int64(r.BurnAmountRaw), int16(r.BurnDecimals), r.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert receipt %s: %w", r.ID, err)
	}
	return nil
}

// LastReceipt returns the most recent receipt for a market, or nil when the
// market has never completed a round.
func (s *Store) LastReceipt(ctx context.Context, marketID string) (*lottery.Receipt, error) {
	row := s.cfg.DB.QueryRow(ctx, `
		SELECT id, market_id, pot_size_lamports, winner_address,
		       payout_tx_id, swap_tx_id, COALESCE(burn_tx_id, ''), burn_amount_raw, burn_decimals, created_at
		FROM lottery_receipts
		WHERE market_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, marketID)

	var r lottery.Receipt
	var pot, burnRaw int64
	var burnDecimals int16
	err := row.Scan(&r.ID, &r.MarketID, &pot, &r.WinnerAddress,
		&r.PayoutTxID, &r.SwapTxID, &r.BurnTxID, &burnRaw, &burnDecimals, &r.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last receipt: %w", err)
	}
	r.PotSizeLamports = uint64(pot)
	r.BurnAmountRaw = uint64(burnRaw)
	r.BurnDecimals = uint8(burnDecimals)
	return &r, nil
}
