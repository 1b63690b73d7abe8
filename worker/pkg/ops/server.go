package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/potwheel/potwheel/worker/pkg/lottery"
)

// StateReader exposes the engine's round state for the status endpoint.
type StateReader interface {
	Snapshot() (isRunning bool, potSizeLamports uint64)
}

// ReceiptReader returns the most recent round receipt, or nil when no round
// has completed yet.
type ReceiptReader interface {
	LastReceipt(ctx context.Context, marketID string) (*lottery.Receipt, error)
}

type Config struct {
	Logger *slog.Logger
	Addr   string

	MarketID string
	State    StateReader
	Receipts ReceiptReader

	// Ready reports whether the worker's dependencies are reachable. Used by
	// the readiness endpoint; nil means always ready.
	Ready func(ctx context.Context) error
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Addr == "" {
		return errors.New("listen address is required")
	}
	if cfg.MarketID == "" {
		return errors.New("market id is required")
	}
	if cfg.State == nil {
		return errors.New("state reader is required")
	}
	if cfg.Receipts == nil {
		return errors.New("receipt reader is required")
	}
	return nil
}

// Server is the worker's operational HTTP surface: health, readiness, a
// round-status snapshot, and Prometheus metrics.
type Server struct {
	log *slog.Logger
	cfg Config
	srv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/statusz", s.handleStatusz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops: listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	MarketID        string           `json:"marketId"`
	IsRunning       bool             `json:"isRunning"`
	PotSizeLamports uint64           `json:"potSizeLamports"`
	LastReceipt     *lottery.Receipt `json:"lastReceipt,omitempty"`
}

func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	isRunning, pot := s.cfg.State.Snapshot()
	resp := statusResponse{
		MarketID:        s.cfg.MarketID,
		IsRunning:       isRunning,
		PotSizeLamports: pot,
	}

	receipt, err := s.cfg.Receipts.LastReceipt(r.Context(), s.cfg.MarketID)
	if err != nil {
		// The snapshot is still useful without the receipt.
		s.log.Warn("ops: failed to load last receipt", "error", err)
	} else {
		resp.LastReceipt = receipt
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("ops: failed to encode response", "error", err)
	}
}
