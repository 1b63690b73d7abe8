package traders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/time/rate"

	"github.com/potwheel/potwheel/utils/pkg/retry"
	"github.com/potwheel/potwheel/worker/pkg/lottery"
)

type Config struct {
	Logger     *slog.Logger
	BaseURL    string
	HTTPClient *http.Client

	// TopN caps the ranked list handed to the selector.
	TopN int
	// Window is the trailing qualification window.
	Window time.Duration

	Retry retry.Config
	// RateLimit bounds requests to the upstream swap-history API.
	RateLimit rate.Limit
	RateBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Every(time.Second / 5)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	return nil
}

// Service ranks recent traders of a market by aggregated USD volume over the
// trailing window. "No data" is an empty list, never an error.
type Service struct {
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
	}, nil
}

type tradePage struct {
	Trades []struct {
		Wallet    string  `json:"wallet"`
		AmountUSD float64 `json:"amount_usd"`
	} `json:"trades"`
	NextCursor string `json:"next_cursor"`
}

type httpError struct {
	code int
	body string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("swap-history API returned %d: %s", e.code, e.body)
}

func (e *httpError) StatusCode() int { return e.code }

// TopTraders pages the swap-history API for the market's trades over the
// trailing window, aggregates USD volume per wallet, and returns the top-N
// wallets ordered by descending volume.
func (s *Service) TopTraders(ctx context.Context, marketID string) ([]lottery.TraderVolume, error) {
	volumes := make(map[string]float64)

	cursor := ""
	for page := 0; ; page++ {
		body, err := s.fetchPage(ctx, marketID, cursor)
		if err != nil {
			var he *httpError
			if errors.As(err, &he) && he.code == http.StatusNotFound {
				// Unknown market means no trade data, not a failure.
				return nil, nil
			}
			return nil, fmt.Errorf("failed to fetch trade page %d: %w", page, err)
		}

		for _, trade := range body.Trades {
			if _, err := base58.Decode(trade.Wallet); err != nil {
				s.log.Warn("traders: skipping invalid wallet address", "wallet", trade.Wallet)
				continue
			}
			volumes[trade.Wallet] += trade.AmountUSD
		}

		if body.NextCursor == "" {
			break
		}
		cursor = body.NextCursor
	}

	ranked := make([]lottery.TraderVolume, 0, len(volumes))
	for wallet, volume := range volumes {
		ranked = append(ranked, lottery.TraderVolume{Wallet: wallet, VolumeUSD: volume})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].VolumeUSD != ranked[j].VolumeUSD {
			return ranked[i].VolumeUSD > ranked[j].VolumeUSD
		}
		return ranked[i].Wallet < ranked[j].Wallet
	})

	if len(ranked) > s.cfg.TopN {
		ranked = ranked[:s.cfg.TopN]
	}

	s.log.Debug("traders: ranked", "market", marketID, "wallets", len(ranked))
	return ranked, nil
}

func (s *Service) fetchPage(ctx context.Context, marketID, cursor string) (*tradePage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("window", s.cfg.Window.String())
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("%s/markets/%s/trades?%s", s.cfg.BaseURL, url.PathEscape(marketID), q.Encode())

	var parsed tradePage
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := s.cfg.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &httpError{code: resp.StatusCode, body: string(raw)}
		}
		parsed = tradePage{}
		return json.Unmarshal(raw, &parsed)
	})
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
