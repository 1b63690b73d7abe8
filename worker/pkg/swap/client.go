package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/potwheel/potwheel/utils/pkg/retry"
)

// ErrQuoteFailed is returned when the aggregator produced no usable quote.
// It is fatal for the round: a stale or failed quote is not safe to retry
// blindly within the same tick.
var ErrQuoteFailed = errors.New("swap quote failed")

// QuoteRequest asks for a route from the input asset to the output asset.
type QuoteRequest struct {
	InputMint      solana.PublicKey
	OutputMint     solana.PublicKey
	AmountLamports uint64
	SlippageBps    int
}

// Quote is a priced route. The raw aggregator response is carried along
// because the swap endpoint wants it echoed back verbatim.
type Quote struct {
	InAmount  uint64
	OutAmount uint64

	raw json.RawMessage
}

type quoteResponse struct {
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
}

type swapRequest struct {
	QuoteResponse json.RawMessage `json:"quoteResponse"`
	UserPublicKey string          `json:"userPublicKey"`
	WrapUnwrapSOL bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

type httpError struct {
	code int
	body string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("aggregator returned %d: %s", e.code, e.body)
}

func (e *httpError) StatusCode() int { return e.code }

type Config struct {
	Logger     *slog.Logger
	BaseURL    string
	HTTPClient *http.Client
	Retry      retry.Config
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
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Client talks to a Jupiter-style swap aggregator: quote first, then exchange
// the quote for a ready-to-sign transaction.
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

// Quote fetches a route for the request. A quote with no output amount maps
// to ErrQuoteFailed.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint.String())
	q.Set("outputMint", req.OutputMint.String())
	q.Set("amount", strconv.FormatUint(req.AmountLamports, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	var raw []byte
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		raw, err = c.get(ctx, "/quote?"+q.Encode())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteFailed, err)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: undecodable response: %v", ErrQuoteFailed, err)
	}

	inAmount, _ := strconv.ParseUint(parsed.InAmount, 10, 64)
	outAmount, _ := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if outAmount == 0 {
		return nil, fmt.Errorf("%w: quote has no output amount", ErrQuoteFailed)
	}

	return &Quote{
		InAmount:  inAmount,
		OutAmount: outAmount,
		raw:       raw,
	}, nil
}

// BuildSwapTx exchanges a quote for the aggregator-built transaction, decoded
// and ready for the worker to sign and submit.
func (c *Client) BuildSwapTx(ctx context.Context, quote *Quote, user solana.PublicKey) (*solana.Transaction, error) {
	body, err := json.Marshal(swapRequest{
		QuoteResponse: quote.raw,
		UserPublicKey: user.String(),
		WrapUnwrapSOL: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap request: %w", err)
	}

	var raw []byte
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		raw, err = c.post(ctx, "/swap", body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build swap transaction: %w", err)
	}

	var parsed swapResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	if parsed.SwapTransaction == "" {
		return nil, errors.New("swap response has no transaction")
	}

	txBytes, err := base64.StdEncoding.DecodeString(parsed.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize swap transaction: %w", err)
	}
	return tx, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{code: resp.StatusCode, body: string(raw)}
	}
	return raw, nil
}
