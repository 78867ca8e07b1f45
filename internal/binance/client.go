package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ryanzhou/perp-forwarder/internal/backoff"
)

// DefaultRestURL is the production futures REST endpoint.
const DefaultRestURL = "https://fapi.binance.com"

// bootstrapAttempts bounds how many consecutive failures a single asset
// may accumulate before startup is abandoned.
const bootstrapAttempts = 5

// ErrBootstrapFailed is returned when reference values could not be
// fetched for one of the configured assets.
var ErrBootstrapFailed = errors.New("bootstrap failed")

// Client provides access to the Binance futures REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retry      backoff.Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultRestURL
	}

	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
		retry:  backoff.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBackoff sets the retry schedule used during bootstrap.
func WithBackoff(p backoff.Policy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// APIError represents a non-2xx response from the exchange.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// get performs a GET request and decodes the JSON response into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: body}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// AggTrades fetches the most recent aggregate trades for a symbol.
func (c *Client) AggTrades(ctx context.Context, symbol string, limit int) ([]AggTrade, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", fmt.Sprintf("%d", limit))

	var trades []AggTrade
	if err := c.get(ctx, "/fapi/v1/aggTrades", query, &trades); err != nil {
		return nil, fmt.Errorf("aggTrades %s: %w", symbol, err)
	}
	return trades, nil
}

// Reference is a per-asset reference price and quantity for the stream
// header.
type Reference struct {
	Price    float64
	Quantity float64
}

// ReferenceStats fetches the last 100 aggregate trades for a symbol and
// returns their mean price and quantity.
func (c *Client) ReferenceStats(ctx context.Context, symbol string) (Reference, error) {
	trades, err := c.AggTrades(ctx, symbol, 100)
	if err != nil {
		return Reference{}, err
	}
	if len(trades) == 0 {
		return Reference{}, fmt.Errorf("aggTrades %s: empty response", symbol)
	}

	var sumP, sumQ float64
	for _, t := range trades {
		sumP += float64(t.Price)
		sumQ += float64(t.Quantity)
	}
	n := float64(len(trades))
	return Reference{Price: sumP / n, Quantity: sumQ / n}, nil
}

// BootstrapReferences fetches reference values for every asset
// concurrently, retrying each with the backoff schedule. It returns
// ErrBootstrapFailed once any asset has failed five consecutive times.
func (c *Client) BootstrapReferences(ctx context.Context, assets []string) ([]float64, []float64, error) {
	prices := make([]float64, len(assets))
	qtys := make([]float64, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range assets {
		i, symbol := i, symbol
		g.Go(func() error {
			var ref Reference
			err := backoff.Retry(gctx, c.retry, bootstrapAttempts, func() error {
				var err error
				ref, err = c.ReferenceStats(gctx, symbol)
				if err != nil {
					c.logger.Warn("reference fetch failed", "symbol", symbol, "error", err)
				}
				return err
			})
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrBootstrapFailed, symbol, err)
			}

			prices[i] = ref.Price
			qtys[i] = ref.Quantity
			c.logger.Debug("reference fetched",
				"symbol", symbol,
				"price", ref.Price,
				"quantity", ref.Quantity,
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return prices, qtys, nil
}
