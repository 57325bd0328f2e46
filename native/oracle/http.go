package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marginpool/core/types"
)

// ErrStalePrice indicates the upstream feed reported a price older than the
// source's freshness window.
var ErrStalePrice = errors.New("oracle: upstream price is stale")

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource fetches prices from a JSON quote endpoint. The endpoint is
// expected to answer GET ?asset=SYMBOL with {"price": "<decimal>",
// "timestamp": <unix seconds>}. Freshness is enforced here because staleness
// detection is the delegated source's responsibility, not the aggregator's.
type HTTPSource struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	maxAge   time.Duration
	now      func() time.Time
}

// NewHTTPSource constructs a price source for the given endpoint. When client
// is nil http.DefaultClient is used. A non-positive maxAge disables staleness
// checks. The API key is optional and only added to request headers when
// supplied.
func NewHTTPSource(client HTTPDoer, endpoint, apiKey string, maxAge time.Duration) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

func (s *HTTPSource) UnderlyingPrice(asset types.Asset) (*big.Int, error) {
	if s == nil || s.endpoint == "" {
		return nil, fmt.Errorf("oracle: http source not configured")
	}
	req, err := http.NewRequest(http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("asset", asset.String())
	req.URL.RawQuery = values.Encode()
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("oracle: http source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("oracle: http source: decode: %w", err)
	}
	trimmed := strings.TrimSpace(payload.Price)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: http source: empty price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: http source: invalid price %q", payload.Price)
	}
	if s.maxAge > 0 && payload.Timestamp > 0 {
		reported := time.Unix(payload.Timestamp, 0)
		if s.now().Sub(reported) > s.maxAge {
			return nil, fmt.Errorf("%w: %s reported at %s", ErrStalePrice, asset, reported.UTC().Format(time.RFC3339))
		}
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(expScale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
