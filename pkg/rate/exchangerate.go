package rate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xrate "golang.org/x/time/rate"
)

// DefaultExchangeRateURL is the public exchangerate.host API.
const DefaultExchangeRateURL = "https://api.exchangerate.host"

// ExchangeRateHost reads /latest from an exchangerate.host compatible API.
type ExchangeRateHost struct {
	baseURL string
	client  *http.Client
	limiter *xrate.Limiter
}

type latestResponse struct {
	Success *bool              `json:"success,omitempty"`
	Base    string             `json:"base"`
	Date    string             `json:"date"`
	Rates   map[string]float64 `json:"rates"`
	Error   json.RawMessage    `json:"error,omitempty"`
}

// NewExchangeRateHost creates a provider for baseURL. Zero values pick the
// public endpoint, a 10s timeout and no throttling.
func NewExchangeRateHost(baseURL string, timeout time.Duration, perSecond float64) *ExchangeRateHost {
	if baseURL == "" {
		baseURL = DefaultExchangeRateURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := xrate.Inf
	if perSecond > 0 {
		limit = xrate.Limit(perSecond)
	}
	return &ExchangeRateHost{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: xrate.NewLimiter(limit, 1),
	}
}

func (p *ExchangeRateHost) Name() string { return ProviderExchangeRate }

// Rate fetches base->quote, e.g. USD->BRL.
func (p *ExchangeRateHost) Rate(ctx context.Context, base, quote string) (float64, error) {
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)
	if base == "" || quote == "" {
		return 0, fmt.Errorf("base and quote currencies are required")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	query := url.Values{"base": {base}, "symbols": {quote}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/latest?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch rate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read rate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate API returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var latest latestResponse
	if err := json.Unmarshal(body, &latest); err != nil {
		return 0, fmt.Errorf("failed to decode rate response: %w", err)
	}
	if latest.Success != nil && !*latest.Success {
		return 0, fmt.Errorf("%w: rate API error %s", ErrNoRate, string(latest.Error))
	}

	value, ok := latest.Rates[quote]
	if !ok {
		return 0, fmt.Errorf("%w: no %s rate for base %s", ErrNoRate, quote, base)
	}
	if err := checkRate(value); err != nil {
		return 0, err
	}
	return value, nil
}
