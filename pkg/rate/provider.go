// Package rate fetches the FX rates quotes are signed over. Providers are
// untrusted: a rate is only authoritative once the authority signs it.
package rate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrNoRate is returned when a provider has no usable rate for the pair.
var ErrNoRate = errors.New("rate unavailable")

const (
	ProviderExchangeRate = "exchangerate"
	ProviderStatic       = "static"
)

// Provider returns how many quote units one base unit buys.
type Provider interface {
	Name() string
	Rate(ctx context.Context, base, quote string) (float64, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	URL      string
	Timeout  time.Duration
	// Static is the manual rate for the static provider.
	Static float64
	// RequestsPerSecond throttles HTTP providers; 0 means unlimited.
	RequestsPerSecond float64
}

// Build returns the provider named by cfg.Provider. An empty name selects
// the exchangerate provider.
func Build(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderExchangeRate:
		return NewExchangeRateHost(cfg.URL, cfg.Timeout, cfg.RequestsPerSecond), nil
	case ProviderStatic:
		return NewStatic(cfg.Static)
	default:
		return nil, fmt.Errorf("unknown rate provider %q", cfg.Provider)
	}
}

func checkRate(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: got %v", ErrNoRate, v)
	}
	return nil
}

// Static always returns the same manually entered rate.
type Static struct {
	value float64
}

// NewStatic validates and wraps a manual rate.
func NewStatic(value float64) (*Static, error) {
	if err := checkRate(value); err != nil {
		return nil, fmt.Errorf("invalid static rate: %w", err)
	}
	return &Static{value: value}, nil
}

func (s *Static) Name() string { return ProviderStatic }

func (s *Static) Rate(ctx context.Context, base, quote string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.value, nil
}
