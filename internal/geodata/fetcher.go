package geodata

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Geodata is the enrichment for a single position. Nil fields mean the
// value could not be looked up.
type Geodata struct {
	Elevation   *float64 `json:"elevation,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Fetcher looks up elevation and ambient temperature for a position.
// Implementations never return an error: every failure degrades to an empty
// Geodata and a logged warning.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64) Geodata
}

// Provider names accepted by New.
const (
	ProviderOpenMeteo     = "open-meteo"
	ProviderOpenElevation = "open-elevation"
	ProviderNone          = "none"
)

// Options configures a provider built by New.
type Options struct {
	Provider        string
	BaseURL         string // empty selects the provider's public endpoint
	TemperatureUnit string // "celsius" or "fahrenheit"
	HTTPClient      *http.Client
	Logger          *logrus.Logger
}

// New builds the fetcher for the configured provider.
func New(opts Options) (Fetcher, error) {
	switch strings.ToLower(opts.Provider) {
	case "", ProviderOpenMeteo:
		return NewOpenMeteo(opts.BaseURL, opts.TemperatureUnit, opts.HTTPClient, opts.Logger), nil
	case ProviderOpenElevation:
		return NewOpenElevation(opts.BaseURL, opts.HTTPClient, opts.Logger), nil
	case ProviderNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unsupported geodata provider: %s (supported: %s, %s, %s)",
			opts.Provider, ProviderOpenMeteo, ProviderOpenElevation, ProviderNone)
	}
}

// Nop never performs a lookup.
type Nop struct{}

// Fetch returns empty geodata.
func (Nop) Fetch(context.Context, float64, float64) Geodata { return Geodata{} }
