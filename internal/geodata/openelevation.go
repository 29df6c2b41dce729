package geodata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultOpenElevationURL = "https://api.open-elevation.com"

// OpenElevation only knows elevation; temperature is always absent.
type OpenElevation struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

type openElevationResponse struct {
	Results []struct {
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// NewOpenElevation creates an open-elevation fetcher.
func NewOpenElevation(baseURL string, httpClient *http.Client, logger *logrus.Logger) *OpenElevation {
	if baseURL == "" {
		baseURL = defaultOpenElevationURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenElevation{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Fetch performs one best-effort lookup.
func (o *OpenElevation) Fetch(ctx context.Context, lat, lon float64) Geodata {
	locations := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
	u := fmt.Sprintf("%s/api/v1/lookup?locations=%s", o.baseURL, url.QueryEscape(locations))

	var resp openElevationResponse
	if err := getJSON(ctx, o.httpClient, u, &resp); err != nil {
		o.logger.WithError(err).Warn("geodata: open-elevation lookup failed")
		return Geodata{}
	}
	if len(resp.Results) == 0 || resp.Results[0].Elevation == nil {
		o.logger.Warn("geodata: open-elevation response missing elevation")
		return Geodata{}
	}
	return Geodata{Elevation: resp.Results[0].Elevation}
}
