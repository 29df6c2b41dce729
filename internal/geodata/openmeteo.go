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

const defaultOpenMeteoURL = "https://api.open-meteo.com"

// OpenMeteo resolves elevation and current temperature with a single call
// to the open-meteo forecast endpoint.
type OpenMeteo struct {
	baseURL         string
	temperatureUnit string
	httpClient      *http.Client
	logger          *logrus.Logger
}

type openMeteoResponse struct {
	Elevation      *float64 `json:"elevation"`
	CurrentWeather *struct {
		Temperature *float64 `json:"temperature"`
	} `json:"current_weather"`
}

// NewOpenMeteo creates an open-meteo fetcher. An empty baseURL uses the
// public API.
func NewOpenMeteo(baseURL, temperatureUnit string, httpClient *http.Client, logger *logrus.Logger) *OpenMeteo {
	if baseURL == "" {
		baseURL = defaultOpenMeteoURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenMeteo{
		baseURL:         strings.TrimRight(baseURL, "/"),
		temperatureUnit: temperatureUnit,
		httpClient:      httpClient,
		logger:          logger,
	}
}

// Fetch performs one best-effort lookup.
func (o *OpenMeteo) Fetch(ctx context.Context, lat, lon float64) Geodata {
	var resp openMeteoResponse
	if err := getJSON(ctx, o.httpClient, o.buildURL(lat, lon), &resp); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"latitude":  lat,
			"longitude": lon,
		}).Warn("geodata: open-meteo lookup failed")
		return Geodata{}
	}

	if resp.Elevation == nil || resp.CurrentWeather == nil || resp.CurrentWeather.Temperature == nil {
		o.logger.WithFields(logrus.Fields{
			"latitude":  lat,
			"longitude": lon,
		}).Warn("geodata: open-meteo response missing elevation or temperature")
		return Geodata{}
	}

	return Geodata{
		Elevation:   resp.Elevation,
		Temperature: resp.CurrentWeather.Temperature,
	}
}

func (o *OpenMeteo) buildURL(lat, lon float64) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current_weather", "true")
	if strings.EqualFold(o.temperatureUnit, "fahrenheit") {
		q.Set("temperature_unit", "fahrenheit")
	}
	return fmt.Sprintf("%s/v1/forecast?%s", o.baseURL, q.Encode())
}
