// Package weather fetches the current temperature and today's range from
// Open-Meteo. No API key is needed.
package weather

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
	"github.com/alexjbarnes/ambient-dash/internal/models"
	"github.com/alexjbarnes/ambient-dash/internal/provider"
)

// ForecastURL is the Open-Meteo forecast endpoint.
const ForecastURL = "https://api.open-meteo.com/v1/forecast"

// Location selects the forecast point and the time zone "today" is
// computed in.
type Location struct {
	Latitude  float64
	Longitude float64
	Timezone  string
}

// ForecastResponse is the subset of the forecast payload we request.
type ForecastResponse struct {
	Current struct {
		Temperature *float64 `json:"temperature_2m"`
	} `json:"current"`
	Daily struct {
		Max []float64 `json:"temperature_2m_max"`
		Min []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// Fetcher polls the forecast endpoint.
type Fetcher struct {
	client   *provider.Client
	location Location
	url      string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithURL overrides the endpoint.
func WithURL(u string) Option {
	return func(f *Fetcher) { f.url = u }
}

// NewFetcher creates a Fetcher for loc.
func NewFetcher(client *provider.Client, loc Location, opts ...Option) *Fetcher {
	f := &Fetcher{client: client, location: loc, url: ForecastURL}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *Fetcher) requestURL() (string, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return "", fmt.Errorf("parsing forecast url: %w", err)
	}

	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(f.location.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(f.location.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m")
	q.Set("daily", "temperature_2m_max,temperature_2m_min")
	q.Set("timezone", f.location.Timezone)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Fetch returns the current conditions.
func (f *Fetcher) Fetch(ctx context.Context) (*models.Weather, error) {
	reqURL, err := f.requestURL()
	if err != nil {
		return nil, err
	}

	var resp ForecastResponse
	if err := f.client.GetJSON(ctx, reqURL, "", &resp); err != nil {
		return nil, err
	}

	return resp.Weather()
}

// Weather validates the response and rounds every value to whole
// degrees.
func (r *ForecastResponse) Weather() (*models.Weather, error) {
	if r.Current.Temperature == nil {
		return nil, fmt.Errorf("%w: missing current temperature", apperrors.ErrProviderResponse)
	}

	if len(r.Daily.Max) == 0 || len(r.Daily.Min) == 0 {
		return nil, fmt.Errorf("%w: missing daily range", apperrors.ErrProviderResponse)
	}

	return &models.Weather{
		Now:  round(*r.Current.Temperature),
		High: round(r.Daily.Max[0]),
		Low:  round(r.Daily.Min[0]),
	}, nil
}

// round rounds half up, so -2.5 becomes -2.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
