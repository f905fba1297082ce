// Package transit fetches next-departure times from the TTC subway
// (NTAS) and surface route APIs.
package transit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
	"github.com/alexjbarnes/ambient-dash/internal/models"
	"github.com/alexjbarnes/ambient-dash/internal/provider"
)

const (
	// SubwayURL is the NTAS next-train endpoint; the stop id is appended.
	SubwayURL = "https://ntas.ttc.ca/api/ntas/get-next-train-time"
	// BusURL is the surface route next-vehicle endpoint.
	BusURL = "https://www.ttc.ca/ttcapi/routedetail/GetNextBuses"

	// maxConcurrentTargets bounds in-flight requests per cycle.
	maxConcurrentTargets = 4
)

// SubwayResponse is the NTAS payload. Only the first entry is used;
// nextTrains is a comma separated list of minutes.
type SubwayResponse []struct {
	NextTrains string `json:"nextTrains"`
}

// BusResponse is the surface route payload, one entry per vehicle.
type BusResponse []struct {
	NextBusMinutes flexString `json:"nextBusMinutes"`
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}

		*s = flexString(v)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}

	*s = flexString(n.String())

	return nil
}

// Times splits nextTrains into trimmed, non-empty entries.
func (r SubwayResponse) Times() []string {
	if len(r) == 0 {
		return []string{}
	}

	times := []string{}
	for _, v := range strings.Split(r[0].NextTrains, ",") {
		if v = strings.TrimSpace(v); v != "" {
			times = append(times, v)
		}
	}

	return times
}

// Times returns every non-empty minute value.
func (r BusResponse) Times() []string {
	times := []string{}
	for _, e := range r {
		if v := strings.TrimSpace(string(e.NextBusMinutes)); v != "" {
			times = append(times, v)
		}
	}

	return times
}

// Fetcher polls every configured target concurrently. Targets can be
// replaced while the poller runs.
type Fetcher struct {
	client    *provider.Client
	subwayURL string
	busURL    string

	mu      sync.RWMutex
	targets []Target
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithURLs overrides both endpoints.
func WithURLs(subway, bus string) Option {
	return func(f *Fetcher) {
		f.subwayURL = subway
		f.busURL = bus
	}
}

// NewFetcher creates a Fetcher for targets.
func NewFetcher(client *provider.Client, targets []Target, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    client,
		subwayURL: SubwayURL,
		busURL:    BusURL,
		targets:   targets,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Targets returns the current target list.
func (f *Fetcher) Targets() []Target {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]Target(nil), f.targets...)
}

// SetTargets replaces the target list from the next cycle on.
func (f *Fetcher) SetTargets(targets []Target) {
	f.mu.Lock()
	f.targets = append([]Target(nil), targets...)
	f.mu.Unlock()
}

// Fetch queries every target. A failing target carries its own error
// string; the cycle fails only when every target failed.
func (f *Fetcher) Fetch(ctx context.Context) (*models.Arrivals, error) {
	targets := f.Targets()
	lines := make([]models.TargetArrivals, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(maxConcurrentTargets)

	for i, t := range targets {
		g.Go(func() error {
			times, err := f.times(ctx, t)

			lines[i] = models.TargetArrivals{
				ID:             t.ID,
				Kind:           t.Kind,
				Route:          t.Route,
				RouteLabel:     t.RouteLabel,
				DirectionLabel: t.DirectionLabel,
				Times:          times,
			}

			if err != nil {
				lines[i].Times = []string{}
				lines[i].Error = err.Error()
				errs[i] = err
			}

			// Per-target failures never abort the group.
			return nil
		})
	}

	_ = g.Wait()

	if len(targets) > 0 && allFailed(errs) {
		return nil, &provider.TransientError{Err: fmt.Errorf("all %d transit targets failed: %w", len(targets), errors.Join(errs...))}
	}

	return &models.Arrivals{Lines: lines}, nil
}

func allFailed(errs []error) bool {
	for _, err := range errs {
		if err == nil {
			return false
		}
	}

	return true
}

func (f *Fetcher) times(ctx context.Context, t Target) ([]string, error) {
	switch t.Kind {
	case models.TransitSubway:
		var resp SubwayResponse
		if err := f.client.GetJSON(ctx, f.subwayURL+"/"+url.PathEscape(t.StopID), "", &resp); err != nil {
			if errors.Is(err, apperrors.ErrNoContent) {
				return []string{}, nil
			}

			return nil, fmt.Errorf("subway request failed: %w", err)
		}

		return resp.Times(), nil
	case models.TransitBus:
		q := url.Values{}
		q.Set("routeId", t.Route)
		q.Set("stopCode", t.StopID)

		var resp BusResponse
		if err := f.client.GetJSON(ctx, f.busURL+"?"+q.Encode(), "", &resp); err != nil {
			if errors.Is(err, apperrors.ErrNoContent) {
				return []string{}, nil
			}

			return nil, fmt.Errorf("bus request failed: %w", err)
		}

		return resp.Times(), nil
	default:
		return nil, fmt.Errorf("%w: unknown transit kind %q", apperrors.ErrConfiguration, t.Kind)
	}
}
