// Package dashboard ties widgets, their pollers and token managers
// together and fans snapshot updates out to subscribers.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexjbarnes/ambient-dash/internal/auth"
	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
)

type notifier interface {
	setNotify(func(Snapshot))
}

// Dashboard is the registry of widgets and token managers.
type Dashboard struct {
	logger *slog.Logger

	widgets  []Widget
	byName   map[string]Widget
	managers map[string]*auth.Manager

	subMu  sync.RWMutex
	subs   map[uint64]func(Snapshot)
	nextID uint64
}

// NewDashboard creates an empty dashboard.
func NewDashboard(logger *slog.Logger) *Dashboard {
	return &Dashboard{
		logger:   logger,
		byName:   make(map[string]Widget),
		managers: make(map[string]*auth.Manager),
		subs:     make(map[uint64]func(Snapshot)),
	}
}

// Add registers widgets. Register everything before Start.
func (d *Dashboard) Add(widgets ...Widget) {
	for _, w := range widgets {
		if _, dup := d.byName[w.Name()]; dup {
			panic(fmt.Sprintf("dashboard: duplicate widget %q", w.Name()))
		}

		d.widgets = append(d.widgets, w)
		d.byName[w.Name()] = w

		if n, ok := w.(notifier); ok {
			n.setNotify(d.broadcast)
		}
	}
}

// AddManager registers a token manager under its provider name.
func (d *Dashboard) AddManager(m *auth.Manager) {
	d.managers[m.Name()] = m
}

// Manager returns the token manager for provider.
func (d *Dashboard) Manager(provider string) (*auth.Manager, error) {
	m, ok := d.managers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownProvider, provider)
	}

	return m, nil
}

// Snapshots returns every widget's snapshot in registration order.
func (d *Dashboard) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(d.widgets))
	for _, w := range d.widgets {
		out = append(out, w.Snapshot())
	}

	return out
}

// Snapshot returns one widget's snapshot.
func (d *Dashboard) Snapshot(name string) (Snapshot, error) {
	w, ok := d.byName[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownWidget, name)
	}

	return w.Snapshot(), nil
}

// Refresh asks one widget to fetch now. It does not wait for the fetch.
func (d *Dashboard) Refresh(name string) error {
	w, ok := d.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownWidget, name)
	}

	w.Poke()

	return nil
}

// Subscribe registers fn to receive every snapshot update. fn is called
// from poller goroutines and must not block. The returned function
// removes the subscription.
func (d *Dashboard) Subscribe(fn func(Snapshot)) func() {
	d.subMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
	}
}

func (d *Dashboard) broadcast(s Snapshot) {
	d.subMu.RLock()
	subs := make([]func(Snapshot), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.subMu.RUnlock()

	for _, fn := range subs {
		fn(s)
	}
}

// AuthChanged refreshes every widget that depends on provider and
// publishes their snapshots, so a login or logout shows up at once.
func (d *Dashboard) AuthChanged(provider string) {
	for _, w := range d.widgets {
		if w.Provider() != provider {
			continue
		}

		d.broadcast(w.Snapshot())
		w.Poke()
	}
}

// Start starts every widget's poller.
func (d *Dashboard) Start(ctx context.Context) {
	for _, w := range d.widgets {
		w.Start(ctx)
		d.logger.Debug("widget started", slog.String("widget", w.Name()), slog.String("status", string(w.Snapshot().Status)))
	}
}

// Stop stops every poller and waits for them to exit.
func (d *Dashboard) Stop() {
	for _, w := range d.widgets {
		w.Stop()
	}
}
