package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/alexjbarnes/ambient-dash/internal/auth"
	"github.com/alexjbarnes/ambient-dash/internal/poll"
)

// Status is the display state of a widget.
type Status string

const (
	StatusPending      Status = "pending"
	StatusOK           Status = "ok"
	StatusEmpty        Status = "empty"
	StatusAuthRequired Status = "auth_required"
	StatusTransient    Status = "transient"
	StatusConfigError  Status = "config_error"
)

// Snapshot is the display-ready view of one widget.
type Snapshot struct {
	Name          string     `json:"name"`
	Status        Status     `json:"status"`
	Data          any        `json:"data,omitempty"`
	Error         string     `json:"error,omitempty"`
	Message       string     `json:"message,omitempty"`
	FetchedAt     *time.Time `json:"fetched_at,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	LoginURL      string     `json:"login_url,omitempty"`
	Authenticated bool       `json:"authenticated"`
}

// Widget is one tile on the dashboard.
type Widget interface {
	Name() string
	// Provider returns the OAuth provider the widget authenticates
	// with, or "" for public data.
	Provider() string
	Snapshot() Snapshot
	Start(ctx context.Context)
	Stop()
	// Poke requests an immediate refresh.
	Poke()
}

// Options binds a poller to its surroundings.
type Options struct {
	Interval time.Duration
	// Auth is the token manager for authenticated widgets.
	Auth *auth.Manager
	// ConfigErr, when set, keeps the widget from polling. A manager
	// whose provider is misconfigured sets it automatically.
	ConfigErr error
}

// Polled adapts a poll.Poller to the Widget interface.
type Polled[T any] struct {
	name      string
	poller    *poll.Poller[T]
	interval  time.Duration
	manager   *auth.Manager
	configErr error

	mu     sync.RWMutex
	notify func(Snapshot)
}

// New binds poller as the widget called name.
func New[T any](name string, poller *poll.Poller[T], opts Options) *Polled[T] {
	w := &Polled[T]{
		name:      name,
		poller:    poller,
		interval:  opts.Interval,
		manager:   opts.Auth,
		configErr: opts.ConfigErr,
	}

	if w.configErr == nil && w.manager != nil {
		w.configErr = w.manager.ConfigError()
	}

	poller.SetOnUpdate(func(poll.Result[T]) { w.publish() })

	return w
}

func (w *Polled[T]) Name() string { return w.name }

func (w *Polled[T]) Provider() string {
	if w.manager == nil {
		return ""
	}

	return w.manager.Name()
}

// Start begins polling unless the widget has a configuration error.
func (w *Polled[T]) Start(ctx context.Context) {
	if w.configErr != nil {
		return
	}

	w.poller.Start(ctx, w.interval)
}

func (w *Polled[T]) Stop() { w.poller.Stop() }

func (w *Polled[T]) Poke() { w.poller.Poke() }

func (w *Polled[T]) setNotify(fn func(Snapshot)) {
	w.mu.Lock()
	w.notify = fn
	w.mu.Unlock()
}

func (w *Polled[T]) publish() {
	w.mu.RLock()
	notify := w.notify
	w.mu.RUnlock()

	if notify != nil {
		notify(w.Snapshot())
	}
}

// Snapshot folds the latest poll result, the login state and the
// configuration status into one view.
func (w *Polled[T]) Snapshot() Snapshot {
	s := Snapshot{Name: w.name}

	if w.manager != nil {
		s.Provider = w.manager.Name()
		s.LoginURL = "/auth/" + w.manager.Name() + "/login"
	}

	if w.configErr != nil {
		s.Status = StatusConfigError
		s.Error = string(StatusConfigError)
		s.Message = w.configErr.Error()

		return s
	}

	if w.manager != nil {
		s.Authenticated = w.manager.Status() == auth.StatusAuthenticated
	}

	res := w.poller.Latest()

	if res.FetchedAt.IsZero() {
		s.Status = StatusPending
		return s
	}

	fetchedAt := res.FetchedAt
	s.FetchedAt = &fetchedAt
	s.Error = string(res.Err)
	s.Message = res.Message

	if res.Data != nil {
		s.Data = res.Data
	}

	switch {
	case res.Err == poll.ErrAuthRequired:
		s.Status = StatusAuthRequired
	case res.Err == poll.ErrTransient:
		s.Status = StatusTransient
	case res.Data == nil:
		s.Status = StatusEmpty
	default:
		s.Status = StatusOK
	}

	return s
}
