// Package poll refreshes widget data on a fixed interval. A Poller owns
// one goroutine, so fetches from the same poller never overlap.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
	"github.com/alexjbarnes/ambient-dash/internal/logging"
)

// ErrorKind classifies the outcome of the last poll cycle.
type ErrorKind string

const (
	ErrNone         ErrorKind = ""
	ErrAuthRequired ErrorKind = "auth_required"
	ErrTransient    ErrorKind = "transient"
)

// Result is the latest state of one poller. Data is nil when nothing
// has been fetched yet, when the provider reported nothing active, or
// after an authorization failure.
type Result[T any] struct {
	Data      *T
	Err       ErrorKind
	Message   string
	FetchedAt time.Time
}

// FetchFunc performs one provider request. It returns ErrNoContent when
// the provider has nothing to show and an error wrapping
// ErrAuthRequired when the user must log in again.
type FetchFunc[T any] func(ctx context.Context) (*T, error)

// Option configures a Poller.
type Option[T any] func(*Poller[T])

// WithLogger sets the logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Poller[T]) { p.logger = logger }
}

// OnUpdate registers fn to run after every settled cycle. fn runs on
// the poll goroutine and must not block for long.
func OnUpdate[T any](fn func(Result[T])) Option[T] {
	return func(p *Poller[T]) { p.onUpdate = fn }
}

// WithFetchTimeout bounds each fetch. Zero means no bound beyond the
// caller's context.
func WithFetchTimeout[T any](d time.Duration) Option[T] {
	return func(p *Poller[T]) { p.fetchTimeout = d }
}

// Poller calls a fetch function on a fixed interval and keeps the
// latest Result.
type Poller[T any] struct {
	name         string
	fetch        FetchFunc[T]
	logger       *slog.Logger
	onUpdate     func(Result[T])
	fetchTimeout time.Duration

	mu     sync.RWMutex
	result Result[T]

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	poke   chan struct{}
}

// New creates a stopped poller.
func New[T any](name string, fetch FetchFunc[T], opts ...Option[T]) *Poller[T] {
	p := &Poller[T]{
		name:   name,
		fetch:  fetch,
		logger: logging.Discard(),
		poke:   make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With(slog.String("widget", name))

	return p
}

// Name returns the poller's name.
func (p *Poller[T]) Name() string { return p.name }

// Start fetches immediately and then once per interval until ctx is
// cancelled or Stop is called. Calling Start on a running poller
// restarts it with the new interval.
func (p *Poller[T]) Start(ctx context.Context, interval time.Duration) {
	p.Stop()

	p.runMu.Lock()
	defer p.runMu.Unlock()

	// The first fetch happens right away; an earlier poke is redundant.
	select {
	case <-p.poke:
	default:
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		p.loop(loopCtx, interval)
	}()
}

func (p *Poller[T]) loop(ctx context.Context, interval time.Duration) {
	p.FetchOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-p.poke:
		case <-ctx.Done():
			return
		}

		p.FetchOnce(ctx)

		// A tick that fired while the fetch was in flight is dropped.
		select {
		case <-ticker.C:
		default:
		}
	}
}

// Stop cancels the loop and waits for it to exit. After Stop returns
// the stored result no longer changes and OnUpdate is not called; a
// fetch still in flight is abandoned and its result discarded.
func (p *Poller[T]) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.cancel == nil {
		return
	}

	p.cancel()
	<-p.done

	p.cancel = nil
	p.done = nil
}

// Running reports whether the loop is active.
func (p *Poller[T]) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	return p.cancel != nil
}

// Poke asks a running poller to fetch now instead of waiting for the
// next tick. Pokes made while a fetch is in flight collapse into one.
func (p *Poller[T]) Poke() {
	select {
	case p.poke <- struct{}{}:
	default:
	}
}

// FetchOnce runs one fetch and folds its outcome into the stored result:
//
//   - data: Result{Data: data}
//   - ErrNoContent: Result{Data: nil}
//   - ErrAuthRequired: Result{Err: auth_required}, data cleared
//   - any other error: Result{Err: transient}, previous data kept
//
// If ctx is done by the time the fetch returns, the outcome is
// discarded and the stored result is returned unchanged.
func (p *Poller[T]) FetchOnce(ctx context.Context) Result[T] {
	fetchCtx := ctx
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	data, err := p.fetch(fetchCtx)

	if ctx.Err() != nil {
		return p.Latest()
	}

	p.mu.Lock()
	next := fold(p.result, data, err, time.Now())
	p.result = next
	onUpdate := p.onUpdate
	p.mu.Unlock()

	switch next.Err {
	case ErrAuthRequired:
		p.logger.Info("authorization required", slog.String("error", next.Message))
	case ErrTransient:
		p.logger.Warn("poll failed", slog.String("error", next.Message), slog.Bool("stale_data", next.Data != nil))
	default:
		p.logger.Debug("poll succeeded", slog.Bool("empty", next.Data == nil))
	}

	if onUpdate != nil {
		onUpdate(next)
	}

	return next
}

func fold[T any](prev Result[T], data *T, err error, now time.Time) Result[T] {
	switch {
	case err == nil:
		return Result[T]{Data: data, FetchedAt: now}
	case errors.Is(err, apperrors.ErrNoContent):
		return Result[T]{FetchedAt: now}
	case errors.Is(err, apperrors.ErrAuthRequired):
		return Result[T]{Err: ErrAuthRequired, Message: err.Error(), FetchedAt: now}
	default:
		return Result[T]{Data: prev.Data, Err: ErrTransient, Message: err.Error(), FetchedAt: now}
	}
}

// SetOnUpdate replaces the callback registered with OnUpdate.
func (p *Poller[T]) SetOnUpdate(fn func(Result[T])) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// Latest returns a copy of the stored result.
func (p *Poller[T]) Latest() Result[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.result
}
