// Package status merges the declared status of a function with what the
// orchestrator reports for it.
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

const DefaultInterval = 5 * time.Second

// Source provides the live status of deployed functions.
type Source interface {
	// GetLiveStatus returns function.ErrDeploymentNotFound when nothing runs for id.
	GetLiveStatus(ctx context.Context, id string) (function.LiveStatus, error)
}

// Display is the status shown for one function at one point in time.
type Display struct {
	FunctionID string
	Declared   function.Status
	Status     string
	Live       *function.LiveStatus
	// Unavailable is set when the function is declared deployed but the
	// orchestrator has no deployment for it yet.
	Unavailable bool
	// Err holds a *function.StatusUnavailable when the last query failed.
	Err        error
	ObservedAt time.Time
}

// Replicas renders the replica counts as "available / desired".
func (d Display) Replicas() string {
	if d.Live == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d / %d", d.Live.ReplicasAvailable, d.Live.ReplicasDesired)
}

// Note is a short human explanation for degraded displays.
func (d Display) Note() string {
	switch {
	case d.Err != nil:
		return "live status unavailable"
	case d.Unavailable:
		return "not yet deployed"
	default:
		return ""
	}
}

func active(declared function.Status) bool {
	return declared == function.StatusDeployed
}

type Reconciler struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger
}

func NewReconciler(source Source, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{source: source, interval: interval, logger: logger}
}

// Reconcile runs a single step. Only DEPLOYED functions are queried; failures
// degrade the display and are never returned.
func (r *Reconciler) Reconcile(ctx context.Context, id string, declared function.Status) Display {
	d := Display{
		FunctionID: id,
		Declared:   declared,
		Status:     string(declared),
		ObservedAt: time.Now(),
	}
	if !active(declared) {
		return d
	}

	live, err := r.source.GetLiveStatus(ctx, id)
	switch {
	case err == nil:
		d.Live = &live
		if live.State != "" {
			d.Status = live.State
		}
	case errors.Is(err, function.ErrDeploymentNotFound):
		d.Unavailable = true
	default:
		r.logger.Warn("live status unavailable", "id", id, "error", err)
		d.Err = &function.StatusUnavailable{ID: id, Err: err}
	}
	d.ObservedAt = time.Now()
	return d
}

// Subscription is a running observation of one function.
type Subscription struct {
	id      string
	updates chan Display
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once

	mu       sync.Mutex
	declared function.Status
}

// Updates delivers displays until the subscription ends, then closes.
func (s *Subscription) Updates() <-chan Display {
	return s.updates
}

func (s *Subscription) ID() string {
	return s.id
}

// SetDeclared informs the subscription of a new declared status. Leaving
// DEPLOYED stops polling, entering it starts polling again.
func (s *Subscription) SetDeclared(status function.Status) {
	s.mu.Lock()
	s.declared = status
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel stops polling and waits for the subscription to wind down. It is
// safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}

func (s *Subscription) currentDeclared() function.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.declared
}

// Observe emits a display right away and, while the function is declared
// DEPLOYED, again on every interval. Results that arrive after cancellation
// are dropped.
func (r *Reconciler) Observe(ctx context.Context, id string, declared function.Status) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		id:       id,
		updates:  make(chan Display, 1),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		cancel:   cancel,
		declared: declared,
	}
	go r.run(ctx, s)
	return s
}

func (r *Reconciler) run(ctx context.Context, s *Subscription) {
	defer close(s.done)
	defer close(s.updates)

	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	emit := func(declared function.Status) {
		d := r.Reconcile(ctx, s.id, declared)
		if ctx.Err() != nil {
			return
		}
		select {
		case s.updates <- d:
		case <-ctx.Done():
		}
	}

	step := func() {
		declared := s.currentDeclared()
		switch {
		case active(declared) && ticker == nil:
			ticker = time.NewTicker(r.interval)
			tick = ticker.C
		case !active(declared) && ticker != nil:
			ticker.Stop()
			ticker = nil
			tick = nil
		}
		emit(declared)
	}

	step()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			step()
		case <-tick:
			emit(s.currentDeclared())
		}
	}
}
