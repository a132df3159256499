// Package lifecycle drives functions through deploy, undeploy and delete.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

var (
	ErrActionInFlight    = errors.New("lifecycle: another action is in flight for this function")
	ErrNotConfirmed      = errors.New("lifecycle: deletion was not confirmed")
	ErrInvalidTransition = errors.New("lifecycle: action not valid in the current status")
)

type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionDelete Action = "delete"
)

// Registry is the part of the registry lifecycle actions need.
type Registry interface {
	GetFunction(ctx context.Context, id string) (function.Definition, error)
	DeployFunction(ctx context.Context, id string) error
	UndeployFunction(ctx context.Context, id string) error
	DeleteFunction(ctx context.Context, id string) error
}

type Catalog interface {
	Get(id string) (function.Definition, bool)
	Put(def function.Definition)
	Remove(id string)
}

// Board is told about declared status changes so polling follows them.
type Board interface {
	SetDeclared(id string, declared function.Status)
	Forget(id string)
}

type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type Notifier interface {
	Success(msg string)
	Failure(msg string, err error)
}

// Allowed lists the actions valid for a declared status. Starting is allowed
// from UNDEPLOYED as well so stopped functions can be brought back.
func Allowed(status function.Status) []Action {
	switch status {
	case function.StatusPending, function.StatusUndeployed:
		return []Action{ActionStart, ActionDelete}
	case function.StatusDeployed:
		return []Action{ActionStop, ActionDelete}
	default:
		return []Action{ActionDelete}
	}
}

type Option func(*Controller)

func WithBoard(b Board) Option {
	return func(c *Controller) {
		c.board = b
	}
}

func WithConfirmer(conf Confirmer) Option {
	return func(c *Controller) {
		c.confirmer = conf
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller runs at most one action per function at a time. Actions for
// different functions run independently.
type Controller struct {
	registry  Registry
	catalog   Catalog
	board     Board
	confirmer Confirmer
	notifier  Notifier
	logger    *slog.Logger
	tracer    trace.Tracer

	mu       sync.Mutex
	locks    map[string]*semaphore.Weighted
	inflight map[string]Action
}

func NewController(registry Registry, catalog Catalog, opts ...Option) *Controller {
	c := &Controller{
		registry: registry,
		catalog:  catalog,
		notifier: nopNotifier{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer("github.com/3s-rg-codes/faasctl/pkg/lifecycle"),
		locks:    make(map[string]*semaphore.Weighted),
		inflight: make(map[string]Action),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InFlight reports the action currently running for id, if any.
func (c *Controller) InFlight(id string) (Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.inflight[id]
	return a, ok
}

// Start deploys a PENDING or UNDEPLOYED function.
func (c *Controller) Start(ctx context.Context, id string) (function.Definition, error) {
	return c.run(ctx, id, ActionStart, c.registry.DeployFunction)
}

// Stop undeploys a DEPLOYED function.
func (c *Controller) Stop(ctx context.Context, id string) (function.Definition, error) {
	return c.run(ctx, id, ActionStop, c.registry.UndeployFunction)
}

// Delete undeploys and removes a function after the confirmer agreed.
func (c *Controller) Delete(ctx context.Context, id string) error {
	_, err := c.run(ctx, id, ActionDelete, c.registry.DeleteFunction)
	return err
}

func (c *Controller) acquire(id string, action Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.locks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		c.locks[id] = sem
	}
	if !sem.TryAcquire(1) {
		return false
	}
	c.inflight[id] = action
	return true
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
	c.locks[id].Release(1)
}

func (c *Controller) run(ctx context.Context, id string, action Action, call func(context.Context, string) error) (def function.Definition, err error) {
	if !c.acquire(id, action) {
		return function.Definition{}, ErrActionInFlight
	}
	defer c.release(id)

	ctx, span := c.tracer.Start(ctx, "lifecycle."+string(action), trace.WithAttributes(
		attribute.String("function.id", id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	current, err := c.current(ctx, id)
	if err != nil {
		return function.Definition{}, err
	}
	if !slices.Contains(Allowed(current.Status), action) {
		return function.Definition{}, fmt.Errorf("%w: cannot %s a %s function", ErrInvalidTransition, action, current.Status)
	}

	if action == ActionDelete {
		if err := c.confirmDelete(ctx, current); err != nil {
			return function.Definition{}, err
		}
	}

	c.logger.Debug("lifecycle action", "action", action, "id", id, "status", current.Status)
	if err := call(ctx, id); err != nil {
		if ctx.Err() != nil {
			return function.Definition{}, ctx.Err()
		}
		c.logger.Error("lifecycle action failed", "action", action, "id", id, "error", err)
		c.notifier.Failure(fmt.Sprintf("Failed to %s %s", action, displayName(current)), err)
		return function.Definition{}, &function.RegistryError{Op: string(action), ID: id, Err: err}
	}
	if ctx.Err() != nil {
		// the caller gave up, leave local state to the next refresh
		return function.Definition{}, ctx.Err()
	}

	if action == ActionDelete {
		c.catalog.Remove(id)
		if c.board != nil {
			c.board.Forget(id)
		}
		c.notifier.Success(fmt.Sprintf("Deleted %s", displayName(current)))
		return function.Definition{}, nil
	}

	updated := c.refresh(ctx, current, action)
	c.notifier.Success(fmt.Sprintf("%s %s", pastTense(action), displayName(updated)))
	return updated, nil
}

func (c *Controller) current(ctx context.Context, id string) (function.Definition, error) {
	if def, ok := c.catalog.Get(id); ok {
		return def, nil
	}
	def, err := c.registry.GetFunction(ctx, id)
	if err != nil {
		return function.Definition{}, &function.RegistryError{Op: "get", ID: id, Err: err}
	}
	c.catalog.Put(def)
	return def, nil
}

func (c *Controller) confirmDelete(ctx context.Context, def function.Definition) error {
	if c.confirmer == nil {
		return ErrNotConfirmed
	}
	prompt := fmt.Sprintf("Delete %s? This undeploys it and removes it from the registry.", displayName(def))
	ok, err := c.confirmer.Confirm(ctx, prompt)
	if err != nil {
		return fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

// refresh reloads the definition after a transition. If the reload fails the
// expected status is recorded locally.
func (c *Controller) refresh(ctx context.Context, def function.Definition, action Action) function.Definition {
	updated, err := c.registry.GetFunction(ctx, def.ID)
	if err != nil {
		c.logger.Warn("failed to reload function after transition", "id", def.ID, "error", err)
		updated = def
		if action == ActionStart {
			updated.Status = function.StatusDeployed
		} else {
			updated.Status = function.StatusUndeployed
		}
	}
	c.catalog.Put(updated)
	if c.board != nil {
		c.board.SetDeclared(updated.ID, updated.Status)
	}
	return updated
}

func displayName(def function.Definition) string {
	if def.Name == "" {
		return def.ID
	}
	return fmt.Sprintf("%q", def.Name)
}

func pastTense(a Action) string {
	switch a {
	case ActionStart:
		return "Deployed"
	case ActionStop:
		return "Undeployed"
	default:
		return string(a)
	}
}

type nopNotifier struct{}

func (nopNotifier) Success(string)        {}
func (nopNotifier) Failure(string, error) {}
