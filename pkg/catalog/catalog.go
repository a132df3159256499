// Package catalog keeps the client side copy of the registry's definitions.
package catalog

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/3s-rg-codes/faasctl/pkg/function"
	"github.com/3s-rg-codes/faasctl/pkg/registry"
	"github.com/3s-rg-codes/faasctl/pkg/utils"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
)

type Lister interface {
	ListFunctions(ctx context.Context) ([]function.Definition, error)
}

// Catalog caches definitions by id.
type Catalog struct {
	cache    *Cache[string, function.Definition]
	lister   Lister
	logger   *slog.Logger
	backoff  time.Duration
	revision atomic.Int64
}

func New(lister Lister, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Catalog{
		cache:   NewCache[string, function.Definition](),
		lister:  lister,
		logger:  logger,
		backoff: defaultBackoff,
	}
}

type listing struct {
	defs     []function.Definition
	revision int64
}

// Refresh reloads every definition from the registry, retrying transient failures.
// When the registry reports the revision of its listing, Revision returns it.
func (c *Catalog) Refresh(ctx context.Context) error {
	res, err := utils.CallWithRetry(ctx, func() (listing, error) {
		if rl, ok := c.lister.(registry.RevisionLister); ok {
			defs, rev, err := rl.ListFunctionsWithRevision(ctx)
			return listing{defs: defs, revision: rev}, err
		}
		defs, err := c.lister.ListFunctions(ctx)
		return listing{defs: defs}, err
	}, defaultAttempts, c.backoff)
	if err != nil {
		c.logger.Error("failed to list functions", "error", err)
		return &function.RegistryError{Op: "list", Err: err}
	}

	data := make(map[string]function.Definition, len(res.defs))
	for _, def := range res.defs {
		data[def.ID] = def
	}
	c.cache.Replace(data)
	c.revision.Store(res.revision)
	c.logger.Debug("catalog refreshed", "functions", len(data), "revision", res.revision)
	return nil
}

// Revision is the registry revision of the last refresh, 0 when unknown.
// Following from it picks up every change made after the refresh.
func (c *Catalog) Revision() int64 {
	return c.revision.Load()
}

func (c *Catalog) Get(id string) (function.Definition, bool) {
	return c.cache.Get(id)
}

// List returns the cached definitions ordered by name, then id.
func (c *Catalog) List() []function.Definition {
	defs := c.cache.Values()
	slices.SortFunc(defs, func(a, b function.Definition) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return defs
}

func (c *Catalog) Put(def function.Definition) {
	c.cache.Set(def.ID, def)
}

func (c *Catalog) Remove(id string) {
	c.cache.Delete(id)
}

func (c *Catalog) Len() int {
	return c.cache.Len()
}

// Follow applies registry change events until ctx is done or the stream ends.
// onChange, when not nil, is called after each event is applied.
func (c *Catalog) Follow(ctx context.Context, w registry.Watcher, revision int64, onChange func(registry.Event)) {
	events, errs := w.WatchFunctions(ctx, revision)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn("watch error", "error", err)
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case registry.EventTypePut:
				if ev.Function != nil {
					c.Put(*ev.Function)
				}
			case registry.EventTypeDelete:
				c.Remove(ev.FunctionID)
			default:
				c.logger.Warn("received unknown event type", "type", ev.Type, "id", ev.FunctionID)
				continue
			}
			if onChange != nil {
				onChange(ev)
			}
		}
	}
}
