package status

import (
	"context"
	"sync"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

// Board keeps one subscription per function and the latest display of each.
type Board struct {
	ctx        context.Context
	reconciler *Reconciler
	onUpdate   func(Display)

	mu     sync.Mutex
	subs   map[string]*Subscription
	latest map[string]Display
	wg     sync.WaitGroup
}

// NewBoard creates a board. onUpdate, when not nil, is called for every display
// from the subscription's own goroutine.
func NewBoard(ctx context.Context, reconciler *Reconciler, onUpdate func(Display)) *Board {
	return &Board{
		ctx:        ctx,
		reconciler: reconciler,
		onUpdate:   onUpdate,
		subs:       make(map[string]*Subscription),
		latest:     make(map[string]Display),
	}
}

// Watch starts observing id, or updates the declared status if it is already observed.
func (b *Board) Watch(id string, declared function.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		sub.SetDeclared(declared)
		return
	}
	sub := b.reconciler.Observe(b.ctx, id, declared)
	b.subs[id] = sub
	b.wg.Add(1)
	go b.drain(sub)
}

// SetDeclared is Watch under the name callers use after a lifecycle transition.
func (b *Board) SetDeclared(id string, declared function.Status) {
	b.Watch(id, declared)
}

func (b *Board) drain(sub *Subscription) {
	defer b.wg.Done()
	for d := range sub.Updates() {
		b.mu.Lock()
		current := b.subs[sub.ID()] == sub
		if current {
			b.latest[sub.ID()] = d
		}
		b.mu.Unlock()
		if current && b.onUpdate != nil {
			b.onUpdate(d)
		}
	}
}

// Get returns the latest display for id.
func (b *Board) Get(id string) (Display, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.latest[id]
	return d, ok
}

// Watching reports whether id has a live subscription.
func (b *Board) Watching(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[id]
	return ok
}

// Forget cancels the subscription for id and drops its display.
func (b *Board) Forget(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	delete(b.latest, id)
	b.mu.Unlock()
	if ok {
		sub.Cancel()
	}
}

// Close cancels every subscription and waits for them to finish.
func (b *Board) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	b.wg.Wait()
}
