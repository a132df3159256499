package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

type countingSource struct {
	calls atomic.Int32
	mu    sync.Mutex
	live  function.LiveStatus
	err   error
	block chan struct{}
}

func (c *countingSource) GetLiveStatus(ctx context.Context, _ string) (function.LiveStatus, error) {
	c.calls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return function.LiveStatus{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live, c.err
}

func (c *countingSource) set(live function.LiveStatus, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = live
	c.err = err
}

func TestReconcile(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		name        string
		declared    function.Status
		live        function.LiveStatus
		err         error
		wantStatus  string
		wantCalls   int32
		unavailable bool
		wantErr     bool
		replicas    string
	}{
		{
			name:       "pending is inactive",
			declared:   function.StatusPending,
			wantStatus: "PENDING",
			replicas:   "N/A",
		},
		{
			name:       "undeployed is inactive",
			declared:   function.StatusUndeployed,
			wantStatus: "UNDEPLOYED",
			replicas:   "N/A",
		},
		{
			name:       "deployed shows live state",
			declared:   function.StatusDeployed,
			live:       function.LiveStatus{State: "READY", ReplicasDesired: 2, ReplicasAvailable: 2},
			wantStatus: "READY",
			wantCalls:  1,
			replicas:   "2 / 2",
		},
		{
			name:        "deployed without deployment",
			declared:    function.StatusDeployed,
			err:         function.ErrDeploymentNotFound,
			wantStatus:  "DEPLOYED",
			wantCalls:   1,
			unavailable: true,
			replicas:    "N/A",
		},
		{
			name:       "transport failure degrades",
			declared:   function.StatusDeployed,
			err:        boom,
			wantStatus: "DEPLOYED",
			wantCalls:  1,
			wantErr:    true,
			replicas:   "N/A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &countingSource{live: tt.live, err: tt.err}
			r := NewReconciler(src, time.Second, nil)

			d := r.Reconcile(context.Background(), "abc", tt.declared)

			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.declared, d.Declared)
			assert.Equal(t, tt.wantCalls, src.calls.Load())
			assert.Equal(t, tt.unavailable, d.Unavailable)
			assert.Equal(t, tt.replicas, d.Replicas())
			if tt.wantErr {
				var su *function.StatusUnavailable
				require.ErrorAs(t, d.Err, &su)
				assert.ErrorIs(t, d.Err, boom)
			} else {
				assert.NoError(t, d.Err)
			}
		})
	}
}

func TestObserve_InactiveNeverQueries(t *testing.T) {
	src := &countingSource{}
	r := NewReconciler(src, 5*time.Millisecond, nil)

	sub := r.Observe(context.Background(), "abc", function.StatusPending)
	d := <-sub.Updates()
	assert.Equal(t, "PENDING", d.Status)

	time.Sleep(30 * time.Millisecond)
	sub.Cancel()
	assert.Zero(t, src.calls.Load())
}

func TestObserve_PollsWhileDeployed(t *testing.T) {
	src := &countingSource{live: function.LiveStatus{State: "PROGRESSING", ReplicasDesired: 1}}
	r := NewReconciler(src, 5*time.Millisecond, nil)
	sub := r.Observe(context.Background(), "abc", function.StatusDeployed)
	defer sub.Cancel()

	first := <-sub.Updates()
	assert.Equal(t, "PROGRESSING", first.Status)
	assert.Equal(t, "0 / 1", first.Replicas())

	src.set(function.LiveStatus{State: "READY", ReplicasDesired: 1, ReplicasAvailable: 1}, nil)
	require.Eventually(t, func() bool {
		d := <-sub.Updates()
		return d.Status == "READY"
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, src.calls.Load(), int32(2))
}

func TestObserve_StopsWhenDeclaredLeavesDeployed(t *testing.T) {
	src := &countingSource{live: function.LiveStatus{State: "READY", ReplicasDesired: 1, ReplicasAvailable: 1}}
	r := NewReconciler(src, 5*time.Millisecond, nil)
	sub := r.Observe(context.Background(), "abc", function.StatusDeployed)
	defer sub.Cancel()

	go func() {
		for range sub.Updates() {
		}
	}()
	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, time.Millisecond)

	sub.SetDeclared(function.StatusUndeployed)
	time.Sleep(20 * time.Millisecond)
	settled := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, src.calls.Load())
}

func TestObserve_CancelDiscardsInFlightResult(t *testing.T) {
	src := &countingSource{
		live:  function.LiveStatus{State: "READY"},
		block: make(chan struct{}),
	}
	r := NewReconciler(src, time.Hour, nil)
	sub := r.Observe(context.Background(), "abc", function.StatusDeployed)

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	sub.Cancel()
	close(src.block)

	_, ok := <-sub.Updates()
	assert.False(t, ok, "no display is delivered after cancel")
	sub.Cancel()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestObserve_ParentContextCancel(t *testing.T) {
	src := &countingSource{}
	r := NewReconciler(src, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub := r.Observe(ctx, "abc", function.StatusDeployed)

	cancel()
	done := make(chan struct{})
	go func() {
		for range sub.Updates() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("updates channel was not closed")
	}
}
