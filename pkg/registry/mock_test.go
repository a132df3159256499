package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

func TestMockClient_FailWith(t *testing.T) {
	m := NewMockClient()
	boom := errors.New("boom")
	m.FailWith("deploy", boom)
	defs := m.Seed(function.Definition{Name: "hello"})

	assert.ErrorIs(t, m.DeployFunction(context.Background(), defs[0].ID), boom)
	assert.Equal(t, 1, m.Calls("deploy"))

	m.FailWith("deploy", nil)
	require.NoError(t, m.DeployFunction(context.Background(), defs[0].ID))

	got, err := m.GetFunction(context.Background(), defs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, function.StatusDeployed, got.Status)
}

func TestMockClient_WatchFunctions(t *testing.T) {
	m := NewMockClient()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := m.WatchFunctions(ctx, 0)
	created, err := m.CreateFunction(ctx, function.Definition{Name: "hello"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.DeleteFunction(ctx, created.ID))

	select {
	case ev := <-events:
		assert.Equal(t, EventTypePut, ev.Type)
		assert.Equal(t, created.ID, ev.FunctionID)
	case <-time.After(time.Second):
		t.Fatal("no put event")
	}
	select {
	case ev := <-events:
		assert.Equal(t, EventTypeDelete, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no delete event")
	}
}

func TestMockClient_LiveStatus(t *testing.T) {
	m := NewMockClient()
	defs := m.Seed(function.Definition{Name: "hello", Status: function.StatusDeployed})
	id := defs[0].ID

	_, err := m.GetLiveStatus(context.Background(), id)
	assert.ErrorIs(t, err, function.ErrDeploymentNotFound)

	m.SetLiveStatus(id, function.LiveStatus{State: "READY", ReplicasDesired: 1, ReplicasAvailable: 1})
	live, err := m.GetLiveStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "READY", live.State)

	require.NoError(t, m.UndeployFunction(context.Background(), id))
	_, err = m.GetLiveStatus(context.Background(), id)
	assert.ErrorIs(t, err, function.ErrDeploymentNotFound)
}
