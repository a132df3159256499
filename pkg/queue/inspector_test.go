package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

type fakeList struct {
	length int64
	err    error
	keys   []string
	closed bool
}

func (f *fakeList) LLen(_ context.Context, key string) *redis.IntCmd {
	f.keys = append(f.keys, key)
	return redis.NewIntResult(f.length, f.err)
}

func (f *fakeList) Close() error {
	f.closed = true
	return nil
}

func queueFunction() function.Definition {
	return function.Definition{
		Name:           "consumer",
		EventType:      function.EventQueue,
		RedisHost:      function.StringPtr("redis:6379"),
		RedisQueueName: function.StringPtr("jobs"),
	}
}

func TestInspector_Depth(t *testing.T) {
	fake := &fakeList{length: 7}
	var dialed string
	i := NewInspector(nil)
	i.dial = func(host string) (lengther, error) {
		dialed = host
		return fake, nil
	}

	d, err := i.Depth(context.Background(), queueFunction())

	require.NoError(t, err)
	assert.Equal(t, Depth{Host: "redis:6379", Queue: "jobs", Length: 7}, d)
	assert.Equal(t, "redis:6379", dialed)
	assert.Equal(t, []string{"jobs"}, fake.keys)
	assert.True(t, fake.closed)
}

func TestInspector_Depth_Errors(t *testing.T) {
	i := NewInspector(nil)

	_, err := i.Depth(context.Background(), function.Definition{EventType: function.EventHTTP})
	assert.ErrorIs(t, err, ErrNoQueue)

	def := queueFunction()
	def.RedisQueueName = nil
	_, err = i.Depth(context.Background(), def)
	assert.ErrorIs(t, err, ErrNoQueue)

	boom := errors.New("connection refused")
	fake := &fakeList{err: boom}
	i.dial = func(string) (lengther, error) { return fake, nil }
	_, err = i.Depth(context.Background(), queueFunction())
	assert.ErrorIs(t, err, boom)
	assert.True(t, fake.closed)
}

func TestDial_ParsesURLs(t *testing.T) {
	c, err := dial("redis://:secret@localhost:6379/2")
	require.NoError(t, err)
	assert.NoError(t, c.Close())

	_, err = dial("redis://localhost:6379/notadb")
	assert.Error(t, err)
}
