// Package queue reports the backlog of queue triggered functions.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

var ErrNoQueue = errors.New("queue: function has no queue configured")

type lengther interface {
	LLen(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// Depth is the number of pending messages in a function's queue.
type Depth struct {
	Host   string
	Queue  string
	Length int64
}

type Inspector struct {
	dial   func(host string) (lengther, error)
	logger *slog.Logger
}

func NewInspector(logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Inspector{dial: dial, logger: logger}
}

// dial accepts either a redis:// URL or a plain host:port.
func dial(host string) (lengther, error) {
	if strings.HasPrefix(host, "redis://") || strings.HasPrefix(host, "rediss://") {
		opts, err := redis.ParseURL(host)
		if err != nil {
			return nil, fmt.Errorf("queue: invalid redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: host}), nil
}

// Depth reads the length of the list backing the function's queue.
func (i *Inspector) Depth(ctx context.Context, def function.Definition) (Depth, error) {
	if def.EventType != function.EventQueue || def.RedisHost == nil || def.RedisQueueName == nil {
		return Depth{}, ErrNoQueue
	}
	host, name := *def.RedisHost, *def.RedisQueueName

	client, err := i.dial(host)
	if err != nil {
		return Depth{}, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			i.logger.Error("error closing redis client", "host", host, "error", err)
		}
	}()

	n, err := client.LLen(ctx, name).Result()
	if err != nil {
		i.logger.Warn("failed to read queue length", "host", host, "queue", name, "error", err)
		return Depth{}, err
	}
	return Depth{Host: host, Queue: name, Length: n}, nil
}
