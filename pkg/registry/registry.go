// Package registry talks to the function registry that owns the definitions.
package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

var (
	ErrFunctionIDIsEmpty     = errors.New("registry: function id is empty")
	ErrNameTaken             = errors.New("registry: function name already exists")
	ErrInlineArtifact        = errors.New("registry: backend cannot store artifacts, configure an artifact store")
	ErrLiveStatusUnsupported = errors.New("registry: backend has no live status")
)

// Client is the set of registry operations the client consumes.
type Client interface {
	ListFunctions(ctx context.Context) ([]function.Definition, error)
	GetFunction(ctx context.Context, id string) (function.Definition, error)
	// CreateFunction registers a new definition. When artifact is not nil it is
	// sent along with the definition.
	CreateFunction(ctx context.Context, def function.Definition, artifact *function.Artifact) (function.Definition, error)
	UpdateFunction(ctx context.Context, id string, patch function.MetadataPatch) (function.Definition, error)
	DeployFunction(ctx context.Context, id string) error
	UndeployFunction(ctx context.Context, id string) error
	// DeleteFunction undeploys the function and removes it from the registry.
	DeleteFunction(ctx context.Context, id string) error
	// GetLiveStatus returns function.ErrDeploymentNotFound when nothing runs for id.
	GetLiveStatus(ctx context.Context, id string) (function.LiveStatus, error)
	Close() error
}

// Uploader stores a code package and returns the location it can be fetched from.
type Uploader interface {
	UploadArtifact(ctx context.Context, artifact function.Artifact) (string, error)
}

// Watcher is implemented by backends that can stream definition changes.
type Watcher interface {
	WatchFunctions(ctx context.Context, revision int64) (<-chan Event, <-chan error)
}

// RevisionLister is implemented by backends whose listings carry the store
// revision they were read at. A watch started from that revision misses
// nothing written after the listing.
type RevisionLister interface {
	ListFunctionsWithRevision(ctx context.Context) ([]function.Definition, int64, error)
}

// EventType provides the type of change observed in the registry.
type EventType int

const (
	EventTypeUnknown EventType = iota
	EventTypePut
	EventTypeDelete
)

func (t EventType) String() string {
	switch t {
	case EventTypePut:
		return "PUT"
	case EventTypeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Event encapsulates definition change notifications.
type Event struct {
	Type       EventType
	FunctionID string
	Function   *function.Definition
}

// Options configures the etcd backed registry.
type Options struct {
	// Prefix controls where definitions are stored. Defaults to DefaultPrefix when empty.
	Prefix string
	// DialTimeout overrides the etcd dial timeout. Zero uses DefaultDialTimeout.
	DialTimeout time.Duration
}

const (
	DefaultPrefix      = "faasctl/functions"
	DefaultDialTimeout = 5 * time.Second
)

func discardLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
