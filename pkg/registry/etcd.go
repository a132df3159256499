package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

var (
	_ Client         = &EtcdClient{}
	_ Watcher        = &EtcdClient{}
	_ RevisionLister = &EtcdClient{}
)

// EtcdClient keeps definitions in etcd for installations that run without the
// HTTP registry. It has no orchestrator, so live status comes from elsewhere.
type EtcdClient struct {
	kv      clientv3.KV
	watcher clientv3.Watcher
	closer  func() error
	prefix  string
	logger  *slog.Logger
}

// NewEtcdClient connects to etcd using the provided endpoints and options.
func NewEtcdClient(endpoints []string, opts Options, logger *slog.Logger) (*EtcdClient, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("registry: at least one etcd endpoint is required")
	}

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}

	c := newEtcdClient(cli.KV, cli.Watcher, opts.Prefix, logger)
	c.closer = cli.Close
	return c, nil
}

func newEtcdClient(kv clientv3.KV, watcher clientv3.Watcher, prefix string, logger *slog.Logger) *EtcdClient {
	return &EtcdClient{
		kv:      kv,
		watcher: watcher,
		prefix:  normalizePrefix(prefix),
		logger:  discardLogger(logger),
	}
}

// Close releases the etcd client.
func (c *EtcdClient) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

// ListFunctions loads all definitions stored under the configured prefix.
func (c *EtcdClient) ListFunctions(ctx context.Context) ([]function.Definition, error) {
	defs, _, err := c.list(ctx)
	return defs, err
}

// ListFunctionsWithRevision also returns the revision the listing was read at.
func (c *EtcdClient) ListFunctionsWithRevision(ctx context.Context) ([]function.Definition, int64, error) {
	return c.list(ctx)
}

func (c *EtcdClient) list(ctx context.Context) ([]function.Definition, int64, error) {
	resp, err := c.kv.Get(ctx, c.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}

	defs := make([]function.Definition, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := c.idFromKey(string(kv.Key))
		def, err := decodeDefinition(kv.Value, id)
		if err != nil {
			c.logger.Error("failed to decode function definition", "id", id, "error", err)
			continue
		}
		defs = append(defs, def)
	}

	var rev int64
	if resp.Header != nil {
		rev = resp.Header.Revision
	}
	return defs, rev, nil
}

// GetFunction returns the definition for the given function ID.
func (c *EtcdClient) GetFunction(ctx context.Context, id string) (function.Definition, error) {
	if id == "" {
		return function.Definition{}, ErrFunctionIDIsEmpty
	}

	resp, err := c.kv.Get(ctx, c.key(id))
	if err != nil {
		return function.Definition{}, err
	}
	if len(resp.Kvs) == 0 {
		return function.Definition{}, function.ErrFunctionNotFound
	}
	return decodeDefinition(resp.Kvs[0].Value, id)
}

// CreateFunction stores a new definition and generates its ID. Artifacts must be
// uploaded beforehand, etcd only keeps their location.
func (c *EtcdClient) CreateFunction(ctx context.Context, def function.Definition, artifact *function.Artifact) (function.Definition, error) {
	if artifact != nil {
		return function.Definition{}, ErrInlineArtifact
	}

	existing, err := c.ListFunctions(ctx)
	if err != nil {
		return function.Definition{}, err
	}
	for _, other := range existing {
		if strings.EqualFold(other.Name, def.Name) {
			return function.Definition{}, ErrNameTaken
		}
	}

	def.ID = uuid.NewString()
	def.Status = function.StatusPending
	if err := c.put(ctx, def); err != nil {
		return function.Definition{}, err
	}
	return def, nil
}

// UpdateFunction applies a metadata patch to a stored definition.
func (c *EtcdClient) UpdateFunction(ctx context.Context, id string, patch function.MetadataPatch) (function.Definition, error) {
	def, err := c.GetFunction(ctx, id)
	if err != nil {
		return function.Definition{}, err
	}
	def = patch.Apply(def)
	if err := c.put(ctx, def); err != nil {
		return function.Definition{}, err
	}
	return def, nil
}

// DeployFunction records the function as deployed. The orchestrator picks
// the change up through its own watch on the prefix.
func (c *EtcdClient) DeployFunction(ctx context.Context, id string) error {
	return c.setStatus(ctx, id, function.StatusDeployed)
}

func (c *EtcdClient) UndeployFunction(ctx context.Context, id string) error {
	return c.setStatus(ctx, id, function.StatusUndeployed)
}

// DeleteFunction removes the definition for the given function ID.
func (c *EtcdClient) DeleteFunction(ctx context.Context, id string) error {
	if id == "" {
		return ErrFunctionIDIsEmpty
	}
	resp, err := c.kv.Delete(ctx, c.key(id))
	if err != nil {
		return err
	}
	if resp.Deleted == 0 {
		return function.ErrFunctionNotFound
	}
	return nil
}

// GetLiveStatus always fails with ErrLiveStatusUnsupported, etcd only knows
// the declared state. Pair this backend with a cluster source for live status.
func (c *EtcdClient) GetLiveStatus(_ context.Context, id string) (function.LiveStatus, error) {
	if id == "" {
		return function.LiveStatus{}, ErrFunctionIDIsEmpty
	}
	return function.LiveStatus{}, ErrLiveStatusUnsupported
}

// WatchFunctions streams definition changes starting after the provided revision.
func (c *EtcdClient) WatchFunctions(ctx context.Context, revision int64) (<-chan Event, <-chan error) {
	events := make(chan Event, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		opts := []clientv3.OpOption{clientv3.WithPrefix()}
		if revision > 0 {
			opts = append(opts, clientv3.WithRev(revision+1))
		}

		watch := c.watcher.Watch(ctx, c.prefix+"/", opts...)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watch:
				if !ok {
					return
				}
				if err := resp.Err(); err != nil {
					select {
					case errs <- err:
					default:
					}
					continue
				}
				for _, ev := range resp.Events {
					id := c.idFromKey(string(ev.Kv.Key))
					var out Event
					switch ev.Type {
					case mvccpb.PUT:
						def, err := decodeDefinition(ev.Kv.Value, id)
						if err != nil {
							c.logger.Error("failed to decode function definition", "id", id, "error", err)
							continue
						}
						out = Event{Type: EventTypePut, FunctionID: id, Function: &def}
					case mvccpb.DELETE:
						out = Event{Type: EventTypeDelete, FunctionID: id}
					default:
						c.logger.Warn("received unknown event type", "type", ev.Type, "id", id)
						continue
					}
					select {
					case events <- out:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return events, errs
}

func (c *EtcdClient) setStatus(ctx context.Context, id string, status function.Status) error {
	def, err := c.GetFunction(ctx, id)
	if err != nil {
		return err
	}
	def.Status = status
	return c.put(ctx, def)
}

func (c *EtcdClient) put(ctx context.Context, def function.Definition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = c.kv.Put(ctx, c.key(def.ID), string(payload))
	return err
}

func (c *EtcdClient) key(id string) string {
	return c.prefix + "/" + id
}

func (c *EtcdClient) idFromKey(key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, c.prefix), "/")
}

func decodeDefinition(raw []byte, id string) (function.Definition, error) {
	var def function.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return function.Definition{}, err
	}
	def.ID = id
	return def, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}
