package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

var (
	_ Client         = &MockClient{}
	_ Uploader       = &MockClient{}
	_ Watcher        = &MockClient{}
	_ RevisionLister = &MockClient{}
)

// MockClient provides an in-memory registry for tests.
type MockClient struct {
	mu        sync.RWMutex
	functions map[string]function.Definition
	live      map[string]function.LiveStatus
	failures  map[string]error
	calls     map[string]int
	watchers  map[int]*mockWatcher

	// Hook, when set, runs before every operation outside the lock.
	Hook func(ctx context.Context, op, id string)

	revision      int64
	history       []revisionedEvent
	nextWatcherID int
}

type revisionedEvent struct {
	revision int64
	event    Event
}

type mockWatcher struct {
	ctx          context.Context
	events       chan Event
	errs         chan error
	lastRevision int64
}

// NewMockClient initialises an empty mock registry.
func NewMockClient() *MockClient {
	return &MockClient{
		functions: make(map[string]function.Definition),
		live:      make(map[string]function.LiveStatus),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
		watchers:  make(map[int]*mockWatcher),
	}
}

// Seed stores definitions as they are, generating ids where missing.
func (m *MockClient) Seed(defs ...function.Definition) []function.Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]function.Definition, 0, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		if def.Status == "" {
			def.Status = function.StatusPending
		}
		m.functions[def.ID] = def
		m.broadcastLocked(Event{Type: EventTypePut, FunctionID: def.ID, Function: clone(def)})
		out = append(out, def)
	}
	return out
}

// SetLiveStatus makes GetLiveStatus report a running deployment for id.
func (m *MockClient) SetLiveStatus(id string, status function.LiveStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[id] = status
}

// ClearLiveStatus makes GetLiveStatus report function.ErrDeploymentNotFound for id.
func (m *MockClient) ClearLiveStatus(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, id)
}

// FailWith makes every call of op return err until it is reset with a nil error.
func (m *MockClient) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls reports how many times op was invoked.
func (m *MockClient) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// TotalCalls reports how many registry operations were invoked.
func (m *MockClient) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// Watchers reports how many watches are currently open.
func (m *MockClient) Watchers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watchers)
}

func (m *MockClient) enter(ctx context.Context, op, id string) error {
	if m.Hook != nil {
		m.Hook(ctx, op, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failures[op]
}

func (m *MockClient) ListFunctions(ctx context.Context) ([]function.Definition, error) {
	defs, _, err := m.ListFunctionsWithRevision(ctx)
	return defs, err
}

// ListFunctionsWithRevision returns the definitions and the revision of the
// last change they include.
func (m *MockClient) ListFunctionsWithRevision(ctx context.Context) ([]function.Definition, int64, error) {
	if err := m.enter(ctx, "list", ""); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := make([]function.Definition, 0, len(m.functions))
	for _, def := range m.functions {
		defs = append(defs, def)
	}
	return defs, m.revision, nil
}

func (m *MockClient) GetFunction(ctx context.Context, id string) (function.Definition, error) {
	if id == "" {
		return function.Definition{}, ErrFunctionIDIsEmpty
	}
	if err := m.enter(ctx, "get", id); err != nil {
		return function.Definition{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.functions[id]
	if !ok {
		return function.Definition{}, function.ErrFunctionNotFound
	}
	return def, nil
}

func (m *MockClient) CreateFunction(ctx context.Context, def function.Definition, artifact *function.Artifact) (function.Definition, error) {
	if err := m.enter(ctx, "create", ""); err != nil {
		return function.Definition{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.functions {
		if strings.EqualFold(existing.Name, def.Name) {
			return function.Definition{}, ErrNameTaken
		}
	}
	def.ID = uuid.NewString()
	def.Status = function.StatusPending
	if artifact != nil && def.LocationURL == "" {
		def.LocationURL = "artifacts/" + def.ID + "/" + artifact.Filename
	}
	m.functions[def.ID] = def
	m.broadcastLocked(Event{Type: EventTypePut, FunctionID: def.ID, Function: clone(def)})
	return def, nil
}

func (m *MockClient) UpdateFunction(ctx context.Context, id string, patch function.MetadataPatch) (function.Definition, error) {
	if id == "" {
		return function.Definition{}, ErrFunctionIDIsEmpty
	}
	if err := m.enter(ctx, "update", id); err != nil {
		return function.Definition{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.functions[id]
	if !ok {
		return function.Definition{}, function.ErrFunctionNotFound
	}
	def = patch.Apply(def)
	m.functions[id] = def
	m.broadcastLocked(Event{Type: EventTypePut, FunctionID: id, Function: clone(def)})
	return def, nil
}

func (m *MockClient) DeployFunction(ctx context.Context, id string) error {
	return m.setStatus(ctx, "deploy", id, function.StatusDeployed)
}

func (m *MockClient) UndeployFunction(ctx context.Context, id string) error {
	return m.setStatus(ctx, "undeploy", id, function.StatusUndeployed)
}

func (m *MockClient) DeleteFunction(ctx context.Context, id string) error {
	if id == "" {
		return ErrFunctionIDIsEmpty
	}
	if err := m.enter(ctx, "delete", id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.functions[id]; !ok {
		return function.ErrFunctionNotFound
	}
	delete(m.functions, id)
	delete(m.live, id)
	m.broadcastLocked(Event{Type: EventTypeDelete, FunctionID: id})
	return nil
}

func (m *MockClient) GetLiveStatus(ctx context.Context, id string) (function.LiveStatus, error) {
	if id == "" {
		return function.LiveStatus{}, ErrFunctionIDIsEmpty
	}
	if err := m.enter(ctx, "live-status", id); err != nil {
		return function.LiveStatus{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.live[id]
	if !ok {
		return function.LiveStatus{}, function.ErrDeploymentNotFound
	}
	return status, nil
}

func (m *MockClient) UploadArtifact(ctx context.Context, artifact function.Artifact) (string, error) {
	if err := m.enter(ctx, "upload", ""); err != nil {
		return "", err
	}
	return "s3://mock/" + uuid.NewString() + "/" + artifact.Filename, nil
}

// WatchFunctions streams definition changes starting after the provided revision.
// With a positive revision, changes already made after it are replayed first.
func (m *MockClient) WatchFunctions(ctx context.Context, revision int64) (<-chan Event, <-chan error) {
	m.mu.Lock()
	var replay []revisionedEvent
	if revision > 0 {
		for _, h := range m.history {
			if h.revision > revision {
				replay = append(replay, h)
			}
		}
	}

	events := make(chan Event, 64+len(replay))
	errs := make(chan error, 1)
	watcher := &mockWatcher{
		ctx:          ctx,
		events:       events,
		errs:         errs,
		lastRevision: revision,
	}
	for _, h := range replay {
		events <- h.event
		watcher.lastRevision = h.revision
	}
	if revision <= 0 {
		watcher.lastRevision = m.revision
	}

	id := m.nextWatcherID
	m.nextWatcherID++
	m.watchers[id] = watcher
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(events)
			close(errs)
		}
	}()

	return events, errs
}

// Close releases resources and stops active watchers.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, watcher := range m.watchers {
		close(watcher.events)
		close(watcher.errs)
		delete(m.watchers, id)
	}
	return nil
}

func (m *MockClient) setStatus(ctx context.Context, op, id string, status function.Status) error {
	if id == "" {
		return ErrFunctionIDIsEmpty
	}
	if err := m.enter(ctx, op, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.functions[id]
	if !ok {
		return function.ErrFunctionNotFound
	}
	def.Status = status
	m.functions[id] = def
	if status != function.StatusDeployed {
		delete(m.live, id)
	}
	m.broadcastLocked(Event{Type: EventTypePut, FunctionID: id, Function: clone(def)})
	return nil
}

func (m *MockClient) broadcastLocked(ev Event) {
	m.revision++
	m.history = append(m.history, revisionedEvent{revision: m.revision, event: ev})
	for id, watcher := range m.watchers {
		if m.revision <= watcher.lastRevision {
			continue
		}
		select {
		case <-watcher.ctx.Done():
			close(watcher.events)
			close(watcher.errs)
			delete(m.watchers, id)
			continue
		default:
		}

		select {
		case watcher.events <- ev:
			watcher.lastRevision = m.revision
		case <-watcher.ctx.Done():
			close(watcher.events)
			close(watcher.errs)
			delete(m.watchers, id)
		}
	}
}

func clone(def function.Definition) *function.Definition {
	if def.RedisHost != nil {
		def.RedisHost = function.StringPtr(*def.RedisHost)
	}
	if def.RedisQueueName != nil {
		def.RedisQueueName = function.StringPtr(*def.RedisQueueName)
	}
	return &def
}
