package core

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent fails if an event of kind arrives within wait.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// memStorage is an in-memory Storage for hub tests.
type memStorage struct {
	mu       sync.Mutex
	roles    map[string]map[string]rbac.Role
	objects  map[string]*store.Object
	patches  []patchCall
	entries  []*store.LogEntry
	comments []*store.Comment
	nextID   int64

	// roleGate, when set, blocks BoardRole until closed.
	roleGate chan struct{}
	// upsertGate, when set, blocks UpsertObject until closed.
	upsertGate chan struct{}
}

type patchCall struct {
	objectID string
	props    map[string]any
}

func newMemStorage() *memStorage {
	return &memStorage{
		roles:   make(map[string]map[string]rbac.Role),
		objects: make(map[string]*store.Object),
	}
}

func (m *memStorage) grant(board, user string, role rbac.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roles[board] == nil {
		m.roles[board] = make(map[string]rbac.Role)
	}
	m.roles[board][user] = role
}

func (m *memStorage) setRoleGate(gate chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleGate = gate
}

func (m *memStorage) setUpsertGate(gate chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertGate = gate
}

func (m *memStorage) BoardRole(ctx context.Context, boardID, userID string) (rbac.Role, error) {
	m.mu.Lock()
	gate := m.roleGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return rbac.RoleNone, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if role, ok := m.roles[boardID][userID]; ok {
		return role, nil
	}
	return rbac.RoleNone, nil
}

func (m *memStorage) ListObjects(_ context.Context, boardID string) ([]*store.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Object
	for _, obj := range m.objects {
		if obj.BoardID == boardID {
			cp := *obj
			cp.Props = maps.Clone(obj.Props)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZIndex < out[j].ZIndex })
	return out, nil
}

func (m *memStorage) UpsertObject(ctx context.Context, obj *store.Object) error {
	m.mu.Lock()
	gate := m.upsertGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *obj
	cp.Props = maps.Clone(obj.Props)
	m.objects[obj.ID] = &cp
	return nil
}

func (m *memStorage) PatchObjectProps(_ context.Context, objectID, boardID string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, patchCall{objectID: objectID, props: maps.Clone(props)})
	obj, ok := m.objects[objectID]
	if !ok || obj.BoardID != boardID {
		return store.ErrNotFound
	}
	if obj.Props == nil {
		obj.Props = make(map[string]any)
	}
	maps.Copy(obj.Props, props)
	return nil
}

func (m *memStorage) DeleteObject(_ context.Context, objectID, boardID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[objectID]
	if !ok || obj.BoardID != boardID {
		return "", false, nil
	}
	delete(m.objects, objectID)
	return obj.Type, true, nil
}

func (m *memStorage) AppendEntry(_ context.Context, entry *store.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	entry.CreatedAt = time.Now().UTC()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memStorage) ListEntries(_ context.Context, boardID string, limit int) ([]*store.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.LogEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].BoardID == boardID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memStorage) CreateComment(_ context.Context, comment *store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	comment.ID = m.nextID
	comment.CreatedAt = time.Now().UTC()
	cp := *comment
	m.comments = append(m.comments, &cp)
	return nil
}

func (m *memStorage) patchesFor(objectID string) []patchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []patchCall
	for _, p := range m.patches {
		if p.objectID == objectID {
			out = append(out, p)
		}
	}
	return out
}

func (m *memStorage) object(id string) (*store.Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, false
	}
	cp := *obj
	cp.Props = maps.Clone(obj.Props)
	return &cp, true
}

func (m *memStorage) entriesOfKind(kind store.LogKind) []*store.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.LogEntry
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var errStorageDown = errors.New("storage down")

// failingStorage fails the selected object writes and counts the failures.
type failingStorage struct {
	*memStorage
	failUpsert bool
	failPatch  bool
	failDelete bool
	failures   atomic.Int32
}

func (f *failingStorage) UpsertObject(ctx context.Context, obj *store.Object) error {
	if f.failUpsert {
		f.failures.Add(1)
		return errStorageDown
	}
	return f.memStorage.UpsertObject(ctx, obj)
}

func (f *failingStorage) PatchObjectProps(ctx context.Context, objectID, boardID string, props map[string]any) error {
	if f.failPatch {
		f.failures.Add(1)
		return errStorageDown
	}
	return f.memStorage.PatchObjectProps(ctx, objectID, boardID, props)
}

func (f *failingStorage) DeleteObject(ctx context.Context, objectID, boardID string) (string, bool, error) {
	if f.failDelete {
		f.failures.Add(1)
		return "", false, errStorageDown
	}
	return f.memStorage.DeleteObject(ctx, objectID, boardID)
}

// startHub runs a hub over st until the test ends.
func startHub(t *testing.T, st Storage, cfg Config) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(st, cfg, nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return hub
}

func newTestClient(hub *Hub, connID, userID, name string) *Client {
	c := NewClient(connID, Identity{ID: userID, Name: name, Color: "#6366f1"})
	hub.RegisterClient(c)
	return c
}

// joinBoard joins and consumes the snapshot and the joiner's own roster.
func joinBoard(t *testing.T, c *Client, board string) *Event {
	t.Helper()
	c.Commands <- &Command{Kind: CommandJoinBoard, Board: board}
	snap := mustEvent(t, c.Events, EventBoardSnapshot)
	mustEvent(t, c.Events, EventPresence)
	return snap
}
