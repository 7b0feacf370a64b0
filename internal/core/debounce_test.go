package core

import (
	"context"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/collabboard/collabboard-server/internal/rbac"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushed map[string][]map[string]any
}

func (r *flushRecorder) flush(key string, value objectPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed == nil {
		r.flushed = make(map[string][]map[string]any)
	}
	r.flushed[key] = append(r.flushed[key], maps.Clone(value.props))
}

func (r *flushRecorder) get(key string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed[key]
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	mock := clock.NewMock()
	rec := &flushRecorder{}
	d := NewDebouncer(mock, 500*time.Millisecond, mergePatch, rec.flush)

	d.Schedule("o1", objectPatch{board: "b1", props: map[string]any{"x": 1}})
	mock.Add(200 * time.Millisecond)
	d.Schedule("o1", objectPatch{board: "b1", props: map[string]any{"y": 2}})
	mock.Add(200 * time.Millisecond)
	d.Schedule("o1", objectPatch{board: "b1", props: map[string]any{"x": 3}})

	// 400ms after the first update nothing has flushed.
	require.Empty(t, rec.get("o1"))

	mock.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.get("o1")) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, map[string]any{"x": 3, "y": 2}, rec.get("o1")[0])
	require.Zero(t, d.Pending())
}

func TestDebouncerIndependentKeys(t *testing.T) {
	mock := clock.NewMock()
	rec := &flushRecorder{}
	d := NewDebouncer(mock, 500*time.Millisecond, mergePatch, rec.flush)

	d.Schedule("a", objectPatch{props: map[string]any{"k": "a"}})
	mock.Add(300 * time.Millisecond)
	d.Schedule("b", objectPatch{props: map[string]any{"k": "b"}})
	mock.Add(250 * time.Millisecond)

	require.Eventually(t, func() bool { return len(rec.get("a")) == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, rec.get("b"))

	mock.Add(300 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.get("b")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDebouncerCancelAndFlush(t *testing.T) {
	mock := clock.NewMock()
	rec := &flushRecorder{}
	d := NewDebouncer(mock, 500*time.Millisecond, mergePatch, rec.flush)

	d.Schedule("gone", objectPatch{props: map[string]any{"x": 1}})
	require.True(t, d.Cancel("gone"))
	require.False(t, d.Cancel("gone"))

	d.Schedule("now", objectPatch{props: map[string]any{"x": 2}})
	require.True(t, d.Flush("now"))
	require.Len(t, rec.get("now"), 1)

	mock.Add(time.Second)
	// Give stray timer goroutines a chance to run.
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, rec.get("gone"))
	require.Len(t, rec.get("now"), 1)
}

func TestDebouncerFlushAll(t *testing.T) {
	rec := &flushRecorder{}
	d := NewDebouncer(clock.NewMock(), time.Minute, mergePatch, rec.flush)

	d.Schedule("a", objectPatch{props: map[string]any{"x": 1}})
	d.Schedule("b", objectPatch{props: map[string]any{"x": 2}})

	require.Equal(t, 2, d.FlushAll())
	require.Len(t, rec.get("a"), 1)
	require.Len(t, rec.get("b"), 1)
	require.Zero(t, d.Pending())
}

// barrier waits until the hub has finished every handler queued before it.
func barrier(t *testing.T, hub *Hub) {
	t.Helper()
	_, err := hub.Stats(context.Background())
	require.NoError(t, err)
}

func TestHubUpdatesCoalesceIntoOneWrite(t *testing.T) {
	st := newMemStorage()
	st.grant("b1", "u1", rbac.RoleEditor)
	mock := clock.NewMock()
	hub := startHub(t, st, Config{Clock: mock})

	st.grant("b1", "u2", rbac.RoleViewer)
	alice := newTestClient(hub, "c1", "u1", "alice")
	bob := newTestClient(hub, "c2", "u2", "bob")
	joinBoard(t, alice, "b1")
	joinBoard(t, bob, "b1")

	alice.Commands <- &Command{Kind: CommandCreateObject, Board: "b1", Object: &ObjectState{ID: "o1", Type: "rect"}}
	for _, props := range []map[string]any{{"x": 1.0}, {"y": 2.0}, {"x": 3.0, "color": "red"}} {
		alice.Commands <- &Command{Kind: CommandUpdateObject, Board: "b1", ObjectID: "o1", Props: props}
	}
	for range 3 {
		mustEvent(t, bob.Events, EventObjectUpdated)
	}
	barrier(t, hub)
	require.Equal(t, 1, hub.writes.Pending())

	mock.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return len(st.patchesFor("o1")) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, map[string]any{"x": 3.0, "y": 2.0, "color": "red"}, st.patchesFor("o1")[0].props)

	// The color line is debounced on its own, longer window.
	require.Equal(t, 1, hub.activity.Pending())
	mock.Add(2 * time.Second)
	ev := mustEvent(t, alice.Events, EventActivity)
	for ev.Entry.Kind != "color" {
		ev = mustEvent(t, alice.Events, EventActivity)
	}
	require.Contains(t, ev.Entry.Content, "changed color")
}

func TestHubDeleteCancelsPendingWrite(t *testing.T) {
	st := newMemStorage()
	st.grant("b1", "u1", rbac.RoleEditor)
	mock := clock.NewMock()
	hub := startHub(t, st, Config{Clock: mock})

	st.grant("b1", "u2", rbac.RoleViewer)
	alice := newTestClient(hub, "c1", "u1", "alice")
	bob := newTestClient(hub, "c2", "u2", "bob")
	joinBoard(t, alice, "b1")
	joinBoard(t, bob, "b1")

	alice.Commands <- &Command{Kind: CommandCreateObject, Board: "b1", Object: &ObjectState{ID: "o1", Type: "rect"}}
	alice.Commands <- &Command{Kind: CommandUpdateObject, Board: "b1", ObjectID: "o1", Props: map[string]any{"x": 1.0}}
	alice.Commands <- &Command{Kind: CommandDeleteObject, Board: "b1", ObjectID: "o1"}
	mustEvent(t, bob.Events, EventObjectDeleted)
	barrier(t, hub)
	require.Zero(t, hub.writes.Pending())

	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, st.patchesFor("o1"))
	require.Eventually(t, func() bool {
		_, ok := st.object("o1")
		return !ok && len(st.entriesOfKind("delete")) == 1
	}, time.Second, 5*time.Millisecond)
}

// U1 (owner) and U2 (editor) share B1. U1 creates o1, U2 types three
// times inside the window, then gets demoted.
func TestHubOwnerEditorScenario(t *testing.T) {
	st := newMemStorage()
	st.grant("B1", "U1", rbac.RoleOwner)
	st.grant("B1", "U2", rbac.RoleEditor)
	mock := clock.NewMock()
	hub := startHub(t, st, Config{Clock: mock})

	u1 := newTestClient(hub, "conn-u1", "U1", "owner")
	u2 := newTestClient(hub, "conn-u2", "U2", "editor")
	joinBoard(t, u1, "B1")
	joinBoard(t, u2, "B1")

	u1.Commands <- &Command{
		Kind:   CommandCreateObject,
		Board:  "B1",
		Object: &ObjectState{ID: "o1", Type: "sticky", Props: map[string]any{"x": 10.0, "y": 10.0}},
	}
	created := mustEvent(t, u2.Events, EventObjectCreated)
	require.Equal(t, "o1", created.Object.ID)
	require.Equal(t, 10.0, created.Object.Props["x"])

	for _, text := range []string{"a", "ab", "abc"} {
		u2.Commands <- &Command{Kind: CommandUpdateObject, Board: "B1", ObjectID: "o1", Props: map[string]any{"text": text}}
	}
	for _, want := range []string{"a", "ab", "abc"} {
		ev := mustEvent(t, u1.Events, EventObjectUpdated)
		require.Equal(t, want, ev.Props["text"])
	}
	barrier(t, hub)

	mock.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return len(st.patchesFor("o1")) == 1 }, time.Second, 5*time.Millisecond)
	obj, ok := st.object("o1")
	require.True(t, ok)
	require.Equal(t, "abc", obj.Props["text"])
	require.Equal(t, 10.0, obj.Props["x"])

	require.NoError(t, hub.NotifyRoleChanged(context.Background(), "U2", "B1", rbac.RoleViewer))
	mustEvent(t, u2.Events, EventRoleChanged)

	u2.Commands <- &Command{Kind: CommandUpdateObject, Board: "B1", ObjectID: "o1", Props: map[string]any{"text": "abcd"}}
	ev := mustEvent(t, u2.Events, EventError)
	require.Equal(t, ErrCodeForbidden, ev.Error.Code)
	noEvent(t, u1.Events, EventObjectUpdated, 50*time.Millisecond)

	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, st.patchesFor("o1"), 1)
}
