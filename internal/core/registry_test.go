package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/collabboard/collabboard-server/internal/rbac"
)

func TestSessionsDropIdentityWithLastConnection(t *testing.T) {
	s := newSessions()
	a := NewClient("c1", Identity{ID: "u1"})
	b := NewClient("c2", Identity{ID: "u1"})

	s.register("u1", a)
	s.register("u1", b)
	require.Len(t, s.activeConnections("u1"), 2)

	s.unregister("u1", "c1")
	require.Len(t, s.activeConnections("u1"), 1)
	require.Equal(t, 1, s.identities())

	s.unregister("u1", "c2")
	require.Empty(t, s.activeConnections("u1"))
	require.Zero(t, s.identities())

	s.unregister("ghost", "c9")
}

func TestRoleCache(t *testing.T) {
	r := newRoleCache()

	_, ok := r.resolve("c1", "b1")
	require.False(t, ok)
	require.False(t, r.overwrite("c1", "b1", rbac.RoleEditor))

	r.set("c1", "b1", rbac.RoleViewer)
	r.set("c1", "b2", rbac.RoleEditor)
	require.True(t, r.overwrite("c1", "b1", rbac.RoleEditor))

	role, ok := r.resolve("c1", "b1")
	require.True(t, ok)
	require.Equal(t, rbac.RoleEditor, role)

	r.forget("c1", "b1")
	_, ok = r.resolve("c1", "b1")
	require.False(t, ok)

	r.drop("c1")
	_, ok = r.resolve("c1", "b2")
	require.False(t, ok)
}

func TestPresenceLastJoinWinsAndHandOver(t *testing.T) {
	p := newPresence()

	p.join("b1", "u1", "alice", "#fff", "c1")
	p.join("b1", "u1", "alice", "#fff", "c2")
	p.join("b1", "u2", "bob", "#000", "c3")
	require.Len(t, p.snapshot("b1"), 2)

	owner, ok := p.owner("b1", "u1")
	require.True(t, ok)
	require.Equal(t, "c2", owner)

	// c1 does not own the entry, so leaving changes nothing.
	require.False(t, p.leave("b1", "u1", "c1", "c2"))
	owner, _ = p.owner("b1", "u1")
	require.Equal(t, "c2", owner)

	// c2 leaves while c1 is still in the room: hand over.
	require.False(t, p.leave("b1", "u1", "c2", "c1"))
	owner, _ = p.owner("b1", "u1")
	require.Equal(t, "c1", owner)

	require.True(t, p.leave("b1", "u1", "c1", ""))
	require.Equal(t, []PresenceUser{{UserID: "u2", Name: "bob", Color: "#000"}}, p.snapshot("b1"))

	require.True(t, p.leave("b1", "u2", "c3", ""))
	require.Empty(t, p.snapshot("b1"))
}

func TestPresenceSnapshotOrder(t *testing.T) {
	p := newPresence()
	p.join("b1", "u3", "carol", "", "c3")
	p.join("b1", "u2", "alice", "", "c2")
	p.join("b1", "u1", "alice", "", "c1")

	got := p.snapshot("b1")
	require.Equal(t, []string{"u1", "u2", "u3"}, []string{got[0].UserID, got[1].UserID, got[2].UserID})
}
