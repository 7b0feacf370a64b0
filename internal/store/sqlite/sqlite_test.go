package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/store"
	"github.com/collabboard/collabboard-server/internal/store/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := NewWithSetup(":memory:", Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestCreateUserConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected generated user id")
	}

	if _, err := s.CreateUser(ctx, "alice", "hash"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected id %s, got %s", user.ID, got.ID)
	}

	if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBoardRolePrecedence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	board := &store.Board{
		Name:        "roadmap",
		OwnerID:     "owner",
		ProjectID:   strPtr("proj"),
		WorkspaceID: strPtr("ws"),
	}
	if err := s.CreateBoard(ctx, board); err != nil {
		t.Fatalf("CreateBoard: %v", err)
	}

	mustRole := func(user string, want rbac.Role) {
		t.Helper()
		got, err := s.BoardRole(ctx, board.ID, user)
		if err != nil {
			t.Fatalf("BoardRole(%s): %v", user, err)
		}
		if got != want {
			t.Fatalf("BoardRole(%s) = %s, want %s", user, got, want)
		}
	}

	mustRole("owner", rbac.RoleOwner)
	mustRole("stranger", rbac.RoleNone)

	if err := s.SetWorkspaceMember(ctx, "ws", "u1", rbac.RoleEditor); err != nil {
		t.Fatalf("SetWorkspaceMember: %v", err)
	}
	mustRole("u1", rbac.RoleEditor)

	if err := s.SetProjectMember(ctx, "proj", "u1", rbac.RoleViewer); err != nil {
		t.Fatalf("SetProjectMember: %v", err)
	}
	mustRole("u1", rbac.RoleViewer)

	if err := s.SetBoardMember(ctx, board.ID, "u1", rbac.RoleEditor); err != nil {
		t.Fatalf("SetBoardMember: %v", err)
	}
	mustRole("u1", rbac.RoleEditor)

	// Ownership wins over an explicit downgrade.
	if err := s.SetBoardMember(ctx, board.ID, "owner", rbac.RoleViewer); err != nil {
		t.Fatalf("SetBoardMember: %v", err)
	}
	mustRole("owner", rbac.RoleOwner)

	if err := s.RemoveBoardMember(ctx, board.ID, "u1"); err != nil {
		t.Fatalf("RemoveBoardMember: %v", err)
	}
	mustRole("u1", rbac.RoleViewer)

	if err := s.RemoveBoardMember(ctx, board.ID, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	role, err := s.BoardRole(ctx, "no-such-board", "owner")
	if err != nil || role != rbac.RoleNone {
		t.Fatalf("unknown board: role=%s err=%v", role, err)
	}
}

func TestListBoards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	own := &store.Board{Name: "mine", OwnerID: "u1"}
	shared := &store.Board{Name: "shared", OwnerID: "u2"}
	hidden := &store.Board{Name: "hidden", OwnerID: "u2"}
	for _, b := range []*store.Board{own, shared, hidden} {
		if err := s.CreateBoard(ctx, b); err != nil {
			t.Fatalf("CreateBoard: %v", err)
		}
	}
	if err := s.SetBoardMember(ctx, shared.ID, "u1", rbac.RoleViewer); err != nil {
		t.Fatalf("SetBoardMember: %v", err)
	}

	boards, err := s.ListBoards(ctx, "u1")
	if err != nil {
		t.Fatalf("ListBoards: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("expected 2 boards, got %d", len(boards))
	}
	for _, b := range boards {
		if b.ID == hidden.ID {
			t.Fatal("hidden board must not be listed")
		}
	}
}

func TestObjectLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	objects, err := s.ListObjects(ctx, "b1")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected empty board, got %d objects", len(objects))
	}

	top := &store.Object{ID: "o-top", BoardID: "b1", Type: "rect", ZIndex: 5, Props: map[string]any{"x": 1.0}}
	bottom := &store.Object{ID: "o-bottom", BoardID: "b1", Type: "sticky", ZIndex: 1, Props: map[string]any{"text": "hi", "color": "yellow"}}
	for _, o := range []*store.Object{top, bottom} {
		if err := s.UpsertObject(ctx, o); err != nil {
			t.Fatalf("UpsertObject: %v", err)
		}
	}

	objects, err = s.ListObjects(ctx, "b1")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 2 || objects[0].ID != "o-bottom" || objects[1].ID != "o-top" {
		t.Fatalf("unexpected order: %+v", objects)
	}

	// Shallow merge keeps untouched keys and moves z_index to the column.
	err = s.PatchObjectProps(ctx, "o-bottom", "b1", map[string]any{"text": "hello", "z_index": 10.0})
	if err != nil {
		t.Fatalf("PatchObjectProps: %v", err)
	}
	objects, _ = s.ListObjects(ctx, "b1")
	last := objects[len(objects)-1]
	if last.ID != "o-bottom" || last.ZIndex != 10 {
		t.Fatalf("expected o-bottom on top with z 10, got %s z %d", last.ID, last.ZIndex)
	}
	if last.Props["text"] != "hello" || last.Props["color"] != "yellow" {
		t.Fatalf("unexpected props: %v", last.Props)
	}
	if _, ok := last.Props["z_index"]; ok {
		t.Fatal("z_index must not be stored in props")
	}

	if err := s.PatchObjectProps(ctx, "missing", "b1", map[string]any{"x": 1}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Upsert of an existing id replaces the row.
	top.Props = map[string]any{"x": 2.0}
	if err := s.UpsertObject(ctx, top); err != nil {
		t.Fatalf("UpsertObject: %v", err)
	}

	comment := &store.Comment{BoardID: "b1", ObjectID: "o-top", UserID: "u1", UserName: "alice", Content: "nice"}
	if err := s.CreateComment(ctx, comment); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if comment.ID == 0 || comment.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at, got %+v", comment)
	}

	objType, found, err := s.DeleteObject(ctx, "o-top", "b1")
	if err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if !found || objType != "rect" {
		t.Fatalf("expected rect deleted, got %q found=%v", objType, found)
	}

	_, found, err = s.DeleteObject(ctx, "o-top", "b1")
	if err != nil {
		t.Fatalf("DeleteObject again: %v", err)
	}
	if found {
		t.Fatal("second delete must report nothing deleted")
	}

	objects, _ = s.ListObjects(ctx, "b1")
	if len(objects) != 1 || objects[0].ID != "o-bottom" {
		t.Fatalf("unexpected objects after delete: %+v", objects)
	}
}

func TestUpsertDoesNotCrossBoards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertObject(ctx, &store.Object{ID: "o1", BoardID: "b1", Type: "rect"}); err != nil {
		t.Fatalf("UpsertObject: %v", err)
	}
	if err := s.UpsertObject(ctx, &store.Object{ID: "o1", BoardID: "b2", Type: "circle"}); err != nil {
		t.Fatalf("UpsertObject: %v", err)
	}

	objects, _ := s.ListObjects(ctx, "b1")
	if len(objects) != 1 || objects[0].Type != "rect" {
		t.Fatalf("board b1 object changed: %+v", objects)
	}
	objects, _ = s.ListObjects(ctx, "b2")
	if len(objects) != 0 {
		t.Fatalf("board b2 must stay empty, got %d", len(objects))
	}
}

func TestLogEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		entry := &store.LogEntry{BoardID: "b1", UserID: "u1", UserName: "alice", Content: content, Kind: store.LogKindChat}
		if err := s.AppendEntry(ctx, entry); err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
		if entry.ID == 0 {
			t.Fatal("expected assigned id")
		}
	}

	entries, err := s.ListEntries(ctx, "b1", 2)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 || entries[0].Content != "third" || entries[1].Content != "second" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Kind != store.LogKindChat {
		t.Fatalf("expected chat kind, got %s", entries[0].Kind)
	}
}
