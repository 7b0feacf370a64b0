package store

import (
	"context"
	"errors"
	"time"

	"github.com/collabboard/collabboard-server/internal/rbac"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("conflict")
)

// User represents an account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Board is the shared canvas. ProjectID and WorkspaceID are optional parents
// whose memberships grant access when no explicit board membership exists.
type Board struct {
	ID          string
	Name        string
	OwnerID     string
	ProjectID   *string
	WorkspaceID *string
	CreatedAt   time.Time
}

// Object is one item on a board. Everything except identity, type and stacking
// order lives in the Props bag.
type Object struct {
	ID        string
	BoardID   string
	Type      string
	Props     map[string]any
	ZIndex    int64
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ZIndexKey is the props key that also moves the stacking column on patch.
const ZIndexKey = "z_index"

// LogKind classifies board log rows.
type LogKind string

const (
	LogKindCreate LogKind = "create"
	LogKindDelete LogKind = "delete"
	LogKindEdit   LogKind = "edit"
	LogKindColor  LogKind = "color"
	LogKindChat   LogKind = "chat"
)

// LogEntry is an append-only board log row: activity lines and chat messages.
type LogEntry struct {
	ID        int64
	BoardID   string
	UserID    string
	UserName  string
	Content   string
	Kind      LogKind
	CreatedAt time.Time
}

// Comment is attached to one object on a board.
type Comment struct {
	ID        int64
	BoardID   string
	ObjectID  string
	UserID    string
	UserName  string
	Content   string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// BoardStore handles boards and the membership tables behind permissions.
type BoardStore interface {
	CreateBoard(ctx context.Context, board *Board) error
	GetBoard(ctx context.Context, id string) (*Board, error)

	// ListBoards lists boards the user owns or holds an explicit membership on.
	ListBoards(ctx context.Context, userID string) ([]*Board, error)

	SetBoardMember(ctx context.Context, boardID, userID string, role rbac.Role) error
	RemoveBoardMember(ctx context.Context, boardID, userID string) error
	SetProjectMember(ctx context.Context, projectID, userID string, role rbac.Role) error
	SetWorkspaceMember(ctx context.Context, workspaceID, userID string, role rbac.Role) error
}

// PermissionStore resolves a user's effective role on a board.
type PermissionStore interface {
	// BoardRole applies board membership > project membership > workspace
	// membership, with ownership always winning. Unknown boards yield RoleNone.
	BoardRole(ctx context.Context, boardID, userID string) (rbac.Role, error)
}

// ObjectStore handles board object persistence.
type ObjectStore interface {
	// ListObjects returns the board's objects ordered by stacking index.
	ListObjects(ctx context.Context, boardID string) ([]*Object, error)

	// UpsertObject inserts the object or overwrites type, props and z-index of an existing one.
	UpsertObject(ctx context.Context, obj *Object) error

	// PatchObjectProps overwrites the given top-level keys of the props bag.
	PatchObjectProps(ctx context.Context, objectID, boardID string, props map[string]any) error

	// DeleteObject removes the object and reports its type. found is false when nothing was deleted.
	DeleteObject(ctx context.Context, objectID, boardID string) (objType string, found bool, err error)
}

// LogStore handles the append-only board log.
type LogStore interface {
	// AppendEntry persists the entry and fills ID and CreatedAt.
	AppendEntry(ctx context.Context, entry *LogEntry) error

	// ListEntries returns the newest entries first.
	ListEntries(ctx context.Context, boardID string, limit int) ([]*LogEntry, error)
}

// CommentStore handles object comments.
type CommentStore interface {
	// CreateComment persists the comment and fills ID and CreatedAt.
	CreateComment(ctx context.Context, comment *Comment) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	BoardStore
	PermissionStore
	ObjectStore
	LogStore
	CommentStore

	// Close closes the underlying database connection.
	Close() error
}
