// Package sqlstore implements store.Store on database/sql. The sqlite and
// postgres packages open the database, apply their schema and hand the handle
// over together with a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/store"
)

// Dialect captures the few places where the SQL backends differ.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	NumberedParams bool
	// RowLock is appended to SELECTs that precede an UPDATE in the same tx.
	RowLock string
	// IsUniqueViolation recognizes the driver's unique constraint error.
	IsUniqueViolation func(error) bool
}

// Store implements store.Store for any database/sql backend.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an opened database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the handle for schema setup in tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// bind rewrites '?' placeholders for backends with numbered parameters.
func (s *Store) bind(query string) string {
	if !s.dialect.NumberedParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) uniqueViolation(err error) bool {
	return s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	query := `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, s.bind(query), user.ID, user.Username, user.PasswordHash, user.CreatedAt); err != nil {
		if s.uniqueViolation(err) {
			return nil, fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*store.User, error) {
	var user store.User
	err := s.db.QueryRowContext(ctx, s.bind(query), arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== BoardStore implementation ====

// CreateBoard inserts a board, assigning an ID when the caller left it empty.
func (s *Store) CreateBoard(ctx context.Context, board *store.Board) error {
	if board.ID == "" {
		board.ID = uuid.NewString()
	}
	board.CreatedAt = s.now()
	query := `
		INSERT INTO boards (id, name, owner_id, project_id, workspace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.bind(query),
		board.ID, board.Name, board.OwnerID, nullString(board.ProjectID), nullString(board.WorkspaceID), board.CreatedAt)
	if err != nil {
		if s.uniqueViolation(err) {
			return fmt.Errorf("insert board: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

// GetBoard retrieves a board by ID.
func (s *Store) GetBoard(ctx context.Context, id string) (*store.Board, error) {
	query := `
		SELECT id, name, owner_id, project_id, workspace_id, created_at
		FROM boards
		WHERE id = ?
	`
	board, err := scanBoard(s.db.QueryRowContext(ctx, s.bind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("board: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query board: %w", err)
	}
	return board, nil
}

// ListBoards lists boards the user owns or is an explicit member of.
func (s *Store) ListBoards(ctx context.Context, userID string) ([]*store.Board, error) {
	query := `
		SELECT b.id, b.name, b.owner_id, b.project_id, b.workspace_id, b.created_at
		FROM boards b
		LEFT JOIN board_members m ON m.board_id = b.id AND m.user_id = ?
		WHERE b.owner_id = ? OR m.user_id IS NOT NULL
		ORDER BY b.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, s.bind(query), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query boards: %w", err)
	}
	defer rows.Close()

	var boards []*store.Board
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, board)
	}
	return boards, rows.Err()
}

// SetBoardMember grants or changes an explicit board role.
func (s *Store) SetBoardMember(ctx context.Context, boardID, userID string, role rbac.Role) error {
	return s.setMember(ctx, "board_members", "board_id", boardID, userID, role)
}

// RemoveBoardMember drops an explicit board role.
func (s *Store) RemoveBoardMember(ctx context.Context, boardID, userID string) error {
	query := `DELETE FROM board_members WHERE board_id = ? AND user_id = ?`
	result, err := s.db.ExecContext(ctx, s.bind(query), boardID, userID)
	if err != nil {
		return fmt.Errorf("delete board member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("board member: %w", store.ErrNotFound)
	}
	return nil
}

// SetProjectMember grants a role on every board of the project.
func (s *Store) SetProjectMember(ctx context.Context, projectID, userID string, role rbac.Role) error {
	return s.setMember(ctx, "project_members", "project_id", projectID, userID, role)
}

// SetWorkspaceMember grants a role on every board of the workspace.
func (s *Store) SetWorkspaceMember(ctx context.Context, workspaceID, userID string, role rbac.Role) error {
	return s.setMember(ctx, "workspace_members", "workspace_id", workspaceID, userID, role)
}

func (s *Store) setMember(ctx context.Context, table, scopeColumn, scopeID, userID string, role rbac.Role) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, user_id, role)
		VALUES (?, ?, ?)
		ON CONFLICT (%[2]s, user_id) DO UPDATE SET role = excluded.role
	`, table, scopeColumn)
	if _, err := s.db.ExecContext(ctx, s.bind(query), scopeID, userID, string(role)); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// ==== PermissionStore implementation ====

// BoardRole resolves the effective role with ownership first, then board,
// project and workspace memberships in that order.
func (s *Store) BoardRole(ctx context.Context, boardID, userID string) (rbac.Role, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rbac.RoleNone, nil
		}
		return rbac.RoleNone, err
	}
	if board.OwnerID == userID {
		return rbac.RoleOwner, nil
	}

	role, found, err := s.memberRole(ctx, "board_members", "board_id", board.ID, userID)
	if err != nil || found {
		return role, err
	}
	if board.ProjectID != nil {
		role, found, err = s.memberRole(ctx, "project_members", "project_id", *board.ProjectID, userID)
		if err != nil || found {
			return role, err
		}
	}
	if board.WorkspaceID != nil {
		role, found, err = s.memberRole(ctx, "workspace_members", "workspace_id", *board.WorkspaceID, userID)
		if err != nil || found {
			return role, err
		}
	}
	return rbac.RoleNone, nil
}

func (s *Store) memberRole(ctx context.Context, table, scopeColumn, scopeID, userID string) (rbac.Role, bool, error) {
	query := fmt.Sprintf(`SELECT role FROM %s WHERE %s = ? AND user_id = ?`, table, scopeColumn)
	var role string
	err := s.db.QueryRowContext(ctx, s.bind(query), scopeID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.RoleNone, false, nil
	}
	if err != nil {
		return rbac.RoleNone, false, fmt.Errorf("query %s: %w", table, err)
	}
	return rbac.Normalize(role), true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(row rowScanner) (*store.Board, error) {
	var board store.Board
	var projectID, workspaceID sql.NullString
	if err := row.Scan(&board.ID, &board.Name, &board.OwnerID, &projectID, &workspaceID, &board.CreatedAt); err != nil {
		return nil, err
	}
	if projectID.Valid {
		board.ProjectID = &projectID.String
	}
	if workspaceID.Valid {
		board.WorkspaceID = &workspaceID.String
	}
	return &board, nil
}

func nullString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
