package sqlstore

import (
	"context"
	"fmt"

	"github.com/collabboard/collabboard-server/internal/store"
)

const defaultLogLimit = 50

// ==== LogStore implementation ====

// AppendEntry persists the entry and fills ID and CreatedAt.
func (s *Store) AppendEntry(ctx context.Context, entry *store.LogEntry) error {
	entry.CreatedAt = s.now()
	query := `
		INSERT INTO board_log (board_id, user_id, user_name, content, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, s.bind(query),
		entry.BoardID, entry.UserID, entry.UserName, entry.Content, string(entry.Kind), entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// ListEntries returns up to limit entries, newest first.
func (s *Store) ListEntries(ctx context.Context, boardID string, limit int) ([]*store.LogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	query := `
		SELECT id, board_id, user_id, user_name, content, kind, created_at
		FROM board_log
		WHERE board_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, s.bind(query), boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	entries := make([]*store.LogEntry, 0, limit)
	for rows.Next() {
		var entry store.LogEntry
		var kind string
		if err := rows.Scan(&entry.ID, &entry.BoardID, &entry.UserID, &entry.UserName, &entry.Content, &kind, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Kind = store.LogKind(kind)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return entries, nil
}

// ==== CommentStore implementation ====

// CreateComment persists the comment and fills ID and CreatedAt.
func (s *Store) CreateComment(ctx context.Context, comment *store.Comment) error {
	comment.CreatedAt = s.now()
	query := `
		INSERT INTO comments (board_id, object_id, user_id, user_name, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, s.bind(query),
		comment.BoardID, comment.ObjectID, comment.UserID, comment.UserName, comment.Content, comment.CreatedAt,
	).Scan(&comment.ID)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}
