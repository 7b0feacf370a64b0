package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/collabboard/collabboard-server/internal/store"
)

// ==== ObjectStore implementation ====

// ListObjects returns the board's objects ordered by z_index, then creation time.
func (s *Store) ListObjects(ctx context.Context, boardID string) ([]*store.Object, error) {
	query := `
		SELECT id, board_id, type, props, z_index, created_by, created_at, updated_at
		FROM objects
		WHERE board_id = ?
		ORDER BY z_index ASC, created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, s.bind(query), boardID)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	objects := make([]*store.Object, 0)
	for rows.Next() {
		var obj store.Object
		var props string
		if err := rows.Scan(&obj.ID, &obj.BoardID, &obj.Type, &props, &obj.ZIndex, &obj.CreatedBy, &obj.CreatedAt, &obj.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		if obj.Props, err = decodeProps(props); err != nil {
			return nil, fmt.Errorf("decode props of %s: %w", obj.ID, err)
		}
		objects = append(objects, &obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return objects, nil
}

// UpsertObject inserts the object or overwrites an existing row of the same board.
// A row with the same id on another board is left untouched.
func (s *Store) UpsertObject(ctx context.Context, obj *store.Object) error {
	props, err := encodeProps(obj.Props)
	if err != nil {
		return fmt.Errorf("encode props: %w", err)
	}
	now := s.now()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = now
	}
	obj.UpdatedAt = now

	query := `
		INSERT INTO objects (id, board_id, type, props, z_index, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			props = excluded.props,
			z_index = excluded.z_index,
			updated_at = excluded.updated_at
		WHERE objects.board_id = excluded.board_id
	`
	_, err = s.db.ExecContext(ctx, s.bind(query),
		obj.ID, obj.BoardID, obj.Type, props, obj.ZIndex, obj.CreatedBy, obj.CreatedAt, obj.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert object: %w", err)
	}
	return nil
}

// PatchObjectProps shallow-merges props into the stored bag. A z_index key
// moves the stacking column instead of being stored in the bag.
func (s *Store) PatchObjectProps(ctx context.Context, objectID, boardID string, props map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var raw string
	var zIndex int64
	query := `SELECT props, z_index FROM objects WHERE id = ? AND board_id = ?` + s.rowLock()
	err = tx.QueryRowContext(ctx, s.bind(query), objectID, boardID).Scan(&raw, &zIndex)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("object %s: %w", objectID, store.ErrNotFound)
			return err
		}
		err = fmt.Errorf("query object: %w", err)
		return err
	}

	current, err := decodeProps(raw)
	if err != nil {
		err = fmt.Errorf("decode props: %w", err)
		return err
	}
	for k, v := range props {
		if k == store.ZIndexKey {
			if z, ok := toInt64(v); ok {
				zIndex = z
			}
			continue
		}
		current[k] = v
	}
	merged, err := encodeProps(current)
	if err != nil {
		err = fmt.Errorf("encode props: %w", err)
		return err
	}

	update := `UPDATE objects SET props = ?, z_index = ?, updated_at = ? WHERE id = ? AND board_id = ?`
	if _, err = tx.ExecContext(ctx, s.bind(update), merged, zIndex, s.now(), objectID, boardID); err != nil {
		err = fmt.Errorf("update object: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteObject removes the object and its comments in one transaction.
func (s *Store) DeleteObject(ctx context.Context, objectID, boardID string) (objType string, found bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `DELETE FROM objects WHERE id = ? AND board_id = ? RETURNING type`
	err = tx.QueryRowContext(ctx, s.bind(query), objectID, boardID).Scan(&objType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing to delete is not a failure.
			err = tx.Rollback()
			if err != nil {
				return "", false, fmt.Errorf("rollback: %w", err)
			}
			return "", false, nil
		}
		err = fmt.Errorf("delete object: %w", err)
		return "", false, err
	}

	cleanup := `DELETE FROM comments WHERE object_id = ? AND board_id = ?`
	if _, err = tx.ExecContext(ctx, s.bind(cleanup), objectID, boardID); err != nil {
		err = fmt.Errorf("delete comments: %w", err)
		return "", false, err
	}

	if err = tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit transaction: %w", err)
	}
	return objType, true, nil
}

func (s *Store) rowLock() string {
	if s.dialect.RowLock == "" {
		return ""
	}
	return " " + s.dialect.RowLock
}

func encodeProps(props map[string]any) (string, error) {
	if props == nil {
		return "{}", nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeProps(raw string) (map[string]any, error) {
	props := make(map[string]any)
	if raw == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, err
	}
	return props, nil
}

// toInt64 accepts the numeric shapes a decoded JSON patch can carry.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}
