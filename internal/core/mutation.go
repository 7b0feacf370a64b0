package core

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/store"
)

// objectPatch is the pending props write of one object.
type objectPatch struct {
	board string
	props map[string]any
}

// mergePatch overwrites keys shallowly; the latest value per key wins.
func mergePatch(prev, next objectPatch) objectPatch {
	merged := make(map[string]any, len(prev.props)+len(next.props))
	maps.Copy(merged, prev.props)
	maps.Copy(merged, next.props)
	return objectPatch{board: next.board, props: merged}
}

// authorize consults the role cache only. A missing entry means the
// connection never joined the board.
func (h *Hub) authorize(c *Client, board string, action rbac.Action) (*Room, bool) {
	role, ok := h.roles.resolve(c.ID, board)
	room := h.rooms[board]
	if !ok || room == nil || !rbac.Can(role, action) {
		h.log.Debug().
			Str("conn_id", c.ID).
			Str("board_id", board).
			Str("role", role.String()).
			Str("action", string(action)).
			Msg("action denied")
		c.send(errorEvent(board, ErrCodeForbidden, fmt.Sprintf("%s not permitted", action)))
		return nil, false
	}
	return room, true
}

func (h *Hub) createObject(c *Client, cmd *Command) {
	obj := cmd.Object
	if obj == nil || obj.ID == "" || obj.Type == "" {
		c.send(errorEvent(cmd.Board, ErrCodeBadRequest, "object id and type are required"))
		return
	}
	room, ok := h.authorize(c, cmd.Board, rbac.ActionWrite)
	if !ok {
		return
	}

	now := h.clock.Now().UTC()
	record := &store.Object{
		ID:        obj.ID,
		BoardID:   cmd.Board,
		Type:      obj.Type,
		Props:     cloneProps(obj.Props),
		ZIndex:    obj.ZIndex,
		CreatedBy: c.Identity.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	actor := c.Identity
	room.BroadcastExcept(&Event{Kind: EventObjectCreated, Board: cmd.Board, Actor: &actor, Object: record}, c)

	// The store fills timestamps on its own copy.
	stored := *record
	board := cmd.Board
	h.persist(obj.ID, "upsert object", board, func(ctx context.Context) error {
		if err := h.store.UpsertObject(ctx, &stored); err != nil {
			return err
		}
		return h.recordActivity(ctx, board, actor, fmt.Sprintf("%s added a %s", actor.Name, stored.Type), store.LogKindCreate)
	})
}

func (h *Hub) updateObject(c *Client, cmd *Command) {
	if cmd.ObjectID == "" || len(cmd.Props) == 0 {
		c.send(errorEvent(cmd.Board, ErrCodeBadRequest, "object id and props are required"))
		return
	}
	room, ok := h.authorize(c, cmd.Board, rbac.ActionWrite)
	if !ok {
		return
	}

	props := cloneProps(cmd.Props)
	actor := c.Identity
	room.BroadcastExcept(&Event{
		Kind:     EventObjectUpdated,
		Board:    cmd.Board,
		Actor:    &actor,
		ObjectID: cmd.ObjectID,
		Props:    props,
	}, c)

	h.writes.Schedule(cmd.ObjectID, objectPatch{board: cmd.Board, props: props})
	h.noteEdit(cmd.Board, actor, cmd.ObjectID, props)
}

func (h *Hub) deleteObject(c *Client, cmd *Command) {
	if cmd.ObjectID == "" {
		c.send(errorEvent(cmd.Board, ErrCodeBadRequest, "object id is required"))
		return
	}
	room, ok := h.authorize(c, cmd.Board, rbac.ActionWrite)
	if !ok {
		return
	}

	objectID := cmd.ObjectID
	board := cmd.Board
	actor := c.Identity
	room.BroadcastExcept(&Event{Kind: EventObjectDeleted, Board: board, Actor: &actor, ObjectID: objectID}, c)

	h.writes.Cancel(objectID)
	// Edit lines land before the delete line on the object's lane.
	h.activity.Flush(activityKey(objectID, store.LogKindEdit))
	h.activity.Flush(activityKey(objectID, store.LogKindColor))

	h.persist(objectID, "delete object", board, func(ctx context.Context) error {
		objType, found, err := h.store.DeleteObject(ctx, objectID, board)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		return h.recordActivity(ctx, board, actor, fmt.Sprintf("%s deleted a %s", actor.Name, objType), store.LogKindDelete)
	})
}

// flushPatch runs under the write debouncer lock.
func (h *Hub) flushPatch(objectID string, patch objectPatch) {
	h.persist(objectID, "patch object", patch.board, func(ctx context.Context) error {
		err := h.store.PatchObjectProps(ctx, objectID, patch.board, patch.props)
		if errors.Is(err, store.ErrNotFound) {
			h.log.Debug().Str("object_id", objectID).Str("board_id", patch.board).Msg("patch for missing object dropped")
			return nil
		}
		return err
	})
}

// persist queues fn on the lane of key without waiting, so neither the hub
// nor a debounce flush ever blocks on storage. Failures are logged and never
// reach clients.
func (h *Hub) persist(key, op, board string, fn func(ctx context.Context) error) {
	err := h.queue.Submit(key, func(base context.Context) {
		ctx, cancel := context.WithTimeout(base, h.cfg.StorageTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.log.Error().Err(err).Str("op", op).Str("board_id", board).Str("key", key).Msg("persistence failed")
		}
	})
	if err != nil {
		h.log.Error().Err(err).Str("op", op).Str("board_id", board).Str("key", key).Msg("persistence dropped")
	}
}

func cloneProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	maps.Copy(out, props)
	return out
}
