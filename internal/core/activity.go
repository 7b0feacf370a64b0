package core

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/store"
)

const (
	// MaxChatLength bounds a chat message in characters.
	MaxChatLength = 2000
	// MaxCommentLength bounds a comment in characters.
	MaxCommentLength = 5000
)

// activityLine is a debounced edit/color log entry; the last rendering wins.
type activityLine struct {
	board    string
	objectID string
	actor    Identity
	content  string
	kind     store.LogKind
}

func lastLine(_, next activityLine) activityLine {
	return next
}

func activityKey(objectID string, kind store.LogKind) string {
	return objectID + "|" + string(kind)
}

// noteEdit schedules the activity lines an update produces.
func (h *Hub) noteEdit(board string, actor Identity, objectID string, props map[string]any) {
	if _, ok := props["text"]; ok {
		h.activity.Schedule(activityKey(objectID, store.LogKindEdit), activityLine{
			board:    board,
			objectID: objectID,
			actor:    actor,
			content:  fmt.Sprintf("%s edited text", actor.Name),
			kind:     store.LogKindEdit,
		})
	}
	_, color := props["color"]
	_, fill := props["fill"]
	if color || fill {
		h.activity.Schedule(activityKey(objectID, store.LogKindColor), activityLine{
			board:    board,
			objectID: objectID,
			actor:    actor,
			content:  fmt.Sprintf("%s changed color", actor.Name),
			kind:     store.LogKindColor,
		})
	}
}

// flushActivity runs under the activity debouncer lock.
func (h *Hub) flushActivity(_ string, line activityLine) {
	h.persist(line.objectID, "append activity", line.board, func(ctx context.Context) error {
		return h.recordActivity(ctx, line.board, line.actor, line.content, line.kind)
	})
}

// recordActivity appends one log row and, once it is durable, broadcasts it
// to the whole room including the actor. It runs on a queue lane.
func (h *Hub) recordActivity(ctx context.Context, board string, actor Identity, content string, kind store.LogKind) error {
	entry := &store.LogEntry{
		BoardID:  board,
		UserID:   actor.ID,
		UserName: actor.Name,
		Content:  content,
		Kind:     kind,
	}
	if err := h.store.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	h.post(func() {
		h.broadcastToBoard(board, &Event{Kind: EventActivity, Board: board, Actor: &actor, Entry: entry})
	})
	return nil
}

func (h *Hub) sendChat(c *Client, cmd *Command) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" || utf8.RuneCountInString(text) > MaxChatLength {
		c.send(errorEvent(cmd.Board, ErrCodeBadRequest, fmt.Sprintf("chat text must be 1-%d characters", MaxChatLength)))
		return
	}
	if _, ok := h.authorize(c, cmd.Board, rbac.ActionChat); !ok {
		return
	}

	board := cmd.Board
	actor := c.Identity
	h.persist("chat:"+board, "append chat", board, func(ctx context.Context) error {
		entry := &store.LogEntry{
			BoardID:  board,
			UserID:   actor.ID,
			UserName: actor.Name,
			Content:  text,
			Kind:     store.LogKindChat,
		}
		if err := h.store.AppendEntry(ctx, entry); err != nil {
			return fmt.Errorf("append chat: %w", err)
		}
		h.post(func() {
			h.broadcastToBoard(board, &Event{Kind: EventChatMessage, Board: board, Actor: &actor, Entry: entry})
		})
		return nil
	})
}

func (h *Hub) addComment(c *Client, cmd *Command) {
	text := strings.TrimSpace(cmd.Text)
	if cmd.ObjectID == "" {
		c.send(errorEvent(cmd.Board, ErrCodeBadRequest, "object id is required"))
		return
	}
	if text == "" || utf8.RuneCountInString(text) > MaxCommentLength {
		c.send(errorEvent(cmd.Board, ErrCodeBadRequest, fmt.Sprintf("comment text must be 1-%d characters", MaxCommentLength)))
		return
	}
	if _, ok := h.authorize(c, cmd.Board, rbac.ActionComment); !ok {
		return
	}

	board := cmd.Board
	objectID := cmd.ObjectID
	actor := c.Identity
	h.persist(objectID, "create comment", board, func(ctx context.Context) error {
		comment := &store.Comment{
			BoardID:  board,
			ObjectID: objectID,
			UserID:   actor.ID,
			UserName: actor.Name,
			Content:  text,
		}
		if err := h.store.CreateComment(ctx, comment); err != nil {
			return fmt.Errorf("create comment: %w", err)
		}
		h.post(func() {
			h.broadcastToBoard(board, &Event{Kind: EventCommentCreated, Board: board, Actor: &actor, Comment: comment})
		})
		return nil
	})
}
