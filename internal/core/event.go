package core

import (
	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventBoardSnapshot delivers the full object list to a joining client.
	EventBoardSnapshot EventKind = iota
	// EventPresence carries the full roster of a board.
	EventPresence
	// EventCursor relays another user's pointer.
	EventCursor
	// EventObjectCreated notifies peers about a new or overwritten object.
	EventObjectCreated
	// EventObjectUpdated notifies peers about a props patch.
	EventObjectUpdated
	// EventObjectDeleted notifies peers about a removed object.
	EventObjectDeleted
	// EventChatMessage delivers a persisted chat message.
	EventChatMessage
	// EventActivity delivers a persisted activity line.
	EventActivity
	// EventCommentCreated delivers a persisted comment.
	EventCommentCreated
	// EventRoleChanged tells a connection its role on a board changed.
	EventRoleChanged
	// EventNotification is a generic push from outside the realtime layer.
	EventNotification
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind  EventKind
	Board string
	// Actor is the identity that caused the event, when there is one.
	Actor *Identity

	Objects  []*store.Object // EventBoardSnapshot
	Presence []PresenceUser  // EventPresence
	Object   *store.Object   // EventObjectCreated
	ObjectID string          // EventObjectUpdated, EventObjectDeleted
	Props    map[string]any  // EventObjectUpdated
	X, Y     float64         // EventCursor

	Entry   *store.LogEntry // EventChatMessage, EventActivity
	Comment *store.Comment  // EventCommentCreated
	Role    rbac.Role       // EventRoleChanged

	Notification *Notification
	Error        *CoreError
}

// Notification is an externally originated push.
type Notification struct {
	Name    string
	Payload any
}

func errorEvent(board, code, msg string) *Event {
	return &Event{Kind: EventError, Board: board, Error: coreError(code, msg)}
}
