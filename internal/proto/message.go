package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello        = "hello"
	InboundTypeJoin         = "join"
	InboundTypeLeave        = "leave"
	InboundTypeCursor       = "cursor"
	InboundTypeObjectCreate = "object_create"
	InboundTypeObjectUpdate = "object_update"
	InboundTypeObjectDelete = "object_delete"
	InboundTypeChat         = "chat"
	InboundTypeComment      = "comment"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Outbound event names.
const (
	EventBoardSnapshot  = "board_snapshot"
	EventPresence       = "presence"
	EventCursor         = "cursor"
	EventObjectCreated  = "object_created"
	EventObjectUpdated  = "object_updated"
	EventObjectDeleted  = "object_deleted"
	EventChatMessage    = "chat_message"
	EventActivity       = "activity"
	EventCommentCreated = "comment_created"
	EventRoleChanged    = "role_changed"
	EventNotification   = "notification"
)

// HelloData is the first frame of a connection.
type HelloData struct {
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// BoardData names the board for join and leave.
type BoardData struct {
	Board string `json:"board_id"`
}

// CursorData is a pointer position on a board.
type CursorData struct {
	Board string  `json:"board_id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// ObjectData is a board object on the wire.
type ObjectData struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Props  map[string]any `json:"props"`
	ZIndex int64          `json:"z_index"`
}

// ObjectCreateData creates or overwrites an object.
type ObjectCreateData struct {
	Board  string     `json:"board_id"`
	Object ObjectData `json:"object"`
}

// ObjectUpdateData is a partial props patch.
type ObjectUpdateData struct {
	Board    string         `json:"board_id"`
	ObjectID string         `json:"object_id"`
	Props    map[string]any `json:"props"`
}

// ObjectDeleteData removes an object.
type ObjectDeleteData struct {
	Board    string `json:"board_id"`
	ObjectID string `json:"object_id"`
}

// ChatData posts a chat message.
type ChatData struct {
	Board string `json:"board_id"`
	Text  string `json:"text"`
}

// CommentData attaches a comment to an object.
type CommentData struct {
	Board    string `json:"board_id"`
	ObjectID string `json:"object_id"`
	Text     string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// User identifies a person in presence and object events.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// EventBoardSnapshotData is sent to a connection after a successful join.
type EventBoardSnapshotData struct {
	Board   string       `json:"board_id"`
	Role    string       `json:"role"`
	Objects []ObjectData `json:"objects"`
}

// EventPresenceData is the full roster of a board.
type EventPresenceData struct {
	Board string `json:"board_id"`
	Users []User `json:"users"`
}

// EventCursorData relays another user's pointer.
type EventCursorData struct {
	Board string  `json:"board_id"`
	User  User    `json:"user"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// EventObjectData covers object_created, object_updated and object_deleted.
type EventObjectData struct {
	Board    string         `json:"board_id"`
	Actor    *User          `json:"actor,omitempty"`
	Object   *ObjectData    `json:"object,omitempty"`
	ObjectID string         `json:"object_id,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
}

// EventLogEntryData is a chat message or an activity line.
type EventLogEntryData struct {
	ID        int64  `json:"id"`
	Board     string `json:"board_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Content   string `json:"content"`
	Kind      string `json:"kind"`
	CreatedAt int64  `json:"ts"`
}

// EventCommentData is a persisted comment.
type EventCommentData struct {
	ID        int64  `json:"id"`
	Board     string `json:"board_id"`
	ObjectID  string `json:"object_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"ts"`
}

// EventRoleChangedData tells a connection its role on a board changed.
type EventRoleChangedData struct {
	Board string `json:"board_id"`
	Role  string `json:"role"`
}

// EventNotificationData is a push that did not originate on the board.
type EventNotificationData struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Board string `json:"board_id,omitempty"`
}
