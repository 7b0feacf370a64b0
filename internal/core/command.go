package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinBoard subscribes the client to a board room.
	CommandJoinBoard CommandKind = iota
	// CommandLeaveBoard unsubscribes the client from a board room.
	CommandLeaveBoard
	// CommandCursor relays a pointer position to the room.
	CommandCursor
	// CommandCreateObject creates or overwrites an object.
	CommandCreateObject
	// CommandUpdateObject patches an object's props.
	CommandUpdateObject
	// CommandDeleteObject removes an object.
	CommandDeleteObject
	// CommandChat posts a chat message to the board.
	CommandChat
	// CommandComment attaches a comment to an object.
	CommandComment
)

// Command represents an action requested by a client.
type Command struct {
	Kind  CommandKind
	Board string

	// Object is the full object for CommandCreateObject.
	Object *ObjectState
	// ObjectID targets update, delete and comment.
	ObjectID string
	// Props is the partial patch of CommandUpdateObject.
	Props map[string]any

	X, Y float64
	Text string
}

// ObjectState is an object as sent by clients.
type ObjectState struct {
	ID     string
	Type   string
	Props  map[string]any
	ZIndex int64
}
