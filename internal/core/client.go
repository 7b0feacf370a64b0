package core

const clientEventBuffer = 256

// Identity is the immutable caller context attached to a connection at
// handshake time.
type Identity struct {
	ID    string
	Name  string
	Color string
}

// Client is one live connection as seen by the core layer. Boards is owned
// by the hub goroutine.
type Client struct {
	ID       string
	Identity Identity
	Commands chan *Command
	Events   chan *Event
	boards   map[string]struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, identity Identity) *Client {
	if identity.Name == "" {
		identity.Name = identity.ID
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, clientEventBuffer),
		boards:   make(map[string]struct{}),
	}
}

// send delivers without blocking; a full buffer drops the event.
func (c *Client) send(event *Event) bool {
	select {
	case c.Events <- event:
		return true
	default:
		return false
	}
}
