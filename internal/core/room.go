package core

// Room groups the connections joined to one board.
type Room struct {
	Board   string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(board string) *Room {
	return &Room{
		Board:   board,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Has reports whether c is in the room.
func (r *Room) Has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

// Broadcast sends an event to all clients in the room.
func (r *Room) Broadcast(event *Event) {
	r.BroadcastExcept(event, nil)
}

// BroadcastExcept sends an event to every client but skip. Slow consumers
// lose the event.
func (r *Room) BroadcastExcept(event *Event, skip *Client) {
	for client := range r.clients {
		if client == skip {
			continue
		}
		client.send(event)
	}
}

// other returns a client of the identity other than c, if one is in the room.
func (r *Room) other(identityID string, c *Client) *Client {
	for client := range r.clients {
		if client != c && client.Identity.ID == identityID {
			return client
		}
	}
	return nil
}

// Len returns the number of connections in the room.
func (r *Room) Len() int {
	return len(r.clients)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}
