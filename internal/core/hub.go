package core

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/store"
	"github.com/collabboard/collabboard-server/internal/taskqueue"
)

// Storage is the part of the durable store the realtime layer uses.
type Storage interface {
	store.PermissionStore
	store.ObjectStore
	store.LogStore
	store.CommentStore
}

// Queue runs persistence work, keeping submission order per key.
type Queue interface {
	Submit(key string, task taskqueue.Task) error
}

// Config tunes the hub. Zero durations fall back to DefaultConfig.
type Config struct {
	PersistDebounce  time.Duration
	ActivityDebounce time.Duration
	StorageTimeout   time.Duration

	// Clock drives the debounce timers.
	Clock clock.Clock
	// Queue receives persistence work. When nil the hub runs its own
	// single-lane queue and closes it on shutdown.
	Queue Queue
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		PersistDebounce:  500 * time.Millisecond,
		ActivityDebounce: 2 * time.Second,
		StorageTimeout:   5 * time.Second,
	}
}

// Stats is a point-in-time view of the hub registries.
type Stats struct {
	Clients      int
	Identities   int
	Rooms        int
	PendingJoins int
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

type pendingJoin struct {
	seq uint64
	// override is set when a role change arrives while the lookup is in flight.
	override *rbac.Role
}

// Hub owns every realtime registry. All registry access happens on the Run
// goroutine; storage calls run elsewhere and re-enter through exec.
type Hub struct {
	store Storage
	cfg   Config
	clock clock.Clock
	queue Queue
	owned *taskqueue.Queue
	log   *zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	exec       chan func()
	done       chan struct{}

	clients  map[string]*Client
	gone     map[*Client]chan struct{}
	rooms    map[string]*Room
	sessions *sessions
	roles    *roleCache
	presence *presence
	pending  map[string]map[string]*pendingJoin
	joinSeq  uint64

	writes   *Debouncer[objectPatch]
	activity *Debouncer[activityLine]
	lookups  conc.WaitGroup
}

// NewHub creates a hub backed by st.
func NewHub(st Storage, cfg Config, logger *zerolog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.PersistDebounce <= 0 {
		cfg.PersistDebounce = def.PersistDebounce
	}
	if cfg.ActivityDebounce <= 0 {
		cfg.ActivityDebounce = def.ActivityDebounce
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = def.StorageTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "hub").Logger()

	h := &Hub{
		store:      st,
		cfg:        cfg,
		clock:      cfg.Clock,
		queue:      cfg.Queue,
		log:        &l,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		commands:   make(chan clientCommand, 256),
		exec:       make(chan func(), 256),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		gone:       make(map[*Client]chan struct{}),
		rooms:      make(map[string]*Room),
		sessions:   newSessions(),
		roles:      newRoleCache(),
		presence:   newPresence(),
		pending:    make(map[string]map[string]*pendingJoin),
	}
	if h.queue == nil {
		h.owned = taskqueue.New(context.Background(), 1, 256, logger)
		h.queue = h.owned
	}
	h.writes = NewDebouncer(cfg.Clock, cfg.PersistDebounce, mergePatch, h.flushPatch)
	h.activity = NewDebouncer(cfg.Clock, cfg.ActivityDebounce, lastLine, h.flushActivity)
	return h
}

// Run processes hub operations until ctx is cancelled. Pending debounced
// writes are flushed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	h.log.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		case cc := <-h.commands:
			h.handleCommand(cc.client, cc.cmd)
		case fn := <-h.exec:
			fn()
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.lookups.Wait()
	writes := h.writes.FlushAll()
	lines := h.activity.FlushAll()
	if h.owned != nil {
		h.owned.Close()
	}
	h.log.Info().Int("flushed_writes", writes).Int("flushed_activity", lines).Msg("hub stopped")
}

// RegisterClient attaches a connection to the hub and starts consuming its
// Commands channel.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes the connection from every registry and closes
// its Events channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Stats reports registry sizes.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := h.call(ctx, func() {
		st = Stats{Clients: len(h.clients), Identities: h.sessions.identities(), Rooms: len(h.rooms)}
		for _, boards := range h.pending {
			st.PendingJoins += len(boards)
		}
	})
	return st, err
}

// post schedules fn on the hub goroutine. It is dropped once the hub stopped.
func (h *Hub) post(fn func()) {
	select {
	case h.exec <- fn:
	case <-h.done:
	}
}

// call runs fn on the hub goroutine and waits until it has returned.
func (h *Hub) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.exec <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrHubStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) registerClient(c *Client) {
	if _, exists := h.clients[c.ID]; exists {
		return
	}
	h.clients[c.ID] = c
	h.sessions.register(c.Identity.ID, c)
	gone := make(chan struct{})
	h.gone[c] = gone
	go h.pump(c, gone)
	h.log.Debug().Str("conn_id", c.ID).Str("user_id", c.Identity.ID).Msg("client registered")
}

// pump forwards a client's commands to the hub in order.
func (h *Hub) pump(c *Client, gone <-chan struct{}) {
	for {
		select {
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-gone:
				return
			case <-h.done:
				return
			}
		case <-gone:
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) unregisterClient(c *Client) {
	if registered, ok := h.clients[c.ID]; !ok || registered != c {
		return
	}
	for board := range c.boards {
		h.removeFromBoard(c, board)
	}
	delete(h.pending, c.ID)
	h.roles.drop(c.ID)
	h.sessions.unregister(c.Identity.ID, c.ID)
	delete(h.clients, c.ID)
	close(h.gone[c])
	delete(h.gone, c)
	close(c.Events)
	h.log.Debug().Str("conn_id", c.ID).Str("user_id", c.Identity.ID).Msg("client unregistered")
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	if cmd == nil {
		return
	}
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	switch cmd.Kind {
	case CommandJoinBoard:
		h.joinBoard(c, cmd.Board)
	case CommandLeaveBoard:
		h.leaveBoard(c, cmd.Board)
	case CommandCursor:
		h.relayCursor(c, cmd)
	case CommandCreateObject:
		h.createObject(c, cmd)
	case CommandUpdateObject:
		h.updateObject(c, cmd)
	case CommandDeleteObject:
		h.deleteObject(c, cmd)
	case CommandChat:
		h.sendChat(c, cmd)
	case CommandComment:
		h.addComment(c, cmd)
	default:
		c.send(errorEvent(cmd.Board, ErrCodeInvalidMessage, "unknown command"))
	}
}

func (h *Hub) joinBoard(c *Client, board string) {
	if board == "" {
		c.send(errorEvent(board, ErrCodeBadRequest, "board is required"))
		return
	}
	if _, joined := c.boards[board]; joined {
		c.send(errorEvent(board, ErrCodeAlreadyJoined, "already joined"))
		return
	}
	if _, waiting := h.pending[c.ID][board]; waiting {
		c.send(errorEvent(board, ErrCodeAlreadyJoined, "join in progress"))
		return
	}

	h.joinSeq++
	pj := &pendingJoin{seq: h.joinSeq}
	if h.pending[c.ID] == nil {
		h.pending[c.ID] = make(map[string]*pendingJoin)
	}
	h.pending[c.ID][board] = pj

	userID := c.Identity.ID
	h.lookups.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StorageTimeout)
		defer cancel()
		role, objects, err := h.loadBoard(ctx, board, userID)
		h.post(func() { h.finishJoin(c, board, pj, role, objects, err) })
	})
}

// loadBoard runs off the hub goroutine.
func (h *Hub) loadBoard(ctx context.Context, board, userID string) (rbac.Role, []*store.Object, error) {
	role, err := h.store.BoardRole(ctx, board, userID)
	if err != nil {
		return rbac.RoleNone, nil, err
	}
	if !role.AtLeast(rbac.RoleViewer) {
		return role, nil, nil
	}
	objects, err := h.store.ListObjects(ctx, board)
	if err != nil {
		return role, nil, err
	}
	return role, objects, nil
}

func (h *Hub) finishJoin(c *Client, board string, pj *pendingJoin, role rbac.Role, objects []*store.Object, err error) {
	if h.pending[c.ID][board] != pj {
		h.log.Debug().Str("conn_id", c.ID).Str("board_id", board).Msg("discarding stale join result")
		return
	}
	h.clearPending(c.ID, board)

	if err != nil {
		h.log.Error().Err(err).Str("conn_id", c.ID).Str("board_id", board).Msg("board lookup failed")
		c.send(errorEvent(board, ErrCodeBoardUnavailable, "board unavailable"))
		return
	}
	if pj.override != nil {
		if !role.AtLeast(rbac.RoleViewer) && pj.override.AtLeast(rbac.RoleViewer) {
			// Access was granted mid-lookup; the snapshot was never loaded.
			h.joinBoard(c, board)
			return
		}
		role = *pj.override
	}
	if !role.AtLeast(rbac.RoleViewer) {
		h.log.Debug().Str("conn_id", c.ID).Str("board_id", board).Msg("join denied")
		c.send(errorEvent(board, ErrCodeForbidden, "no access to board"))
		return
	}

	h.roles.set(c.ID, board, role)
	room, ok := h.rooms[board]
	if !ok {
		room = NewRoom(board)
		h.rooms[board] = room
	}
	room.AddClient(c)
	c.boards[board] = struct{}{}
	h.presence.join(board, c.Identity.ID, c.Identity.Name, c.Identity.Color, c.ID)

	if objects == nil {
		objects = []*store.Object{}
	}
	c.send(&Event{Kind: EventBoardSnapshot, Board: board, Objects: objects, Role: role})
	h.broadcastPresence(room)
	h.log.Info().Str("conn_id", c.ID).Str("board_id", board).Str("role", role.String()).Msg("joined board")
}

func (h *Hub) clearPending(connID, board string) {
	boards := h.pending[connID]
	delete(boards, board)
	if len(boards) == 0 {
		delete(h.pending, connID)
	}
}

func (h *Hub) leaveBoard(c *Client, board string) {
	if _, waiting := h.pending[c.ID][board]; waiting {
		h.clearPending(c.ID, board)
		return
	}
	if _, joined := c.boards[board]; !joined {
		c.send(errorEvent(board, ErrCodeNotJoined, "not joined"))
		return
	}
	h.removeFromBoard(c, board)
}

// removeFromBoard drops c from the room, role cache and roster, then sends
// the fresh roster to whoever is left.
func (h *Hub) removeFromBoard(c *Client, board string) {
	delete(c.boards, board)
	h.roles.forget(c.ID, board)

	room, ok := h.rooms[board]
	if !ok {
		return
	}
	room.RemoveClient(c)

	// Only the connection owning the roster entry hands it over.
	successor := ""
	if owner, ok := h.presence.owner(board, c.Identity.ID); ok && owner == c.ID {
		if other := room.other(c.Identity.ID, c); other != nil {
			successor = other.ID
		}
	}
	h.presence.leave(board, c.Identity.ID, c.ID, successor)

	if room.Empty() {
		delete(h.rooms, board)
		return
	}
	h.broadcastPresence(room)
}

func (h *Hub) broadcastPresence(room *Room) {
	room.Broadcast(&Event{
		Kind:     EventPresence,
		Board:    room.Board,
		Presence: h.presence.snapshot(room.Board),
	})
}

func (h *Hub) relayCursor(c *Client, cmd *Command) {
	if _, joined := c.boards[cmd.Board]; !joined {
		c.send(errorEvent(cmd.Board, ErrCodeNotJoined, "not joined"))
		return
	}
	room, ok := h.rooms[cmd.Board]
	if !ok {
		return
	}
	actor := c.Identity
	room.BroadcastExcept(&Event{Kind: EventCursor, Board: cmd.Board, Actor: &actor, X: cmd.X, Y: cmd.Y}, c)
}

func (h *Hub) broadcastToBoard(board string, event *Event) {
	if room, ok := h.rooms[board]; ok {
		room.Broadcast(event)
	}
}
