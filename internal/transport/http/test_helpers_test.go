package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/collabboard/collabboard-server/internal/auth"
	"github.com/collabboard/collabboard-server/internal/bus"
	"github.com/collabboard/collabboard-server/internal/config"
	"github.com/collabboard/collabboard-server/internal/core"
	"github.com/collabboard/collabboard-server/internal/proto"
	"github.com/collabboard/collabboard-server/internal/service/boards"
	"github.com/collabboard/collabboard-server/internal/store/sqlite"
	"github.com/collabboard/collabboard-server/internal/store/sqlstore"
)

type testEnv struct {
	ts     *httptest.Server
	store  *sqlstore.Store
	auth   *auth.Service
	boards *boards.Service
	cfg    config.Config
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "test-secret"
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	cfg.PersistDebounce = 20 * time.Millisecond
	cfg.ActivityDebounce = 20 * time.Millisecond
	cfg.CursorRate = 0
	return cfg
}

// startTestServer runs the full stack over an in-memory database.
func startTestServer(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	disabledLogger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})

	hub := core.NewHub(st, core.Config{
		PersistDebounce:  cfg.PersistDebounce,
		ActivityDebounce: cfg.ActivityDebounce,
		StorageTimeout:   cfg.StorageTimeout,
	}, &disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	boardService := boards.New(st, bus.NewLocal(hub), &disabledLogger)
	server := NewServer(hub, authService, st, boardService, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)

	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-stopped
	})

	return &testEnv{ts: ts, store: st, auth: authService, boards: boardService, cfg: cfg}
}

// register creates a user and returns its token and id.
func (e *testEnv) register(t *testing.T, username string) (string, string) {
	t.Helper()
	token, err := e.auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	identity, err := e.auth.Identify(token)
	if err != nil {
		t.Fatalf("identify %s: %v", username, err)
	}
	return token, identity.UserID
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

// dial opens a socket authenticated through the query string.
func (e *testEnv) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL()+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readEvent reads frames until the named event arrives. An empty name
// matches error frames.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, name string) frame {
	t.Helper()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %q: %v", name, err)
		}
		if name == "" && f.Type == proto.OutboundTypeError {
			return f
		}
		if f.Type == proto.OutboundTypeEvent && f.Event == name {
			return f
		}
	}
}

func decodeData(t *testing.T, f frame, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("decode %s: %v", f.Event, err)
	}
}
