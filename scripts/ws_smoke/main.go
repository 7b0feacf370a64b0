package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/collabboard/collabboard-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "tester", "username, registered on first use")
	password := flag.String("password", "password123", "password")
	boardName := flag.String("board", "smoke", "name of the board to create")
	text := flag.String("text", "hello from smoke test", "chat text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := authenticate(ctx, *addr, *user, *password)
	if err != nil {
		return err
	}

	var board struct {
		ID string `json:"id"`
	}
	if err := postJSON(ctx, *addr+"/api/boards", token, map[string]string{"name": *boardName}, &board); err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	fmt.Printf("Board created: %s\n", board.ID)

	wsURL := strings.Replace(*addr, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := mustSend(proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := mustSend(proto.InboundTypeJoin, proto.BoardData{Board: board.ID}); err != nil {
		return err
	}

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if outbound.Error != nil {
			return fmt.Errorf("server error %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}
		fmt.Printf("Received event=%s\n", outbound.Event)

		switch outbound.Event {
		case proto.EventBoardSnapshot:
			var snap proto.EventBoardSnapshotData
			if err := json.Unmarshal(outbound.Data, &snap); err != nil {
				return fmt.Errorf("unmarshal snapshot: %w", err)
			}
			fmt.Printf("Snapshot: role=%s objects=%d\n", snap.Role, len(snap.Objects))

			sticky := proto.ObjectData{
				ID:    uuid.NewString(),
				Type:  "sticky",
				Props: map[string]any{"x": 10, "y": 10, "text": "smoke"},
			}
			if err := mustSend(proto.InboundTypeObjectCreate, proto.ObjectCreateData{Board: board.ID, Object: sticky}); err != nil {
				return err
			}
			if err := mustSend(proto.InboundTypeChat, proto.ChatData{Board: board.ID, Text: *text}); err != nil {
				return err
			}
		case proto.EventPresence:
			var roster proto.EventPresenceData
			if err := json.Unmarshal(outbound.Data, &roster); err == nil {
				fmt.Printf("Presence: %d user(s)\n", len(roster.Users))
			}
		case proto.EventActivity:
			var entry proto.EventLogEntryData
			if err := json.Unmarshal(outbound.Data, &entry); err == nil {
				fmt.Printf("Activity: %s\n", entry.Content)
			}
		case proto.EventChatMessage:
			var entry proto.EventLogEntryData
			if err := json.Unmarshal(outbound.Data, &entry); err != nil {
				return fmt.Errorf("unmarshal chat: %w", err)
			}
			fmt.Printf("Chat: user=%s text=%q ts=%d\n", entry.UserName, entry.Content, entry.CreatedAt)
			return nil
		}
	}
}

// authenticate logs in, registering the user first when needed.
func authenticate(ctx context.Context, addr, user, password string) (string, error) {
	creds := map[string]string{"username": user, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	err := postJSON(ctx, addr+"/api/login", "", creds, &resp)
	if err == nil {
		return resp.Token, nil
	}
	var status statusError
	if !errors.As(err, &status) || status != http.StatusUnauthorized {
		return "", fmt.Errorf("login: %w", err)
	}
	if err := postJSON(ctx, addr+"/api/register", "", creds, &resp); err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	return resp.Token, nil
}

type statusError int

func (s statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", int(s))
}

func postJSON(ctx context.Context, url, token string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
