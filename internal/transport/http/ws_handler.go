package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/collabboard/collabboard-server/internal/auth"
	"github.com/collabboard/collabboard-server/internal/core"
	"github.com/collabboard/collabboard-server/internal/proto"
	"github.com/collabboard/collabboard-server/internal/utils"
)

const helloTimeout = 10 * time.Second

var errVersionMismatch = errors.New("protocol version mismatch")

// ClientRegistry is the part of the hub a connection talks to.
type ClientRegistry interface {
	RegisterClient(c *core.Client)
	UnregisterClient(c *core.Client)
}

// Identifier resolves a token to an identity.
type Identifier interface {
	Identify(token string) (auth.Identity, error)
}

// WSOptions tune a websocket connection.
type WSOptions struct {
	MaxMessageBytes int64
	ProtocolVersion int
	CursorRate      float64
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub  ClientRegistry
	auth Identifier
	opts WSOptions
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub ClientRegistry, identifier Identifier, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	if opts.ProtocolVersion == 0 {
		opts.ProtocolVersion = proto.ProtocolVersion
	}
	return &WSHandler{hub: hub, auth: identifier, opts: opts, log: logger}
}

// tokenFromRequest looks at the Authorization header, then ?token=.
func tokenFromRequest(r *stdhttp.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return r.URL.Query().Get("token")
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	identity, perr := h.handshake(ctx, conn, tokenFromRequest(r))
	if perr != nil {
		h.log.Debug().Str("code", perr.Code).Str("reason", perr.Msg).Msg("ws handshake rejected")
		_ = wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: perr})
		conn.Close(websocket.StatusPolicyViolation, perr.Code)
		return
	}

	client := core.NewClient(utils.NewID(), core.Identity{
		ID:    identity.UserID,
		Name:  identity.Username,
		Color: identity.Color,
	})
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	logger := h.log.With().Str("conn_id", client.ID).Str("user_id", identity.UserID).Logger()
	logger.Info().Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, errVersionMismatch) {
		conn.Close(websocket.StatusPolicyViolation, core.ErrCodeUnsupportedVersion)
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	logger.Info().Msg("ws disconnected")
	conn.Close(status, reason)
}

// handshake authenticates the connection before it touches the hub. Without
// a token on the request the first frame must be hello.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn, token string) (auth.Identity, *proto.Error) {
	if token == "" {
		helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
		defer cancel()

		var inbound proto.Inbound
		if err := wsjson.Read(helloCtx, conn, &inbound); err != nil {
			return auth.Identity{}, protoError(core.ErrCodeUnauthorized, "hello expected")
		}
		if inbound.Type != proto.InboundTypeHello {
			return auth.Identity{}, protoError(core.ErrCodeUnauthorized, "hello expected")
		}
		var hello proto.HelloData
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			return auth.Identity{}, protoError(core.ErrCodeInvalidMessage, "malformed hello")
		}
		if perr := h.checkVersion(hello.Protocol); perr != nil {
			return auth.Identity{}, perr
		}
		token = hello.Token
	}

	identity, err := h.auth.Identify(token)
	if err != nil {
		return auth.Identity{}, protoError(core.ErrCodeUnauthorized, "invalid or missing token")
	}
	return identity, nil
}

// checkVersion accepts an omitted version.
func (h *WSHandler) checkVersion(version int) *proto.Error {
	if version != 0 && version != h.opts.ProtocolVersion {
		return protoError(core.ErrCodeUnsupportedVersion, "unsupported protocol version")
	}
	return nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	cursors := newCursorLimiter(h.opts.CursorRate)
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var inbound proto.Inbound
		if err := json.Unmarshal(frame, &inbound); err != nil {
			if writeErr := h.writeError(ctx, conn, protoError(core.ErrCodeInvalidMessage, "frame is not a valid envelope")); writeErr != nil {
				return writeErr
			}
			continue
		}

		// A late hello only re-checks the version.
		if inbound.Type == proto.InboundTypeHello {
			var hello proto.HelloData
			if err := json.Unmarshal(inbound.Data, &hello); err != nil {
				if writeErr := h.writeError(ctx, conn, protoError(core.ErrCodeInvalidMessage, "malformed hello")); writeErr != nil {
					return writeErr
				}
				continue
			}
			if perr := h.checkVersion(hello.Protocol); perr != nil {
				_ = h.writeError(ctx, conn, perr)
				return errVersionMismatch
			}
			continue
		}
		if inbound.Type == proto.InboundTypeCursor && !cursors.allow() {
			continue
		}

		cmd, perr := inboundToCommand(inbound)
		if perr != nil {
			logger.Debug().Str("type", inbound.Type).Str("code", perr.Code).Msg("rejected inbound")
			if err := h.writeError(ctx, conn, perr); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, perr *proto.Error) error {
	return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: perr})
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				logger.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
