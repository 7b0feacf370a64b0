package http

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/collabboard/collabboard-server/internal/core"
	"github.com/collabboard/collabboard-server/internal/proto"
	"github.com/collabboard/collabboard-server/internal/store"
	"github.com/collabboard/collabboard-server/internal/utils"
)

func protoError(code, msg string) *proto.Error {
	return &proto.Error{Code: code, Msg: msg}
}

// peekBoard validates the board id before the payload is decoded in full.
func peekBoard(data []byte) (string, *proto.Error) {
	if !gjson.ValidBytes(data) {
		return "", protoError(core.ErrCodeInvalidMessage, "data is not valid json")
	}
	board := gjson.GetBytes(data, "board_id")
	if board.Type != gjson.String || board.Str == "" {
		return "", protoError(core.ErrCodeBadRequest, "board_id is required")
	}
	if !utils.IsID(board.Str) {
		return "", protoError(core.ErrCodeBadRequest, "board_id must be a uuid")
	}
	return board.Str, nil
}

func requireObjectID(data []byte, path string) *proto.Error {
	id := gjson.GetBytes(data, path)
	if id.Type != gjson.String || id.Str == "" {
		return protoError(core.ErrCodeBadRequest, path+" is required")
	}
	if !utils.IsID(id.Str) {
		return protoError(core.ErrCodeBadRequest, path+" must be a uuid")
	}
	return nil
}

func decode(data []byte, v any) *proto.Error {
	if err := json.Unmarshal(data, v); err != nil {
		return protoError(core.ErrCodeInvalidMessage, "malformed "+err.Error())
	}
	return nil
}

// inboundToCommand maps a wire frame to a hub command. hello is handled by
// the caller and never reaches here.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave:
		board, perr := peekBoard(inbound.Data)
		if perr != nil {
			return nil, perr
		}
		kind := core.CommandJoinBoard
		if inbound.Type == proto.InboundTypeLeave {
			kind = core.CommandLeaveBoard
		}
		return &core.Command{Kind: kind, Board: board}, nil

	case proto.InboundTypeCursor:
		board, perr := peekBoard(inbound.Data)
		if perr != nil {
			return nil, perr
		}
		var cursor proto.CursorData
		if perr := decode(inbound.Data, &cursor); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandCursor, Board: board, X: cursor.X, Y: cursor.Y}, nil

	case proto.InboundTypeObjectCreate:
		board, perr := peekBoard(inbound.Data)
		if perr != nil {
			return nil, perr
		}
		if perr := requireObjectID(inbound.Data, "object.id"); perr != nil {
			return nil, perr
		}
		if gjson.GetBytes(inbound.Data, "object.type").Str == "" {
			return nil, protoError(core.ErrCodeBadRequest, "object.type is required")
		}
		var create proto.ObjectCreateData
		if perr := decode(inbound.Data, &create); perr != nil {
			return nil, perr
		}
		return &core.Command{
			Kind:  core.CommandCreateObject,
			Board: board,
			Object: &core.ObjectState{
				ID:     create.Object.ID,
				Type:   create.Object.Type,
				Props:  create.Object.Props,
				ZIndex: create.Object.ZIndex,
			},
		}, nil

	case proto.InboundTypeObjectUpdate:
		board, perr := peekBoard(inbound.Data)
		if perr != nil {
			return nil, perr
		}
		if perr := requireObjectID(inbound.Data, "object_id"); perr != nil {
			return nil, perr
		}
		if !gjson.GetBytes(inbound.Data, "props").IsObject() {
			return nil, protoError(core.ErrCodeBadRequest, "props must be an object")
		}
		var update proto.ObjectUpdateData
		if perr := decode(inbound.Data, &update); perr != nil {
			return nil, perr
		}
		if len(update.Props) == 0 {
			return nil, protoError(core.ErrCodeBadRequest, "props must not be empty")
		}
		return &core.Command{Kind: core.CommandUpdateObject, Board: board, ObjectID: update.ObjectID, Props: update.Props}, nil

	case proto.InboundTypeObjectDelete:
		board, perr := peekBoard(inbound.Data)
		if perr != nil {
			return nil, perr
		}
		if perr := requireObjectID(inbound.Data, "object_id"); perr != nil {
			return nil, perr
		}
		return &core.Command{
			Kind:     core.CommandDeleteObject,
			Board:    board,
			ObjectID: gjson.GetBytes(inbound.Data, "object_id").Str,
		}, nil

	case proto.InboundTypeChat:
		board, perr := peekBoard(inbound.Data)
		if perr != nil {
			return nil, perr
		}
		var chat proto.ChatData
		if perr := decode(inbound.Data, &chat); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandChat, Board: board, Text: chat.Text}, nil

	case proto.InboundTypeComment:
		board, perr := peekBoard(inbound.Data)
		if perr != nil {
			return nil, perr
		}
		if perr := requireObjectID(inbound.Data, "object_id"); perr != nil {
			return nil, perr
		}
		var comment proto.CommentData
		if perr := decode(inbound.Data, &comment); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandComment, Board: board, ObjectID: comment.ObjectID, Text: comment.Text}, nil

	default:
		return nil, protoError(core.ErrCodeInvalidMessage, "unknown message type")
	}
}

func userFromIdentity(id *core.Identity) *proto.User {
	if id == nil {
		return nil
	}
	return &proto.User{ID: id.ID, Name: id.Name, Color: id.Color}
}

func objectData(obj *store.Object) proto.ObjectData {
	props := obj.Props
	if props == nil {
		props = map[string]any{}
	}
	return proto.ObjectData{ID: obj.ID, Type: obj.Type, Props: props, ZIndex: obj.ZIndex}
}

func logEntryData(entry *store.LogEntry) proto.EventLogEntryData {
	return proto.EventLogEntryData{
		ID:        entry.ID,
		Board:     entry.BoardID,
		UserID:    entry.UserID,
		UserName:  entry.UserName,
		Content:   entry.Content,
		Kind:      string(entry.Kind),
		CreatedAt: entry.CreatedAt.Unix(),
	}
}

func event(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func outboundFromEvent(ev *core.Event) proto.Outbound {
	switch ev.Kind {
	case core.EventBoardSnapshot:
		objects := make([]proto.ObjectData, 0, len(ev.Objects))
		for _, obj := range ev.Objects {
			objects = append(objects, objectData(obj))
		}
		return event(proto.EventBoardSnapshot, proto.EventBoardSnapshotData{
			Board:   ev.Board,
			Role:    ev.Role.String(),
			Objects: objects,
		})
	case core.EventPresence:
		users := make([]proto.User, 0, len(ev.Presence))
		for _, p := range ev.Presence {
			users = append(users, proto.User{ID: p.UserID, Name: p.Name, Color: p.Color})
		}
		return event(proto.EventPresence, proto.EventPresenceData{Board: ev.Board, Users: users})
	case core.EventCursor:
		data := proto.EventCursorData{Board: ev.Board, X: ev.X, Y: ev.Y}
		if u := userFromIdentity(ev.Actor); u != nil {
			data.User = *u
		}
		return event(proto.EventCursor, data)
	case core.EventObjectCreated:
		data := proto.EventObjectData{Board: ev.Board, Actor: userFromIdentity(ev.Actor)}
		if ev.Object != nil {
			obj := objectData(ev.Object)
			data.Object = &obj
			data.ObjectID = obj.ID
		}
		return event(proto.EventObjectCreated, data)
	case core.EventObjectUpdated:
		return event(proto.EventObjectUpdated, proto.EventObjectData{
			Board:    ev.Board,
			Actor:    userFromIdentity(ev.Actor),
			ObjectID: ev.ObjectID,
			Props:    ev.Props,
		})
	case core.EventObjectDeleted:
		return event(proto.EventObjectDeleted, proto.EventObjectData{
			Board:    ev.Board,
			Actor:    userFromIdentity(ev.Actor),
			ObjectID: ev.ObjectID,
		})
	case core.EventChatMessage, core.EventActivity:
		name := proto.EventActivity
		if ev.Kind == core.EventChatMessage {
			name = proto.EventChatMessage
		}
		if ev.Entry == nil {
			return event(name, nil)
		}
		return event(name, logEntryData(ev.Entry))
	case core.EventCommentCreated:
		if ev.Comment == nil {
			return event(proto.EventCommentCreated, nil)
		}
		return event(proto.EventCommentCreated, proto.EventCommentData{
			ID:        ev.Comment.ID,
			Board:     ev.Comment.BoardID,
			ObjectID:  ev.Comment.ObjectID,
			UserID:    ev.Comment.UserID,
			UserName:  ev.Comment.UserName,
			Content:   ev.Comment.Content,
			CreatedAt: ev.Comment.CreatedAt.Unix(),
		})
	case core.EventRoleChanged:
		return event(proto.EventRoleChanged, proto.EventRoleChangedData{Board: ev.Board, Role: ev.Role.String()})
	case core.EventNotification:
		if ev.Notification == nil {
			return event(proto.EventNotification, nil)
		}
		return event(proto.EventNotification, proto.EventNotificationData{
			Name:    ev.Notification.Name,
			Payload: ev.Notification.Payload,
		})
	case core.EventError:
		if ev.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: protoError("unknown", "unknown error")}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: ev.Error.Code, Msg: ev.Error.Message, Board: ev.Board},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
