package boards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/collabboard/collabboard-server/internal/bus"
	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/store"
)

// Common errors for board operations.
var (
	ErrBoardNotFound = errors.New("board not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrForbidden     = errors.New("not permitted on this board")
	ErrInvalidRole   = errors.New("role must be viewer or editor")
	ErrInvalidName   = errors.New("board name must be 1-128 characters")
	ErrOwnerMember   = errors.New("the board owner's role cannot be changed")
)

// NotificationBoardShared is pushed to a user when a board is shared with them.
const NotificationBoardShared = "board_shared"

const maxActivityLimit = 200

// SharedPayload is the body of a board_shared notification.
type SharedPayload struct {
	BoardID   string `json:"board_id"`
	BoardName string `json:"board_name"`
	SharedBy  string `json:"shared_by"`
	Role      string `json:"role"`
}

// Service provides board and membership business logic. Every membership
// change is followed by a role notification so live connections pick it up.
type Service struct {
	store store.Store
	bus   bus.Publisher
	log   *zerolog.Logger
}

// New creates a new board service.
func New(st store.Store, publisher bus.Publisher, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: st, bus: publisher, log: logger}
}

// Create makes a new board owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID, name string, projectID, workspaceID *string) (*store.Board, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > 128 {
		return nil, ErrInvalidName
	}
	board := &store.Board{
		Name:        name,
		OwnerID:     ownerID,
		ProjectID:   emptyToNil(projectID),
		WorkspaceID: emptyToNil(workspaceID),
	}
	if err := s.store.CreateBoard(ctx, board); err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	return board, nil
}

// List returns boards the user owns or is a member of.
func (s *Service) List(ctx context.Context, userID string) ([]*store.Board, error) {
	boards, err := s.store.ListBoards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

// Objects returns the board's current objects for a reader.
func (s *Service) Objects(ctx context.Context, userID, boardID string) ([]*store.Object, error) {
	if _, err := s.require(ctx, userID, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	objects, err := s.store.ListObjects(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return objects, nil
}

// Activity returns the newest log entries of the board.
func (s *Service) Activity(ctx context.Context, userID, boardID string, limit int) ([]*store.LogEntry, error) {
	if _, err := s.require(ctx, userID, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxActivityLimit {
		limit = 50
	}
	entries, err := s.store.ListEntries(ctx, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return entries, nil
}

// SetMember grants userID an explicit role on the board. Only the owner may do it.
func (s *Service) SetMember(ctx context.Context, actorID, boardID, userID string, role rbac.Role) error {
	board, err := s.require(ctx, actorID, boardID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if !rbac.Assignable(role) {
		return ErrInvalidRole
	}
	if userID == board.OwnerID {
		return ErrOwnerMember
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}

	if err := s.store.SetBoardMember(ctx, boardID, userID, role); err != nil {
		return fmt.Errorf("set board member: %w", err)
	}
	s.notifyEffectiveRole(ctx, boardID, userID)
	return nil
}

// RemoveMember drops the explicit membership. Access inherited from the
// project or workspace is kept, and that is what gets announced.
func (s *Service) RemoveMember(ctx context.Context, actorID, boardID, userID string) error {
	board, err := s.require(ctx, actorID, boardID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if userID == board.OwnerID {
		return ErrOwnerMember
	}
	if err := s.store.RemoveBoardMember(ctx, boardID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("remove board member: %w", err)
	}
	s.notifyEffectiveRole(ctx, boardID, userID)
	return nil
}

// Share makes userID an editor and pushes a board_shared notification.
func (s *Service) Share(ctx context.Context, actorID, actorName, boardID, userID string) error {
	if err := s.SetMember(ctx, actorID, boardID, userID, rbac.RoleEditor); err != nil {
		return err
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("get board: %w", err)
	}

	payload := SharedPayload{
		BoardID:   board.ID,
		BoardName: board.Name,
		SharedBy:  actorName,
		Role:      rbac.RoleEditor.String(),
	}
	if err := s.bus.PushToIdentity(ctx, userID, NotificationBoardShared, payload); err != nil {
		s.log.Warn().Err(err).
			Str("board_id", boardID).
			Str("user_id", userID).
			Msg("share notification failed")
	}
	return nil
}

// require loads the board and checks the actor's role against action.
func (s *Service) require(ctx context.Context, userID, boardID string, action rbac.Action) (*store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBoardNotFound
		}
		return nil, fmt.Errorf("get board: %w", err)
	}
	role, err := s.store.BoardRole(ctx, boardID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	if role == rbac.RoleNone {
		// Do not reveal boards the user cannot see.
		return nil, ErrBoardNotFound
	}
	if !rbac.Can(role, action) {
		return nil, ErrForbidden
	}
	return board, nil
}

// notifyEffectiveRole announces the role the user now resolves to. The
// membership change is already durable, so a failed notification is logged.
func (s *Service) notifyEffectiveRole(ctx context.Context, boardID, userID string) {
	role, err := s.store.BoardRole(ctx, boardID, userID)
	if err != nil {
		s.log.Error().Err(err).
			Str("board_id", boardID).
			Str("user_id", userID).
			Msg("resolve role for notification")
		return
	}
	if err := s.bus.NotifyRoleChanged(ctx, userID, boardID, role); err != nil {
		s.log.Warn().Err(err).
			Str("board_id", boardID).
			Str("user_id", userID).
			Str("role", role.String()).
			Msg("role change notification failed")
		return
	}
	s.log.Info().
		Str("board_id", boardID).
		Str("user_id", userID).
		Str("role", role.String()).
		Msg("board role changed")
}

func emptyToNil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
