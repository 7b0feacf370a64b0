package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/collabboard/collabboard-server/internal/proto"
	"github.com/collabboard/collabboard-server/internal/rbac"
	"github.com/collabboard/collabboard-server/internal/service/boards"
	"github.com/collabboard/collabboard-server/internal/utils"
)

// BoardHandlers provides HTTP handlers for board management endpoints.
type BoardHandlers struct {
	boards *boards.Service
	log    *zerolog.Logger
}

// NewBoardHandlers creates a new board handlers instance.
func NewBoardHandlers(service *boards.Service, logger *zerolog.Logger) *BoardHandlers {
	return &BoardHandlers{
		boards: service,
		log:    logger,
	}
}

// CreateBoardRequest represents the create board request body.
type CreateBoardRequest struct {
	Name        string  `json:"name" binding:"required,min=1,max=128"`
	ProjectID   *string `json:"project_id"`
	WorkspaceID *string `json:"workspace_id"`
}

// BoardResponse represents a board in API responses.
type BoardResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	OwnerID     string  `json:"owner_id"`
	ProjectID   *string `json:"project_id,omitempty"`
	WorkspaceID *string `json:"workspace_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// MemberRequest represents the set member request body.
type MemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// ShareRequest represents the share request body.
type ShareRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// boardID reads and validates the :id path parameter.
func boardID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !utils.IsID(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid board id"})
		return "", false
	}
	return id, true
}

// writeServiceError maps board service errors to HTTP responses.
func (h *BoardHandlers) writeServiceError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, boards.ErrBoardNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "board not found"})
	case errors.Is(err, boards.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
	case errors.Is(err, boards.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, boards.ErrInvalidRole),
		errors.Is(err, boards.ErrInvalidName),
		errors.Is(err, boards.ErrOwnerMember):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// CreateBoard handles board creation.
// POST /api/boards
func (h *BoardHandlers) CreateBoard(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create board request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	board, err := h.boards.Create(c.Request.Context(), uid, req.Name, req.ProjectID, req.WorkspaceID)
	if err != nil {
		h.writeServiceError(c, err, "failed to create board")
		return
	}

	h.log.Info().Str("board_id", board.ID).Str("owner_id", uid).Msg("board created")
	c.JSON(http.StatusCreated, BoardResponse{
		ID:          board.ID,
		Name:        board.Name,
		OwnerID:     board.OwnerID,
		ProjectID:   board.ProjectID,
		WorkspaceID: board.WorkspaceID,
		CreatedAt:   board.CreatedAt.Format(time.RFC3339),
	})
}

// ListBoards handles listing accessible boards.
// GET /api/boards
func (h *BoardHandlers) ListBoards(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	list, err := h.boards.List(c.Request.Context(), uid)
	if err != nil {
		h.writeServiceError(c, err, "failed to list boards")
		return
	}

	response := make([]BoardResponse, 0, len(list))
	for _, board := range list {
		response = append(response, BoardResponse{
			ID:          board.ID,
			Name:        board.Name,
			OwnerID:     board.OwnerID,
			ProjectID:   board.ProjectID,
			WorkspaceID: board.WorkspaceID,
			CreatedAt:   board.CreatedAt.Format(time.RFC3339),
		})
	}

	h.log.Debug().Str("user_id", uid).Int("board_count", len(list)).Msg("boards listed")
	c.JSON(http.StatusOK, response)
}

// ListObjects returns the board snapshot.
// GET /api/boards/:id/objects
func (h *BoardHandlers) ListObjects(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	id, ok := boardID(c)
	if !ok {
		return
	}

	objects, err := h.boards.Objects(c.Request.Context(), uid, id)
	if err != nil {
		h.writeServiceError(c, err, "failed to list objects")
		return
	}

	response := make([]proto.ObjectData, 0, len(objects))
	for _, obj := range objects {
		response = append(response, objectData(obj))
	}
	c.JSON(http.StatusOK, response)
}

// ListActivity returns the newest board log entries.
// GET /api/boards/:id/activity?limit=50
func (h *BoardHandlers) ListActivity(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	id, ok := boardID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := h.boards.Activity(c.Request.Context(), uid, id, limit)
	if err != nil {
		h.writeServiceError(c, err, "failed to list activity")
		return
	}

	response := make([]proto.EventLogEntryData, 0, len(entries))
	for _, entry := range entries {
		response = append(response, logEntryData(entry))
	}
	c.JSON(http.StatusOK, response)
}

// SetMember grants or changes a board membership.
// PUT /api/boards/:id/members
func (h *BoardHandlers) SetMember(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	id, ok := boardID(c)
	if !ok {
		return
	}

	var req MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid member request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.boards.SetMember(c.Request.Context(), uid, id, req.UserID, rbac.Role(req.Role)); err != nil {
		h.writeServiceError(c, err, "failed to set member")
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveMember drops a board membership.
// DELETE /api/boards/:id/members/:userId
func (h *BoardHandlers) RemoveMember(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	id, ok := boardID(c)
	if !ok {
		return
	}

	if err := h.boards.RemoveMember(c.Request.Context(), uid, id, c.Param("userId")); err != nil {
		h.writeServiceError(c, err, "failed to remove member")
		return
	}
	c.Status(http.StatusNoContent)
}

// Share makes a user an editor and notifies them.
// POST /api/boards/:id/share
func (h *BoardHandlers) Share(c *gin.Context) {
	uid, username, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	id, ok := boardID(c)
	if !ok {
		return
	}

	var req ShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid share request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.boards.Share(c.Request.Context(), uid, username, id, req.UserID); err != nil {
		h.writeServiceError(c, err, "failed to share board")
		return
	}
	c.Status(http.StatusNoContent)
}
