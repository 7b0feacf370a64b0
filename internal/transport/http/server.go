package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/collabboard/collabboard-server/internal/auth"
	"github.com/collabboard/collabboard-server/internal/config"
	"github.com/collabboard/collabboard-server/internal/service/boards"
	"github.com/collabboard/collabboard-server/internal/store"
)

// NewServer builds the HTTP server: REST API, health check and the
// websocket endpoint.
func NewServer(
	hub ClientRegistry,
	authService *auth.Service,
	users store.UserStore,
	boardService *boards.Service,
	cfg *config.Config,
	logger *zerolog.Logger,
) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	ws := NewWSHandler(hub, authService, WSOptions{
		MaxMessageBytes: cfg.MaxMessageBytes,
		ProtocolVersion: cfg.ProtocolVersion,
		CursorRate:      cfg.CursorRate,
	}, logger)

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(ws))

	apiHandlers := NewAPIHandlers(authService, logger)
	userHandlers := NewUserHandlers(users, logger)
	boardHandlers := NewBoardHandlers(boardService, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	protected := api.Group("", AuthMiddleware(authService, logger))
	protected.GET("/me", userHandlers.Me)
	protected.GET("/users/lookup", userHandlers.Lookup)
	protected.POST("/boards", boardHandlers.CreateBoard)
	protected.GET("/boards", boardHandlers.ListBoards)
	protected.GET("/boards/:id/objects", boardHandlers.ListObjects)
	protected.GET("/boards/:id/activity", boardHandlers.ListActivity)
	protected.PUT("/boards/:id/members", boardHandlers.SetMember)
	protected.DELETE("/boards/:id/members/:userId", boardHandlers.RemoveMember)
	protected.POST("/boards/:id/share", boardHandlers.Share)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
