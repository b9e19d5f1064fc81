// routes.go - Route registration helpers
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	// Context bounds background upload batches
	Context   context.Context
	Documents DocumentFetcher
	Previews  PreviewLoader
	Sessions  SessionManager
	Queue     UploadQueue
	Stager    Stager
	Logger    *zap.Logger
	Version   string

	MaxTextBody             int64
	WebSocketMaxMessageSize int64
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Preview   PreviewHandler
	Session   SessionHandler
	Upload    UploadHandler
	WebSocket UploadStreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Queue),
		Preview:   NewPreviewHandler(deps.Documents, deps.Previews, deps.MaxTextBody),
		Session:   NewSessionHandler(deps.Sessions, deps.Documents),
		Upload:    NewUploadHandler(deps.Context, deps.Queue, deps.Stager, deps.Logger),
		WebSocket: NewWebSocketHandler(deps.Queue, deps.WebSocketMaxMessageSize, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)

	// Stateless previews
	api.GET("/preview/classify", handlers.Preview.HandleClassify)
	api.POST("/preview/markdown", handlers.Preview.HandleRenderMarkdown)
	api.POST("/preview/csv", handlers.Preview.HandleParseCSV)
	api.GET("/documents/:id/preview", handlers.Preview.HandleDocumentPreview)

	// Preview sessions
	previews := api.Group("/previews")
	previews.POST("", handlers.Session.HandleCreateSession)
	previews.GET("/:id", handlers.Session.HandleGetSession)
	previews.PUT("/:id", handlers.Session.HandleOpenDocument)
	previews.POST("/:id/retry", handlers.Session.HandleRetry)
	previews.POST("/:id/keepalive", handlers.Session.HandleSessionKeepAlive)
	previews.DELETE("/:id", handlers.Session.HandleCloseSession)

	// Upload queue
	uploads := api.Group("/uploads")
	uploads.POST("", handlers.Upload.HandleUploadFiles)
	uploads.GET("", handlers.Upload.HandleListUploads)
	uploads.DELETE("", handlers.Upload.HandleClearAll)
	uploads.POST("/chunk", handlers.Upload.HandleUploadChunk)
	uploads.POST("/complete", handlers.Upload.HandleCompleteUpload)
	uploads.GET("/conflict", handlers.Upload.HandleGetConflict)
	uploads.POST("/conflict", handlers.Upload.HandleResolveConflict)
	uploads.POST("/clear-completed", handlers.Upload.HandleClearCompleted)
	uploads.DELETE("/:id", handlers.Upload.HandleRemoveUpload)

	api.GET("/ws/uploads", handlers.WebSocket.HandleWebSocket)
}

// SetupMiddleware installs the error handler. The rest of the middleware
// stack is configured by the server command.
func SetupMiddleware(e *echo.Echo, logger *zap.Logger, debug bool) {
	e.HTTPErrorHandler = NewErrorHandler(logger, debug)
}
