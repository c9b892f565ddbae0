// It defines the local status API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prathamssaraf/mouse-video-compressor/internal/core"
)

// Server exposes the sync state over HTTP for local tooling and UIs.
type Server struct {
	app *core.App
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{app: app}
}

// Router sets up and returns the main router for the status API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/connection", s.handleGetConnection)
		r.Post("/connection/resume", s.handleResumeConnection)

		r.Get("/progress", s.handleListProgress)
		r.Get("/progress/{namespace}/{entityID}", s.handleGetProgress)
		r.Delete("/progress/{namespace}/{entityID}", s.handleClearProgress)

		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications/mark-all-read", s.handleMarkAllRead)
		r.Post("/notifications/{notificationID}/read", s.handleMarkRead)
		r.Delete("/notifications/{notificationID}", s.handleDismissNotification)

		r.Post("/uploads", s.handleStartUpload)
		r.Post("/uploads/{trackingID}/cancel", s.handleCancelUpload)

		r.Post("/videos/{videoID}/analyze", s.handleStartAnalysis)
		r.Post("/videos/{videoID}/compress", s.handleStartCompression)
		r.Post("/videos/{videoID}/compress/cancel", s.handleCancelCompression)

		r.Post("/reconcile", s.handleReconcile)
	})

	return r
}
