package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/prathamssaraf/mouse-video-compressor/internal/client"
	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
	"github.com/prathamssaraf/mouse-video-compressor/internal/progress"
)

func parseNamespace(raw string) (models.Namespace, bool) {
	switch ns := models.Namespace(raw); ns {
	case models.NamespaceUpload, models.NamespaceAnalysis, models.NamespaceCompression:
		return ns, true
	default:
		return "", false
	}
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"state":    s.app.Conn.State(),
		"attempts": s.app.Conn.Attempts(),
	}
	if err := s.app.Conn.LastError(); err != nil {
		payload["last_error"] = err.Error()
	}
	RespondWithJSON(w, http.StatusOK, payload)
}

func (s *Server) handleResumeConnection(w http.ResponseWriter, r *http.Request) {
	s.app.Session.Resume(r.Context())
	RespondWithJSON(w, http.StatusOK, map[string]string{"state": string(s.app.Conn.State())})
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.Progress.Snapshot())
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	ns, ok := parseNamespace(chi.URLParam(r, "namespace"))
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid namespace")
		return
	}
	entry, ok := s.app.Progress.Get(ns, chi.URLParam(r, "entityID"))
	if !ok {
		RespondWithError(w, http.StatusNotFound, "No progress tracked for this entity")
		return
	}
	RespondWithJSON(w, http.StatusOK, entry)
}

func (s *Server) handleClearProgress(w http.ResponseWriter, r *http.Request) {
	ns, ok := parseNamespace(chi.URLParam(r, "namespace"))
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid namespace")
		return
	}
	if err := s.app.Progress.ClearProgress(ns, chi.URLParam(r, "entityID")); err != nil {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Progress cleared"})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": s.app.Notify.List(),
		"unread_count":  s.app.Notify.UnreadCount(),
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.app.Notify.MarkAsRead(chi.URLParam(r, "notificationID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	s.app.Notify.MarkAllAsRead()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	s.app.Notify.Remove(chi.URLParam(r, "notificationID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path     string            `json:"path"`
		Metadata client.UploadMeta `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Path == "" {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if _, err := os.Stat(payload.Path); err != nil {
		RespondWithError(w, http.StatusBadRequest, "File does not exist: "+payload.Path)
		return
	}
	trackingID := s.app.Session.StartUpload(payload.Path, payload.Metadata)
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"tracking_id": trackingID})
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	s.app.Session.CancelUpload(chi.URLParam(r, "trackingID"))
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Upload cancelled"})
}

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if err := s.app.Session.StartAnalysis(r.Context(), videoID); err != nil {
		if errors.Is(err, progress.ErrJobActive) {
			RespondWithError(w, http.StatusConflict, err.Error())
			return
		}
		RespondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"video_id": videoID})
}

func (s *Server) handleStartCompression(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	var settings models.CompressionSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid compression settings")
		return
	}
	jobID, err := s.app.Session.StartCompression(r.Context(), videoID, settings)
	if err != nil {
		if errors.Is(err, progress.ErrJobActive) {
			RespondWithError(w, http.StatusConflict, err.Error())
			return
		}
		RespondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleCancelCompression(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Session.CancelCompression(r.Context(), chi.URLParam(r, "videoID")); err != nil {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Cancellation requested"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Session.Reconcile(r.Context()); err != nil {
		RespondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Reconciled"})
}
