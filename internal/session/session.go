// Package session wires the backend client, the push channel, the progress
// store and the notification center into the operations the rest of the
// application calls.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/prathamssaraf/mouse-video-compressor/internal/client"
	"github.com/prathamssaraf/mouse-video-compressor/internal/conn"
	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
	"github.com/prathamssaraf/mouse-video-compressor/internal/notify"
	"github.com/prathamssaraf/mouse-video-compressor/internal/progress"
)

// Backend is the subset of the REST client the session uses. Tests swap in
// a fake.
type Backend interface {
	UploadVideo(ctx context.Context, filePath string, meta client.UploadMeta, onProgress client.ProgressFunc) (string, error)
	StartAnalysis(ctx context.Context, videoID string) error
	StartCompression(ctx context.Context, videoID string, settings models.CompressionSettings) (string, error)
	CancelJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context) ([]models.JobSummary, error)
}

type uploadHandle struct {
	cancel   context.CancelFunc
	filename string
}

// Service coordinates uploads, job starts, push routing and reconciliation.
type Service struct {
	backend  Backend
	progress *progress.Store
	notify   *notify.Center
	conn     *conn.Manager

	mu      sync.Mutex
	uploads map[string]*uploadHandle
	wg      sync.WaitGroup
}

// New wires the service into its collaborators. The connection manager's
// handlers and the progress store's transition observer are claimed here;
// nothing else may set them.
func New(backend Backend, ps *progress.Store, nc *notify.Center, cm *conn.Manager) *Service {
	s := &Service{
		backend:  backend,
		progress: ps,
		notify:   nc,
		conn:     cm,
		uploads:  make(map[string]*uploadHandle),
	}

	cm.SetHandlers(conn.Handlers{
		OnMessage: s.handlePush,
		OnClose: func(code int, reason string) {
			log.Printf("Push channel closed (code %d): %s", code, reason)
		},
		OnReconnectExhausted: func(err error) {
			nc.Add(
				fmt.Sprintf("Lost connection to the compression server: %v. Job updates are paused until the connection is restored.", err),
				models.SeverityError,
				notify.Options{Persistent: true},
			)
		},
	})
	ps.OnTransition(s.handleTransition)

	return s
}

// Start opens the push channel.
func (s *Service) Start() {
	s.conn.Connect()
}

// Resume re-opens the push channel after the application regains focus and
// immediately reconciles any progress missed while away.
func (s *Service) Resume(ctx context.Context) {
	s.conn.Resume()
	if err := s.Reconcile(ctx); err != nil {
		log.Printf("Reconcile on resume failed: %v", err)
	}
}

// Close cancels in-flight uploads and shuts down the push channel. The
// progress store and notification center are owned by the caller.
func (s *Service) Close() {
	s.mu.Lock()
	for _, h := range s.uploads {
		h.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.conn.Close()
}

// StartUpload begins an asynchronous upload and returns its tracking id.
// Progress, completion and failure all land in the progress store.
func (s *Service) StartUpload(path string, meta client.UploadMeta) string {
	filename := filepath.Base(path)
	trackingID := s.progress.BeginUpload(filename)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.uploads[trackingID] = &uploadHandle{cancel: cancel, filename: filename}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runUpload(ctx, trackingID, path, filename, meta)
	return trackingID
}

func (s *Service) runUpload(ctx context.Context, trackingID, path, filename string, meta client.UploadMeta) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.uploads, trackingID)
		s.mu.Unlock()
	}()

	videoID, err := s.backend.UploadVideo(ctx, path, meta, func(sent, total int64) {
		if total > 0 {
			s.progress.UpdateUploadProgress(trackingID, float64(sent)/float64(total)*100)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation settles the entry; a late transfer error must
			// not overwrite it.
			s.progress.CancelUpload(trackingID)
			return
		}
		s.progress.FailUpload(trackingID, err.Error())
		s.notify.JobFailed("Upload of "+filename, err.Error())
		return
	}

	s.progress.CompleteUpload(trackingID, videoID)
	s.notify.UploadSucceeded(filename, videoID)
}

// CancelUpload stops an in-flight upload. Unknown or finished tracking ids
// are a no-op.
func (s *Service) CancelUpload(trackingID string) {
	s.mu.Lock()
	h, ok := s.uploads[trackingID]
	s.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()
	s.progress.CancelUpload(trackingID)
}

// StartAnalysis asks the backend to run motion analysis for the video. The
// backend reports analysis progress under the video id itself.
func (s *Service) StartAnalysis(ctx context.Context, videoID string) error {
	if err := s.progress.BeginAnalysis(videoID); err != nil {
		return err
	}
	s.progress.AttachJob(models.NamespaceAnalysis, videoID, videoID)
	if err := s.backend.StartAnalysis(ctx, videoID); err != nil {
		s.progress.Fail(models.NamespaceAnalysis, videoID, err.Error())
		return err
	}
	return nil
}

// StartCompression starts a compression job for the video and returns the
// server job id. A second compression for the same video while one is
// running returns progress.ErrJobActive.
func (s *Service) StartCompression(ctx context.Context, videoID string, settings models.CompressionSettings) (string, error) {
	if err := s.progress.BeginCompression(videoID); err != nil {
		return "", err
	}
	jobID, err := s.backend.StartCompression(ctx, videoID, settings)
	if err != nil {
		s.progress.Fail(models.NamespaceCompression, videoID, err.Error())
		return "", err
	}
	s.progress.AttachJob(models.NamespaceCompression, videoID, jobID)
	return jobID, nil
}

// CancelCompression asks the backend to cancel the job. The entry stays
// running until the cancelled push event arrives; the backend is the
// authority on whether cancellation won the race.
func (s *Service) CancelCompression(ctx context.Context, videoID string) error {
	entry, ok := s.progress.Get(models.NamespaceCompression, videoID)
	if !ok || entry.ServerJobID == "" {
		return fmt.Errorf("no compression job tracked for video %s", videoID)
	}
	return s.backend.CancelJob(ctx, entry.ServerJobID)
}

// Reconcile pulls the backend's job listing and replays every job as a
// synthetic push event, catching the store up after a disconnect. Jobs the
// correlator does not know are dropped by the store as usual.
func (s *Service) Reconcile(ctx context.Context) error {
	jobs, err := s.backend.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("could not list backend jobs: %w", err)
	}
	for _, job := range jobs {
		s.progress.ApplyServerEvent(reconcileEvent(job))
	}
	return nil
}

// reconcileEvent maps a job listing item onto the push event shape.
func reconcileEvent(job models.JobSummary) models.ServerEvent {
	ev := models.ServerEvent{
		JobID:      job.JobID,
		Percentage: job.Progress.Percentage,
		Stage:      job.Progress.CurrentStage,
		Message:    job.Progress.Message,
	}
	switch job.Status {
	case "pending", "queued":
		ev.EventType = models.EventQueued
	case "completed":
		ev.EventType = models.EventCompleted
	case "failed", "error":
		ev.EventType = models.EventError
		if job.ErrorInfo != nil {
			ev.Message = job.ErrorInfo.ErrorMessage
		}
	case "cancelled":
		ev.EventType = models.EventCancelled
	default:
		ev.EventType = models.EventProgress
	}
	return ev
}

// handlePush routes decoded push frames. Only progress_update envelopes are
// understood; everything else is logged and dropped here, at the edge.
func (s *Service) handlePush(msg models.PushMessage) {
	switch msg.Type {
	case models.PushTypeProgressUpdate:
		var data models.ProgressUpdateData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			log.Printf("Discarding malformed progress_update payload: %v", err)
			return
		}
		s.progress.ApplyServerEvent(models.ServerEvent{
			JobID:      data.JobID,
			EventType:  data.EventType,
			Percentage: data.Percentage,
			Stage:      data.Stage,
			Message:    data.Message,
		})
	default:
		log.Printf("Ignoring push frame of type %q", msg.Type)
	}
}

// handleTransition turns server-driven terminal transitions into user
// notifications. Upload notifications are emitted by runUpload, which knows
// the filename; everything here concerns analysis and compression entries.
func (s *Service) handleTransition(entry models.ProgressEntry, previous models.Status) {
	if !entry.Status.IsTerminal() || previous.IsTerminal() {
		return
	}
	if entry.Namespace == models.NamespaceUpload {
		return
	}

	switch entry.Status {
	case models.StatusCompleted:
		if entry.Namespace == models.NamespaceAnalysis {
			s.notify.AnalysisComplete(entry.EntityID)
		} else {
			s.notify.CompressionComplete(entry.EntityID)
		}
	case models.StatusError:
		what := "Motion analysis"
		if entry.Namespace == models.NamespaceCompression {
			what = "Compression"
		}
		s.notify.JobFailed(what, entry.ErrorMessage)
	case models.StatusCancelled:
		s.notify.Add(
			fmt.Sprintf("Job for video %s was cancelled.", entry.EntityID),
			models.SeverityInfo,
			notify.Options{},
		)
	}
}
