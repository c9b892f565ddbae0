// This file implements a file system watcher for the video drop directory.
// New recordings copied into it are uploaded automatically once the file
// stops growing.

package watcher

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prathamssaraf/mouse-video-compressor/internal/client"
)

// videoExtensions are the recording formats the backend accepts.
var videoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// Uploader starts an asynchronous upload, the way the session service does.
type Uploader interface {
	StartUpload(path string, meta client.UploadMeta) string
}

// Service watches the drop directory and uploads each new video once writes
// to it have settled.
type Service struct {
	dir         string
	uploader    Uploader
	autoAnalyze bool
	watcher     *fsnotify.Watcher

	mu          sync.Mutex
	settleTimer map[string]*time.Timer
	settleDelay time.Duration
	stopChan    chan struct{}
}

// NewService creates a watcher for dir. Uploads go through uploader; when
// autoAnalyze is set the backend runs motion analysis right after upload.
func NewService(dir string, uploader Uploader, autoAnalyze bool) *Service {
	return &Service{
		dir:         dir,
		uploader:    uploader,
		autoAnalyze: autoAnalyze,
		settleTimer: make(map[string]*time.Timer),
		// Recordings are copied in over several seconds; wait for the
		// last write before uploading.
		settleDelay: 2 * time.Second,
		stopChan:    make(chan struct{}),
	}
}

// SetSettleDelay overrides the write-settle delay (used by tests).
func (s *Service) SetSettleDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleDelay = d
}

// Start begins watching the drop directory.
func (s *Service) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	log.Printf("Watching drop directory: %s", s.dir)
	go s.processEvents()
	return nil
}

// Stop stops the watcher and cancels pending settle timers.
func (s *Service) Stop() error {
	close(s.stopChan)
	s.mu.Lock()
	for path, timer := range s.settleTimer {
		timer.Stop()
		delete(s.settleTimer, path)
	}
	s.mu.Unlock()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Service) processEvents() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Drop directory watcher error: %v", err)

		case <-s.stopChan:
			return
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	// Chmod fires when files are merely opened or browsed.
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Op&fsnotify.Remove == fsnotify.Remove || event.Op&fsnotify.Rename == fsnotify.Rename {
		// The file went away before it settled; forget it.
		s.mu.Lock()
		if timer, ok := s.settleTimer[event.Name]; ok {
			timer.Stop()
			delete(s.settleTimer, event.Name)
		}
		s.mu.Unlock()
		return
	}

	if !isVideoFile(event.Name) {
		return
	}

	hasRelevantOp := (event.Op&fsnotify.Create == fsnotify.Create) ||
		(event.Op&fsnotify.Write == fsnotify.Write)
	if !hasRelevantOp {
		return
	}

	// Every write resets the settle timer; the upload fires once the file
	// has been quiet for the full delay.
	s.mu.Lock()
	if timer, ok := s.settleTimer[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	s.settleTimer[path] = time.AfterFunc(s.settleDelay, func() {
		s.uploadSettled(path)
	})
	s.mu.Unlock()
}

func (s *Service) uploadSettled(path string) {
	s.mu.Lock()
	if _, ok := s.settleTimer[path]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.settleTimer, path)
	s.mu.Unlock()

	log.Printf("New recording settled, uploading: %s", path)
	s.uploader.StartUpload(path, client.UploadMeta{AutoAnalyze: s.autoAnalyze})
}

func isVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}
