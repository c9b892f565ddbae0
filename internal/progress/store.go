// This file implements the progress store: one state machine per tracked
// entity per namespace, fed by local operations and server push events.
// Every mutation runs on a single dispatch loop so there is exactly one
// writer and no locks; callers block until their task has been applied.

package progress

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
)

var (
	// ErrJobActive is returned when a namespace already has a non-terminal
	// entry for the entity. Finish or cancel the running job first.
	ErrJobActive = errors.New("a job is already active for this entity")
	// ErrNotTerminal is returned by ClearProgress for entries still running.
	ErrNotTerminal = errors.New("entry has not reached a terminal status")
)

// DefaultCorrelationGrace is how long a job id stays resolvable after its
// entry reaches a terminal status, so late or duplicate push events are
// still recognized (and ignored) instead of logged as unmapped.
const DefaultCorrelationGrace = 2 * time.Minute

// TransitionFunc observes entry changes. It is called from the dispatch
// loop and must not call back into the store.
type TransitionFunc func(entry models.ProgressEntry, previous models.Status)

// Store tracks progress entries across the upload, analysis and compression
// namespaces and resolves server events through the job correlator.
type Store struct {
	tasks chan func()
	quit  chan struct{}
	once  sync.Once

	// Everything below is owned by the run loop.
	entries     map[entryKey]*models.ProgressEntry
	correlator  *correlator
	graceTimers map[string]*time.Timer
	grace       time.Duration
	unmapped    int
	onTransit   TransitionFunc
}

// NewStore creates a store and starts its dispatch loop.
func NewStore() *Store {
	s := &Store{
		tasks:       make(chan func(), 64),
		quit:        make(chan struct{}),
		entries:     make(map[entryKey]*models.ProgressEntry),
		correlator:  newCorrelator(),
		graceTimers: make(map[string]*time.Timer),
		grace:       DefaultCorrelationGrace,
	}
	go s.run()
	return s
}

// SetCorrelationGrace overrides how long terminal job ids stay resolvable.
func (s *Store) SetCorrelationGrace(d time.Duration) {
	s.do(func() { s.grace = d })
}

// OnTransition registers the observer for entry status changes.
func (s *Store) OnTransition(fn TransitionFunc) {
	s.do(func() { s.onTransit = fn })
}

func (s *Store) run() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			// Drain tasks already queued so callers do not hang.
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the dispatch loop and waits for it to complete. After Close
// it returns without running fn.
func (s *Store) do(fn func()) {
	select {
	case <-s.quit:
		return
	default:
	}
	done := make(chan struct{})
	select {
	case s.tasks <- func() { fn(); close(done) }:
		<-done
	case <-s.quit:
	}
}

// Close stops the dispatch loop and cancels all correlation grace timers.
func (s *Store) Close() {
	s.do(func() {
		for jobID, timer := range s.graceTimers {
			timer.Stop()
			delete(s.graceTimers, jobID)
		}
	})
	s.once.Do(func() { close(s.quit) })
}

// notify must run on the loop.
func (s *Store) notify(entry *models.ProgressEntry, prev models.Status) {
	if s.onTransit != nil {
		s.onTransit(*entry, prev)
	}
}

// BeginUpload creates an upload entry and returns its tracking id. Uploads
// are client-initiated, so the tracking id doubles as the entity id until
// the backend assigns a video id.
func (s *Store) BeginUpload(filename string) string {
	trackingID := uuid.NewString()
	s.do(func() {
		key := entryKey{models.NamespaceUpload, trackingID}
		entry := &models.ProgressEntry{
			Namespace: models.NamespaceUpload,
			EntityID:  trackingID,
			Status:    models.StatusUploading,
			Stage:     filename,
			UpdatedAt: time.Now(),
		}
		s.entries[key] = entry
		s.notify(entry, models.StatusIdle)
	})
	return trackingID
}

// UpdateUploadProgress records transfer progress. The percentage is
// monotonic: a lower value than the stored one is clamped away.
func (s *Store) UpdateUploadProgress(trackingID string, percent float64) {
	s.do(func() {
		entry, ok := s.entries[entryKey{models.NamespaceUpload, trackingID}]
		if !ok || entry.Status != models.StatusUploading {
			return
		}
		if percent > entry.Percentage {
			entry.Percentage = clampPercent(percent)
		}
		entry.UpdatedAt = time.Now()
	})
}

// CompleteUpload marks the upload done and binds it to the backend-assigned
// video id. A late completion after cancel or failure is ignored: terminal
// statuses are absorbing.
func (s *Store) CompleteUpload(trackingID, videoID string) {
	s.do(func() {
		entry, ok := s.entries[entryKey{models.NamespaceUpload, trackingID}]
		if !ok || entry.Status.IsTerminal() {
			return
		}
		prev := entry.Status
		entry.Status = models.StatusCompleted
		entry.Percentage = 100
		entry.VideoID = videoID
		entry.UpdatedAt = time.Now()
		s.notify(entry, prev)
	})
}

// FailUpload marks the upload failed.
func (s *Store) FailUpload(trackingID string, errMsg string) {
	s.terminalUpload(trackingID, models.StatusError, errMsg)
}

// CancelUpload marks the upload cancelled. The transfer itself is stopped
// cooperatively by the caller; this only settles the entry.
func (s *Store) CancelUpload(trackingID string) {
	s.terminalUpload(trackingID, models.StatusCancelled, "")
}

func (s *Store) terminalUpload(trackingID string, status models.Status, errMsg string) {
	s.do(func() {
		entry, ok := s.entries[entryKey{models.NamespaceUpload, trackingID}]
		if !ok || entry.Status.IsTerminal() {
			return
		}
		prev := entry.Status
		entry.Status = status
		entry.ErrorMessage = errMsg
		entry.UpdatedAt = time.Now()
		s.notify(entry, prev)
	})
}

// Begin creates a server-job entry (analysis or compression) in status
// starting. While a non-terminal entry exists for the same (namespace,
// entity) it returns ErrJobActive; a terminal leftover is superseded.
func (s *Store) Begin(ns models.Namespace, entityID string) error {
	var err error
	s.do(func() {
		key := entryKey{ns, entityID}
		if existing, ok := s.entries[key]; ok && !existing.Status.IsTerminal() {
			err = ErrJobActive
			return
		}
		s.correlator.releaseKey(key)
		entry := &models.ProgressEntry{
			Namespace: ns,
			EntityID:  entityID,
			Status:    models.StatusStarting,
			Stage:     models.StageInitializing,
			UpdatedAt: time.Now(),
		}
		s.entries[key] = entry
		s.notify(entry, models.StatusIdle)
	})
	return err
}

// BeginAnalysis creates a motion-analysis entry for the entity.
func (s *Store) BeginAnalysis(entityID string) error {
	return s.Begin(models.NamespaceAnalysis, entityID)
}

// BeginCompression creates a compression entry for the entity. Only one
// in-flight compression per entity is allowed.
func (s *Store) BeginCompression(entityID string) error {
	return s.Begin(models.NamespaceCompression, entityID)
}

// Fail settles a server-job entry locally, for start requests that never
// produced a job id. Terminal entries are left alone.
func (s *Store) Fail(ns models.Namespace, entityID, errMsg string) {
	s.do(func() {
		entry, ok := s.entries[entryKey{ns, entityID}]
		if !ok || entry.Status.IsTerminal() {
			return
		}
		prev := entry.Status
		entry.Status = models.StatusError
		entry.ErrorMessage = errMsg
		entry.UpdatedAt = time.Now()
		s.notify(entry, prev)
	})
}

// AttachJob registers the server-assigned job id for an entry created by
// Begin. Push events for the job resolve to this entry from now on.
func (s *Store) AttachJob(ns models.Namespace, entityID, jobID string) {
	s.do(func() {
		key := entryKey{ns, entityID}
		entry, ok := s.entries[key]
		if !ok {
			return
		}
		entry.ServerJobID = jobID
		entry.UpdatedAt = time.Now()
		s.correlator.register(jobID, key)
	})
}

// ApplyServerEvent resolves a push event through the correlator and mutates
// the matching entry. Events for unknown job ids are counted and dropped;
// that is expected for jobs from a prior session. Events arriving after a
// terminal status are ignored.
func (s *Store) ApplyServerEvent(ev models.ServerEvent) {
	s.do(func() {
		key, ok := s.correlator.resolve(ev.JobID)
		if !ok {
			s.unmapped++
			log.Printf("Dropping push event for unmapped job %s (%s)", ev.JobID, ev.EventType)
			return
		}
		entry, ok := s.entries[key]
		if !ok || entry.Status.IsTerminal() {
			return
		}

		prev := entry.Status
		switch ev.EventType {
		case models.EventQueued:
			// A stale listing must not demote an entry the push stream
			// has already moved to running.
			if prev != models.StatusStarting && prev != models.StatusQueued {
				return
			}
			entry.Status = models.StatusQueued
		case models.EventProgress:
			entry.Status = models.StatusRunning
			// Clamp regressions: the backend occasionally re-sends an
			// earlier percentage after restarting a stage.
			if ev.Percentage > entry.Percentage {
				entry.Percentage = clampPercent(ev.Percentage)
			}
			if ev.Stage != "" {
				entry.Stage = ev.Stage
			}
		case models.EventCompleted:
			entry.Status = models.StatusCompleted
			entry.Percentage = 100
			if ev.Stage != "" {
				entry.Stage = ev.Stage
			}
		case models.EventError:
			entry.Status = models.StatusError
			entry.ErrorMessage = ev.Message
		case models.EventCancelled:
			entry.Status = models.StatusCancelled
		default:
			log.Printf("Ignoring push event with unknown type %q for job %s", ev.EventType, ev.JobID)
			return
		}
		entry.UpdatedAt = time.Now()

		if entry.Status.IsTerminal() {
			s.scheduleRelease(ev.JobID)
		}
		if entry.Status != prev || ev.EventType == models.EventProgress {
			s.notify(entry, prev)
		}
	})
}

// scheduleRelease drops the job id mapping after the grace period. Must run
// on the loop.
func (s *Store) scheduleRelease(jobID string) {
	if _, pending := s.graceTimers[jobID]; pending {
		return
	}
	s.graceTimers[jobID] = time.AfterFunc(s.grace, func() {
		s.do(func() {
			delete(s.graceTimers, jobID)
			s.correlator.releaseJob(jobID)
		})
	})
}

// ClearProgress removes an entry. Only terminal entries can be cleared; a
// missing entry is a no-op.
func (s *Store) ClearProgress(ns models.Namespace, entityID string) error {
	var err error
	s.do(func() {
		key := entryKey{ns, entityID}
		entry, ok := s.entries[key]
		if !ok {
			return
		}
		if !entry.Status.IsTerminal() {
			err = ErrNotTerminal
			return
		}
		if entry.ServerJobID != "" {
			if timer, ok := s.graceTimers[entry.ServerJobID]; ok {
				timer.Stop()
				delete(s.graceTimers, entry.ServerJobID)
			}
		}
		s.correlator.releaseKey(key)
		delete(s.entries, key)
	})
	return err
}

// Get returns a copy of the entry for (namespace, entity).
func (s *Store) Get(ns models.Namespace, entityID string) (models.ProgressEntry, bool) {
	var entry models.ProgressEntry
	var ok bool
	s.do(func() {
		e, found := s.entries[entryKey{ns, entityID}]
		if found {
			entry = *e
			ok = true
		}
	})
	return entry, ok
}

// Snapshot returns copies of all entries, ordered by namespace then entity.
func (s *Store) Snapshot() []models.ProgressEntry {
	var out []models.ProgressEntry
	s.do(func() {
		for _, e := range s.entries {
			out = append(out, *e)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// UnmappedEvents returns how many push events were dropped because their
// job id had no correlator entry.
func (s *Store) UnmappedEvents() int {
	var n int
	s.do(func() { n = s.unmapped })
	return n
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
