// This file implements the notification center: a capped, insertion-ordered
// log of user-facing events with auto-dismiss timers, read tracking, and
// full-list persistence on every mutation.

package notify

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
)

// MaxNotifications caps the log; the oldest entries are evicted first.
const MaxNotifications = 100

// Storage persists the notification list between sessions. Failures are
// logged and never block in-memory operation.
type Storage interface {
	SaveNotifications(list []*models.Notification) error
	LoadNotifications() ([]*models.Notification, error)
}

// Options tune a single notification.
type Options struct {
	Persistent bool
	Action     *models.NotificationAction
}

// Center owns the notification log. All mutation goes through its methods.
type Center struct {
	mu      sync.Mutex
	storage Storage
	list    []*models.Notification // newest first
	timers  map[string]*time.Timer
	closed  bool

	errorDismiss   time.Duration
	defaultDismiss time.Duration
}

// NewCenter creates a center and rehydrates the log saved by a previous
// session. A storage read failure starts with an empty log.
func NewCenter(storage Storage) *Center {
	c := &Center{
		storage:        storage,
		timers:         make(map[string]*time.Timer),
		errorDismiss:   8 * time.Second,
		defaultDismiss: 5 * time.Second,
	}
	if storage != nil {
		list, err := storage.LoadNotifications()
		if err != nil {
			log.Printf("Could not load persisted notifications: %v", err)
		} else {
			c.list = list
		}
	}
	return c
}

// SetAutoDismiss overrides the dismiss delays (used by tests).
func (c *Center) SetAutoDismiss(errorDelay, defaultDelay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorDismiss = errorDelay
	c.defaultDismiss = defaultDelay
}

// Add inserts a notification at the head of the log, evicting past the cap,
// and schedules auto-dismiss unless the notification is persistent. It
// returns the assigned id.
func (c *Center) Add(message string, severity models.Severity, opts Options) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ""
	}

	n := &models.Notification{
		ID:         uuid.NewString(),
		Message:    message,
		Severity:   severity,
		CreatedAt:  time.Now(),
		Persistent: opts.Persistent,
		Action:     opts.Action,
	}
	c.list = append([]*models.Notification{n}, c.list...)

	// Evict the oldest entries past the cap, cancelling their timers.
	for len(c.list) > MaxNotifications {
		evicted := c.list[len(c.list)-1]
		c.list = c.list[:len(c.list)-1]
		c.cancelTimer(evicted.ID)
	}

	if !n.Persistent {
		delay := c.defaultDismiss
		if severity == models.SeverityError {
			delay = c.errorDismiss
		}
		id := n.ID
		c.timers[id] = time.AfterFunc(delay, func() {
			c.Remove(id)
		})
	}

	c.persist()
	return n.ID
}

// Remove deletes a notification and cancels its pending dismiss timer.
// Removing an id twice (user removal racing the timer) is harmless.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimer(id)

	for i, n := range c.list {
		if n.ID == id {
			c.list = append(c.list[:i], c.list[i+1:]...)
			c.persist()
			return
		}
	}
}

// MarkAsRead flips the read flag without touching order or timers.
func (c *Center) MarkAsRead(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.list {
		if n.ID == id {
			if !n.Read {
				n.Read = true
				c.persist()
			}
			return
		}
	}
}

// MarkAllAsRead flips every read flag.
func (c *Center) MarkAllAsRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for _, n := range c.list {
		if !n.Read {
			n.Read = true
			changed = true
		}
	}
	if changed {
		c.persist()
	}
}

// List returns a copy of the log, newest first.
func (c *Center) List() []*models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Notification, len(c.list))
	for i, n := range c.list {
		copied := *n
		out[i] = &copied
	}
	return out
}

// UnreadCount returns how many notifications are unread.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.list {
		if !n.Read {
			count++
		}
	}
	return count
}

// Close cancels every outstanding dismiss timer. The log stays persisted.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
}

// cancelTimer must be called with the lock held.
func (c *Center) cancelTimer(id string) {
	if timer, ok := c.timers[id]; ok {
		timer.Stop()
		delete(c.timers, id)
	}
}

// persist writes the full list to storage. Must be called with the lock
// held. Failures are logged; in-memory state stays authoritative.
func (c *Center) persist() {
	if c.storage == nil {
		return
	}
	if err := c.storage.SaveNotifications(c.list); err != nil {
		log.Printf("Could not persist notifications: %v", err)
	}
}

// --- Convenience constructors ---

// UploadSucceeded records a successful upload with a link to the new video.
func (c *Center) UploadSucceeded(filename, videoID string) string {
	return c.Add(
		fmt.Sprintf("Upload of %s finished", filename),
		models.SeveritySuccess,
		Options{Action: &models.NotificationAction{Label: "View video", Target: "video:" + videoID}},
	)
}

// AnalysisComplete records a finished motion analysis.
func (c *Center) AnalysisComplete(videoID string) string {
	return c.Add(
		"Motion analysis complete",
		models.SeveritySuccess,
		Options{Action: &models.NotificationAction{Label: "View results", Target: "analysis:" + videoID}},
	)
}

// CompressionComplete records a finished compression job.
func (c *Center) CompressionComplete(videoID string) string {
	return c.Add(
		"Compression complete",
		models.SeveritySuccess,
		Options{
			Persistent: true,
			Action:     &models.NotificationAction{Label: "Download", Target: "video:" + videoID},
		},
	)
}

// JobFailed records a failed job. Failures stay until dismissed.
func (c *Center) JobFailed(what, reason string) string {
	msg := what + " failed"
	if reason != "" {
		msg = fmt.Sprintf("%s failed: %s", what, reason)
	}
	return c.Add(msg, models.SeverityError, Options{Persistent: true})
}
