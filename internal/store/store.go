// To handle all database interactions. This is our
// data access layer, keeping SQL queries separate from business logic.

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
)

// The notification log is persisted as a single JSON document under this key,
// rewritten in full on every mutation and read once at startup.
const notificationsKey = "notifications"

// Store provides all functions to interact with the database.
type Store struct {
	db *sql.DB
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SetState writes a value under a key in the app_state table, replacing any
// previous value.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	return err
}

// GetState reads the value stored under a key. A missing key is not an
// error; it returns ("", false, nil).
func (s *Store) GetState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SaveNotifications persists the full notification list as one JSON document.
func (s *Store) SaveNotifications(list []*models.Notification) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}
	return s.SetState(notificationsKey, string(data))
}

// LoadNotifications rehydrates the notification list saved by a previous
// session. A missing key yields an empty list.
func (s *Store) LoadNotifications() ([]*models.Notification, error) {
	value, ok, err := s.GetState(notificationsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var list []*models.Notification
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notifications: %w", err)
	}
	return list, nil
}
