package models

import "encoding/json"

// PushMessage is the envelope for every frame on the push channel.
// Data stays raw until the type is known.
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PushTypeProgressUpdate is the only envelope type the backend currently
// emits. Anything else is forwarded to consumers as-is.
const PushTypeProgressUpdate = "progress_update"

// ProgressUpdateData is the payload of a progress_update envelope.
type ProgressUpdateData struct {
	JobID      string  `json:"job_id"`
	EventType  string  `json:"event_type"`
	Percentage float64 `json:"percentage"`
	Stage      string  `json:"stage"`
	Message    string  `json:"message,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}
