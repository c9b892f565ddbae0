package models

import "time"

// Namespace identifies an independent progress domain. A single video entity
// can have one entry per namespace at a time.
type Namespace string

const (
	NamespaceUpload      Namespace = "upload"
	NamespaceAnalysis    Namespace = "analysis"
	NamespaceCompression Namespace = "compression"
)

// Status is the lifecycle state of a ProgressEntry.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusStarting   Status = "starting"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusRunning    Status = "running"
	StatusQueued     Status = "queued"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is absorbing. A terminal entry is only removed
// by an explicit clear, never by a later event.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// ProgressEntry tracks one long-running operation for one entity in one
// namespace.
type ProgressEntry struct {
	Namespace    Namespace `json:"namespace"`
	EntityID     string    `json:"entity_id"`
	Status       Status    `json:"status"`
	Percentage   float64   `json:"percentage"` // 0-100
	Stage        string    `json:"stage,omitempty"`
	ServerJobID  string    `json:"server_job_id,omitempty"`
	VideoID      string    `json:"video_id,omitempty"` // set when an upload is bound to a backend video
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Processing stages reported by the backend for analysis and compression jobs.
const (
	StageInitializing       = "initializing"
	StageMotionAnalysis     = "motion_analysis"
	StageSegmentCompression = "segment_compression"
	StageConcatenation      = "concatenation"
	StageFinalizing         = "finalizing"
	StageCleanup            = "cleanup"
)

// Event types carried in progress_update push messages. EventQueued is
// never pushed; reconciliation synthesizes it from pending/queued job
// listings.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventError     = "error"
	EventCancelled = "cancelled"
	EventQueued    = "queued"
)

// ServerEvent is a normalized push event after envelope decoding. Reconciler
// polls produce the same shape so the store has a single apply path.
type ServerEvent struct {
	JobID      string  `json:"job_id"`
	EventType  string  `json:"event_type"`
	Percentage float64 `json:"percentage"`
	Stage      string  `json:"stage"`
	Message    string  `json:"message,omitempty"`
}
