package models

import "time"

// CompressionSettings mirrors the backend's job settings contract.
type CompressionSettings struct {
	ProfileType           string   `json:"profile_type"` // conservative, balanced, aggressive, custom
	CustomProfileName     string   `json:"custom_profile_name,omitempty"`
	OutputFormat          string   `json:"output_format,omitempty"`
	ROICompressionEnabled bool     `json:"roi_compression_enabled"`
	PreserveMetadata      bool     `json:"preserve_metadata"`
	GeneratePreview       bool     `json:"generate_preview"`
	MaxBitrateMbps        *float64 `json:"max_bitrate_mbps,omitempty"`
	TargetFileSizeMB      *float64 `json:"target_file_size_mb,omitempty"`
}

// JobProgressInfo is the nested progress object in job listing responses.
type JobProgressInfo struct {
	Percentage   float64 `json:"percentage"`
	CurrentStage string  `json:"current_stage"`
	Message      string  `json:"message"`
}

// ErrorInfo describes a failed job in listing responses.
type ErrorInfo struct {
	ErrorMessage string `json:"error_message"`
	FailedStage  string `json:"failed_stage,omitempty"`
}

// JobSummary is one item from the backend's job and queue listing endpoints.
type JobSummary struct {
	JobID            string               `json:"job_id"`
	InputVideoID     string               `json:"input_video_id,omitempty"`
	Status           string               `json:"status"`
	Progress         JobProgressInfo      `json:"progress"`
	CreatedAt        *time.Time           `json:"created_at,omitempty"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
	Settings         *CompressionSettings `json:"settings,omitempty"`
	OriginalSizeMB   float64              `json:"original_size_mb,omitempty"`
	CompressedSizeMB float64              `json:"compressed_size_mb,omitempty"`
	ErrorInfo        *ErrorInfo           `json:"error_info,omitempty"`
}

// QueueStatus is the backend's aggregate queue view.
type QueueStatus struct {
	TotalJobs   int `json:"total_jobs"`
	PendingJobs int `json:"pending_jobs"`
	QueuedJobs  int `json:"queued_jobs"`
	RunningJobs int `json:"running_jobs"`
}
