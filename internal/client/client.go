// HTTP client for the compression backend. All long-running work happens
// server-side; this client only starts jobs, cancels them, and reads the
// job/queue listings used for reconciliation.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the response class is worth retrying:
// rate limiting and server errors are, other client errors are not.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the compression backend's REST API.
type Client struct {
	httpClient   *http.Client
	uploadClient *http.Client
	baseURL      string
	maxRetries   int
	retryBase    time.Duration
}

// New creates a client for the given base URL, e.g. "http://localhost:8000".
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Uploads stream for as long as the recording takes, so this
		// client carries no overall deadline. Connection setup is still
		// bounded; only the caller's ctx can abort a running transfer.
		// The backend replies after consuming the whole body, so a
		// response header timeout would fire mid-transfer too.
		uploadClient: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: 3,
		retryBase:  500 * time.Millisecond,
	}
}

// SetRetryPolicy overrides the retry count and backoff base (used by tests).
func (c *Client) SetRetryPolicy(maxRetries int, base time.Duration) {
	c.maxRetries = maxRetries
	c.retryBase = base
}

// SetRequestTimeout overrides the per-request deadline of the JSON
// endpoints (used by tests). Uploads are unaffected.
func (c *Client) SetRequestTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// doJSON issues a request built by build, retrying rate-limit, server-error
// and network failures with exponential backoff. A fresh request is built
// per attempt so bodies can be re-read.
func (c *Client) doJSON(ctx context.Context, build func() (*http.Request, error), out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase * time.Duration(1<<(attempt-1))
			log.Printf("Retrying backend request in %s (attempt %d/%d): %v", delay, attempt, c.maxRetries, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := build()
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err // network failure, retryable
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			if !statusErr.Retryable() {
				return statusErr
			}
			lastErr = statusErr
			continue
		}

		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("could not decode backend response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, payload interface{}) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}
}

// UploadMeta is the optional metadata attached to an upload.
type UploadMeta struct {
	Description  string   `json:"description,omitempty"`
	ExperimentID string   `json:"experiment_id,omitempty"`
	SubjectID    string   `json:"subject_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	AutoAnalyze  bool     `json:"auto_analyze"`
}

// ProgressFunc reports transfer progress in bytes.
type ProgressFunc func(sent, total int64)

// UploadVideo streams the file as multipart form data and returns the
// backend-assigned video id. Cancellation is cooperative through ctx; the
// transfer aborts at the next read. Uploads are never retried, since a
// retry could create a duplicate video.
func (c *Client) UploadVideo(ctx context.Context, filePath string, meta UploadMeta, onProgress ProgressFunc) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("could not open upload file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
			pw.CloseWithError(err)
			return
		}
		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &progressReader{r: f, total: info.Size(), onProgress: onProgress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/videos/upload", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result struct {
		VideoID string `json:"video_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("could not decode upload response: %w", err)
	}
	if result.VideoID == "" {
		return "", fmt.Errorf("upload response missing video_id")
	}
	return result.VideoID, nil
}

// StartAnalysis asks the backend to run motion analysis for a video.
func (c *Client) StartAnalysis(ctx context.Context, videoID string) error {
	path := fmt.Sprintf("/api/videos/%s/analyze", videoID)
	return c.doJSON(ctx, c.jsonRequest(ctx, http.MethodPost, path, struct{}{}), nil)
}

// StartCompression starts a compression job and returns the server job id.
func (c *Client) StartCompression(ctx context.Context, videoID string, settings models.CompressionSettings) (string, error) {
	payload := struct {
		InputVideoID string                     `json:"input_video_id"`
		Settings     models.CompressionSettings `json:"settings"`
	}{videoID, settings}

	var result struct {
		JobID string `json:"job_id"`
	}
	err := c.doJSON(ctx, c.jsonRequest(ctx, http.MethodPost, "/api/compress/start", payload), &result)
	if err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", fmt.Errorf("compression response missing job_id")
	}
	return result.JobID, nil
}

// CancelJob requests cancellation of a running job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	path := fmt.Sprintf("/api/compress/%s", jobID)
	return c.doJSON(ctx, c.jsonRequest(ctx, http.MethodDelete, path, nil), nil)
}

// GetJobStatus fetches the full status of one job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*models.JobSummary, error) {
	var job models.JobSummary
	path := fmt.Sprintf("/api/compress/%s/status", jobID)
	if err := c.doJSON(ctx, c.jsonRequest(ctx, http.MethodGet, path, nil), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs fetches all jobs known to the backend, used by the reconciler to
// catch up after a disconnect.
func (c *Client) ListJobs(ctx context.Context) ([]models.JobSummary, error) {
	var result struct {
		Jobs []models.JobSummary `json:"jobs"`
	}
	if err := c.doJSON(ctx, c.jsonRequest(ctx, http.MethodGet, "/api/compress/jobs", nil), &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// GetQueueStatus fetches the backend's aggregate queue view.
func (c *Client) GetQueueStatus(ctx context.Context) (*models.QueueStatus, error) {
	var status models.QueueStatus
	if err := c.doJSON(ctx, c.jsonRequest(ctx, http.MethodGet, "/api/compress/queue", nil), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// progressReader counts bytes as they are read from the underlying file.
type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}
