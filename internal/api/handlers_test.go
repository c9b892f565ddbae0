package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prathamssaraf/mouse-video-compressor/internal/api"
	"github.com/prathamssaraf/mouse-video-compressor/internal/client"
	"github.com/prathamssaraf/mouse-video-compressor/internal/config"
	"github.com/prathamssaraf/mouse-video-compressor/internal/conn"
	"github.com/prathamssaraf/mouse-video-compressor/internal/core"
	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
	"github.com/prathamssaraf/mouse-video-compressor/internal/notify"
	"github.com/prathamssaraf/mouse-video-compressor/internal/progress"
	"github.com/prathamssaraf/mouse-video-compressor/internal/session"
	"github.com/prathamssaraf/mouse-video-compressor/internal/store"
	"github.com/prathamssaraf/mouse-video-compressor/internal/testutil"
)

type stubBackend struct{}

func (stubBackend) UploadVideo(ctx context.Context, filePath string, meta client.UploadMeta, onProgress client.ProgressFunc) (string, error) {
	return "vid-stub", nil
}
func (stubBackend) StartAnalysis(ctx context.Context, videoID string) error { return nil }
func (stubBackend) StartCompression(ctx context.Context, videoID string, settings models.CompressionSettings) (string, error) {
	return "job-stub", nil
}
func (stubBackend) CancelJob(ctx context.Context, jobID string) error          { return nil }
func (stubBackend) ListJobs(ctx context.Context) ([]models.JobSummary, error) { return nil, nil }

func setupTestServer(t *testing.T) (*httptest.Server, *core.App) {
	t.Helper()

	database := testutil.SetupTestDB(t)
	st := store.New(database)
	ps := progress.NewStore()
	t.Cleanup(ps.Close)
	nc := notify.NewCenter(st)
	t.Cleanup(nc.Close)
	cm := conn.New("ws://127.0.0.1:1/ws", 10*time.Millisecond, 1)
	svc := session.New(stubBackend{}, ps, nc, cm)
	t.Cleanup(svc.Close)

	app := &core.App{
		Config:   &config.Config{},
		DB:       database,
		Store:    st,
		Conn:     cm,
		Progress: ps,
		Notify:   nc,
		Session:  svc,
	}

	server := httptest.NewServer(api.NewServer(app).Router())
	t.Cleanup(server.Close)
	return server, app
}

func TestGetConnection(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, err := http.Get(server.URL + "/api/connection")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "disconnected", payload["state"])
}

func TestListProgress(t *testing.T) {
	server, app := setupTestServer(t)
	require.NoError(t, app.Progress.BeginCompression("vid-1"))

	resp, err := http.Get(server.URL + "/api/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []models.ProgressEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "vid-1", entries[0].EntityID)
	assert.Equal(t, models.NamespaceCompression, entries[0].Namespace)
}

func TestGetProgressInvalidNamespace(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, err := http.Get(server.URL + "/api/progress/transmogrify/vid-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearProgressRequiresTerminal(t *testing.T) {
	server, app := setupTestServer(t)
	require.NoError(t, app.Progress.BeginCompression("vid-2"))

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/progress/compression/vid-2", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartCompressionEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	body := strings.NewReader(`{"profile_type":"balanced"}`)
	resp, err := http.Post(server.URL+"/api/videos/vid-3/compress", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "job-stub", payload["job_id"])

	// A second start for the same video conflicts with the running job.
	resp2, err := http.Post(server.URL+"/api/videos/vid-3/compress", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestStartUploadRejectsMissingFile(t *testing.T) {
	server, _ := setupTestServer(t)

	body := strings.NewReader(`{"path":"/nonexistent/video.mp4"}`)
	resp, err := http.Post(server.URL+"/api/uploads", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotificationEndpoints(t *testing.T) {
	server, app := setupTestServer(t)
	id := app.Notify.Add("Compression of vid-4 finished.", models.SeveritySuccess, notify.Options{Persistent: true})

	resp, err := http.Get(server.URL + "/api/notifications")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Notifications []*models.Notification `json:"notifications"`
		UnreadCount   int                    `json:"unread_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Notifications, 1)
	assert.Equal(t, 1, payload.UnreadCount)

	markResp, err := http.Post(server.URL+"/api/notifications/"+id+"/read", "application/json", nil)
	require.NoError(t, err)
	markResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, markResp.StatusCode)
	assert.Equal(t, 0, app.Notify.UnreadCount())

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/notifications/"+id, nil)
	dismissResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	dismissResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, dismissResp.StatusCode)
	assert.Empty(t, app.Notify.List())
}
