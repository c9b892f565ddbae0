package watcher_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prathamssaraf/mouse-video-compressor/internal/client"
	"github.com/prathamssaraf/mouse-video-compressor/internal/watcher"
)

type recordingUploader struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingUploader) StartUpload(path string, meta client.UploadMeta) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return "track-" + filepath.Base(path)
}

func (r *recordingUploader) uploaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func setupWatcher(t *testing.T) (string, *recordingUploader) {
	t.Helper()
	dir := t.TempDir()
	uploader := &recordingUploader{}
	service := watcher.NewService(dir, uploader, true)
	service.SetSettleDelay(50 * time.Millisecond)
	require.NoError(t, service.Start())
	t.Cleanup(func() { service.Stop() })
	return dir, uploader
}

func TestNewVideoIsUploadedAfterSettling(t *testing.T) {
	dir, uploader := setupWatcher(t)

	path := filepath.Join(dir, "cage_recording.mp4")
	require.NoError(t, os.WriteFile(path, []byte("frame data"), 0644))

	require.Eventually(t, func() bool {
		return len(uploader.uploaded()) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, path, uploader.uploaded()[0])
}

func TestRepeatedWritesUploadOnce(t *testing.T) {
	dir, uploader := setupWatcher(t)

	path := filepath.Join(dir, "long_recording.mkv")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.Write([]byte("chunk"))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(uploader.uploaded()) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	// Give a second settle window a chance to misfire.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, uploader.uploaded(), 1)
}

func TestNonVideoFilesAreIgnored(t *testing.T) {
	dir, uploader := setupWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a video"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recording.mp4.part"), []byte("partial"), 0644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, uploader.uploaded())
}

func TestRemovedFileIsNotUploaded(t *testing.T) {
	dir, uploader := setupWatcher(t)

	path := filepath.Join(dir, "mistake.mov")
	require.NoError(t, os.WriteFile(path, []byte("oops"), 0644))
	require.NoError(t, os.Remove(path))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, uploader.uploaded())
}
