package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/task"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveInRoot(t *testing.T) {
	t.Parallel()

	root := "/library"

	got, err := resolveInRoot(root, "shows/pilot.mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "shows", "pilot.mkv"), got)

	_, err = resolveInRoot(root, "../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = resolveInRoot(root, "shows/../../escape")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = resolveInRoot(root, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestRenameHandler(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "incoming", "pilot.mkv"), "video")

	h := NewRenameHandler(root)
	result, err := h.Execute(context.Background(), json.RawMessage(`{"from":"incoming/pilot.mkv","to":"shows/pilot/pilot.mkv"}`))
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, "shows/pilot/pilot.mkv", out["renamed_to"])

	_, err = os.Stat(filepath.Join(root, "shows", "pilot", "pilot.mkv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "incoming", "pilot.mkv"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenameHandlerRejectsEscape(t *testing.T) {
	t.Parallel()

	h := NewRenameHandler(t.TempDir())
	_, err := h.Execute(context.Background(), json.RawMessage(`{"from":"../outside.mkv","to":"inside.mkv"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestRenameHandlerMissingSource(t *testing.T) {
	t.Parallel()

	h := NewRenameHandler(t.TempDir())
	_, err := h.Execute(context.Background(), json.RawMessage(`{"from":"gone.mkv","to":"kept.mkv"}`))
	assert.Error(t, err)
}

func TestDeleteHandler(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.mkv"), "video")

	h := NewDeleteHandler(root)
	_, err := h.Execute(context.Background(), json.RawMessage(`{"path":"old.mkv"}`))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "old.mkv"))
	assert.True(t, os.IsNotExist(err))

	_, err = h.Execute(context.Background(), json.RawMessage(`{"path":"old.mkv"}`))
	assert.Error(t, err, "deleting a missing file fails the item")
}

func TestAnalyzeHandler(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "movie.MKV"), "0123456789")

	h := NewAnalyzeHandler(root)
	result, err := h.Execute(context.Background(), json.RawMessage(`{"path":"movie.MKV"}`))
	require.NoError(t, err)

	var out analyzeResult
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, "movie.MKV", out.Path)
	assert.Equal(t, int64(10), out.SizeBytes)
	assert.Equal(t, ".mkv", out.Extension)
	assert.False(t, out.Modified.IsZero())
}

func TestAnalyzeHandlerRejectsDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "shows"), 0o755))

	h := NewAnalyzeHandler(root)
	_, err := h.Execute(context.Background(), json.RawMessage(`{"path":"shows"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestSubtitleMuxHandler(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shows", "pilot.mkv"), "video")
	writeFile(t, filepath.Join(root, "downloads", "pilot.en.srt"), "subs")

	h := NewSubtitleMuxHandler(root)
	result, err := h.Execute(context.Background(), json.RawMessage(`{"video":"shows/pilot.mkv","subtitle":"downloads/pilot.en.srt"}`))
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, filepath.Join("shows", "pilot.srt"), out["subtitle"])

	_, err = os.Stat(filepath.Join(root, "shows", "pilot.srt"))
	assert.NoError(t, err)
}

func TestSubtitleMuxHandlerMissingVideo(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "downloads", "pilot.srt"), "subs")

	h := NewSubtitleMuxHandler(root)
	_, err := h.Execute(context.Background(), json.RawMessage(`{"video":"shows/pilot.mkv","subtitle":"downloads/pilot.srt"}`))
	assert.Error(t, err)
}

func TestScrapeHandler(t *testing.T) {
	t.Parallel()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/metadata/tt0903747":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"title":"Breaking Bad","year":2008}`))
		case "/metadata/broken":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer provider.Close()

	h := NewScrapeHandler(provider.Client(), provider.URL)

	result, err := h.Execute(context.Background(), json.RawMessage(`{"media_id":"tt0903747"}`))
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(result, &meta))
	assert.Equal(t, "Breaking Bad", meta["title"])

	_, err = h.Execute(context.Background(), json.RawMessage(`{"media_id":"unknown"}`))
	assert.ErrorContains(t, err, "status 404")

	_, err = h.Execute(context.Background(), json.RawMessage(`{"media_id":"broken"}`))
	assert.ErrorContains(t, err, "invalid JSON")

	_, err = h.Execute(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestWatchSyncHandler(t *testing.T) {
	t.Parallel()

	var received []watchSyncPayload
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var p watchSyncPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		if p.MediaID == "reject" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		received = append(received, p)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer remote.Close()

	h := NewWatchSyncHandler(remote.Client(), remote.URL)

	result, err := h.Execute(context.Background(), json.RawMessage(`{"media_id":"tt0903747","watched":true}`))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, true, out["watched"])
	require.Len(t, received, 1)
	assert.Equal(t, "tt0903747", received[0].MediaID)

	_, err = h.Execute(context.Background(), json.RawMessage(`{"media_id":"reject","watched":false}`))
	assert.ErrorContains(t, err, "status 502")
}

func TestRegisterInstallsAllHandlers(t *testing.T) {
	t.Parallel()

	reg := task.NewRegistry()
	Register(reg, Config{LibraryRoot: t.TempDir()})

	for _, taskType := range []string{
		domain.TaskTypeScrapeBatch,
		domain.TaskTypeRenameBatch,
		domain.TaskTypeDeleteBatch,
		domain.TaskTypeAnalyzeBatch,
		domain.TaskTypeSubtitleMuxBatch,
		domain.TaskTypeWatchSyncBatch,
	} {
		assert.True(t, reg.Known(taskType), taskType)
	}
}
