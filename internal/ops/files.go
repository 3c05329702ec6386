package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/task"
)

// renamePayload is the per-item input of the rename handler.
type renamePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewRenameHandler returns the handler for rename_batch items. Both paths
// are relative to the library root.
func NewRenameHandler(libraryRoot string) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p renamePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		from, err := resolveInRoot(libraryRoot, p.From)
		if err != nil {
			return nil, err
		}
		to, err := resolveInRoot(libraryRoot, p.To)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return nil, fmt.Errorf("create target directory: %w", err)
		}
		if err := os.Rename(from, to); err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}
		return json.Marshal(map[string]string{"renamed_to": p.To})
	})
}

// pathPayload is the single-path input shared by the delete and analyze
// handlers.
type pathPayload struct {
	Path string `json:"path"`
}

// NewDeleteHandler returns the handler for delete_batch items.
func NewDeleteHandler(libraryRoot string) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p pathPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		path, err := resolveInRoot(libraryRoot, p.Path)
		if err != nil {
			return nil, err
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("delete: %w", err)
		}
		return json.Marshal(map[string]string{"deleted": p.Path})
	})
}

// analyzeResult is what the analyze handler reports per media file.
type analyzeResult struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	Extension string    `json:"extension"`
	Modified  time.Time `json:"modified"`
}

// NewAnalyzeHandler returns the handler for analyze_batch items.
func NewAnalyzeHandler(libraryRoot string) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p pathPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		path, err := resolveInRoot(libraryRoot, p.Path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("analyze: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidPayload, p.Path)
		}
		return json.Marshal(analyzeResult{
			Path:      p.Path,
			SizeBytes: info.Size(),
			Extension: strings.ToLower(filepath.Ext(path)),
			Modified:  info.ModTime().UTC(),
		})
	})
}

// subtitleMuxPayload pairs a subtitle file with its video.
type subtitleMuxPayload struct {
	Video    string `json:"video"`
	Subtitle string `json:"subtitle"`
}

// NewSubtitleMuxHandler returns the handler for subtitle_mux_batch items.
// It verifies the pair exists and moves the subtitle next to the video
// under the video's basename; actual container muxing is an external
// tool's job.
func NewSubtitleMuxHandler(libraryRoot string) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p subtitleMuxPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		video, err := resolveInRoot(libraryRoot, p.Video)
		if err != nil {
			return nil, err
		}
		subtitle, err := resolveInRoot(libraryRoot, p.Subtitle)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(video); err != nil {
			return nil, fmt.Errorf("video missing: %w", err)
		}
		target := strings.TrimSuffix(video, filepath.Ext(video)) + filepath.Ext(subtitle)
		if err := os.Rename(subtitle, target); err != nil {
			return nil, fmt.Errorf("place subtitle: %w", err)
		}
		rel, _ := filepath.Rel(libraryRoot, target)
		return json.Marshal(map[string]string{"subtitle": rel})
	})
}
