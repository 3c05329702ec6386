package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/task"
)

// scrapePayload is the per-item input of the scrape handler.
type scrapePayload struct {
	MediaID string `json:"media_id"`
}

// NewScrapeHandler returns the handler for scrape_batch items. It fetches
// metadata JSON for each media id from the configured provider and passes
// the provider's body through as the item result.
func NewScrapeHandler(client *http.Client, providerURL string) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p scrapePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		if p.MediaID == "" {
			return nil, fmt.Errorf("%w: media_id is required", domain.ErrInvalidPayload)
		}

		endpoint := fmt.Sprintf("%s/metadata/%s", providerURL, url.PathEscape(p.MediaID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("build metadata request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch metadata: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("metadata provider returned status %d for media %s", resp.StatusCode, p.MediaID)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read metadata response: %w", err)
		}
		if !json.Valid(body) {
			return nil, fmt.Errorf("metadata provider returned invalid JSON for media %s", p.MediaID)
		}
		return body, nil
	})
}

// watchSyncPayload is the per-item input of the watch-sync handler.
type watchSyncPayload struct {
	MediaID string `json:"media_id"`
	Watched bool   `json:"watched"`
}

// NewWatchSyncHandler returns the handler for watchsync_batch items. It
// posts the watched state of each media id to the remote endpoint.
func NewWatchSyncHandler(client *http.Client, endpoint string) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p watchSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		if p.MediaID == "" {
			return nil, fmt.Errorf("%w: media_id is required", domain.ErrInvalidPayload)
		}

		body, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode watch state: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build watch-sync request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sync watch state: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("watch-sync endpoint returned status %d for media %s", resp.StatusCode, p.MediaID)
		}
		return json.Marshal(map[string]any{"media_id": p.MediaID, "watched": p.Watched})
	})
}
