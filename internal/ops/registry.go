package ops

import (
	"net/http"
	"time"

	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/task"
)

// Config carries the external dependencies of the built-in handlers.
type Config struct {
	LibraryRoot       string
	ScraperBaseURL    string
	WatchSyncEndpoint string

	// HTTPClient is used by the network-bound handlers. Defaults to a
	// client with a 30s timeout when nil.
	HTTPClient *http.Client
}

// Register installs every built-in handler on the registry.
func Register(reg *task.Registry, cfg Config) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	reg.Register(domain.TaskTypeScrapeBatch, NewScrapeHandler(client, cfg.ScraperBaseURL))
	reg.Register(domain.TaskTypeRenameBatch, NewRenameHandler(cfg.LibraryRoot))
	reg.Register(domain.TaskTypeDeleteBatch, NewDeleteHandler(cfg.LibraryRoot))
	reg.Register(domain.TaskTypeAnalyzeBatch, NewAnalyzeHandler(cfg.LibraryRoot))
	reg.Register(domain.TaskTypeSubtitleMuxBatch, NewSubtitleMuxHandler(cfg.LibraryRoot))
	reg.Register(domain.TaskTypeWatchSyncBatch, NewWatchSyncHandler(client, cfg.WatchSyncEndpoint))
}
