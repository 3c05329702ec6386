package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Stream    StreamConfig    `mapstructure:"stream" validate:"required"`
	Library   LibraryConfig   `mapstructure:"library" validate:"required"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	WatchSync WatchSyncConfig `mapstructure:"watchsync"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// QueueConfig tunes the background task runner.
type QueueConfig struct {
	WorkerCount  int           `mapstructure:"worker_count" validate:"required,gt=0,lte=64"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
}

// StreamConfig tunes the live task event stream.
type StreamConfig struct {
	ObserverBuffer int           `mapstructure:"observer_buffer" validate:"required,gt=0"`
	KeepAlive      time.Duration `mapstructure:"keep_alive" validate:"required,gt=0"`
}

// LibraryConfig locates the media library the filesystem operations act on.
type LibraryConfig struct {
	Root string `mapstructure:"root" validate:"required"`
}

// ScraperConfig points at the metadata provider used by scrape tasks.
type ScraperConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// WatchSyncConfig points at the remote watched-state endpoint.
type WatchSyncConfig struct {
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
}

// DatabaseConfig contains the optional task archive database settings.
// When URL is empty the archive is disabled and tasks live only in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// ArchiveEnabled reports whether a task archive database was configured.
func (c DatabaseConfig) ArchiveEnabled() bool {
	return c.URL != ""
}
