package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cinelog/cinelog-api/internal/domain"
)

// SessionConfig configures one observer session.
type SessionConfig struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string

	// HTTPClient defaults to a client without a global timeout (the
	// stream connection is long-lived; snapshot fetches get a per-request
	// context deadline instead).
	HTTPClient *http.Client

	// ReconnectMin/ReconnectMax bound the exponential backoff between
	// reconnect attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// SnapshotTimeout bounds one direct snapshot fetch.
	SnapshotTimeout time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 10 * time.Second
	}
}

// Session is one observer of the server's live task stream. It owns its
// reconciled view and its notification state; nothing about it is global,
// so independent sessions never interfere.
type Session struct {
	config     SessionConfig
	reconciler *Reconciler
	detector   *Detector
	notifs     chan Notification
	logger     *slog.Logger
}

// NewSession creates a session. Run must be called to start syncing.
func NewSession(config SessionConfig, logger *slog.Logger) *Session {
	config.applyDefaults()
	return &Session{
		config:     config,
		reconciler: NewReconciler(),
		detector:   NewDetector(),
		notifs:     make(chan Notification, 64),
		logger:     logger.With("component", "client_session"),
	}
}

// View returns the current reconciled task collection, newest first.
func (s *Session) View() []*domain.Task {
	return s.reconciler.Tasks()
}

// Notifications returns the channel of one-shot notifications. If the
// consumer falls behind, the oldest notification is dropped.
func (s *Session) Notifications() <-chan Notification {
	return s.notifs
}

// Run connects, consumes the stream, and reconnects with capped
// exponential backoff until the context is canceled. A transport failure
// is never surfaced as an error; the view self-heals on reconnect.
func (s *Session) Run(ctx context.Context) {
	backoff := s.config.ReconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		// Direct snapshot fetch on every (re)connect guards against
		// missed initial events and gaps accrued while disconnected.
		if err := s.Resync(ctx); err != nil {
			s.logger.Warn("snapshot resync failed", "error", err)
		}

		err := s.consumeStream(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("stream disconnected, scheduling reconnect",
			"error", err,
			"backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.config.ReconnectMax {
			backoff = s.config.ReconnectMax
		}
	}
}

// Resync fetches the full current snapshot and replaces the view
// wholesale. Besides the automatic call on every reconnect, the embedding
// UI should call this on window refocus and visibility-regained
// transitions as a periodic self-healing measure independent of stream
// health.
func (s *Session) Resync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.SnapshotTimeout)
	defer cancel()

	url := s.config.BaseURL + "/tasks?scope=current&include_items=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot fetch returned status %d", resp.StatusCode)
	}

	var tasks []*domain.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	s.applySnapshot(tasks)
	return nil
}

// consumeStream opens the SSE connection and applies events until the
// connection breaks or the context is canceled.
func (s *Session) consumeStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.BaseURL+"/tasks/stream", nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	s.logger.Debug("stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if eventName != "" || data != "" {
				s.handleEvent(eventName, data)
			}
			eventName, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}

// handleEvent dispatches one wire event. Unknown event names are ignored,
// never treated as errors.
func (s *Session) handleEvent(name, data string) {
	switch name {
	case "init":
		var tasks []*domain.Task
		if err := json.Unmarshal([]byte(data), &tasks); err != nil {
			s.logger.Warn("malformed init event", "error", err)
			return
		}
		s.applySnapshot(tasks)

	case "task_update":
		var t domain.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			s.logger.Warn("malformed task_update event", "error", err)
			return
		}
		s.reconciler.Apply(&t)
		s.emit(s.detector.Observe(&t))

	default:
		s.logger.Debug("ignoring unknown stream event", "event", name)
	}
}

// applySnapshot replaces the view and runs every task through the
// detector. The detector's transition test is what keeps the deliberate
// redelivery on each reconnect from duplicating notifications.
func (s *Session) applySnapshot(tasks []*domain.Task) {
	s.reconciler.ReplaceAll(tasks)
	for _, t := range tasks {
		s.emit(s.detector.Observe(t))
	}
}

func (s *Session) emit(notifications []Notification) {
	for _, n := range notifications {
		select {
		case s.notifs <- n:
			continue
		default:
		}
		// Consumer is behind: drop the oldest to make room.
		select {
		case dropped := <-s.notifs:
			s.logger.Warn("notification consumer behind, dropping oldest",
				"task_id", dropped.TaskID,
				"item_id", dropped.ItemID)
		default:
		}
		select {
		case s.notifs <- n:
		default:
		}
	}
}
