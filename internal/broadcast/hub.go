package broadcast

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cinelog/cinelog-api/internal/domain"
)

// Observer is one attached consumer of the event stream. Events arrive on
// C; Close detaches the observer and releases its queue.
type Observer struct {
	id  uuid.UUID
	ch  chan Event
	hub *Hub

	closeOnce sync.Once
}

// C returns the observer's receive channel. It is closed when the observer
// detaches or the hub shuts down.
func (o *Observer) C() <-chan Event {
	return o.ch
}

// ID returns the observer's identifier, used in logs.
func (o *Observer) ID() uuid.UUID {
	return o.id
}

// Close detaches the observer from the hub. Safe to call more than once.
func (o *Observer) Close() {
	o.closeOnce.Do(func() {
		o.hub.detach(o)
	})
}

// Hub multiplexes one logical stream of task-change events to all attached
// observers. Each observer owns an independent bounded queue; publishing
// never blocks on any observer.
type Hub struct {
	mu        sync.Mutex
	observers map[uuid.UUID]*Observer
	buffer    int
	closed    bool
	logger    *slog.Logger
}

// NewHub creates a hub whose observers buffer up to bufferSize undelivered
// events each.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		observers: make(map[uuid.UUID]*Observer),
		buffer:    bufferSize,
		logger:    logger.With("component", "broadcast_hub"),
	}
}

// Attach registers a new observer. The caller owns sending the initial
// full snapshot before relaying events from the returned observer, so a
// late attacher never misses state that predates its connection.
func (h *Hub) Attach() *Observer {
	h.mu.Lock()
	defer h.mu.Unlock()

	o := &Observer{
		id:  uuid.New(),
		ch:  make(chan Event, h.buffer),
		hub: h,
	}
	if h.closed {
		close(o.ch)
		return o
	}
	h.observers[o.id] = o
	h.logger.Debug("observer attached",
		"observer_id", o.id,
		"observer_count", len(h.observers))
	return o
}

func (h *Hub) detach(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.observers[o.id]; !ok {
		return
	}
	delete(h.observers, o.id)
	close(o.ch)
	h.logger.Debug("observer detached",
		"observer_id", o.id,
		"observer_count", len(h.observers))
}

// Publish delivers the event to every attached observer. When an
// observer's queue is full the oldest queued event is dropped in its
// favor: the observer resynchronizes from its next snapshot fetch, so
// losing intermediate full-state updates is safe.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for _, o := range h.observers {
		select {
		case o.ch <- event:
			continue
		default:
		}
		// Queue full: drop the oldest and retry once. Publishing is
		// serialized by the hub mutex, so the retry cannot race another
		// producer.
		select {
		case dropped := <-o.ch:
			h.logger.Warn("slow observer, dropping oldest event",
				"observer_id", o.id,
				"dropped_event_id", dropped.ID,
				"dropped_kind", dropped.Kind)
		default:
		}
		select {
		case o.ch <- event:
		default:
		}
	}
}

// ObserverCount reports how many observers are attached.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close detaches all observers and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, o := range h.observers {
		delete(h.observers, id)
		close(o.ch)
	}
	h.logger.Info("broadcast hub closed")
}

// Publisher is the change-publication side handed to the worker pool and
// the API handlers: every task mutation flows through TaskChanged.
type Publisher struct {
	hub    *Hub
	logger *slog.Logger
}

// NewPublisher wraps a hub for the mutation paths.
func NewPublisher(hub *Hub, logger *slog.Logger) *Publisher {
	return &Publisher{
		hub:    hub,
		logger: logger.With("component", "change_publisher"),
	}
}

// TaskChanged pushes one task snapshot to all observers. The snapshot must
// already be detached from store state (store operations return clones).
func (p *Publisher) TaskChanged(task *domain.Task) {
	if task == nil {
		return
	}
	p.logger.Debug("publishing task change",
		"task_id", task.ID,
		"status", task.Status,
		"completed_items", task.CompletedItems)
	p.hub.Publish(NewTaskUpdate(task))
}
