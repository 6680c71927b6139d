package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skye-vasquez/Craft/internal/craft"
	"github.com/skye-vasquez/Craft/internal/submissions"
)

const (
	EventSubmissionSync = "submission-sync"
	eventHeartbeat      = "heartbeat"

	// ScopeAllStores subscribes to sync events of every store.
	ScopeAllStores = "*"
)

// SyncEvent announces the outcome of one sync attempt.
type SyncEvent struct {
	StoreID      string
	SubmissionID string
	Status       submissions.SyncStatus
	Error        string
	Simulated    bool
	Timestamp    time.Time
}

// SyncEventDispatcher fans sync events out to subscribers scoped by store.
type SyncEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan SyncEvent
}

func NewSyncEventDispatcher() *SyncEventDispatcher {
	return &SyncEventDispatcher{
		subscribers: make(map[string]map[int64]*eventSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for one store, or for all stores with
// ScopeAllStores. The subscription ends when ctx is done or cleanup runs.
func (d *SyncEventDispatcher) Subscribe(ctx context.Context, scope string) (<-chan SyncEvent, func()) {
	if scope == "" {
		ch := make(chan SyncEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &eventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan SyncEvent, d.bufferSize),
	}
	d.registerSubscriber(scope, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(scope, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to the store's subscribers and to ScopeAllStores.
// Slow subscribers miss events rather than block the publisher.
func (d *SyncEventDispatcher) Publish(event SyncEvent) {
	if event.StoreID == "" || event.SubmissionID == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*eventSubscriber, 0, len(d.subscribers[event.StoreID])+len(d.subscribers[ScopeAllStores]))
	for _, scope := range []string{event.StoreID, ScopeAllStores} {
		for _, subscriber := range d.subscribers[scope] {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *SyncEventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *SyncEventDispatcher) registerSubscriber(scope string, subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[scope]; !ok {
		d.subscribers[scope] = make(map[int64]*eventSubscriber)
	}
	d.subscribers[scope][subscriber.id] = subscriber
}

func (d *SyncEventDispatcher) unregisterSubscriber(scope string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[scope]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, scope)
		}
	}
	d.mu.Unlock()
}

func (h *httpHandler) publishSyncResult(submission submissions.Submission, result craft.Result) {
	h.events.Publish(SyncEvent{
		StoreID:      submission.StoreID,
		SubmissionID: submission.ID,
		Status:       result.State.Status,
		Error:        result.ErrorMessage(),
		Simulated:    result.Simulated,
		Timestamp:    h.clock().UTC(),
	})
}

type syncEventPayload struct {
	StoreID         string `json:"store_id"`
	SubmissionID    string `json:"submission_id"`
	CraftSyncStatus string `json:"craft_sync_status"`
	CraftSyncError  string `json:"craft_sync_error,omitempty"`
	Simulated       bool   `json:"simulated"`
	Timestamp       string `json:"timestamp"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	scope := claims.StoreID
	if claims.IsAdmin() {
		scope = ScopeAllStores
	}

	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, scope)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(EventSubmissionSync, syncEventPayload{
				StoreID:         event.StoreID,
				SubmissionID:    event.SubmissionID,
				CraftSyncStatus: string(event.Status),
				CraftSyncError:  event.Error,
				Simulated:       event.Simulated,
				Timestamp:       event.Timestamp.Format(time.RFC3339),
			})
			return true
		case now := <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp": now.UTC().Format(time.RFC3339)})
			return true
		}
	})
}
