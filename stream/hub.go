// Package stream fans measurement traffic out to live subscribers. A Hub
// keeps one subscriber set per session and delivers reading batches, status
// updates and error notices to every current member without ever blocking on
// a slow or dead one; messages a subscriber cannot take are dropped, not
// queued, and nothing is buffered or replayed for late joiners.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sensord-io/sensord/sensor"
)

// MessageType discriminates the three message classes a hub delivers.
type MessageType string

// Message classes.
const (
	MessageReadings = MessageType("readings")
	MessageStatus   = MessageType("status")
	MessageError    = MessageType("error")
)

// A Message is one hub delivery. Readings, Status/Metadata and Error/Details
// are populated according to Type.
type Message struct {
	Type      MessageType            `json:"type"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Readings  []sensor.Reading       `json:"readings,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ErrHubClosed is returned when subscribing to a hub that has shut down.
var ErrHubClosed = errors.New("hub is closed")

// subscriberDropLimit is how many consecutive failed deliveries a subscriber
// gets before the hub gives up on it and removes it after the fan-out pass.
const subscriberDropLimit = 4

type subscriber struct {
	ch               chan<- Message
	consecutiveDrops int
}

// Stats is a snapshot of hub delivery counters.
type Stats struct {
	TotalPublished uint64
	TotalDelivered uint64
	TotalDropped   uint64
}

// A Hub distributes per-session messages to any number of subscribers.
// All methods are safe for concurrent use.
type Hub struct {
	logger golog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber
	closed      bool

	totalPublished atomic.Uint64
	totalDelivered atomic.Uint64
	totalDropped   atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub(logger golog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[string]map[string]*subscriber),
	}
}

// Subscribe registers ch to receive messages for the session. Registration
// is idempotent on (sessionID, subID); re-subscribing replaces the channel
// and forgives any accumulated delivery failures.
func (h *Hub) Subscribe(sessionID, subID string, ch chan<- Message) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	subs, have := h.subscribers[sessionID]
	if !have {
		subs = make(map[string]*subscriber)
		h.subscribers[sessionID] = subs
	}
	subs[subID] = &subscriber{ch: ch}
	h.logger.Debugw("subscriber registered", "session", sessionID, "subscriber", subID)
	return nil
}

// Unsubscribe removes the handle. Removing the last subscriber of a session
// drops the session's entry entirely; unknown handles are ignored.
func (h *Hub) Unsubscribe(sessionID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, have := h.subscribers[sessionID]
	if !have {
		return
	}
	if _, have := subs[subID]; !have {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.subscribers, sessionID)
	}
	h.logger.Debugw("subscriber removed", "session", sessionID, "subscriber", subID)
}

// SubscriberCount returns how many handles are registered for the session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// PublishReadings delivers a reading batch to the session's subscribers.
func (h *Hub) PublishReadings(sessionID string, readings []sensor.Reading) {
	h.publish(Message{
		Type:      MessageReadings,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Readings:  readings,
	})
}

// PublishStatus delivers a session status update.
func (h *Hub) PublishStatus(sessionID, status string, metadata map[string]interface{}) {
	h.publish(Message{
		Type:      MessageStatus,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Status:    status,
		Metadata:  metadata,
	})
}

// PublishError delivers an error notice.
func (h *Hub) PublishError(sessionID, errMsg string, details map[string]interface{}) {
	h.publish(Message{
		Type:      MessageError,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Error:     errMsg,
		Details:   details,
	})
}

// publish fans one message out to every current subscriber of its session.
// Sends never block: a subscriber whose channel is full loses this message,
// and one that keeps failing is removed once the pass completes.
func (h *Hub) publish(msg Message) {
	h.totalPublished.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	subs, have := h.subscribers[msg.SessionID]
	if !have {
		return
	}

	var evict []string
	for id, sub := range subs {
		select {
		case sub.ch <- msg:
			h.totalDelivered.Add(1)
			sub.consecutiveDrops = 0
		default:
			h.totalDropped.Add(1)
			sub.consecutiveDrops++
			if sub.consecutiveDrops >= subscriberDropLimit {
				evict = append(evict, id)
			}
		}
	}

	for _, id := range evict {
		delete(subs, id)
		h.logger.Warnw("removing unresponsive subscriber",
			"session", msg.SessionID, "subscriber", id)
	}
	if len(subs) == 0 {
		delete(h.subscribers, msg.SessionID)
	}
}

// Stats returns a snapshot of the delivery counters.
func (h *Hub) Stats() Stats {
	return Stats{
		TotalPublished: h.totalPublished.Load(),
		TotalDelivered: h.totalDelivered.Load(),
		TotalDropped:   h.totalDropped.Load(),
	}
}

// Close shuts the hub down. Further publishes are silently discarded so a
// session loop draining during shutdown cannot fail; subscriber channels are
// left open for their owners to close. Close is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.subscribers = make(map[string]map[string]*subscriber)
}
