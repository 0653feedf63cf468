package syncer

import (
	"sync"
	"time"
)

// EventKind enumerates notifications the orchestrator publishes.
type EventKind string

const (
	EventStatusChanged    EventKind = "sync_status_changed"
	EventConflictDetected EventKind = "conflict_detected"
	EventDownloadProgress EventKind = "download_progress"
	EventDownloadComplete EventKind = "download_complete"
	EventDownloadError    EventKind = "download_error"
	EventOnline           EventKind = "online"
	EventOffline          EventKind = "offline"
	EventBackendSwitched  EventKind = "backend_switched"
	EventModeChanged      EventKind = "mode_changed"
	EventLoggedOut        EventKind = "logged_out"
)

// Notification is one published event. Fields beyond Kind are set per
// kind and zero otherwise.
type Notification struct {
	Kind      EventKind
	GameID    string
	Status    Status
	Backend   string
	Mode      string
	Error     string
	Written   int64
	Total     int64
	Timestamp time.Time

	// Conflict details, set for EventConflictDetected.
	LocalTimestamp time.Time
	CloudTimestamp time.Time
	LocalHash      string
	CloudHash      string
}

// Notifier is a small fan-out bus. Subscribers get buffered channels;
// a subscriber that stops draining loses events rather than stalling
// the orchestrator.
type Notifier struct {
	mu   sync.RWMutex
	subs map[int]chan Notification
	next int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Notification)}
}

// Subscribe registers a listener. Call the returned cancel function
// to unsubscribe; the channel is closed on cancel.
func (n *Notifier) Subscribe() (<-chan Notification, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan Notification, 64)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers to every subscriber without blocking.
func (n *Notifier) Publish(event Notification) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
