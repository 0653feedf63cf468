package syncer

import (
	"sync"
	"time"
)

// OpKind is the type of queued work.
type OpKind string

const (
	OpUpload    OpKind = "upload"
	OpDownload  OpKind = "download"
	OpReconcile OpKind = "reconcile"
)

type queueItem struct {
	GameID     string
	Op         OpKind
	EnqueuedAt time.Time
}

type queueKey struct {
	gameID string
	op     OpKind
}

// opQueue is a FIFO of pending operations. Pushing an operation that
// is already queued for the same game coalesces into the existing
// entry, keeping its original position so bursts of saves for one
// game produce one upload.
type opQueue struct {
	mu    sync.Mutex
	items []queueItem
	seen  map[queueKey]struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{seen: make(map[queueKey]struct{})}
}

// Push enqueues an operation. Returns false when it coalesced into an
// existing entry.
func (q *opQueue) Push(gameID string, op OpKind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := queueKey{gameID: gameID, op: op}
	if _, dup := q.seen[key]; dup {
		return false
	}
	q.seen[key] = struct{}{}
	q.items = append(q.items, queueItem{GameID: gameID, Op: op, EnqueuedAt: time.Now()})
	return true
}

// Pop removes and returns the oldest entry, false when empty.
func (q *opQueue) Pop() (queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return queueItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	delete(q.seen, queueKey{gameID: item.GameID, op: item.Op})
	return item, true
}

// Clear drops every pending entry and returns how many were dropped.
func (q *opQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	q.seen = make(map[queueKey]struct{})
	return n
}

// Snapshot copies the queue contents in order, oldest first.
func (q *opQueue) Snapshot() []queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]queueItem, len(q.items))
	copy(out, q.items)
	return out
}

func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
