// Package outbox retries best-effort backend calls, such as pushing a new
// wall post to the network, whose failure must not roll back local state.
package outbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
)

// Status represents the status of a queued operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
)

// Item is one deferred command.
type Item struct {
	ID          string
	Command     string
	Args        json.RawMessage
	RetryCount  int
	MaxRetries  int
	NextRetryAt int64
	Status      Status
	CreatedAt   int64
	UpdatedAt   int64
	LastError   string

	seq uint64
}

// Enqueuer is what stores hand failed best-effort calls to.
type Enqueuer interface {
	Enqueue(command string, args any) (*Item, error)
}

// Queue holds deferred commands with exponential retry backoff.
type Queue struct {
	mu         sync.Mutex
	items      map[string]*Item
	seq        uint64
	maxSize    int
	maxRetries int
	metrics    *telemetry.Metrics
	log        *logging.Logger
	now        func() time.Time
}

// NewQueue creates a Queue holding at most maxSize items, each tried at
// most maxRetries times after the original failure.
func NewQueue(maxSize, maxRetries int, metrics *telemetry.Metrics) *Queue {
	if metrics == nil {
		metrics = telemetry.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{
		items:      make(map[string]*Item),
		maxSize:    maxSize,
		maxRetries: maxRetries,
		metrics:    metrics,
		log:        logging.Component("outbox"),
		now:        time.Now,
	}
}

// Enqueue adds a command to the queue. It is ready at once.
func (q *Queue) Enqueue(command string, args any) (*Item, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s arguments: %w", command, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return nil, fmt.Errorf("outbox is full (max size: %d)", q.maxSize)
	}

	now := q.now().Unix()
	q.seq++
	item := &Item{
		ID:          uuid.New().String(),
		Command:     command,
		Args:        raw,
		MaxRetries:  q.maxRetries,
		NextRetryAt: now,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		seq:         q.seq,
	}
	q.items[item.ID] = item
	q.updateDepthLocked()

	q.log.Info("queued for retry", logging.Fields{"id": item.ID, "command": command})
	copied := *item
	return &copied, nil
}

// Dequeue marks the oldest ready item in progress and returns a copy. It
// returns nil when nothing is ready.
func (q *Queue) Dequeue() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := q.readyLocked(q.now().Unix())
	if len(ready) == 0 {
		return nil
	}
	item := ready[0]
	item.Status = StatusInProgress
	item.UpdatedAt = q.now().Unix()
	copied := *item
	return &copied
}

// Complete removes a finished item.
func (q *Queue) Complete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	delete(q.items, id)
	q.updateDepthLocked()

	q.log.Debug("retry succeeded", logging.Fields{"id": id, "command": item.Command, "attempts": item.RetryCount + 1})
	return nil
}

// Failed records a failed attempt and schedules the next one, or gives up
// once the retry budget is spent.
func (q *Queue) Failed(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}

	now := q.now()
	item.RetryCount++
	item.LastError = cause.Error()
	item.UpdatedAt = now.Unix()

	if item.RetryCount >= item.MaxRetries {
		item.Status = StatusFailed
		q.updateDepthLocked()
		q.log.Error("giving up on command", cause, logging.Fields{"id": id, "command": item.Command, "attempts": item.RetryCount})
		return fmt.Errorf("max retries (%d) reached: %w", item.MaxRetries, cause)
	}

	backoff := calculateBackoff(item.RetryCount)
	item.NextRetryAt = now.Add(backoff).Unix()
	item.Status = StatusPending

	q.log.Warn("retry failed", logging.Fields{
		"id":      id,
		"command": item.Command,
		"retry":   item.RetryCount,
		"max":     item.MaxRetries,
		"backoff": backoff.String(),
		"error":   cause.Error(),
	})
	return nil
}

// calculateBackoff returns 2^retryCount minutes, capped at one hour.
func calculateBackoff(retryCount int) time.Duration {
	if retryCount > 6 {
		return time.Hour
	}
	backoff := time.Duration(int64(1)<<uint(retryCount)) * time.Minute
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}

// Ready returns copies of the items that may be attempted now, oldest
// first.
func (q *Queue) Ready() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	ready := q.readyLocked(q.now().Unix())
	out := make([]Item, len(ready))
	for i, item := range ready {
		out[i] = *item
	}
	return out
}

// Get returns a copy of one item.
func (q *Queue) Get(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %s not found", id)
	}
	return *item, nil
}

// Stats counts items by status.
func (q *Queue) Stats() map[Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := map[Status]int{StatusPending: 0, StatusInProgress: 0, StatusFailed: 0}
	for _, item := range q.items {
		stats[item.Status]++
	}
	return stats
}

// Len returns the number of items held, including abandoned ones.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PruneFailed drops every abandoned item and returns how many went.
func (q *Queue) PruneFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, item := range q.items {
		if item.Status == StatusFailed {
			delete(q.items, id)
			n++
		}
	}
	return n
}

func (q *Queue) readyLocked(now int64) []*Item {
	var ready []*Item
	for _, item := range q.items {
		if item.Status == StatusPending && item.NextRetryAt <= now {
			ready = append(ready, item)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
	return ready
}

func (q *Queue) updateDepthLocked() {
	depth := 0
	for _, item := range q.items {
		if item.Status != StatusFailed {
			depth++
		}
	}
	q.metrics.OutboxDepth.Set(float64(depth))
}
