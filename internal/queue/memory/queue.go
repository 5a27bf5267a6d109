// Package memory provides an in-memory queue.Queue used for tests and the
// synchronous degraded-mode processing path.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cnabflow/ingestor/internal/queue"
)

type pendingEntry struct {
	msg        queue.Message
	deliveredAt time.Time
}

// Queue is a goroutine-safe, in-memory queue.Queue backed by plain slices.
// Consume waits for new entries by polling every few milliseconds until
// blockDuration elapses, which is sufficient for tests and the synchronous
// path.
type Queue struct {
	mu       sync.Mutex
	streams  map[string][]queue.Message
	pending  map[string]map[string]pendingEntry // streamName|groupName -> messageID -> entry
	dlq      map[string][]queue.DeadLetter
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		streams: make(map[string][]queue.Message),
		pending: make(map[string]map[string]pendingEntry),
		dlq:     make(map[string][]queue.DeadLetter),
	}
}

func groupKey(streamName, groupName string) string {
	return streamName + "|" + groupName
}

func (q *Queue) Enqueue(_ context.Context, streamName string, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	q.streams[streamName] = append(q.streams[streamName], msg)
	return nil
}

func (q *Queue) Consume(ctx context.Context, streamName, groupName, _ string, batch int, blockDuration time.Duration) ([]queue.Message, error) {
	deadline := time.Now().Add(blockDuration)
	for {
		q.mu.Lock()
		avail := q.streams[streamName]
		if len(avail) > 0 {
			n := batch
			if n > len(avail) {
				n = len(avail)
			}
			taken := avail[:n]
			q.streams[streamName] = avail[n:]

			key := groupKey(streamName, groupName)
			if q.pending[key] == nil {
				q.pending[key] = make(map[string]pendingEntry)
			}
			now := time.Now()
			for _, m := range taken {
				q.pending[key][m.ID] = pendingEntry{msg: m, deliveredAt: now}
			}
			q.mu.Unlock()
			return taken, nil
		}
		q.mu.Unlock()

		if blockDuration <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *Queue) Ack(_ context.Context, streamName, groupName, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := groupKey(streamName, groupName)
	if q.pending[key] != nil {
		delete(q.pending[key], messageID)
	}
	return nil
}

func (q *Queue) Pending(_ context.Context, streamName, groupName string, minIdle time.Duration) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := groupKey(streamName, groupName)
	cutoff := time.Now().Add(-minIdle)
	var ids []string
	for id, entry := range q.pending[key] {
		if entry.deliveredAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (q *Queue) EnqueueDead(_ context.Context, dlqStream string, payload queue.DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq[dlqStream] = append(q.dlq[dlqStream], payload)
	return nil
}

// DeadLetters exposes the in-memory DLQ for assertions in tests.
func (q *Queue) DeadLetters(dlqStream string) []queue.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.DeadLetter, len(q.dlq[dlqStream]))
	copy(out, q.dlq[dlqStream])
	return out
}

// Requeue re-appends a pending message (identified by id within
// streamName/groupName) to the back of the stream, simulating the
// pending-scan reclaim path, and removes it from pending.
func (q *Queue) Requeue(streamName, groupName, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := groupKey(streamName, groupName)
	entry, ok := q.pending[key][id]
	if !ok {
		return false
	}
	delete(q.pending[key], id)
	q.streams[streamName] = append(q.streams[streamName], entry.msg)
	return true
}

var _ queue.Queue = (*Queue)(nil)
