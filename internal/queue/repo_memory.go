package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and the sandbox process.
// It enforces workspace isolation on reads and writes.
type MemoryRepo struct {
	mu     sync.Mutex
	queues map[string]CallQueue

	Now func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{queues: map[string]CallQueue{}, Now: time.Now}
}

func (r *MemoryRepo) CreateQueue(ctx context.Context, q CallQueue) (CallQueue, error) {
	if q.ID == "" || q.WorkspaceID == "" {
		return CallQueue{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[q.ID]; ok {
		return CallQueue{}, ErrConflict
	}
	r.queues[q.ID] = q.Clone()
	return q.Clone(), nil
}

func (r *MemoryRepo) GetQueue(ctx context.Context, workspaceID, queueID string) (CallQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[queueID]
	if !ok || q.WorkspaceID != workspaceID {
		return CallQueue{}, ErrQueueNotFound
	}
	return q.Clone(), nil
}

func (r *MemoryRepo) UpdateQueue(ctx context.Context, workspaceID, queueID string, p Patch) (CallQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[queueID]
	if !ok || q.WorkspaceID != workspaceID {
		return CallQueue{}, ErrQueueNotFound
	}
	q = q.Clone()
	p.Apply(&q)
	q.UpdatedAt = r.Now().UTC()
	r.queues[queueID] = q
	return q.Clone(), nil
}
