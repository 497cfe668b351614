package queue

import (
	"context"
	"strings"
	"time"

	"outbound-dialer/internal/calls"

	"github.com/google/uuid"
)

// Repository is the storage provider for queues.
//
// The scheduler is storage-agnostic. Implementations must enforce workspace
// scoping on every call and return ErrQueueNotFound for unknown ids.
type Repository interface {
	CreateQueue(ctx context.Context, q CallQueue) (CallQueue, error)
	GetQueue(ctx context.Context, workspaceID, queueID string) (CallQueue, error)
	UpdateQueue(ctx context.Context, workspaceID, queueID string, p Patch) (CallQueue, error)
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name     *string
	Status   *Status
	Settings *Settings

	// Items replaces the item list when non-nil. Items are matched by id.
	Items         []QueueItem
	CurrentIndex  *int
	CurrentItemID *string

	ParallelDialingEnabled *bool
	ParallelDialingActive  *bool
	ParallelCurrentBatch   *[]string
	ParallelActiveCalls    *[]string
}

// SnapshotPatch builds a patch carrying all mutable state of q.
func SnapshotPatch(q CallQueue) Patch {
	c := q.Clone()
	return Patch{
		Status:                 &c.Status,
		Settings:               &c.Settings,
		Items:                  c.Items,
		CurrentIndex:           &c.CurrentIndex,
		CurrentItemID:          &c.CurrentItemID,
		ParallelDialingEnabled: &c.ParallelDialingEnabled,
		ParallelDialingActive:  &c.ParallelDialingActive,
		ParallelCurrentBatch:   &c.ParallelCurrentBatch,
		ParallelActiveCalls:    &c.ParallelActiveCalls,
	}
}

// Apply writes the set fields of p onto q.
func (p Patch) Apply(q *CallQueue) {
	if p.Name != nil {
		q.Name = *p.Name
	}
	if p.Status != nil {
		q.Status = *p.Status
	}
	if p.Settings != nil {
		q.Settings = *p.Settings
	}
	if p.Items != nil {
		q.Items = append([]QueueItem(nil), p.Items...)
	}
	if p.CurrentIndex != nil {
		q.CurrentIndex = clampIndex(*p.CurrentIndex, len(q.Items))
	}
	if p.CurrentItemID != nil {
		q.CurrentItemID = *p.CurrentItemID
	}
	if p.ParallelDialingEnabled != nil {
		q.ParallelDialingEnabled = *p.ParallelDialingEnabled
	}
	if p.ParallelDialingActive != nil {
		q.ParallelDialingActive = *p.ParallelDialingActive
	}
	if p.ParallelCurrentBatch != nil {
		q.ParallelCurrentBatch = append([]string(nil), (*p.ParallelCurrentBatch)...)
	}
	if p.ParallelActiveCalls != nil {
		q.ParallelActiveCalls = append([]string(nil), (*p.ParallelActiveCalls)...)
	}
}

// New builds an idle queue with one pending item per contact.
func New(workspaceID, name string, contacts []calls.Contact, s Settings, now time.Time) (CallQueue, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return CallQueue{}, invalidf("workspace_id required")
	}
	if strings.TrimSpace(name) == "" {
		return CallQueue{}, invalidf("name required")
	}
	if err := s.Validate(); err != nil {
		return CallQueue{}, err
	}
	q := CallQueue{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		Status:      StatusIdle,
		Settings:    s,
		Items:       make([]QueueItem, 0, len(contacts)),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	for _, c := range contacts {
		if strings.TrimSpace(c.Phone) == "" {
			return CallQueue{}, invalidf("contact %q has no phone", c.ID)
		}
		q.Items = append(q.Items, QueueItem{ID: uuid.NewString(), Contact: c, Status: ItemPending})
	}
	return q, nil
}
