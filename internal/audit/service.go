package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// It has no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader reads back the newest events of a workspace.
type Reader interface {
	Recent(ctx context.Context, workspaceID string, count int64) ([]Event, error)
}

// Service stamps and stores activity events.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ActorUserID == "" {
		e.ActorUserID = ActorFrom(ctx)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogQueue records a queue-level action (start, pause, resume, completion).
func (s *Service) LogQueue(ctx context.Context, workspaceID, queueID, actorUserID string, t EventType, message string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        t,
		ActorUserID: actorUserID,
		QueueID:     queueID,
		Message:     message,
	})
}

// LogCall records a leg-level action.
func (s *Service) LogCall(ctx context.Context, workspaceID, queueID, itemID, callSID, batchID string, t EventType, message string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        t,
		QueueID:     queueID,
		ItemID:      itemID,
		CallSID:     callSID,
		BatchID:     batchID,
		Message:     message,
	})
}

type actorKey struct{}

// WithActor marks ctx as acting on behalf of userID; events appended with it
// carry the actor unless one is given explicitly.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func ActorFrom(ctx context.Context) string {
	s, _ := ctx.Value(actorKey{}).(string)
	return s
}
