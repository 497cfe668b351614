package reporting

import (
	"context"
	"errors"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/queue"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// QueueSource is the read side of queue storage.
type QueueSource interface {
	GetQueue(ctx context.Context, workspaceID, queueID string) (queue.CallQueue, error)
}

// Service computes read-only views from stored queues and the activity log.
// It never writes.
type Service struct {
	queues QueueSource
	events audit.Reader
}

func NewService(queues QueueSource, events audit.Reader) *Service {
	return &Service{queues: queues, events: events}
}

func (s *Service) QueueSummary(ctx context.Context, req QueueSummaryRequest) (QueueSummary, error) {
	if req.WorkspaceID == "" || req.QueueID == "" {
		return QueueSummary{}, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return QueueSummary{}, ErrInvalidRequest
	}
	if s.queues == nil {
		return QueueSummary{}, errors.New("reporting: queue source not configured")
	}

	q, err := s.queues.GetQueue(ctx, req.WorkspaceID, req.QueueID)
	if err != nil {
		return QueueSummary{}, err
	}
	return summarize(q, req.Range), nil
}

func summarize(q queue.CallQueue, r TimeRange) QueueSummary {
	out := QueueSummary{
		WorkspaceID:     q.WorkspaceID,
		QueueID:         q.ID,
		Name:            q.Name,
		Status:          q.Status,
		Progress:        q.Progress(),
		Items:           map[queue.ItemStatus]int{},
		FinalOutcomes:   map[queue.Outcome]int{},
		AttemptOutcomes: map[queue.Outcome]int{},
	}
	for _, it := range q.Items {
		out.Items[it.Status]++
		if it.Status.Terminal() && it.LastOutcome != queue.OutcomeNone {
			out.FinalOutcomes[it.LastOutcome]++
		}
		if it.Status == queue.ItemSkipped && it.Note == queue.NoteVoicemailSkipped {
			out.VoicemailSkipped++
		}
		for _, a := range it.History {
			if !r.contains(a.At) {
				continue
			}
			out.Attempts++
			out.AttemptOutcomes[a.Outcome]++
			if a.Outcome == queue.OutcomeConnected {
				out.Connected++
			}
		}
	}
	if out.Attempts > 0 {
		out.ConnectionRate = float64(out.Connected) / float64(out.Attempts)
	}
	if len(q.Items) > 0 {
		out.AttemptsPerContact = float64(out.Attempts) / float64(len(q.Items))
	}
	return out
}

// Activity returns up to limit of the newest events of a queue, newest first.
// The log is scanned in windows of scanFactor*limit workspace events.
func (s *Service) Activity(ctx context.Context, workspaceID, queueID string, limit int) ([]audit.Event, error) {
	if workspaceID == "" || queueID == "" || limit <= 0 {
		return nil, ErrInvalidRequest
	}
	if s.events == nil {
		return nil, errors.New("reporting: activity log not configured")
	}
	evs, err := s.events.Recent(ctx, workspaceID, int64(limit*scanFactor))
	if err != nil {
		return nil, err
	}
	out := make([]audit.Event, 0, limit)
	for _, e := range evs {
		if e.QueueID != queueID {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

const scanFactor = 10
