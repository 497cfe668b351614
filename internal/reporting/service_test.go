package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/queue"
)

var t0 = time.Unix(1700000000, 0).UTC()

func seedQueue(t *testing.T, repo *queue.MemoryRepo) queue.CallQueue {
	t.Helper()
	contacts := []calls.Contact{
		{ID: "c1", Phone: "2125550101"},
		{ID: "c2", Phone: "2125550102"},
		{ID: "c3", Phone: "2125550103"},
		{ID: "c4", Phone: "2125550104"},
	}
	q, err := queue.New("w1", "spring list", contacts, queue.DefaultSettings(), t0)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ids := make([]string, len(q.Items))
	for i, it := range q.Items {
		ids[i] = it.ID
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	// c1: no-answer, then connected.
	must(q.MarkCalling(ids[0]))
	must(q.RecordResult(ids[0], queue.OutcomeNoAnswer, "", "CA1", t0.Add(time.Minute)))
	must(q.RecordResult(ids[0], queue.OutcomeConnected, "", "CA2", t0.Add(2*time.Hour)))
	must(q.Complete(ids[0]))
	// c2: voicemail, auto-skipped.
	must(q.MarkCalling(ids[1]))
	must(q.RecordResult(ids[1], queue.OutcomeVoicemail, "", "CA3", t0.Add(2*time.Minute)))
	must(q.Skip(ids[1], queue.NoteVoicemailSkipped))
	// c3: busy, waiting for a retry. c4 untouched.
	must(q.MarkCalling(ids[2]))
	must(q.RecordResult(ids[2], queue.OutcomeBusy, "", "CA4", t0.Add(3*time.Minute)))

	q, err = repo.CreateQueue(context.Background(), q)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return q
}

func TestQueueSummary(t *testing.T) {
	repo := queue.NewMemoryRepo()
	q := seedQueue(t, repo)
	svc := NewService(repo, nil)

	out, err := svc.QueueSummary(context.Background(), QueueSummaryRequest{WorkspaceID: "w1", QueueID: q.ID})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Name != "spring list" || out.Progress.Total != 4 || out.Progress.Completed != 1 || out.Progress.Skipped != 1 {
		t.Fatalf("unexpected header: %+v", out)
	}
	if out.Items[queue.ItemCompleted] != 1 || out.Items[queue.ItemSkipped] != 1 || out.Items[queue.ItemCalling] != 1 || out.Items[queue.ItemPending] != 1 {
		t.Fatalf("unexpected items: %v", out.Items)
	}
	if out.FinalOutcomes[queue.OutcomeConnected] != 1 || out.FinalOutcomes[queue.OutcomeVoicemail] != 1 || len(out.FinalOutcomes) != 2 {
		t.Fatalf("unexpected final outcomes: %v", out.FinalOutcomes)
	}
	if out.Attempts != 4 || out.Connected != 1 || out.ConnectionRate != 0.25 || out.AttemptsPerContact != 1 {
		t.Fatalf("unexpected attempts: %+v", out)
	}
	if out.VoicemailSkipped != 1 {
		t.Fatalf("expected one voicemail skip, got %d", out.VoicemailSkipped)
	}
}

func TestQueueSummary_RangeFiltersAttempts(t *testing.T) {
	repo := queue.NewMemoryRepo()
	q := seedQueue(t, repo)
	svc := NewService(repo, nil)

	out, err := svc.QueueSummary(context.Background(), QueueSummaryRequest{
		WorkspaceID: "w1",
		QueueID:     q.ID,
		Range:       TimeRange{From: t0, To: t0.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Attempts != 3 || out.Connected != 0 || out.AttemptOutcomes[queue.OutcomeBusy] != 1 {
		t.Fatalf("unexpected attempts: %+v", out)
	}
}

func TestQueueSummary_WorkspaceIsolation(t *testing.T) {
	repo := queue.NewMemoryRepo()
	q := seedQueue(t, repo)
	svc := NewService(repo, nil)

	_, err := svc.QueueSummary(context.Background(), QueueSummaryRequest{WorkspaceID: "w2", QueueID: q.ID})
	if !errors.Is(err, queue.ErrQueueNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = svc.QueueSummary(context.Background(), QueueSummaryRequest{WorkspaceID: "w1"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	_, err = svc.QueueSummary(context.Background(), QueueSummaryRequest{
		WorkspaceID: "w1", QueueID: q.ID, Range: TimeRange{From: t0, To: t0},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid range, got %v", err)
	}
}

func TestActivity_FiltersByQueue(t *testing.T) {
	events := audit.NewMemoryRepo()
	ctx := context.Background()
	for i, qid := range []string{"q1", "q2", "q1", "q1"} {
		_ = events.Append(ctx, audit.Event{ID: string(rune('a' + i)), WorkspaceID: "w1", QueueID: qid, Type: audit.EventCallPlaced})
	}
	svc := NewService(nil, events)

	got, err := svc.Activity(ctx, "w1", "q1", 2)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(got) != 2 || got[0].ID != "d" || got[1].ID != "c" {
		t.Fatalf("unexpected events: %+v", got)
	}
	if _, err := svc.Activity(ctx, "w1", "q1", 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
