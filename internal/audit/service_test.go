package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresWorkspaceAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventQueueStarted}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{WorkspaceID: "w"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_StampsEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogCall(context.Background(), "w", "q", "item1", "CA1", "", EventCallPlaced, "dialing +15551234567"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogQueue(context.Background(), "w", "q", "u1", EventQueuePaused, ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp stamped")
	}
	if evs[0].CallSID != "CA1" || evs[0].ItemID != "item1" {
		t.Fatalf("expected call fields captured: %+v", evs[0])
	}
	if got := repo.OfType(EventQueuePaused); len(got) != 1 || got[0].ActorUserID != "u1" {
		t.Fatalf("expected one pause by u1, got %+v", got)
	}
}

func TestStreamKey(t *testing.T) {
	if StreamKey("w1") != "audit:w1" {
		t.Fatalf("unexpected key")
	}
}

func TestService_ActorFromContext(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := WithActor(context.Background(), "agent-7")

	if err := svc.LogQueue(ctx, "w", "q", "", EventQueueStarted, ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogQueue(ctx, "w", "q", "u1", EventQueuePaused, ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if evs[0].ActorUserID != "agent-7" || evs[1].ActorUserID != "u1" {
		t.Fatalf("unexpected actors: %q %q", evs[0].ActorUserID, evs[1].ActorUserID)
	}
}

func TestMemoryRepo_RecentNewestFirstPerWorkspace(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	for _, e := range []Event{
		{ID: "1", WorkspaceID: "w"},
		{ID: "2", WorkspaceID: "other"},
		{ID: "3", WorkspaceID: "w"},
		{ID: "4", WorkspaceID: "w"},
	} {
		_ = repo.Append(ctx, e)
	}
	got, err := repo.Recent(ctx, "w", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "4" || got[1].ID != "3" {
		t.Fatalf("unexpected events: %+v", got)
	}
}
