package dialer

import (
	"context"
	"testing"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/clock"
	"outbound-dialer/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *telephony.SandboxTransport, *queue.MemoryRepo, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	repo := queue.NewMemoryRepo()
	repo.Now = clk.Now
	sb := telephony.NewSandboxTransport()
	sb.Now = clk.Now
	r := NewRegistry(Deps{
		Queues:    repo,
		Transport: sb,
		Clock:     clk,
		Log:       logger.Discard(),
	}, Config{MaxLines: 2, Stagger: time.Second})
	sb.Events = r
	t.Cleanup(func() { r.CloseAll(context.Background()) })
	return r, sb, repo, clk
}

func createQueue(t *testing.T, repo *queue.MemoryRepo, ws string, phones ...string) queue.CallQueue {
	t.Helper()
	var contacts []calls.Contact
	for _, p := range phones {
		contacts = append(contacts, calls.Contact{ID: p, Phone: p})
	}
	q, err := queue.New(ws, "list", contacts, queue.DefaultSettings(), t0)
	require.NoError(t, err)
	q, err = repo.CreateQueue(context.Background(), q)
	require.NoError(t, err)
	return q
}

func TestRegistry_OpenReusesSession(t *testing.T) {
	ctx := context.Background()
	r, _, repo, _ := newTestRegistry(t)
	q := createQueue(t, repo, "ws1", "2125550100")

	s1, err := r.Open(ctx, Config{WorkspaceID: "ws1", QueueID: q.ID, Agent: "agent-1"})
	require.NoError(t, err)
	s2, err := r.Open(ctx, Config{WorkspaceID: "ws1", QueueID: q.ID, Agent: "agent-2"})
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	got, ok := r.Get("ws1", q.ID)
	require.True(t, ok)
	assert.Same(t, s1, got)
	_, ok = r.Get("ws2", q.ID)
	assert.False(t, ok)

	assert.Equal(t, 2, s1.cfg.MaxLines)
	assert.Equal(t, time.Second, s1.cfg.Stagger)
}

func TestRegistry_RoutesProviderEvents(t *testing.T) {
	ctx := context.Background()
	r, sb, repo, clk := newTestRegistry(t)
	qa := createQueue(t, repo, "ws1", "2125550100")
	qb := createQueue(t, repo, "ws1", "4155550200")

	a, err := r.Open(ctx, Config{WorkspaceID: "ws1", QueueID: qa.ID})
	require.NoError(t, err)
	b, err := r.Open(ctx, Config{WorkspaceID: "ws1", QueueID: qb.ID})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	placed := sb.Placed()
	require.Len(t, placed, 2)
	sidA, sidB := placed[0].Leg.CallSID, placed[1].Leg.CallSID

	require.NoError(t, sb.Signal(ctx, sidB, calls.EventAnswered, ""))
	assert.Equal(t, calls.StatusActive, b.Snapshot().Call.Status)
	assert.Equal(t, calls.StatusConnecting, a.Snapshot().Call.Status)

	require.NoError(t, sb.Signal(ctx, sidA, calls.EventDisconnected, "busy"))
	assert.Nil(t, a.Snapshot().Call)
	assert.Equal(t, queue.OutcomeBusy, a.Queue().Items[0].LastOutcome)

	err = sb.Signal(ctx, sidA, calls.EventDisconnected, "")
	assert.ErrorIs(t, err, ErrUnknownLeg)
	assert.ErrorContains(t, err, sidA)

	// The retry re-registers the new leg.
	clk.Advance(time.Second)
	placed = sb.Placed()
	require.Len(t, placed, 3)
	require.NoError(t, sb.Signal(ctx, placed[2].Leg.CallSID, calls.EventRinging, ""))
	assert.Equal(t, calls.StatusRinging, a.Snapshot().Call.Status)
}

func TestRegistry_CloseHangsUpAndForgets(t *testing.T) {
	ctx := context.Background()
	r, sb, repo, _ := newTestRegistry(t)
	q := createQueue(t, repo, "ws1", "2125550100")

	s, err := r.Open(ctx, Config{WorkspaceID: "ws1", QueueID: q.ID})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	sid := sb.Placed()[0].Leg.CallSID

	require.NoError(t, r.Close(ctx, "ws1", q.ID))
	assert.Equal(t, 1, sb.HangUpCount(sid))
	_, ok := r.Get("ws1", q.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, sb.Signal(ctx, sid, calls.EventDisconnected, ""), ErrUnknownLeg)
	assert.NoError(t, r.Close(ctx, "ws1", q.ID))

	// A fresh session picks the stored queue back up.
	s2, err := r.Open(ctx, Config{WorkspaceID: "ws1", QueueID: q.ID})
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
	assert.Equal(t, queue.StatusActive, s2.Queue().Status)
}

func TestRegistry_OpenUnknownQueue(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	_, err := r.Open(context.Background(), Config{WorkspaceID: "ws1", QueueID: "missing"})
	assert.ErrorIs(t, err, queue.ErrQueueNotFound)
}
