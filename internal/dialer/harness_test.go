package dialer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/callerid"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/clock"
	"outbound-dialer/pkg/logger"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var testNumbers = callerid.StaticInventory{
	{PhoneNumber: "+12125550100", FriendlyName: "NYC"},
	{PhoneNumber: "+14155550200", FriendlyName: "SF"},
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clk    *clock.Fake
	repo   *queue.MemoryRepo
	sb     *telephony.SandboxTransport
	events *audit.MemoryRepo
	s      *Session
	q      queue.CallQueue
}

type harnessConfig struct {
	phones   []string
	settings queue.Settings
	parallel bool
	cfg      Config
	lines    LineLimiter
	wrap     func(queue.Repository) queue.Repository
}

type option func(*harnessConfig)

func withSettings(fn func(s *queue.Settings)) option {
	return func(c *harnessConfig) { fn(&c.settings) }
}

func withParallel() option { return func(c *harnessConfig) { c.parallel = true } }

func withPhones(phones ...string) option { return func(c *harnessConfig) { c.phones = phones } }

func withLines(l LineLimiter) option { return func(c *harnessConfig) { c.lines = l } }

func withLocalPresence() option { return func(c *harnessConfig) { c.cfg.LocalPresence = true } }

func withRepo(wrap func(queue.Repository) queue.Repository) option {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func newHarness(t *testing.T, n int, opts ...option) *harness {
	t.Helper()
	hc := harnessConfig{settings: queue.DefaultSettings()}
	for i := 0; i < n; i++ {
		hc.phones = append(hc.phones, fmt.Sprintf("212555010%d", i))
	}
	for _, o := range opts {
		o(&hc)
	}

	ctx := context.Background()
	clk := clock.NewFake(t0)
	repo := queue.NewMemoryRepo()
	repo.Now = clk.Now

	contacts := make([]calls.Contact, 0, len(hc.phones))
	for i, p := range hc.phones {
		contacts = append(contacts, calls.Contact{ID: fmt.Sprintf("c%d", i+1), Name: fmt.Sprintf("Contact %d", i+1), Phone: p})
	}
	q, err := queue.New("ws1", "morning list", contacts, hc.settings, t0)
	require.NoError(t, err)
	q.ParallelDialingEnabled = hc.parallel
	_, err = repo.CreateQueue(ctx, q)
	require.NoError(t, err)

	sb := telephony.NewSandboxTransport()
	sb.Now = clk.Now
	events := audit.NewMemoryRepo()

	var store queue.Repository = repo
	if hc.wrap != nil {
		store = hc.wrap(repo)
	}
	cfg := hc.cfg
	cfg.WorkspaceID = "ws1"
	cfg.QueueID = q.ID
	cfg.Agent = "agent-1"

	s, err := Open(ctx, cfg, Deps{
		Queues:    store,
		Transport: sb,
		Numbers:   testNumbers,
		Lines:     hc.lines,
		Audit:     audit.NewService(events),
		Clock:     clk,
		Log:       logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })

	return &harness{t: t, ctx: ctx, clk: clk, repo: repo, sb: sb, events: events, s: s, q: q}
}

func (h *harness) placed() []telephony.PlacedLeg { return h.sb.Placed() }

func (h *harness) sid(i int) string {
	h.t.Helper()
	p := h.placed()
	require.Greater(h.t, len(p), i, "leg %d not placed", i)
	return p[i].Leg.CallSID
}

func (h *harness) item(i int) queue.QueueItem {
	return h.s.Queue().Items[i]
}

func (h *harness) event(sid string, kind calls.EventKind, reason string) {
	h.t.Helper()
	require.NoError(h.t, h.s.HandleProviderEvent(h.ctx, calls.ProviderEvent{CallSID: sid, Kind: kind, Reason: reason}))
}

func (h *harness) answer(sid, answeredBy string) {
	h.t.Helper()
	require.NoError(h.t, h.s.HandleProviderEvent(h.ctx, calls.ProviderEvent{CallSID: sid, Kind: calls.EventAnswered, AnsweredBy: answeredBy}))
}

func (h *harness) countdown() (int, bool) {
	snap := h.s.Snapshot()
	if snap.Countdown == nil {
		return 0, false
	}
	return *snap.Countdown, true
}

// flakyRepo fails UpdateQueue while fail is set.
type flakyRepo struct {
	queue.Repository
	fail bool
}

var errStorageDown = errors.New("storage down")

func (r *flakyRepo) UpdateQueue(ctx context.Context, workspaceID, queueID string, p queue.Patch) (queue.CallQueue, error) {
	if r.fail {
		return queue.CallQueue{}, errStorageDown
	}
	return r.Repository.UpdateQueue(ctx, workspaceID, queueID, p)
}
