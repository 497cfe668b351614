package dialer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/callerid"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/clock"
	"outbound-dialer/pkg/phone"
)

const (
	DefaultMaxLines = 3
	DefaultStagger  = 500 * time.Millisecond
)

// Config identifies the queue a session drives and how legs are placed.
type Config struct {
	WorkspaceID string
	QueueID     string

	// Agent is the browser client identity (browser mode) or the agent's number
	// (phone mode) that answered legs are bridged to.
	Agent string
	Mode  calls.CallingMode

	LocalPresence    bool
	MachineDetection bool

	// MaxLines is the process-wide ceiling on parallel legs per batch. The
	// queue's own ParallelDialingMaxLines can only lower it.
	MaxLines int
	// Stagger is the delay between successive leg launches in a batch.
	Stagger time.Duration
}

// Deps are the collaborators a session needs. Queues and Transport are required.
type Deps struct {
	Queues    queue.Repository
	Transport telephony.Transport
	Numbers   callerid.Inventory
	Lines     LineLimiter
	Audit     *audit.Service
	Clock     clock.Clock
	Log       *slog.Logger
}

// Session is the scheduler for one queue. Every operation, provider event and
// timer callback runs under one mutex, so nothing that touches the queue
// interleaves. Observers are notified after the mutex is released.
type Session struct {
	cfg       Config
	queues    queue.Repository
	transport telephony.Transport
	numbers   callerid.Inventory
	lines     LineLimiter
	audit     *audit.Service
	clk       clock.Clock
	log       *slog.Logger

	// ctx is used by work that no caller waits for (timer callbacks).
	ctx    context.Context
	cancel context.CancelFunc

	// legHook mirrors leg registration into the Registry's SID index.
	legHook func(callSID string, live bool)

	mu        sync.Mutex
	q         queue.CallQueue
	closed    bool
	primary   *leg
	legs      map[string]*leg
	batch     *batch
	countdown *Countdown
	cdGen     uint64
	cdKind    CountdownKind
	inventory []callerid.Number
	callerID  callerid.Selection
	outbox    []Update

	// callerIDTarget is the target the local-presence policy last ran against.
	callerIDTarget string

	obsMu     sync.Mutex
	obsSeq    int
	observers []subscriber
}

type subscriber struct {
	id int
	fn Observer
}

// leg is one placed (or attempted) outbound call.
type leg struct {
	itemID  string
	sid     string
	machine *calls.Machine
	batch   *batch

	line     bool // holds a LineLimiter slot
	hungUp   bool // we sent the hang-up
	lost     bool // torn down because another leg won
	recorded bool // the agent already recorded this call's result
	quiet    bool // ended by Skip; the caller resolves the item, no auto-advance
	settled  bool
	res      resolution
}

type CountdownKind string

const (
	CountdownRetry   CountdownKind = "retry"
	CountdownAdvance CountdownKind = "advance"
)

type UpdateKind string

const (
	UpdateCall      UpdateKind = "call"
	UpdateQueue     UpdateKind = "queue"
	UpdateCountdown UpdateKind = "countdown"
)

// Update is delivered to observers. Only the fields for Kind are set.
type Update struct {
	Kind UpdateKind `json:"kind"`

	Call calls.CallState `json:"call"`

	Status   queue.Status   `json:"status,omitempty"`
	Progress queue.Progress `json:"progress"`

	// Remaining is the countdown in seconds; 0 means no countdown is running.
	Remaining int `json:"remaining,omitempty"`
}

type Observer func(Update)

// Snapshot is a consistent read of the session.
type Snapshot struct {
	Queue    queue.CallQueue    `json:"queue"`
	Progress queue.Progress     `json:"progress"`
	Call     *calls.CallState   `json:"call,omitempty"`
	Legs     []calls.CallState  `json:"legs,omitempty"`
	CallerID callerid.Selection `json:"caller_id"`

	// Countdown is nil when no countdown is running.
	Countdown     *int          `json:"countdown,omitempty"`
	CountdownKind CountdownKind `json:"countdown_kind,omitempty"`
}

// Open loads the queue and returns an idle session for it. Storage errors are
// returned as is.
func Open(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if cfg.WorkspaceID == "" || cfg.QueueID == "" {
		return nil, errors.New("dialer: workspace_id and queue_id required")
	}
	if deps.Queues == nil || deps.Transport == nil {
		return nil, errors.New("dialer: queue repository and transport required")
	}
	q, err := deps.Queues.GetQueue(ctx, cfg.WorkspaceID, cfg.QueueID)
	if err != nil {
		return nil, err
	}

	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.Stagger <= 0 {
		cfg.Stagger = DefaultStagger
	}
	if cfg.Mode == "" {
		cfg.Mode = calls.CallingModeBrowser
	}
	if deps.Lines == nil {
		deps.Lines = Unlimited{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	s := &Session{
		cfg:       cfg,
		queues:    deps.Queues,
		transport: deps.Transport,
		numbers:   deps.Numbers,
		lines:     deps.Lines,
		audit:     deps.Audit,
		clk:       deps.Clock,
		log:       deps.Log.With("workspace_id", cfg.WorkspaceID, "queue_id", cfg.QueueID),
		q:         q,
		legs:      map[string]*leg{},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.countdown = NewCountdown(s.clk, s.onCountdownTick)

	if s.numbers != nil {
		nums, err := s.numbers.ListNumbers(ctx, cfg.WorkspaceID)
		if err != nil {
			s.log.Warn("caller id inventory unavailable", "err", err)
		} else {
			s.inventory = nums
		}
	}
	s.selectCallerIDLocked("")
	return s, nil
}

// Subscribe registers o for call, queue and countdown updates and returns a
// func that removes it. Observers run on the goroutine that caused the update
// and must not block.
func (s *Session) Subscribe(o Observer) (unsubscribe func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.obsSeq++
	id := s.obsSeq
	s.observers = append(s.observers, subscriber{id: id, fn: o})
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, sub := range s.observers {
			if sub.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Start activates the queue and dials. Starting an active queue that already
// has a call or countdown in flight is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	switch s.q.Status {
	case queue.StatusCompleted:
		return ErrQueueCompleted
	case queue.StatusActive:
		if _, running := s.countdown.Remaining(); running || s.inFlightLocked() {
			return nil
		}
	}
	wasActive := s.q.Status == queue.StatusActive
	if err := s.advanceLocked(ctx, activate); err != nil {
		return err
	}
	if !wasActive {
		s.logQueue(ctx, audit.EventQueueStarted, "")
	}
	return nil
}

func activate(q *queue.CallQueue) { q.Status = queue.StatusActive }

// Next cancels any countdown and dials the next call right away.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.q.Status != queue.StatusActive {
		return ErrQueueNotActive
	}
	if s.inFlightLocked() {
		return ErrCallInProgress
	}
	return s.advanceLocked(ctx, nil)
}

// Pause stops auto-advance: the countdown and any pending parallel launches are
// cancelled. Calls already placed continue.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.q.Status != queue.StatusActive {
		return ErrQueueNotActive
	}
	if err := s.commit(ctx, func(q *queue.CallQueue) error {
		q.Status = queue.StatusPaused
		return nil
	}); err != nil {
		return err
	}
	s.stopCountdownLocked()
	if b := s.batch; b != nil {
		s.cancelLaunchesLocked(b)
		if err := s.checkBatchLocked(ctx, b, true); err != nil {
			s.log.Error("batch settle after pause failed", "err", err)
		}
	}
	s.logQueue(ctx, audit.EventQueuePaused, "")
	return nil
}

// Resume reactivates a paused queue. It does not dial or restart a countdown;
// the next call end is evaluated normally, or the agent calls Next.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.q.Status != queue.StatusPaused {
		return ErrQueueNotPaused
	}
	if err := s.commit(ctx, func(q *queue.CallQueue) error {
		q.Status = queue.StatusActive
		return nil
	}); err != nil {
		return err
	}
	s.logQueue(ctx, audit.EventQueueResumed, "")
	return nil
}

// Skip marks an item skipped regardless of attempts left. A live leg to the item
// is hung up first. Pending countdowns and parallel launches are cancelled; Skip
// never dials.
func (s *Session) Skip(ctx context.Context, itemID, reason string) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, _, err := s.q.Item(itemID); err != nil {
		return err
	}
	s.stopCountdownLocked()
	if s.batch != nil {
		s.cancelLaunchesLocked(s.batch)
	}
	if l := s.liveLegForItemLocked(itemID); l != nil {
		l.quiet = true
		s.hangUpLocked(ctx, l)
		if err := s.settleLocked(ctx, l); err != nil {
			return err
		}
	}
	if err := s.commit(ctx, func(q *queue.CallQueue) error {
		return q.Skip(itemID, reason)
	}); err != nil {
		return err
	}
	s.logItem(ctx, itemID, audit.EventItemSkipped, reason)
	if b := s.batch; b != nil {
		return s.checkBatchLocked(ctx, b, true)
	}
	return nil
}

// HangUp ends the primary call. While a parallel batch is still racing it ends
// every leg of the batch and cancels the remaining launches. The call end is
// evaluated like any other.
func (s *Session) HangUp(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.stopCountdownLocked()
	if l := s.primary; l != nil && l.machine.State().Status.Live() {
		s.hangUpLocked(ctx, l)
		return s.settleLocked(ctx, l)
	}
	b := s.batch
	if b == nil {
		return ErrNoActiveCall
	}
	s.cancelLaunchesLocked(b)
	for _, l := range b.legs {
		if l.settled {
			continue
		}
		s.hangUpLocked(ctx, l)
		if err := s.settleLocked(ctx, l); err != nil {
			return err
		}
	}
	return s.checkBatchLocked(ctx, b, false)
}

// HangUpLeg ends one leg. A leg of a racing batch ends as no-answer and the rest
// of the batch carries on, including launches not yet placed.
func (s *Session) HangUpLeg(ctx context.Context, callSID string) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	l, ok := s.legs[callSID]
	if !ok || !l.machine.State().Status.Live() {
		return ErrNoActiveCall
	}
	if l == s.primary {
		s.stopCountdownLocked()
	}
	s.hangUpLocked(ctx, l)
	return s.settleLocked(ctx, l)
}

// RecordResult records the agent's outcome for the item's current call. The
// attempt is counted once per placed leg: recording while the leg is live
// counts it, and the automatic outcome at hang-up is then not recorded again.
// Without a live leg the latest result is corrected instead.
func (s *Session) RecordResult(ctx context.Context, itemID string, outcome queue.Outcome, note string) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if l := s.liveLegForItemLocked(itemID); l != nil && !l.recorded {
		if err := s.commit(ctx, func(q *queue.CallQueue) error {
			return q.RecordResult(itemID, outcome, note, l.sid, s.clk.Now().UTC())
		}); err != nil {
			return err
		}
		l.recorded = true
		return nil
	}
	return s.setDispositionLocked(ctx, itemID, outcome, note)
}

// SetDisposition corrects the latest outcome of an item without counting an
// attempt. An item waiting for a retry is completed when the corrected outcome
// is final.
func (s *Session) SetDisposition(ctx context.Context, itemID string, outcome queue.Outcome, note string) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.setDispositionLocked(ctx, itemID, outcome, note)
}

func (s *Session) setDispositionLocked(ctx context.Context, itemID string, outcome queue.Outcome, note string) error {
	it, _, err := s.q.Item(itemID)
	if err != nil {
		return err
	}
	if it.Attempts == 0 {
		return ErrNoActiveCall
	}
	live := s.liveLegForItemLocked(itemID) != nil
	if err := s.commit(ctx, func(q *queue.CallQueue) error {
		if err := q.SetDisposition(itemID, outcome, note); err != nil {
			return err
		}
		it, _, _ := q.Item(itemID)
		if !live && it.Status == queue.ItemCalling && !queue.ShouldRetry(*it, q.Settings) {
			return q.Complete(itemID)
		}
		return nil
	}); err != nil {
		return err
	}
	s.logItem(ctx, itemID, audit.EventDisposition, string(outcome))
	return nil
}

// Requeue puts a completed or skipped item back to pending.
func (s *Session) Requeue(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.commit(ctx, func(q *queue.CallQueue) error {
		return q.Requeue(itemID)
	}); err != nil {
		return err
	}
	s.logItem(ctx, itemID, audit.EventItemRequeued, "")
	return nil
}

// UpdateSettings replaces the queue settings; they apply from the next decision.
func (s *Session) UpdateSettings(ctx context.Context, settings queue.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.commit(ctx, func(q *queue.CallQueue) error {
		q.Settings = settings
		return nil
	})
}

// SetParallelDialing switches between sequential and parallel dialing from the
// next advance on.
func (s *Session) SetParallelDialing(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.commit(ctx, func(q *queue.CallQueue) error {
		q.ParallelDialingEnabled = enabled
		return nil
	})
}

// SetCallerID makes number the manual caller ID selection. Local presence does
// not override it until the target or the number set changes.
func (s *Session) SetCallerID(number string) callerid.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.callerID.Number
	target := s.nextTargetLocked()
	in := s.callerIDInputLocked(target)
	in.Selected = number
	s.callerID = callerid.Keep(in)
	s.callerID.Changed = number != prev
	s.callerIDTarget = target
	return s.callerID
}

func (s *Session) SetLocalPresence(enabled bool) callerid.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.LocalPresence = enabled
	return s.selectCallerIDLocked(s.nextTargetLocked())
}

// RefreshNumbers reloads the caller ID inventory, bypassing any cache.
func (s *Session) RefreshNumbers(ctx context.Context) (callerid.Selection, error) {
	if s.numbers == nil {
		return s.CallerID(), nil
	}
	load := s.numbers.ListNumbers
	if r, ok := s.numbers.(callerid.Refresher); ok {
		load = r.Refresh
	}
	nums, err := load(ctx, s.cfg.WorkspaceID)
	if err != nil {
		return s.CallerID(), err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory = nums
	return s.selectCallerIDLocked(s.nextTargetLocked()), nil
}

func (s *Session) CallerID() callerid.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callerID
}

// HandleProviderEvent applies a transport event to the leg it belongs to.
// Events for legs this session no longer tracks return ErrUnknownLeg.
func (s *Session) HandleProviderEvent(ctx context.Context, ev calls.ProviderEvent) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	l, ok := s.legs[ev.CallSID]
	if !ok {
		return ErrUnknownLeg
	}
	if !l.machine.OnProviderEvent(ev) {
		return nil
	}
	st := l.machine.State()
	switch {
	case st.Status == calls.StatusActive:
		if b := l.batch; b != nil && b == s.batch && b.winner == nil {
			s.winLocked(ctx, b, l)
		}
		if st.AnsweredBy == "machine" && s.q.Settings.AutoSkipVoicemail && s.autoLocked() {
			s.hangUpLocked(ctx, l)
			return s.settleLocked(ctx, l)
		}
	case st.Status.Terminal():
		return s.settleLocked(ctx, l)
	}
	return nil
}

func (s *Session) Progress() queue.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Progress()
}

func (s *Session) Queue() queue.CallQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Clone()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Queue:    s.q.Clone(),
		Progress: s.q.Progress(),
		CallerID: s.callerID,
	}
	if s.primary != nil {
		st := s.primary.machine.State()
		snap.Call = &st
	}
	for _, sid := range s.liveSIDsLocked() {
		snap.Legs = append(snap.Legs, s.legs[sid].machine.State())
	}
	if n, ok := s.countdown.Remaining(); ok {
		snap.Countdown = &n
		snap.CountdownKind = s.cdKind
	}
	return snap
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close tears the session down: countdown and launches are cancelled, live legs
// are hung up and their lines released. Queue state is left as stored; items
// that were calling are picked up again by the next session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return nil
	}
	s.stopCountdownLocked()
	if s.batch != nil {
		s.cancelLaunchesLocked(s.batch)
		s.batch = nil
	}
	for _, sid := range s.liveSIDsLocked() {
		l := s.legs[sid]
		s.hangUpLocked(ctx, l)
		s.releaseLineLocked(ctx, l)
		s.unregisterLocked(l)
	}
	s.primary = nil
	s.closed = true
	s.cancel()
	return nil
}

// advanceLocked moves the queue forward: re-dial an item waiting for a retry,
// else the next pending item, else mark the queue completed. pre is applied to
// the same write (Start uses it to activate the queue atomically with the dial).
func (s *Session) advanceLocked(ctx context.Context, pre func(q *queue.CallQueue)) error {
	s.stopCountdownLocked()
	if s.inFlightLocked() {
		if pre == nil {
			return nil
		}
		return s.commit(ctx, func(q *queue.CallQueue) error {
			pre(q)
			return nil
		})
	}
	if s.q.ParallelDialingEnabled {
		return s.startBatchLocked(ctx, pre)
	}
	return s.dialNextLocked(ctx, pre)
}

func (s *Session) dialNextLocked(ctx context.Context, pre func(q *queue.CallQueue)) error {
	if err := s.acquireLineLocked(ctx); err != nil {
		return err
	}
	var target queue.QueueItem
	found := false
	err := s.commit(ctx, func(q *queue.CallQueue) error {
		if pre != nil {
			pre(q)
		}
		if q.Status != queue.StatusActive {
			return ErrQueueNotActive
		}
		q.Rewind()
		if it, _, err := q.Item(q.CurrentItemID); err == nil && !it.Status.Terminal() {
			target, found = *it, true
		} else if ids := s.awaitingRetryLocked(q, 1); len(ids) > 0 {
			it, _, _ := q.Item(ids[0])
			target, found = *it, true
		} else if it := q.GetNext(); it != nil {
			target, found = *it, true
		} else {
			q.CurrentItemID = ""
			return nil
		}
		q.CurrentItemID = target.ID
		return q.MarkCalling(target.ID)
	})
	if err != nil || !found {
		_ = s.lines.Release(ctx, s.cfg.WorkspaceID)
	}
	if err != nil {
		return err
	}
	if !found {
		s.onCompletedLocked(ctx)
		return nil
	}
	return s.placeLocked(ctx, target, nil)
}

// placeLocked dials an item whose line is already acquired. Transport failures
// end the leg as failed and are settled like any other call end.
func (s *Session) placeLocked(ctx context.Context, item queue.QueueItem, b *batch) error {
	to := phoneE164(item.Contact.Phone)
	if to != s.callerIDTarget {
		s.selectCallerIDLocked(to)
	}
	from := s.callerID.Number

	m := calls.NewMachine(s.log)
	m.Now = s.clk.Now
	// Machine transitions only happen under s.mu, so the outbox is safe here.
	m.Subscribe(func(_, next calls.CallState) {
		s.outbox = append(s.outbox, Update{Kind: UpdateCall, Call: next})
	})
	groupID := ""
	if b != nil {
		groupID = b.id
	}
	target := calls.Contact{ID: item.Contact.ID, Name: item.Contact.Name, Phone: to}
	if err := m.PlaceCall(target, from, s.cfg.Mode, groupID); err != nil {
		return err
	}

	l := &leg{itemID: item.ID, machine: m, batch: b, line: true}
	if b != nil {
		b.legs = append(b.legs, l)
	} else {
		s.primary = l
	}

	placed, err := s.transport.PlaceLeg(ctx, telephony.PlaceLegRequest{
		WorkspaceID:      s.cfg.WorkspaceID,
		QueueID:          s.cfg.QueueID,
		ItemID:           item.ID,
		To:               to,
		From:             from,
		Mode:             s.cfg.Mode,
		AgentIdentity:    s.cfg.Agent,
		MachineDetection: s.cfg.MachineDetection,
	})
	if err != nil {
		s.log.Warn("place leg failed", "item_id", item.ID, "err", err)
		_ = m.Fail("transport_failure")
		return s.settleLocked(ctx, l)
	}

	m.Bind(placed.CallSID)
	l.sid = placed.CallSID
	s.legs[l.sid] = l
	if s.legHook != nil {
		s.legHook(l.sid, true)
	}
	if err := s.commit(ctx, func(*queue.CallQueue) error { return nil }); err != nil {
		s.log.Warn("active calls not saved", "call_sid", l.sid, "err", err)
	}
	s.logCall(ctx, l, audit.EventCallPlaced, to)
	return nil
}

// settleLocked records the outcome of a leg that has ended and decides what
// happens next. It runs once per leg.
func (s *Session) settleLocked(ctx context.Context, l *leg) error {
	if l.settled {
		return nil
	}
	l.settled = true
	s.releaseLineLocked(ctx, l)
	s.unregisterLocked(l)

	st := l.machine.State()
	outcome := OutcomeFromCall(st)
	if l.lost {
		outcome = queue.OutcomeNoAnswer
	}
	auto := s.autoLocked()
	err := s.commit(ctx, func(q *queue.CallQueue) error {
		it, _, err := q.Item(l.itemID)
		if err != nil {
			return err
		}
		if it.Status.Terminal() {
			l.res = resolvedDone
			return nil
		}
		if !l.recorded {
			if err := q.RecordResult(l.itemID, outcome, "", l.sid, s.clk.Now().UTC()); err != nil {
				return err
			}
		}
		if l.quiet {
			l.res = resolvedNone
			return nil
		}
		l.res, err = resolveItem(q, l.itemID, auto)
		return err
	})
	if err != nil {
		s.log.Error("call result not saved", "item_id", l.itemID, "call_sid", l.sid, "err", err)
		return err
	}
	s.logCall(ctx, l, audit.EventCallEnded, string(outcome))
	if l.res == resolvedSkipped {
		s.logItem(ctx, l.itemID, audit.EventItemSkipped, VoicemailSkipReason)
	}

	switch {
	case l.batch != nil && l.batch == s.batch:
		return s.checkBatchLocked(ctx, l.batch, l.quiet)
	case l == s.primary:
		s.primary = nil
		if l.quiet {
			return nil
		}
		return s.afterCallLocked(ctx, l)
	}
	return nil
}

// afterCallLocked is the auto-advance decision for a finished primary call:
// auto-skipped voicemail advances at once, a retry waits out the backoff, and
// anything else waits the advance delay (plus the voicemail delay).
func (s *Session) afterCallLocked(ctx context.Context, l *leg) error {
	if !s.autoLocked() {
		return nil
	}
	it, _, err := s.q.Item(l.itemID)
	if err != nil {
		return err
	}
	switch l.res {
	case resolvedSkipped:
		return s.advanceLocked(ctx, nil)
	case resolvedRetry:
		s.startCountdownLocked(retrySeconds(it.Attempts), CountdownRetry)
	default:
		s.startCountdownLocked(advanceSeconds(s.q.Settings, it.LastOutcome), CountdownAdvance)
	}
	return nil
}

func (s *Session) onCompletedLocked(ctx context.Context) {
	if s.q.Status != queue.StatusCompleted {
		return
	}
	s.log.Info("queue completed", "total", len(s.q.Items))
	s.logQueue(ctx, audit.EventQueueCompleted, "")
}

// commit applies mutate to a copy of the queue and stores it. On any error the
// session keeps its previous state.
func (s *Session) commit(ctx context.Context, mutate func(q *queue.CallQueue) error) error {
	next := s.q.Clone()
	if err := mutate(&next); err != nil {
		return err
	}
	next.ParallelActiveCalls = s.liveSIDsLocked()
	saved, err := s.queues.UpdateQueue(ctx, s.q.WorkspaceID, s.q.ID, queue.SnapshotPatch(next))
	if err != nil {
		return err
	}
	s.q = saved
	s.outbox = append(s.outbox, Update{Kind: UpdateQueue, Status: saved.Status, Progress: saved.Progress()})
	return nil
}

func (s *Session) startCountdownLocked(seconds int, kind CountdownKind) {
	s.cdGen++
	gen := s.cdGen
	s.cdKind = kind
	s.countdown.Start(seconds, func() { s.expire(gen) })
	s.outbox = append(s.outbox, Update{Kind: UpdateCountdown, Remaining: seconds})
}

func (s *Session) stopCountdownLocked() {
	s.cdGen++
	if s.countdown.Cancel() {
		s.outbox = append(s.outbox, Update{Kind: UpdateCountdown})
	}
}

// expire runs when a countdown reaches zero. The generation check makes a
// cancel that raced with the final tick win.
func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed || gen != s.cdGen {
		return
	}
	if err := s.advanceLocked(s.ctx, nil); err != nil {
		s.log.Error("auto-advance failed", "err", err)
	}
}

// onCountdownTick queues a tick only while its countdown is still the one
// running, so a tick that raced with a cancel never follows the cleared update.
func (s *Session) onCountdownTick(remaining int) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return
	}
	if n, ok := s.countdown.Remaining(); remaining > 0 && (!ok || n != remaining) {
		return
	}
	s.outbox = append(s.outbox, Update{Kind: UpdateCountdown, Remaining: remaining})
}

func (s *Session) hangUpLocked(ctx context.Context, l *leg) {
	if l.hungUp || !l.machine.State().Status.Live() {
		return
	}
	l.hungUp = true
	if l.sid != "" {
		if err := s.transport.HangUp(ctx, l.sid); err != nil {
			s.log.Warn("hang up failed", "call_sid", l.sid, "err", err)
		}
	}
	_ = l.machine.HangUp()
}

func (s *Session) acquireLineLocked(ctx context.Context) error {
	ok, err := s.lines.Acquire(ctx, s.cfg.WorkspaceID)
	if err != nil {
		return errors.Join(ErrLinesExhausted, err)
	}
	if !ok {
		return ErrLinesExhausted
	}
	return nil
}

func (s *Session) releaseLineLocked(ctx context.Context, l *leg) {
	if !l.line {
		return
	}
	l.line = false
	if err := s.lines.Release(ctx, s.cfg.WorkspaceID); err != nil {
		s.log.Warn("line release failed", "err", err)
	}
}

func (s *Session) unregisterLocked(l *leg) {
	if l.sid == "" {
		return
	}
	if _, ok := s.legs[l.sid]; !ok {
		return
	}
	delete(s.legs, l.sid)
	if s.legHook != nil {
		s.legHook(l.sid, false)
	}
}

func (s *Session) autoLocked() bool {
	return !s.closed && s.q.Status == queue.StatusActive && s.q.Settings.AutoAdvance
}

func (s *Session) inFlightLocked() bool {
	return s.primary != nil || s.batch != nil || len(s.legs) > 0
}

func (s *Session) liveSIDsLocked() []string {
	out := make([]string, 0, len(s.legs))
	for sid := range s.legs {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

func (s *Session) liveLegForItemLocked(itemID string) *leg {
	for _, l := range s.legs {
		if l.itemID == itemID && !l.settled {
			return l
		}
	}
	return nil
}

// awaitingRetryLocked lists up to n items that are calling without a live leg,
// in queue order.
func (s *Session) awaitingRetryLocked(q *queue.CallQueue, n int) []string {
	var out []string
	for _, it := range q.Items {
		if len(out) >= n {
			break
		}
		if it.Status == queue.ItemCalling && s.liveLegForItemLocked(it.ID) == nil {
			out = append(out, it.ID)
		}
	}
	return out
}

func (s *Session) nextTargetLocked() string {
	if s.primary != nil {
		return s.primary.machine.State().Target.Phone
	}
	if it, _, err := s.q.Item(s.q.CurrentItemID); err == nil {
		return phoneE164(it.Contact.Phone)
	}
	if next := s.q.Peek(1); len(next) > 0 {
		return phoneE164(next[0].Contact.Phone)
	}
	return ""
}

// selectCallerIDLocked re-applies the local presence policy against target.
func (s *Session) selectCallerIDLocked(target string) callerid.Selection {
	s.callerID = callerid.Select(s.callerIDInputLocked(target))
	s.callerIDTarget = target
	return s.callerID
}

func (s *Session) callerIDInputLocked(target string) callerid.Input {
	return callerid.Input{
		Numbers:       s.inventory,
		Selected:      s.callerID.Number,
		TargetPhone:   target,
		LocalPresence: s.cfg.LocalPresence,
	}
}

func (s *Session) unlock() {
	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()
	s.publish(out...)
}

func (s *Session) publish(updates ...Update) {
	if len(updates) == 0 {
		return
	}
	s.obsMu.Lock()
	obs := append([]subscriber(nil), s.observers...)
	s.obsMu.Unlock()
	for _, u := range updates {
		for _, o := range obs {
			o.fn(u)
		}
	}
}

func (s *Session) logQueue(ctx context.Context, t audit.EventType, msg string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogQueue(ctx, s.cfg.WorkspaceID, s.cfg.QueueID, "", t, msg); err != nil {
		s.log.Warn("audit append failed", "type", t, "err", err)
	}
}

func (s *Session) logItem(ctx context.Context, itemID string, t audit.EventType, msg string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogCall(ctx, s.cfg.WorkspaceID, s.cfg.QueueID, itemID, "", "", t, msg); err != nil {
		s.log.Warn("audit append failed", "type", t, "err", err)
	}
}

func (s *Session) logCall(ctx context.Context, l *leg, t audit.EventType, msg string) {
	if s.audit == nil {
		return
	}
	batchID := ""
	if l.batch != nil {
		batchID = l.batch.id
	}
	if err := s.audit.LogCall(ctx, s.cfg.WorkspaceID, s.cfg.QueueID, l.itemID, l.sid, batchID, t, msg); err != nil {
		s.log.Warn("audit append failed", "type", t, "err", err)
	}
}

func phoneE164(raw string) string {
	if e := phone.ToE164(raw); e != "" {
		return e
	}
	return raw
}
