package dialer

import (
	"context"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/queue"
	"outbound-dialer/pkg/clock"

	"github.com/google/uuid"
)

// batch is one parallel launch. The first leg to be answered wins; every other
// leg is hung up before the batch is considered settled.
type batch struct {
	id       string
	items    []string
	legs     []*leg
	launches []*task
	pending  int
	winner   *leg
}

// task is a timer callback that runs under the session lock. Once cancelled
// under that lock it never runs, even if its timer already fired.
type task struct {
	timer   clock.Timer
	stopped bool
}

func (t *task) cancel() {
	if t == nil || t.stopped {
		return
	}
	t.stopped = true
	t.timer.Stop()
}

// after schedules fn under the session lock. Must be called with s.mu held.
func (s *Session) after(d time.Duration, fn func()) *task {
	t := &task{}
	t.timer = s.clk.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.unlock()
		if t.stopped || s.closed {
			return
		}
		t.stopped = true
		fn()
	})
	return t
}

func (s *Session) maxLinesLocked() int {
	n := s.q.Settings.ParallelDialingMaxLines
	if n <= 0 || n > s.cfg.MaxLines {
		n = s.cfg.MaxLines
	}
	return n
}

// startBatchLocked picks up to the line cap of items (those waiting for a retry
// first, then pending ones in order) and launches them Stagger apart. Items are
// claimed only when their leg launches, so a batch that is won or cancelled early
// leaves the rest pending.
func (s *Session) startBatchLocked(ctx context.Context, pre func(q *queue.CallQueue)) error {
	lines := s.maxLinesLocked()
	var ids []string
	err := s.commit(ctx, func(q *queue.CallQueue) error {
		if pre != nil {
			pre(q)
		}
		if q.Status != queue.StatusActive {
			return ErrQueueNotActive
		}
		ids = s.awaitingRetryLocked(q, lines)
		q.Rewind()
		for _, it := range q.Peek(lines - len(ids)) {
			ids = append(ids, it.ID)
		}
		if len(ids) == 0 {
			q.GetNext()
			q.CurrentItemID = ""
			q.ParallelDialingActive = false
			q.ParallelCurrentBatch = nil
			return nil
		}
		q.CurrentItemID = ""
		q.ParallelDialingActive = true
		q.ParallelCurrentBatch = ids
		return nil
	})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		s.onCompletedLocked(ctx)
		return nil
	}

	b := &batch{id: uuid.NewString(), items: ids}
	s.batch = b
	s.log.Info("parallel batch started", "batch_id", b.id, "legs", len(ids))

	for i := 1; i < len(ids); i++ {
		itemID := ids[i]
		b.pending++
		b.launches = append(b.launches, s.after(time.Duration(i)*s.cfg.Stagger, func() {
			b.pending--
			if err := s.launchLocked(s.ctx, b, itemID); err != nil {
				s.log.Error("parallel launch failed", "batch_id", b.id, "item_id", itemID, "err", err)
			}
		}))
	}
	return s.launchLocked(ctx, b, ids[0])
}

func (s *Session) launchLocked(ctx context.Context, b *batch, itemID string) error {
	if s.closed || b != s.batch {
		return nil
	}
	if err := s.acquireLineLocked(ctx); err != nil {
		s.log.Warn("parallel leg not launched", "batch_id", b.id, "item_id", itemID, "err", err)
		return s.checkBatchLocked(ctx, b, false)
	}
	var item queue.QueueItem
	err := s.commit(ctx, func(q *queue.CallQueue) error {
		if err := q.Claim(itemID); err != nil {
			return err
		}
		it, _, _ := q.Item(itemID)
		item = *it
		return nil
	})
	if err != nil {
		_ = s.lines.Release(ctx, s.cfg.WorkspaceID)
		s.log.Warn("parallel leg not launched", "batch_id", b.id, "item_id", itemID, "err", err)
		return s.checkBatchLocked(ctx, b, false)
	}
	return s.placeLocked(ctx, item, b)
}

// winLocked promotes the first answered leg to the primary call. Pending launches
// are cancelled and every other live leg gets exactly one hang-up and the
// outcome no-answer; the batch is settled when this returns.
func (s *Session) winLocked(ctx context.Context, b *batch, w *leg) {
	b.winner = w
	s.cancelLaunchesLocked(b)
	s.batch = nil
	s.primary = w

	for _, l := range b.legs {
		if l == w || l.settled {
			continue
		}
		l.lost = true
		s.hangUpLocked(ctx, l)
		if err := s.settleLocked(ctx, l); err != nil {
			s.log.Error("losing leg not settled", "batch_id", b.id, "call_sid", l.sid, "err", err)
		}
	}
	if err := s.commit(ctx, func(q *queue.CallQueue) error {
		q.CurrentItemID = w.itemID
		q.ParallelDialingActive = false
		return nil
	}); err != nil {
		s.log.Error("batch winner not saved", "batch_id", b.id, "err", err)
	}
	s.log.Info("parallel batch won", "batch_id", b.id, "call_sid", w.sid)
	s.logCall(ctx, w, audit.EventBatchWon, "")
}

func (s *Session) cancelLaunchesLocked(b *batch) {
	for _, t := range b.launches {
		t.cancel()
	}
	b.launches = nil
	b.pending = 0
}

// checkBatchLocked closes a batch once nothing is left to launch and every leg
// has ended without a winner, then makes the auto-advance decision for it.
func (s *Session) checkBatchLocked(ctx context.Context, b *batch, quiet bool) error {
	if b != s.batch || b.winner != nil || b.pending > 0 {
		return nil
	}
	for _, l := range b.legs {
		if !l.settled {
			return nil
		}
	}
	s.batch = nil
	if err := s.commit(ctx, func(q *queue.CallQueue) error {
		q.ParallelDialingActive = false
		return nil
	}); err != nil {
		return err
	}
	if quiet {
		return nil
	}
	return s.afterBatchLocked(ctx, b)
}

// afterBatchLocked is the auto-advance decision for a batch nobody answered.
// Each item already carries its own outcome. If any item waits for a retry the
// countdown honours the longest backoff among them.
func (s *Session) afterBatchLocked(ctx context.Context, b *batch) error {
	if !s.autoLocked() || len(b.legs) == 0 {
		return nil
	}
	retryAttempts, skipped, voicemail := 0, 0, false
	for _, l := range b.legs {
		it, _, err := s.q.Item(l.itemID)
		if err != nil {
			continue
		}
		switch l.res {
		case resolvedRetry:
			if it.Attempts > retryAttempts {
				retryAttempts = it.Attempts
			}
		case resolvedSkipped:
			skipped++
		}
		if it.LastOutcome == queue.OutcomeVoicemail && l.res != resolvedSkipped {
			voicemail = true
		}
	}
	switch {
	case retryAttempts > 0:
		s.startCountdownLocked(retrySeconds(retryAttempts), CountdownRetry)
	case skipped == len(b.legs):
		return s.advanceLocked(ctx, nil)
	default:
		outcome := queue.OutcomeNoAnswer
		if voicemail {
			outcome = queue.OutcomeVoicemail
		}
		s.startCountdownLocked(advanceSeconds(s.q.Settings, outcome), CountdownAdvance)
	}
	return nil
}
