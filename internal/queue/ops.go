package queue

import (
	"time"
)

// Queue operations mutate the receiver in place. Callers that need all-or-nothing
// semantics against storage work on a Clone and persist it before swapping.

// Clone returns a deep copy.
func (q CallQueue) Clone() CallQueue {
	out := q
	out.Items = make([]QueueItem, len(q.Items))
	for i, it := range q.Items {
		it.History = append([]Attempt(nil), it.History...)
		out.Items[i] = it
	}
	out.ParallelCurrentBatch = append([]string(nil), q.ParallelCurrentBatch...)
	out.ParallelActiveCalls = append([]string(nil), q.ParallelActiveCalls...)
	return out
}

// Item finds an item by id.
func (q *CallQueue) Item(itemID string) (*QueueItem, int, error) {
	for i := range q.Items {
		if q.Items[i].ID == itemID {
			return &q.Items[i], i, nil
		}
	}
	return nil, -1, ErrItemNotFound
}

// GetNext hands out the next pending item at or after the cursor and moves the
// cursor past it. When nothing is left the queue is marked completed and nil is
// returned. An empty or already completed queue is left untouched.
func (q *CallQueue) GetNext() *QueueItem {
	if len(q.Items) == 0 || q.Status == StatusCompleted {
		return nil
	}
	for i := clampIndex(q.CurrentIndex, len(q.Items)); i < len(q.Items); i++ {
		if q.Items[i].Status == ItemPending {
			q.CurrentIndex = i + 1
			return &q.Items[i]
		}
	}
	q.CurrentIndex = len(q.Items)
	q.Status = StatusCompleted
	return nil
}

// Peek returns up to n pending items at or after the cursor without moving it.
func (q *CallQueue) Peek(n int) []QueueItem {
	var out []QueueItem
	for i := clampIndex(q.CurrentIndex, len(q.Items)); i < len(q.Items) && len(out) < n; i++ {
		if q.Items[i].Status == ItemPending {
			out = append(out, q.Items[i])
		}
	}
	return out
}

// Rewind moves the cursor back to the first pending item behind it. Schedulers
// that mark every handed-out item call it before GetNext or Peek, so a pending
// item is never passed over.
func (q *CallQueue) Rewind() {
	for i := 0; i < clampIndex(q.CurrentIndex, len(q.Items)); i++ {
		if q.Items[i].Status == ItemPending {
			q.CurrentIndex = i
			return
		}
	}
}

// Claim marks an item calling and moves the cursor past it. Parallel launches
// claim items one at a time so items never launched stay pending and in reach.
func (q *CallQueue) Claim(itemID string) error {
	_, idx, err := q.Item(itemID)
	if err != nil {
		return err
	}
	if err := q.MarkCalling(itemID); err != nil {
		return err
	}
	if q.CurrentIndex < idx+1 {
		q.CurrentIndex = idx + 1
	}
	return nil
}

// MarkCalling records that a leg is being placed for the item.
func (q *CallQueue) MarkCalling(itemID string) error {
	it, _, err := q.Item(itemID)
	if err != nil {
		return err
	}
	if it.Status.Terminal() {
		return ErrItemTerminal
	}
	it.Status = ItemCalling
	return nil
}

// RecordResult appends a call result and counts the attempt. It never changes
// the queue status; advancing is a separate step.
func (q *CallQueue) RecordResult(itemID string, outcome Outcome, note, legID string, at time.Time) error {
	if !outcome.Valid() {
		return invalidf("unknown outcome %q", outcome)
	}
	it, _, err := q.Item(itemID)
	if err != nil {
		return err
	}
	if it.Status.Terminal() {
		return ErrItemTerminal
	}
	it.Attempts++
	it.LastOutcome = outcome
	it.Note = note
	it.History = append(it.History, Attempt{Outcome: outcome, Note: note, LegID: legID, At: at})
	return nil
}

// SetDisposition corrects the latest outcome of an item without counting an attempt.
func (q *CallQueue) SetDisposition(itemID string, outcome Outcome, note string) error {
	if !outcome.Valid() {
		return invalidf("unknown outcome %q", outcome)
	}
	it, _, err := q.Item(itemID)
	if err != nil {
		return err
	}
	if it.Attempts == 0 {
		return invalidf("item %s has no recorded call", itemID)
	}
	it.LastOutcome = outcome
	if note != "" {
		it.Note = note
	}
	if n := len(it.History); n > 0 {
		it.History[n-1].Outcome = outcome
		if note != "" {
			it.History[n-1].Note = note
		}
	}
	return nil
}

// Complete marks a called item completed.
func (q *CallQueue) Complete(itemID string) error {
	it, _, err := q.Item(itemID)
	if err != nil {
		return err
	}
	if it.Status.Terminal() {
		return ErrItemTerminal
	}
	it.Status = ItemCompleted
	if q.CurrentItemID == itemID {
		q.CurrentItemID = ""
	}
	return nil
}

// Skip marks an item skipped regardless of attempts left. The cursor moves only
// when it points at the skipped item, so pending items before it stay in reach.
func (q *CallQueue) Skip(itemID, reason string) error {
	it, idx, err := q.Item(itemID)
	if err != nil {
		return err
	}
	if it.Status.Terminal() {
		return ErrItemTerminal
	}
	it.Status = ItemSkipped
	if reason != "" {
		it.Note = reason
	}
	if q.CurrentIndex == idx {
		q.CurrentIndex = idx + 1
	}
	if q.CurrentItemID == itemID {
		q.CurrentItemID = ""
	}
	return nil
}

// Requeue puts a terminal item back to pending. A completed queue is reopened as idle.
func (q *CallQueue) Requeue(itemID string) error {
	it, idx, err := q.Item(itemID)
	if err != nil {
		return err
	}
	if !it.Status.Terminal() {
		return invalidf("item %s is not completed or skipped", itemID)
	}
	it.Status = ItemPending
	if idx < q.CurrentIndex {
		q.CurrentIndex = idx
	}
	if q.Status == StatusCompleted {
		q.Status = StatusIdle
	}
	return nil
}

// Finished reports whether every item is completed or skipped.
func (q *CallQueue) Finished() bool {
	for _, it := range q.Items {
		if !it.Status.Terminal() {
			return false
		}
	}
	return true
}

// Progress computes progress metrics from the items.
func (q *CallQueue) Progress() Progress {
	p := Progress{Total: len(q.Items)}
	for _, it := range q.Items {
		switch it.Status {
		case ItemCompleted:
			p.Completed++
		case ItemSkipped:
			p.Skipped++
		}
	}
	p.Remaining = p.Total - p.Completed - p.Skipped
	if p.Total > 0 {
		p.Percent = float64(p.Completed+p.Skipped) * 100 / float64(p.Total)
	}
	return p
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
