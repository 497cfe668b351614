package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/pkg/utils"
)

// NOTE: PostgresRepo assumes the tables in Schema exist. JSON columns hold
// settings, contacts and attempt history; everything the scheduler filters on is a
// plain column.

const Schema = `
CREATE TABLE IF NOT EXISTS call_queues (
  id                       TEXT PRIMARY KEY,
  workspace_id             TEXT NOT NULL,
  name                     TEXT NOT NULL,
  status                   TEXT NOT NULL,
  settings                 JSONB NOT NULL,
  current_index            INT NOT NULL DEFAULT 0,
  current_item_id          TEXT NOT NULL DEFAULT '',
  parallel_dialing_enabled BOOLEAN NOT NULL DEFAULT FALSE,
  parallel_dialing_active  BOOLEAN NOT NULL DEFAULT FALSE,
  parallel_current_batch   JSONB NOT NULL DEFAULT '[]',
  parallel_active_calls    JSONB NOT NULL DEFAULT '[]',
  created_at               TIMESTAMPTZ NOT NULL,
  updated_at               TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS call_queue_items (
  queue_id     TEXT NOT NULL REFERENCES call_queues(id) ON DELETE CASCADE,
  workspace_id TEXT NOT NULL,
  id           TEXT NOT NULL,
  position     INT NOT NULL,
  contact      JSONB NOT NULL,
  status       TEXT NOT NULL,
  attempts     INT NOT NULL DEFAULT 0,
  last_outcome TEXT NOT NULL DEFAULT '',
  note         TEXT NOT NULL DEFAULT '',
  history      JSONB NOT NULL DEFAULT '[]',
  PRIMARY KEY (queue_id, id)
);
`

// PostgresRepo stores queues through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db  *sql.DB
	Now func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, Now: time.Now}
}

func (r *PostgresRepo) CreateQueue(ctx context.Context, q CallQueue) (CallQueue, error) {
	if q.ID == "" || q.WorkspaceID == "" {
		return CallQueue{}, ErrInvalidArgument
	}
	now := r.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertQueue(ctx, tx, q); err != nil {
			if utils.IsUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}
		return upsertItems(ctx, tx, q.WorkspaceID, q.ID, q.Items)
	})
	if err != nil {
		return CallQueue{}, err
	}
	return q, nil
}

func (r *PostgresRepo) GetQueue(ctx context.Context, workspaceID, queueID string) (CallQueue, error) {
	if workspaceID == "" || queueID == "" {
		return CallQueue{}, ErrInvalidArgument
	}
	var out CallQueue
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
		q, err := selectQueue(ctx, tx, workspaceID, queueID, false)
		if err != nil {
			return err
		}
		out = q
		return nil
	})
	return out, err
}

func (r *PostgresRepo) UpdateQueue(ctx context.Context, workspaceID, queueID string, p Patch) (CallQueue, error) {
	if workspaceID == "" || queueID == "" {
		return CallQueue{}, ErrInvalidArgument
	}
	var out CallQueue
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the queue row to serialize writers across processes.
		q, err := selectQueue(ctx, tx, workspaceID, queueID, true)
		if err != nil {
			return err
		}
		p.Apply(&q)
		q.UpdatedAt = r.Now().UTC()
		if err := updateQueueRow(ctx, tx, q); err != nil {
			return err
		}
		if p.Items != nil {
			if err := upsertItems(ctx, tx, workspaceID, queueID, q.Items); err != nil {
				return err
			}
		}
		out = q
		return nil
	})
	return out, err
}

func insertQueue(ctx context.Context, tx *sql.Tx, q CallQueue) error {
	const stmt = `
INSERT INTO call_queues (
  id, workspace_id, name, status, settings, current_index, current_item_id,
  parallel_dialing_enabled, parallel_dialing_active, parallel_current_batch, parallel_active_calls,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	settings, batch, active, err := queueJSON(q)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, stmt,
		q.ID,
		q.WorkspaceID,
		q.Name,
		q.Status,
		settings,
		q.CurrentIndex,
		q.CurrentItemID,
		q.ParallelDialingEnabled,
		q.ParallelDialingActive,
		batch,
		active,
		q.CreatedAt,
		q.UpdatedAt,
	)
	return err
}

func updateQueueRow(ctx context.Context, tx *sql.Tx, q CallQueue) error {
	const stmt = `
UPDATE call_queues
SET name = $3, status = $4, settings = $5, current_index = $6, current_item_id = $7,
    parallel_dialing_enabled = $8, parallel_dialing_active = $9,
    parallel_current_batch = $10, parallel_active_calls = $11, updated_at = $12
WHERE workspace_id = $1 AND id = $2
`
	settings, batch, active, err := queueJSON(q)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, stmt,
		q.WorkspaceID,
		q.ID,
		q.Name,
		q.Status,
		settings,
		q.CurrentIndex,
		q.CurrentItemID,
		q.ParallelDialingEnabled,
		q.ParallelDialingActive,
		batch,
		active,
		q.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrQueueNotFound
	}
	return nil
}

func selectQueue(ctx context.Context, tx *sql.Tx, workspaceID, queueID string, forUpdate bool) (CallQueue, error) {
	q := `
SELECT id, workspace_id, name, status, settings, current_index, current_item_id,
       parallel_dialing_enabled, parallel_dialing_active, parallel_current_batch, parallel_active_calls,
       created_at, updated_at
FROM call_queues
WHERE workspace_id = $1 AND id = $2
`
	if forUpdate {
		q += "FOR UPDATE\n"
	}
	var (
		out                          CallQueue
		settings, batch, activeCalls []byte
	)
	if err := tx.QueryRowContext(ctx, q, workspaceID, queueID).Scan(
		&out.ID,
		&out.WorkspaceID,
		&out.Name,
		&out.Status,
		&settings,
		&out.CurrentIndex,
		&out.CurrentItemID,
		&out.ParallelDialingEnabled,
		&out.ParallelDialingActive,
		&batch,
		&activeCalls,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallQueue{}, ErrQueueNotFound
		}
		return CallQueue{}, err
	}
	if err := json.Unmarshal(settings, &out.Settings); err != nil {
		return CallQueue{}, fmt.Errorf("queue: decode settings: %w", err)
	}
	if err := json.Unmarshal(batch, &out.ParallelCurrentBatch); err != nil {
		return CallQueue{}, fmt.Errorf("queue: decode parallel batch: %w", err)
	}
	if err := json.Unmarshal(activeCalls, &out.ParallelActiveCalls); err != nil {
		return CallQueue{}, fmt.Errorf("queue: decode parallel calls: %w", err)
	}

	items, err := selectItems(ctx, tx, workspaceID, queueID)
	if err != nil {
		return CallQueue{}, err
	}
	out.Items = items
	return out, nil
}

func selectItems(ctx context.Context, tx *sql.Tx, workspaceID, queueID string) ([]QueueItem, error) {
	const q = `
SELECT id, contact, status, attempts, last_outcome, note, history
FROM call_queue_items
WHERE workspace_id = $1 AND queue_id = $2
ORDER BY position
`
	rows, err := tx.QueryContext(ctx, q, workspaceID, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]QueueItem, 0)
	for rows.Next() {
		var (
			it               QueueItem
			contact, history []byte
		)
		if err := rows.Scan(&it.ID, &contact, &it.Status, &it.Attempts, &it.LastOutcome, &it.Note, &history); err != nil {
			return nil, err
		}
		var c calls.Contact
		if err := json.Unmarshal(contact, &c); err != nil {
			return nil, fmt.Errorf("queue: decode contact: %w", err)
		}
		it.Contact = c
		if err := json.Unmarshal(history, &it.History); err != nil {
			return nil, fmt.Errorf("queue: decode history: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func upsertItems(ctx context.Context, tx *sql.Tx, workspaceID, queueID string, items []QueueItem) error {
	const stmt = `
INSERT INTO call_queue_items (queue_id, workspace_id, id, position, contact, status, attempts, last_outcome, note, history)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (queue_id, id)
DO UPDATE SET position = EXCLUDED.position,
              status = EXCLUDED.status,
              attempts = EXCLUDED.attempts,
              last_outcome = EXCLUDED.last_outcome,
              note = EXCLUDED.note,
              history = EXCLUDED.history
`
	for i, it := range items {
		contact, err := json.Marshal(it.Contact)
		if err != nil {
			return err
		}
		history, err := json.Marshal(nonNil(it.History))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt,
			queueID,
			workspaceID,
			it.ID,
			i,
			contact,
			it.Status,
			it.Attempts,
			it.LastOutcome,
			it.Note,
			history,
		); err != nil {
			return err
		}
	}
	return nil
}

func queueJSON(q CallQueue) (settings, batch, active []byte, err error) {
	if settings, err = json.Marshal(q.Settings); err != nil {
		return nil, nil, nil, err
	}
	if batch, err = json.Marshal(nonNil(q.ParallelCurrentBatch)); err != nil {
		return nil, nil, nil, err
	}
	if active, err = json.Marshal(nonNil(q.ParallelActiveCalls)); err != nil {
		return nil, nil, nil, err
	}
	return settings, batch, active, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
