package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"callmerge/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: PostgresStore assumes the following table exists:
//
//	call_events (
//	  id TEXT PRIMARY KEY, seq BIGSERIAL, call_id TEXT NOT NULL, leg_id TEXT,
//	  status TEXT, direction TEXT,
//	  source_kind TEXT, source_name TEXT, source_number TEXT,
//	  dest_kind TEXT, dest_name TEXT, dest_number TEXT,
//	  called_number TEXT,
//	  caller_id_external TEXT, caller_name_external TEXT,
//	  caller_id_internal TEXT, caller_name_internal TEXT,
//	  event_time TIMESTAMPTZ NULL, call_start_time TIMESTAMPTZ NULL,
//	  raw_payload TEXT, consumed BOOLEAN NOT NULL DEFAULT FALSE,
//	  linked_call_record TEXT NULL, received_at TIMESTAMPTZ NOT NULL
//	)
//
// with indexes on (consumed, seq) and (call_id, seq).

const (
	defaultPageSize = 5000
	// markChunkSize bounds the id array bound to one UPDATE.
	markChunkSize = 1000
)

// PostgresStore implements Store on database/sql (pgx stdlib driver).
type PostgresStore struct {
	db *sql.DB
	// PageSize caps ListUnconsumed. Remaining events are picked up by the next pass.
	PageSize int
	clock    func() time.Time
}

func NewPostgresStore(db *sql.DB, pageSize int) *PostgresStore {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &PostgresStore{db: db, PageSize: pageSize, clock: time.Now}
}

const eventColumns = `id, call_id, leg_id, status, direction,
       source_kind, source_name, source_number,
       dest_kind, dest_name, dest_number,
       called_number, caller_id_external, caller_name_external,
       caller_id_internal, caller_name_internal,
       event_time, call_start_time, raw_payload, consumed, linked_call_record, received_at`

// listUnconsumedQuery skips rows without a call id. They can never be
// consumed and would otherwise fill every page.
const listUnconsumedQuery = `SELECT ` + eventColumns + `
FROM call_events
WHERE consumed = FALSE AND btrim(call_id) <> ''
ORDER BY seq
LIMIT $1
`

func (s *PostgresStore) Append(ctx context.Context, e CallEvent) (string, error) {
	if strings.TrimSpace(e.CallID) == "" {
		return "", fmt.Errorf("%w: call id is required", ErrInvalidEvent)
	}
	if s.db == nil {
		return "", fmt.Errorf("events: database not configured")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.clock().UTC()
	}
	const q = `
INSERT INTO call_events (
  id, call_id, leg_id, status, direction,
  source_kind, source_name, source_number,
  dest_kind, dest_name, dest_number,
  called_number, caller_id_external, caller_name_external,
  caller_id_internal, caller_name_internal,
  event_time, call_start_time, raw_payload, consumed, received_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,FALSE,$20
)
`
	_, err := s.db.ExecContext(ctx, q,
		e.ID,
		e.CallID,
		e.LegID,
		e.Status,
		e.Direction,
		e.Source.Kind,
		e.Source.Name,
		e.Source.Number,
		e.Dest.Kind,
		e.Dest.Name,
		e.Dest.Number,
		e.CalledNumber,
		e.CallerIDExternal,
		e.CallerNameExternal,
		e.CallerIDInternal,
		e.CallerNameInternal,
		nullTime(e.EventTime),
		nullTime(e.CallStartTime),
		e.RawPayload,
		e.ReceivedAt,
	)
	if err != nil {
		return "", fmt.Errorf("events: append: %w", err)
	}
	return e.ID, nil
}

func (s *PostgresStore) ListUnconsumed(ctx context.Context) ([]CallEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("events: database not configured")
	}
	return s.query(ctx, listUnconsumedQuery, s.PageSize)
}

func (s *PostgresStore) ListByCallID(ctx context.Context, callID string) ([]CallEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("events: database not configured")
	}
	if callID == "" {
		return []CallEvent{}, nil
	}
	q := `SELECT ` + eventColumns + `
FROM call_events
WHERE call_id = $1
ORDER BY seq
`
	return s.query(ctx, q, callID)
}

func (s *PostgresStore) MarkConsumed(ctx context.Context, ids []string, recordID string) error {
	if s.db == nil {
		return fmt.Errorf("events: database not configured")
	}
	if recordID == "" {
		return ErrInvalidEvent
	}
	if len(ids) == 0 {
		return nil
	}
	const q = `
UPDATE call_events
SET consumed = TRUE, linked_call_record = $1
WHERE id = ANY($2)
`
	// Chunks share one transaction so a call is never partially consumed.
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		for start := 0; start < len(ids); start += markChunkSize {
			end := min(start+markChunkSize, len(ids))
			chunk := ids[start:end]
			n, err := utils.ExecRows(ctx, tx, q, recordID, chunk)
			if err != nil {
				return fmt.Errorf("events: mark consumed: %w", err)
			}
			if n != int64(len(chunk)) {
				return fmt.Errorf("events: mark consumed: %d of %d rows matched: %w", n, len(chunk), ErrNotFound)
			}
		}
		return nil
	})
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]CallEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("events: query: %w", err)
	}
	defer rows.Close()

	out := make([]CallEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: query: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (CallEvent, error) {
	var (
		e                    CallEvent
		legID, linked        sql.NullString
		eventTime, startTime sql.NullTime
		rawPayload           sql.NullString
	)
	if err := row.Scan(
		&e.ID,
		&e.CallID,
		&legID,
		&e.Status,
		&e.Direction,
		&e.Source.Kind,
		&e.Source.Name,
		&e.Source.Number,
		&e.Dest.Kind,
		&e.Dest.Name,
		&e.Dest.Number,
		&e.CalledNumber,
		&e.CallerIDExternal,
		&e.CallerNameExternal,
		&e.CallerIDInternal,
		&e.CallerNameInternal,
		&eventTime,
		&startTime,
		&rawPayload,
		&e.Consumed,
		&linked,
		&e.ReceivedAt,
	); err != nil {
		return CallEvent{}, fmt.Errorf("events: scan: %w", err)
	}
	e.LegID = legID.String
	e.LinkedCallRecord = linked.String
	e.RawPayload = rawPayload.String
	if eventTime.Valid {
		e.EventTime = eventTime.Time.UTC()
	}
	if startTime.Valid {
		e.CallStartTime = startTime.Time.UTC()
	}
	return e, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
