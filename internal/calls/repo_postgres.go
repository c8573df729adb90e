package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: PostgresRepo assumes the following table exists:
//
//	call_records (
//	  id TEXT PRIMARY KEY, call_id TEXT NOT NULL UNIQUE, direction TEXT NOT NULL,
//	  start_time TIMESTAMPTZ NOT NULL, answer_time TIMESTAMPTZ NULL, end_time TIMESTAMPTZ NULL,
//	  duration_seconds INT NOT NULL,
//	  caller_number TEXT, caller_name TEXT, called_number TEXT,
//	  ivr_path JSONB NOT NULL, hunt_group TEXT NULL,
//	  answered_by_name TEXT NULL, answered_by_extension TEXT NULL,
//	  final_status TEXT NOT NULL, event_count INT NOT NULL,
//	  raw_events_snapshot JSONB NULL,
//	  created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL
//	)

const uniqueViolation = "23505"

var recordColumns = []string{
	"id", "call_id", "direction", "start_time", "answer_time", "end_time", "duration_seconds",
	"caller_number", "caller_name", "called_number", "ivr_path", "hunt_group",
	"answered_by_name", "answered_by_extension", "final_status", "event_count",
	"raw_events_snapshot", "created_at", "updated_at",
}

// PostgresRepo implements Store on database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) FindByCallID(ctx context.Context, callID string) (CallRecord, error) {
	if r.db == nil {
		return CallRecord{}, errors.New("calls: database not configured")
	}
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(recordColumns...)
	sb.From("call_records")
	sb.Where(sb.Equal("call_id", callID))

	q, args := sb.Build()
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) Create(ctx context.Context, rec CallRecord) (string, error) {
	if r.db == nil {
		return "", errors.New("calls: database not configured")
	}
	if rec.CallID == "" {
		return "", ErrInvalidRecord
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := r.clock().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	path, err := encodePath(rec.IVRPath)
	if err != nil {
		return "", err
	}
	const q = `
INSERT INTO call_records (
  id, call_id, direction, start_time, answer_time, end_time, duration_seconds,
  caller_number, caller_name, called_number, ivr_path, hunt_group,
  answered_by_name, answered_by_extension, final_status, event_count,
  raw_events_snapshot, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)
`
	_, err = r.db.ExecContext(ctx, q,
		rec.ID,
		rec.CallID,
		rec.Direction,
		rec.StartTime.UTC(),
		nullTimePtr(rec.AnswerTime),
		nullTimePtr(rec.EndTime),
		rec.DurationSeconds,
		rec.CallerNumber,
		rec.CallerName,
		rec.CalledNumber,
		path,
		nullString(rec.HuntGroup),
		nullString(rec.AnsweredByName),
		nullString(rec.AnsweredByExtension),
		rec.FinalStatus,
		rec.EventCount,
		nullJSON(rec.RawEventsSnapshot),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", ErrDuplicateCall
		}
		return "", fmt.Errorf("calls: create: %w", err)
	}
	return rec.ID, nil
}

func (r *PostgresRepo) Update(ctx context.Context, id string, rec CallRecord) error {
	if r.db == nil {
		return errors.New("calls: database not configured")
	}
	if id == "" {
		return ErrInvalidRecord
	}
	path, err := encodePath(rec.IVRPath)
	if err != nil {
		return err
	}
	// call_id and created_at never change after Create.
	const q = `
UPDATE call_records SET
  direction = $2, start_time = $3, answer_time = $4, end_time = $5, duration_seconds = $6,
  caller_number = $7, caller_name = $8, called_number = $9, ivr_path = $10, hunt_group = $11,
  answered_by_name = $12, answered_by_extension = $13, final_status = $14, event_count = $15,
  raw_events_snapshot = $16, updated_at = $17
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		id,
		rec.Direction,
		rec.StartTime.UTC(),
		nullTimePtr(rec.AnswerTime),
		nullTimePtr(rec.EndTime),
		rec.DurationSeconds,
		rec.CallerNumber,
		rec.CallerName,
		rec.CalledNumber,
		path,
		nullString(rec.HuntGroup),
		nullString(rec.AnsweredByName),
		nullString(rec.AnsweredByExtension),
		rec.FinalStatus,
		rec.EventCount,
		nullJSON(rec.RawEventsSnapshot),
		r.clock().UTC(),
	)
	if err != nil {
		return fmt.Errorf("calls: update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]CallRecord, error) {
	if r.db == nil {
		return nil, errors.New("calls: database not configured")
	}
	q, args := buildListQuery(f)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	return out, nil
}

func buildListQuery(f ListFilter) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(recordColumns...)
	sb.From("call_records")
	if !f.From.IsZero() {
		sb.Where(sb.GreaterEqualThan("start_time", f.From.UTC()))
	}
	if !f.To.IsZero() {
		sb.Where(sb.LessThan("start_time", f.To.UTC()))
	}
	if f.FinalStatus != "" {
		sb.Where(sb.Equal("final_status", string(f.FinalStatus)))
	}
	sb.OrderBy("start_time DESC", "call_id")
	sb.Limit(f.EffectiveLimit())
	return sb.Build()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (CallRecord, error) {
	var (
		rec                   CallRecord
		answerTime, endTime   sql.NullTime
		huntGroup, name, ext  sql.NullString
		callerNum, callerName sql.NullString
		calledNum             sql.NullString
		path                  string
		snapshot              []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.CallID,
		&rec.Direction,
		&rec.StartTime,
		&answerTime,
		&endTime,
		&rec.DurationSeconds,
		&callerNum,
		&callerName,
		&calledNum,
		&path,
		&huntGroup,
		&name,
		&ext,
		&rec.FinalStatus,
		&rec.EventCount,
		&snapshot,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, err
		}
		return CallRecord{}, fmt.Errorf("calls: scan: %w", err)
	}
	if answerTime.Valid {
		t := answerTime.Time.UTC()
		rec.AnswerTime = &t
	}
	if endTime.Valid {
		t := endTime.Time.UTC()
		rec.EndTime = &t
	}
	rec.StartTime = rec.StartTime.UTC()
	rec.CallerNumber = callerNum.String
	rec.CallerName = callerName.String
	rec.CalledNumber = calledNum.String
	rec.HuntGroup = huntGroup.String
	rec.AnsweredByName = name.String
	rec.AnsweredByExtension = ext.String
	if len(snapshot) > 0 {
		rec.RawEventsSnapshot = json.RawMessage(snapshot)
	}
	if err := json.Unmarshal([]byte(path), &rec.IVRPath); err != nil {
		return CallRecord{}, fmt.Errorf("calls: decode ivr_path: %w", err)
	}
	return rec, nil
}

func encodePath(path []string) (string, error) {
	if path == nil {
		path = []string{}
	}
	b, err := json.Marshal(path)
	if err != nil {
		return "", fmt.Errorf("calls: encode ivr_path: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
