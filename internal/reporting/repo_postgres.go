package reporting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"callmerge/internal/calls"
)

// PostgresRepo aggregates call_records in the database so a summary never
// loads individual rows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Totals(ctx context.Context, from, to time.Time) ([]GroupTotals, error) {
	if r.db == nil {
		return nil, errors.New("reporting: database not configured")
	}
	q, args := buildTotalsQuery(from, to)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]GroupTotals, 0)
	for rows.Next() {
		var (
			status string
			t      GroupTotals
		)
		if err := rows.Scan(&status, &t.HuntGroup, &t.Calls, &t.TalkSeconds); err != nil {
			return nil, err
		}
		t.FinalStatus = calls.FinalStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func buildTotalsQuery(from, to time.Time) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"final_status",
		"COALESCE(hunt_group, '')",
		"COUNT(*)",
		"COALESCE(SUM(duration_seconds), 0)",
	)
	sb.From("call_records")
	sb.Where(
		sb.GreaterEqualThan("start_time", from),
		sb.LessThan("start_time", to),
	)
	sb.GroupBy("final_status", "COALESCE(hunt_group, '')")
	return sb.Build()
}
