package audit

import (
	"context"
	"database/sql"
	"errors"

	"github.com/huandu/go-sqlbuilder"
)

// NOTE: PostgresRepo assumes the following table exists:
//
//	audit_events (
//	  id TEXT PRIMARY KEY, type TEXT NOT NULL,
//	  actor_subject TEXT, actor_role TEXT, ip_address TEXT,
//	  call_id TEXT, message TEXT, metadata JSONB NULL,
//	  created_at TIMESTAMPTZ NOT NULL
//	)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: database not configured")
	}
	q, args := buildInsert(e)
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

func buildInsert(e Event) (string, []any) {
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("audit_events")
	ib.Cols("id", "type", "actor_subject", "actor_role", "ip_address", "call_id", "message", "metadata", "created_at")
	ib.Values(e.ID, string(e.Type), e.ActorSubject, e.ActorRole, e.IPAddress, e.CallID, e.Message, metadata, e.CreatedAt)
	return ib.Build()
}
