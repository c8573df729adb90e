package audit

import "time"

// Event is an immutable, append-only audit log record of an operator action
// against the merge pipeline.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block merge runs on audit failures.
//
// Storage (Postgres): table audit_events with an INSERT-only grant.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorSubject is the token subject of the caller.
	ActorSubject string `json:"actor_subject,omitempty" db:"actor_subject"`
	ActorRole    string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress    string `json:"ip_address,omitempty" db:"ip_address"`

	// CallID is set for single-call reprocessing.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON, typically the pass summary.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeMergeRun      EventType = "merge_run"
	EventTypeCallReprocess EventType = "call_reprocess"
)

// Actor identifies who triggered an audited action.
type Actor struct {
	Subject string
	Role    string
	IP      string
}
