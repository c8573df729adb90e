package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records operator actions. Callers should treat audit logging as
// best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Type == EventTypeCallReprocess && e.CallID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogMergeRun records a manually triggered merge pass. summary is encoded as
// the event metadata.
func (s *Service) LogMergeRun(ctx context.Context, a Actor, summary any) error {
	return s.Append(ctx, Event{
		Type:         EventTypeMergeRun,
		ActorSubject: a.Subject,
		ActorRole:    a.Role,
		IPAddress:    a.IP,
		Message:      "merge pass triggered",
		Metadata:     encodeMetadata(summary),
	})
}

// LogCallReprocess records a single-call recomputation.
func (s *Service) LogCallReprocess(ctx context.Context, a Actor, callID string, result any) error {
	return s.Append(ctx, Event{
		Type:         EventTypeCallReprocess,
		ActorSubject: a.Subject,
		ActorRole:    a.Role,
		IPAddress:    a.IP,
		CallID:       callID,
		Message:      "call reprocessed",
		Metadata:     encodeMetadata(result),
	})
}

func encodeMetadata(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
