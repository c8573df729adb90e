package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("calls: record not found")
	ErrInvalidRecord = errors.New("calls: invalid record")
	ErrDuplicateCall = errors.New("calls: record already exists for call id")
)

// Store is the persistence contract for call records.
//
// Records are keyed by CallID. Create must reject a second record for the
// same call id; Update must never change CallID.
type Store interface {
	// FindByCallID returns ErrNotFound when no record exists.
	FindByCallID(ctx context.Context, callID string) (CallRecord, error)
	Create(ctx context.Context, r CallRecord) (string, error)
	Update(ctx context.Context, id string, r CallRecord) error
	List(ctx context.Context, f ListFilter) ([]CallRecord, error)
}

// ListFilter selects records by start time and disposition.
// Zero values disable the corresponding condition.
type ListFilter struct {
	From        time.Time
	To          time.Time
	FinalStatus FinalStatus
	Limit       int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// EffectiveLimit clamps Limit into [1, MaxListLimit].
func (f ListFilter) EffectiveLimit() int {
	if f.Limit < 1 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}

// Matches reports whether r falls inside the filter; To is exclusive.
func (f ListFilter) Matches(r CallRecord) bool {
	if !f.From.IsZero() && r.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.StartTime.Before(f.To) {
		return false
	}
	if f.FinalStatus != "" && r.FinalStatus != f.FinalStatus {
		return false
	}
	return true
}
