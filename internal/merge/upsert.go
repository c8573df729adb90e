package merge

import (
	"context"
	"errors"
	"fmt"

	"callmerge/internal/calls"
	"callmerge/internal/events"
)

// Upserter writes a classified record keyed on call id and then links the
// consumed events to it.
type Upserter struct {
	Records calls.Store
	Events  events.Store
}

// Upsert creates or updates the record for rec.CallID and returns its id.
func (u Upserter) Upsert(ctx context.Context, rec calls.CallRecord) (string, bool, error) {
	existing, err := u.Records.FindByCallID(ctx, rec.CallID)
	switch {
	case err == nil:
		if err := u.Records.Update(ctx, existing.ID, rec); err != nil {
			return "", false, fmt.Errorf("merge: update record: %w", err)
		}
		return existing.ID, false, nil
	case !errors.Is(err, calls.ErrNotFound):
		return "", false, fmt.Errorf("merge: find record: %w", err)
	}

	id, err := u.Records.Create(ctx, rec)
	if errors.Is(err, calls.ErrDuplicateCall) {
		// Lost a create race; the other writer's row is the record.
		existing, ferr := u.Records.FindByCallID(ctx, rec.CallID)
		if ferr != nil {
			return "", false, fmt.Errorf("merge: find record after conflict: %w", ferr)
		}
		if err := u.Records.Update(ctx, existing.ID, rec); err != nil {
			return "", false, fmt.Errorf("merge: update record: %w", err)
		}
		return existing.ID, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("merge: create record: %w", err)
	}
	return id, true, nil
}

// Apply upserts rec and only then marks eventIDs consumed under the record id.
func (u Upserter) Apply(ctx context.Context, rec calls.CallRecord, eventIDs []string) (string, bool, error) {
	id, created, err := u.Upsert(ctx, rec)
	if err != nil {
		return "", false, err
	}
	if len(eventIDs) == 0 {
		return id, created, nil
	}
	if err := u.Events.MarkConsumed(ctx, eventIDs, id); err != nil {
		return id, created, fmt.Errorf("merge: mark consumed: %w", err)
	}
	return id, created, nil
}
