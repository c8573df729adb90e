package events

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("events: not found")
	ErrInvalidEvent = errors.New("events: invalid event")
)

// Store is the persistence contract for raw call events.
//
// Append is used by the webhook receiver; the merge engine only reads and
// marks events consumed. There is no Delete: the event table is an audit log.
type Store interface {
	Append(ctx context.Context, e CallEvent) (string, error)

	// ListUnconsumed returns events with Consumed == false in arrival order.
	// Page size capping is the implementation's concern.
	ListUnconsumed(ctx context.Context) ([]CallEvent, error)

	// ListByCallID returns every event of one call (consumed or not) in arrival order.
	ListByCallID(ctx context.Context, callID string) ([]CallEvent, error)

	// MarkConsumed flags the given events consumed and links them to recordID.
	// It must be all-or-nothing for one call.
	MarkConsumed(ctx context.Context, ids []string, recordID string) error
}
