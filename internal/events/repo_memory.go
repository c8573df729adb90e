package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory event store for tests and local runs.
// Events are kept in arrival order.
type MemoryStore struct {
	mu     sync.Mutex
	events []CallEvent
	clock  func() time.Time

	// errs, keyed by method name, make the next calls of that method fail.
	errs map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clock: time.Now, errs: map[string]error{}}
}

func (s *MemoryStore) Append(ctx context.Context, e CallEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Append"]; err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.clock().UTC()
	}
	e.Consumed = false
	e.LinkedCallRecord = ""
	s.events = append(s.events, e)
	return e.ID, nil
}

func (s *MemoryStore) ListUnconsumed(ctx context.Context) ([]CallEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["ListUnconsumed"]; err != nil {
		return nil, err
	}
	out := make([]CallEvent, 0)
	for _, e := range s.events {
		if !e.Consumed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByCallID(ctx context.Context, callID string) ([]CallEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["ListByCallID"]; err != nil {
		return nil, err
	}
	out := make([]CallEvent, 0)
	if callID == "" {
		return out, nil
	}
	for _, e := range s.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkConsumed(ctx context.Context, ids []string, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["MarkConsumed"]; err != nil {
		return err
	}
	if recordID == "" {
		return ErrInvalidEvent
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	// Validate first so a bad batch leaves nothing half-consumed.
	found := 0
	for _, e := range s.events {
		if _, ok := want[e.ID]; ok {
			found++
		}
	}
	if found != len(want) {
		return ErrNotFound
	}
	for i := range s.events {
		if _, ok := want[s.events[i].ID]; ok {
			s.events[i].Consumed = true
			s.events[i].LinkedCallRecord = recordID
		}
	}
	return nil
}

// Events returns a copy of every stored event.
func (s *MemoryStore) Events() []CallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallEvent, len(s.events))
	copy(out, s.events)
	return out
}

// SetError makes every subsequent call of method fail with err. Pass nil to clear.
func (s *MemoryStore) SetError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = err
}
