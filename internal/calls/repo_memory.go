package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a simple in-memory record store for tests and early development.
// It enforces the call id natural key like the Postgres unique index does.
type MemoryRepo struct {
	mu sync.Mutex

	byID     map[string]CallRecord
	byCallID map[string]string
	clock    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:     map[string]CallRecord{},
		byCallID: map[string]string{},
		clock:    time.Now,
	}
}

func (r *MemoryRepo) FindByCallID(ctx context.Context, callID string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCallID[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return cloneRecord(r.byID[id]), nil
}

func (r *MemoryRepo) Create(ctx context.Context, rec CallRecord) (string, error) {
	if rec.CallID == "" {
		return "", ErrInvalidRecord
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byCallID[rec.CallID]; exists {
		return "", ErrDuplicateCall
	}
	now := r.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	r.byID[rec.ID] = cloneRecord(rec)
	r.byCallID[rec.CallID] = rec.ID
	return rec.ID, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.ID = existing.ID
	rec.CallID = existing.CallID
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = r.clock().UTC()
	r.byID[id] = cloneRecord(rec)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.byID {
		if f.Matches(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func cloneRecord(rec CallRecord) CallRecord {
	out := rec
	if rec.IVRPath != nil {
		out.IVRPath = append([]string(nil), rec.IVRPath...)
	}
	if rec.RawEventsSnapshot != nil {
		out.RawEventsSnapshot = append([]byte(nil), rec.RawEventsSnapshot...)
	}
	if rec.AnswerTime != nil {
		t := *rec.AnswerTime
		out.AnswerTime = &t
	}
	if rec.EndTime != nil {
		t := *rec.EndTime
		out.EndTime = &t
	}
	return out
}
