package reporting

import (
	"context"
	"sync"
	"time"

	"callmerge/internal/calls"
)

// MemoryRepo aggregates an in-memory slice of records. Useful for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	Records []calls.CallRecord
}

func NewMemoryRepo(records ...calls.CallRecord) *MemoryRepo {
	return &MemoryRepo{Records: records}
}

func (r *MemoryRepo) Totals(ctx context.Context, from, to time.Time) ([]GroupTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := calls.ListFilter{From: from, To: to}
	type key struct {
		status calls.FinalStatus
		hg     string
	}
	idx := map[key]int{}
	out := make([]GroupTotals, 0)
	for _, rec := range r.Records {
		if !f.Matches(rec) {
			continue
		}
		k := key{rec.FinalStatus, rec.HuntGroup}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, GroupTotals{FinalStatus: rec.FinalStatus, HuntGroup: rec.HuntGroup})
		}
		out[i].Calls++
		out[i].TalkSeconds += rec.DurationSeconds
	}
	return out, nil
}
