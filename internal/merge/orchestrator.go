package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"callmerge/internal/calls"
	"callmerge/internal/events"
)

var (
	// ErrPassInProgress means another pass (in this process or, with a Locker,
	// anywhere) holds the pass lock. Nothing was read or written.
	ErrPassInProgress = errors.New("merge: pass already in progress")
	ErrNoEvents       = errors.New("merge: no events for call id")
)

// Locker guards a pass across processes. TryAcquire reports ok=false when the
// lock is held elsewhere; a non-nil error means the lock backend failed.
type Locker interface {
	TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

type PassOutcome string

const (
	OutcomeOK      PassOutcome = "ok"
	OutcomePartial PassOutcome = "partial"
	OutcomeFailed  PassOutcome = "failed"
	OutcomeSkipped PassOutcome = "skipped"
)

// Observer receives one call per RunOnce invocation.
type Observer interface {
	ObservePass(outcome PassOutcome, s Summary, elapsed time.Duration)
}

// Summary is the result of one pass.
type Summary struct {
	GroupsProcessed int      `json:"groups_processed"`
	Created         int      `json:"created"`
	Updated         int      `json:"updated"`
	Failed          int      `json:"failed"`
	Malformed       int      `json:"malformed"`
	FailedCallIDs   []string `json:"failed_call_ids,omitempty"`
}

// Result describes one merged call.
type Result struct {
	CallID      string            `json:"call_id"`
	RecordID    string            `json:"record_id"`
	Created     bool              `json:"created"`
	EventCount  int               `json:"event_count"`
	FinalStatus calls.FinalStatus `json:"final_status"`
	Direction   calls.Direction   `json:"direction"`
}

type Options struct {
	// DedupMode defaults to DedupAdjacent.
	DedupMode DedupMode
	// Locker is optional; without it only in-process overlap is prevented.
	Locker   Locker
	Observer Observer
	Logger   *slog.Logger
}

// Orchestrator drives merge passes. It keeps no state between passes and
// refuses to run two passes at once.
type Orchestrator struct {
	events   events.Store
	upserter Upserter
	extract  Extractor
	locker   Locker
	observer Observer
	log      *slog.Logger
	clock    func() time.Time

	mu sync.Mutex
}

func NewOrchestrator(ev events.Store, records calls.Store, opts Options) *Orchestrator {
	mode := opts.DedupMode
	if mode == "" {
		mode = DedupAdjacent
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		events:   ev,
		upserter: Upserter{Records: records, Events: ev},
		extract:  Extractor{Mode: mode},
		locker:   opts.Locker,
		observer: opts.Observer,
		log:      log.With("component", "merge"),
		clock:    time.Now,
	}
}

// RunOnce merges every call that has unconsumed events. Per-call failures are
// counted in the summary; the returned error is reserved for pass-level
// failures (event listing, lock backend, cancellation) and ErrPassInProgress.
func (o *Orchestrator) RunOnce(ctx context.Context) (Summary, error) {
	start := o.clock()
	var sum Summary

	release, err := o.acquire(ctx)
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, ErrPassInProgress) {
			outcome = OutcomeSkipped
			o.log.InfoContext(ctx, "merge pass skipped", "reason", "lock held")
		}
		o.observe(outcome, sum, start)
		return sum, err
	}
	defer release()

	pending, err := o.events.ListUnconsumed(ctx)
	if err != nil {
		o.log.ErrorContext(ctx, "list unconsumed events failed", "err", err)
		o.observe(OutcomeFailed, sum, start)
		return sum, fmt.Errorf("merge: list unconsumed: %w", err)
	}

	groups, malformed := GroupEvents(pending)
	for _, e := range malformed {
		o.log.WarnContext(ctx, "event without call id skipped", "event_id", e.ID, "leg_id", e.LegID)
	}
	sum.Malformed = len(malformed)
	o.log.InfoContext(ctx, "merge pass started", "events", len(pending), "groups", len(groups), "malformed", len(malformed))

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			o.log.WarnContext(ctx, "merge pass cancelled", "remaining", len(groups)-sum.GroupsProcessed, "err", err)
			o.observe(OutcomeFailed, sum, start)
			return sum, fmt.Errorf("merge: pass cancelled: %w", err)
		}
		sum.GroupsProcessed++
		res, err := o.mergeGroup(ctx, g)
		if err != nil {
			sum.Failed++
			sum.FailedCallIDs = append(sum.FailedCallIDs, g.CallID)
			o.log.ErrorContext(ctx, "merge call failed", "call_id", g.CallID, "err", err)
			continue
		}
		if res.Created {
			sum.Created++
		} else {
			sum.Updated++
		}
		o.log.DebugContext(ctx, "call merged",
			"call_id", res.CallID,
			"record_id", res.RecordID,
			"created", res.Created,
			"final_status", res.FinalStatus,
			"events", res.EventCount,
		)
	}

	outcome := OutcomeOK
	if sum.Failed > 0 {
		outcome = OutcomePartial
	}
	o.observe(outcome, sum, start)
	o.log.InfoContext(ctx, "merge pass finished",
		"groups", sum.GroupsProcessed,
		"created", sum.Created,
		"updated", sum.Updated,
		"failed", sum.Failed,
		"malformed", sum.Malformed,
		"elapsed_ms", o.clock().Sub(start).Milliseconds(),
	)
	return sum, nil
}

// RunForCallID recomputes the record of one call from its full event history,
// consumed or not, and consumes whatever was still pending.
func (o *Orchestrator) RunForCallID(ctx context.Context, callID string) (Result, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Result{}, ErrNoEvents
	}
	release, err := o.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	res, err := o.mergeGroup(ctx, Group{CallID: callID})
	if err != nil {
		return Result{}, err
	}
	o.log.InfoContext(ctx, "call reprocessed",
		"call_id", res.CallID,
		"record_id", res.RecordID,
		"created", res.Created,
		"final_status", res.FinalStatus,
	)
	return res, nil
}

// mergeGroup folds the full history of g.CallID plus the events in g. Panics
// are turned into errors so one bad call cannot abort a pass.
func (o *Orchestrator) mergeGroup(ctx context.Context, g Group) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("merge: panic: %v", r)
		}
	}()

	history, err := o.events.ListByCallID(ctx, g.CallID)
	if err != nil {
		return Result{}, fmt.Errorf("merge: load history: %w", err)
	}
	all := unionByID(history, g.Events)
	if len(all) == 0 {
		return Result{}, ErrNoEvents
	}
	ordered := SortEvents(all)

	rec, facts := o.extract.Extract(g.CallID, ordered)
	rec.FinalStatus, rec.Direction = Classify(facts)

	pending := lo.FilterMap(ordered, func(e events.CallEvent, _ int) (string, bool) {
		return e.ID, e.ID != "" && !e.Consumed
	})
	id, created, err := o.upserter.Apply(ctx, rec, pending)
	if err != nil {
		return Result{}, err
	}
	return Result{
		CallID:      g.CallID,
		RecordID:    id,
		Created:     created,
		EventCount:  rec.EventCount,
		FinalStatus: rec.FinalStatus,
		Direction:   rec.Direction,
	}, nil
}

// unionByID appends the events of b that a does not already hold.
func unionByID(a, b []events.CallEvent) []events.CallEvent {
	out := make([]events.CallEvent, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, src := range [][]events.CallEvent{a, b} {
		for _, e := range src {
			if e.ID != "" {
				if _, dup := seen[e.ID]; dup {
					continue
				}
				seen[e.ID] = struct{}{}
			}
			out = append(out, e)
		}
	}
	return out
}

func (o *Orchestrator) acquire(ctx context.Context) (func(), error) {
	if !o.mu.TryLock() {
		return nil, ErrPassInProgress
	}
	if o.locker == nil {
		return o.mu.Unlock, nil
	}
	unlock, ok, err := o.locker.TryAcquire(ctx)
	if err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("merge: acquire pass lock: %w", err)
	}
	if !ok {
		o.mu.Unlock()
		return nil, ErrPassInProgress
	}
	return func() {
		// The pass context may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlock(rctx); err != nil {
			o.log.Warn("release pass lock failed", "err", err)
		}
		o.mu.Unlock()
	}, nil
}

func (o *Orchestrator) observe(outcome PassOutcome, s Summary, start time.Time) {
	if o.observer == nil {
		return
	}
	o.observer.ObservePass(outcome, s, o.clock().Sub(start))
}
