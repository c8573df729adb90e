package merge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"callmerge/internal/calls"
	"callmerge/internal/events"
)

func newTestOrchestrator(ev events.Store, recs calls.Store, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewOrchestrator(ev, recs, opts)
}

func seed(t *testing.T, store *events.MemoryStore, evs ...events.CallEvent) {
	t.Helper()
	for _, e := range evs {
		if _, err := store.Append(context.Background(), e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func withCallID(callID string, evs ...events.CallEvent) []events.CallEvent {
	out := make([]events.CallEvent, len(evs))
	for i, e := range evs {
		e.CallID = callID
		out[i] = e
	}
	return out
}

type recordingObserver struct {
	outcomes  []PassOutcome
	summaries []Summary
}

func (r *recordingObserver) ObservePass(outcome PassOutcome, s Summary, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
	r.summaries = append(r.summaries, s)
}

type flakyRecords struct {
	*calls.MemoryRepo
	failCreate map[string]error
	panicOn    string
}

func (f *flakyRecords) Create(ctx context.Context, rec calls.CallRecord) (string, error) {
	if rec.CallID == f.panicOn {
		panic("boom")
	}
	if err := f.failCreate[rec.CallID]; err != nil {
		return "", err
	}
	return f.MemoryRepo.Create(ctx, rec)
}

type stubLocker struct {
	ok       bool
	err      error
	acquired int
	released int
}

func (l *stubLocker) TryAcquire(ctx context.Context) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	l.acquired++
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}

func TestRunOnce_HappyPath(t *testing.T) {
	store := events.NewMemoryStore()
	recs := calls.NewMemoryRepo()
	seed(t, store, happyPath()...)
	obs := &recordingObserver{}
	o := newTestOrchestrator(store, recs, Options{Observer: obs})

	sum, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.GroupsProcessed != 1 || sum.Created != 1 || sum.Updated != 0 || sum.Failed != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if recs.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d", recs.Len())
	}

	rec, err := recs.FindByCallID(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.FinalStatus != calls.FinalStatusAnswered || rec.Direction != calls.DirectionInbound {
		t.Fatalf("unexpected disposition %s/%s", rec.FinalStatus, rec.Direction)
	}
	if rec.IVRPathString() != "Day → discuss something → before connecting" {
		t.Fatalf("unexpected path %q", rec.IVRPathString())
	}
	if rec.HuntGroup != "talk to Madrech" || rec.AnsweredByName != "Chaim David Klein" {
		t.Fatalf("unexpected hunt group/answered by %q/%q", rec.HuntGroup, rec.AnsweredByName)
	}
	if rec.DurationSeconds <= 0 || rec.DurationSeconds != int(rec.EndTime.Sub(*rec.AnswerTime).Seconds()) {
		t.Fatalf("unexpected duration %d", rec.DurationSeconds)
	}

	for _, e := range store.Events() {
		if !e.Consumed || e.LinkedCallRecord != rec.ID {
			t.Fatalf("event %s not linked to %s: %+v", e.ID, rec.ID, e)
		}
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != OutcomeOK {
		t.Fatalf("unexpected observed outcomes %v", obs.outcomes)
	}
}

func TestRunOnce_Idempotent(t *testing.T) {
	store := events.NewMemoryStore()
	recs := calls.NewMemoryRepo()
	seed(t, store, happyPath()...)
	o := newTestOrchestrator(store, recs, Options{})

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := recs.FindByCallID(context.Background(), "call-1")

	sum, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.GroupsProcessed != 0 {
		t.Fatalf("expected zero groups on second run, got %+v", sum)
	}
	second, _ := recs.FindByCallID(context.Background(), "call-1")
	if !reflect.DeepEqual(first, second) || recs.Len() != 1 {
		t.Fatalf("record drifted:\n%+v\n%+v", first, second)
	}
}

func TestRunOnce_LateEndedEventUpdatesSameRecord(t *testing.T) {
	store := events.NewMemoryStore()
	recs := calls.NewMemoryRepo()
	all := happyPath()
	seed(t, store, all[:6]...)
	o := newTestOrchestrator(store, recs, Options{})

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _ := recs.FindByCallID(context.Background(), "call-1")
	if before.EndTime != nil || before.DurationSeconds != 0 || before.FinalStatus != calls.FinalStatusAnswered {
		t.Fatalf("unexpected in-progress record %+v", before)
	}

	seed(t, store, all[6])
	sum, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.GroupsProcessed != 1 || sum.Updated != 1 || sum.Created != 0 {
		t.Fatalf("expected one update, got %+v", sum)
	}
	after, _ := recs.FindByCallID(context.Background(), "call-1")
	if after.ID != before.ID || recs.Len() != 1 {
		t.Fatalf("expected same record id %s, got %s (records=%d)", before.ID, after.ID, recs.Len())
	}
	if after.EndTime == nil || after.DurationSeconds != 125 || after.EventCount != 7 {
		t.Fatalf("expected record recomputed from full history, got %+v", after)
	}
	if after.IVRPathString() != "Day → discuss something → before connecting" {
		t.Fatalf("expected earlier facts kept, got %q", after.IVRPathString())
	}
}

func TestRunOnce_IVROnlyAndAbandoned(t *testing.T) {
	store := events.NewMemoryStore()
	recs := calls.NewMemoryRepo()
	seed(t, store, withCallID("ivr-call",
		leg(events.StatusRinging, caller, ivr("Night"), t0),
		leg(events.StatusEnded, ivr("Night"), caller, t0.Add(8*time.Second)),
	)...)
	seed(t, store, withCallID("gone-call",
		leg(events.StatusRinging, caller, events.Party{Kind: events.KindExternal}, t0),
		leg(events.StatusEnded, caller, events.Party{}, t0.Add(2*time.Second)),
	)...)
	seed(t, store, withCallID("one-leg", leg(events.StatusRinging, caller, events.Party{}, t0))...)
	o := newTestOrchestrator(store, recs, Options{})

	sum, err := o.RunOnce(context.Background())
	if err != nil || sum.Created != 3 {
		t.Fatalf("unexpected run %+v %v", sum, err)
	}

	tests := []struct {
		callID string
		status calls.FinalStatus
		path   string
	}{
		{"ivr-call", calls.FinalStatusIVROnly, "Night"},
		{"gone-call", calls.FinalStatusAbandoned, ""},
		{"one-leg", calls.FinalStatusAbandoned, ""},
	}
	for _, tc := range tests {
		rec, err := recs.FindByCallID(context.Background(), tc.callID)
		if err != nil {
			t.Fatalf("%s: %v", tc.callID, err)
		}
		if rec.FinalStatus != tc.status || rec.Direction != calls.DirectionMissed || rec.IVRPathString() != tc.path {
			t.Fatalf("%s: unexpected record %+v", tc.callID, rec)
		}
	}
}

func TestRunOnce_FailureIsolation(t *testing.T) {
	store := events.NewMemoryStore()
	recs := &flakyRecords{MemoryRepo: calls.NewMemoryRepo(), failCreate: map[string]error{"bad": errors.New("connection reset")}}
	seed(t, store, withCallID("bad", happyPath()...)...)
	seed(t, store, withCallID("good", happyPath()...)...)
	obs := &recordingObserver{}
	o := newTestOrchestrator(store, recs, Options{Observer: obs})

	sum, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("per-call failure must not fail the pass: %v", err)
	}
	if sum.GroupsProcessed != 2 || sum.Created != 1 || sum.Failed != 1 || len(sum.FailedCallIDs) != 1 || sum.FailedCallIDs[0] != "bad" {
		t.Fatalf("unexpected summary %+v", sum)
	}
	for _, e := range store.Events() {
		if e.CallID == "bad" && e.Consumed {
			t.Fatalf("failed call's event %s was consumed", e.ID)
		}
		if e.CallID == "good" && !e.Consumed {
			t.Fatalf("good call's event %s not consumed", e.ID)
		}
	}
	if obs.outcomes[0] != OutcomePartial {
		t.Fatalf("expected partial outcome, got %v", obs.outcomes)
	}

	delete(recs.failCreate, "bad")
	sum, err = o.RunOnce(context.Background())
	if err != nil || sum.GroupsProcessed != 1 || sum.Created != 1 {
		t.Fatalf("expected retry on next pass, got %+v %v", sum, err)
	}
}

func TestRunOnce_PanicIsolated(t *testing.T) {
	store := events.NewMemoryStore()
	recs := &flakyRecords{MemoryRepo: calls.NewMemoryRepo(), panicOn: "explodes"}
	seed(t, store, withCallID("explodes", happyPath()[0])...)
	seed(t, store, withCallID("fine", happyPath()[0])...)
	o := newTestOrchestrator(store, recs, Options{})

	sum, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.Failed != 1 || sum.Created != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("orchestrator left locked after panic: %v", err)
	}
}

func TestRunOnce_MarkConsumedFailureRetriesWithoutDuplicate(t *testing.T) {
	store := events.NewMemoryStore()
	recs := calls.NewMemoryRepo()
	seed(t, store, happyPath()...)
	o := newTestOrchestrator(store, recs, Options{})

	store.SetError("MarkConsumed", errors.New("timeout"))
	sum, err := o.RunOnce(context.Background())
	if err != nil || sum.Failed != 1 {
		t.Fatalf("expected isolated failure, got %+v %v", sum, err)
	}
	if recs.Len() != 1 {
		t.Fatalf("expected record written before mark failure, got %d", recs.Len())
	}

	store.SetError("MarkConsumed", nil)
	sum, err = o.RunOnce(context.Background())
	if err != nil || sum.Updated != 1 || sum.Created != 0 {
		t.Fatalf("expected re-merge as update, got %+v %v", sum, err)
	}
	if recs.Len() != 1 {
		t.Fatalf("expected one record, got %d", recs.Len())
	}
}

func TestRunOnce_MalformedEventsLeftUnconsumed(t *testing.T) {
	store := events.NewMemoryStore()
	recs := calls.NewMemoryRepo()
	bad := leg(events.StatusRinging, caller, ivr("Day"), t0)
	bad.CallID = ""
	seed(t, store, bad)
	seed(t, store, happyPath()[0])
	o := newTestOrchestrator(store, recs, Options{})

	sum, err := o.RunOnce(context.Background())
	if err != nil || sum.Malformed != 1 || sum.GroupsProcessed != 1 || sum.Failed != 0 {
		t.Fatalf("unexpected summary %+v %v", sum, err)
	}
	for _, e := range store.Events() {
		if e.CallID == "" && e.Consumed {
			t.Fatalf("malformed event consumed")
		}
	}
}

func TestRunOnce_ListFailureFailsPass(t *testing.T) {
	store := events.NewMemoryStore()
	store.SetError("ListUnconsumed", errors.New("connection refused"))
	obs := &recordingObserver{}
	o := newTestOrchestrator(store, calls.NewMemoryRepo(), Options{Observer: obs})

	_, err := o.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected pass-level error")
	}
	if obs.outcomes[0] != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %v", obs.outcomes)
	}
}

func TestRunOnce_HistoryFailureIsPerCall(t *testing.T) {
	store := events.NewMemoryStore()
	seed(t, store, happyPath()...)
	store.SetError("ListByCallID", errors.New("timeout"))
	o := newTestOrchestrator(store, calls.NewMemoryRepo(), Options{})

	sum, err := o.RunOnce(context.Background())
	if err != nil || sum.Failed != 1 {
		t.Fatalf("expected isolated failure, got %+v %v", sum, err)
	}
}

func TestRunOnce_CancelledContextStopsPass(t *testing.T) {
	store := events.NewMemoryStore()
	seed(t, store, happyPath()...)
	o := newTestOrchestrator(store, calls.NewMemoryRepo(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, e := range store.Events() {
		if e.Consumed {
			t.Fatalf("expected nothing consumed")
		}
	}
}

func TestRunOnce_LockContention(t *testing.T) {
	store := events.NewMemoryStore()
	seed(t, store, happyPath()...)
	obs := &recordingObserver{}
	lock := &stubLocker{ok: false}
	o := newTestOrchestrator(store, calls.NewMemoryRepo(), Options{Locker: lock, Observer: obs})

	if _, err := o.RunOnce(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected ErrPassInProgress, got %v", err)
	}
	if obs.outcomes[0] != OutcomeSkipped {
		t.Fatalf("expected skipped outcome, got %v", obs.outcomes)
	}

	lock.err = errors.New("redis down")
	_, err := o.RunOnce(context.Background())
	if err == nil || errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected lock backend error, got %v", err)
	}

	lock.err = nil
	lock.ok = true
	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Fatalf("expected one acquire and release, got %d/%d", lock.acquired, lock.released)
	}
}

func TestRunOnce_RefusesOverlap(t *testing.T) {
	o := newTestOrchestrator(events.NewMemoryStore(), calls.NewMemoryRepo(), Options{})
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.RunOnce(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected ErrPassInProgress, got %v", err)
	}
	if _, err := o.RunForCallID(context.Background(), "call-1"); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected ErrPassInProgress, got %v", err)
	}
}

func TestRunForCallID(t *testing.T) {
	store := events.NewMemoryStore()
	recs := calls.NewMemoryRepo()
	all := happyPath()
	seed(t, store, all[:6]...)
	o := newTestOrchestrator(store, recs, Options{})

	first, err := o.RunForCallID(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !first.Created || first.EventCount != 6 || first.FinalStatus != calls.FinalStatusAnswered {
		t.Fatalf("unexpected result %+v", first)
	}

	seed(t, store, all[6])
	again, err := o.RunForCallID(context.Background(), " call-1 ")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if again.Created || again.RecordID != first.RecordID || again.EventCount != 7 {
		t.Fatalf("expected update of %s, got %+v", first.RecordID, again)
	}
	for _, e := range store.Events() {
		if !e.Consumed || e.LinkedCallRecord != first.RecordID {
			t.Fatalf("event %s not consumed", e.ID)
		}
	}

	if _, err := o.RunForCallID(context.Background(), "nope"); !errors.Is(err, ErrNoEvents) {
		t.Fatalf("expected ErrNoEvents, got %v", err)
	}
	if _, err := o.RunForCallID(context.Background(), ""); !errors.Is(err, ErrNoEvents) {
		t.Fatalf("expected ErrNoEvents, got %v", err)
	}
}

func TestUpserter_RecoversFromCreateRace(t *testing.T) {
	recs := calls.NewMemoryRepo()
	existingID, _ := recs.Create(context.Background(), calls.CallRecord{CallID: "call-1", FinalStatus: calls.FinalStatusMissed})
	racy := &raceRecords{MemoryRepo: recs}
	u := Upserter{Records: racy, Events: events.NewMemoryStore()}

	id, created, err := u.Upsert(context.Background(), calls.CallRecord{CallID: "call-1", FinalStatus: calls.FinalStatusAnswered})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if created || id != existingID {
		t.Fatalf("expected update of %s, got %s created=%v", existingID, id, created)
	}
	got, _ := recs.FindByCallID(context.Background(), "call-1")
	if got.FinalStatus != calls.FinalStatusAnswered {
		t.Fatalf("expected update applied, got %s", got.FinalStatus)
	}
}

// raceRecords hides the existing record from the first lookup, as if another
// writer created it between find and create.
type raceRecords struct {
	*calls.MemoryRepo
	finds int
}

func (r *raceRecords) FindByCallID(ctx context.Context, callID string) (calls.CallRecord, error) {
	r.finds++
	if r.finds == 1 {
		return calls.CallRecord{}, calls.ErrNotFound
	}
	return r.MemoryRepo.FindByCallID(ctx, callID)
}
