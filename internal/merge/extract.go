package merge

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/samber/lo"

	"callmerge/internal/calls"
	"callmerge/internal/events"
)

// DedupMode controls how repeated IVR node visits collapse in the path.
type DedupMode string

const (
	// DedupAdjacent drops a node only when it repeats the previous entry: A,A,B,A -> A,B,A.
	DedupAdjacent DedupMode = "adjacent"
	// DedupGlobal keeps first visits only: A,A,B,A -> A,B.
	DedupGlobal DedupMode = "global"
)

// ParseDedupMode accepts a mode name in any case; empty selects DedupAdjacent.
func ParseDedupMode(s string) (DedupMode, error) {
	switch DedupMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DedupAdjacent:
		return DedupAdjacent, nil
	case DedupGlobal:
		return DedupGlobal, nil
	default:
		return "", fmt.Errorf("merge: unknown ivr dedup mode %q", s)
	}
}

// Facts are the signals the disposition classifier needs.
type Facts struct {
	Answered         bool
	ReachedHuntGroup bool
	VisitedIVR       bool
	// Direction is the call direction as received, before classification.
	Direction calls.Direction
}

// Extractor folds an ordered event group into a record draft.
type Extractor struct {
	Mode DedupMode
}

// Extract builds the record for callID from evs, which must already be in
// causal order (see SortEvents). FinalStatus and the final Direction are left
// to Classify.
func (x Extractor) Extract(callID string, evs []events.CallEvent) (calls.CallRecord, Facts) {
	rec := calls.CallRecord{
		CallID:     callID,
		IVRPath:    []string{},
		EventCount: len(evs),
	}
	facts := Facts{Direction: calls.DirectionInbound}
	if len(evs) == 0 {
		return rec, facts
	}

	first := evs[0]
	rec.CallerNumber = firstNonBlank(first.CallerIDExternal, first.Source.Number)
	rec.CallerName = firstNonBlank(first.CallerNameExternal, first.Source.Name)
	rec.CalledNumber = first.CalledNumber
	rec.StartTime = startTime(evs)
	if first.Direction == events.DirectionOutgoing {
		facts.Direction = calls.DirectionOutbound
	}

	rec.IVRPath = x.ivrPath(evs)
	facts.VisitedIVR = len(rec.IVRPath) > 0

	if hg, ok := lo.Find(evs, func(e events.CallEvent) bool {
		return e.Dest.Kind == events.KindHuntGroup || e.Source.Kind == events.KindHuntGroup
	}); ok {
		facts.ReachedHuntGroup = true
		rec.HuntGroup = huntGroupLabel(hg)
	}

	if ans, ok := lo.Find(evs, func(e events.CallEvent) bool {
		return e.Status == events.StatusAnswered && e.Dest.Kind == events.KindPhone
	}); ok {
		facts.Answered = true
		rec.AnsweredByName = ans.Dest.Name
		rec.AnsweredByExtension = ans.Dest.Number
		t := ans.EffectiveTime().UTC()
		rec.AnswerTime = &t
	}

	if end, _, ok := lo.FindLastIndexOf(evs, func(e events.CallEvent) bool { return e.Status == events.StatusEnded }); ok {
		t := end.EffectiveTime().UTC()
		rec.EndTime = &t
	}

	rec.DurationSeconds = talkSeconds(rec.AnswerTime, rec.EndTime)
	rec.RawEventsSnapshot = snapshot(evs)
	return rec, facts
}

func (x Extractor) ivrPath(evs []events.CallEvent) []string {
	path := []string{}
	for _, e := range evs {
		if e.Dest.Kind != events.KindIVR {
			continue
		}
		name := strings.TrimSpace(e.Dest.Name)
		if name == "" {
			continue
		}
		if len(path) > 0 && path[len(path)-1] == name {
			continue
		}
		if x.Mode == DedupGlobal && lo.Contains(path, name) {
			continue
		}
		path = append(path, name)
	}
	return path
}

// huntGroupLabel prefers the destination name, but only when the destination
// is the hunt group; otherwise the hunt group is the source.
func huntGroupLabel(e events.CallEvent) string {
	if e.Dest.Kind == events.KindHuntGroup && strings.TrimSpace(e.Dest.Name) != "" {
		return e.Dest.Name
	}
	if e.Source.Kind == events.KindHuntGroup && strings.TrimSpace(e.Source.Name) != "" {
		return e.Source.Name
	}
	return firstNonBlank(e.Dest.Name, e.Source.Name)
}

// startTime prefers the first event's timestamps. Untimed events sort first,
// so it falls back to the earliest event that carries one.
func startTime(evs []events.CallEvent) time.Time {
	for _, e := range evs {
		if !e.CallStartTime.IsZero() {
			return e.CallStartTime.UTC()
		}
		if !e.EventTime.IsZero() {
			return e.EventTime.UTC()
		}
	}
	return time.Time{}
}

// talkSeconds is end - answer rounded to whole seconds, clamped at 0.
func talkSeconds(answer, end *time.Time) int {
	if answer == nil || end == nil {
		return 0
	}
	secs := math.Round(end.Sub(*answer).Seconds())
	if secs < 0 {
		return 0
	}
	return int(secs)
}

// snapshot keeps every raw payload as a JSON array. Payloads that are not
// valid JSON are stored as strings; events without one are stored normalized.
func snapshot(evs []events.CallEvent) json.RawMessage {
	items := make([]json.RawMessage, 0, len(evs))
	for _, e := range evs {
		switch {
		case e.RawPayload != "" && json.Valid([]byte(e.RawPayload)):
			items = append(items, json.RawMessage(e.RawPayload))
		case e.RawPayload != "":
			b, _ := json.Marshal(e.RawPayload)
			items = append(items, b)
		default:
			b, err := json.Marshal(e)
			if err != nil {
				continue
			}
			items = append(items, b)
		}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return b
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
