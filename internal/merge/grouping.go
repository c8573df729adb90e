package merge

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"callmerge/internal/events"
)

// Group is the ordered event sequence of one call.
type Group struct {
	CallID string
	Events []events.CallEvent
}

// GroupEvents partitions evs by call id. Groups come back in order of first
// appearance and each group is sorted by EffectiveTime; equal times keep
// arrival order. Events without a call id cannot be grouped and are returned
// separately.
func GroupEvents(evs []events.CallEvent) ([]Group, []events.CallEvent) {
	malformed := lo.Filter(evs, func(e events.CallEvent, _ int) bool { return isMalformed(e) })
	valid := lo.Reject(evs, func(e events.CallEvent, _ int) bool { return isMalformed(e) })

	byCall := lo.GroupBy(valid, func(e events.CallEvent) string { return e.CallID })
	order := lo.Uniq(lo.Map(valid, func(e events.CallEvent, _ int) string { return e.CallID }))

	groups := make([]Group, 0, len(order))
	for _, callID := range order {
		groups = append(groups, Group{CallID: callID, Events: SortEvents(byCall[callID])})
	}
	return groups, malformed
}

// SortEvents returns a copy of evs in causal order.
func SortEvents(evs []events.CallEvent) []events.CallEvent {
	out := append([]events.CallEvent(nil), evs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveTime().Before(out[j].EffectiveTime())
	})
	return out
}

func isMalformed(e events.CallEvent) bool {
	return strings.TrimSpace(e.CallID) == ""
}
