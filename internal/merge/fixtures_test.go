package merge

import (
	"fmt"
	"time"

	"callmerge/internal/events"
)

func leg(status events.Status, src, dst events.Party, at time.Time) events.CallEvent {
	return events.CallEvent{
		CallID:        "call-1",
		Status:        status,
		Direction:     events.DirectionIncoming,
		Source:        src,
		Dest:          dst,
		CalledNumber:  "+17185550100",
		EventTime:     at,
		CallStartTime: t0,
	}
}

func ivr(name string) events.Party { return events.Party{Kind: events.KindIVR, Name: name} }

func huntGroup(name string) events.Party { return events.Party{Kind: events.KindHuntGroup, Name: name} }

func phone(name, ext string) events.Party {
	return events.Party{Kind: events.KindPhone, Name: name, Number: ext}
}

var caller = events.Party{Kind: events.KindExternal, Name: "Moshe Gold", Number: "+13475550123"}

// happyPath is a caller walking three IVR nodes into a hunt group and being
// answered by a phone, then hanging up 2m05s later.
func happyPath() []events.CallEvent {
	out := []events.CallEvent{
		leg(events.StatusRinging, caller, ivr("Day"), t0),
		leg(events.StatusRinging, ivr("Day"), ivr("discuss something"), t0.Add(6*time.Second)),
		leg(events.StatusRinging, ivr("discuss something"), ivr("before connecting"), t0.Add(14*time.Second)),
		leg(events.StatusRinging, ivr("before connecting"), huntGroup("talk to Madrech"), t0.Add(20*time.Second)),
		leg(events.StatusRinging, huntGroup("talk to Madrech"), phone("Chaim David Klein", "204"), t0.Add(21*time.Second)),
		leg(events.StatusAnswered, huntGroup("talk to Madrech"), phone("Chaim David Klein", "204"), t0.Add(30*time.Second)),
		leg(events.StatusEnded, phone("Chaim David Klein", "204"), caller, t0.Add(155*time.Second)),
	}
	out[0].CallerIDExternal = "+13475550123"
	out[0].CallerNameExternal = "GOLD MOSHE"
	for i := range out {
		out[i].LegID = fmt.Sprintf("leg-%d", i)
		out[i].RawPayload = fmt.Sprintf(`{"seq":%d}`, i)
	}
	out[0].LegID = out[0].CallID
	out[len(out)-1].LegID = out[len(out)-1].CallID
	return out
}
