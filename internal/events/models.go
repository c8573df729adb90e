package events

import "time"

// CallEvent is one observed leg transition of a phone call, as received from
// the call-routing platform webhook.
//
// Invariants:
// - CallID groups all legs of one logical call. LegID is never used for grouping;
//   the platform reuses CallID as LegID on the first and last external leg.
// - Events are append-only. Only Consumed and LinkedCallRecord are ever mutated,
//   and only by the merge engine.
type CallEvent struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`
	LegID  string `json:"leg_id,omitempty" db:"leg_id"`

	Status    Status    `json:"status" db:"status"`
	Direction Direction `json:"direction" db:"direction"`

	Source Party `json:"source"`
	Dest   Party `json:"destination"`

	// CalledNumber is the dialed DID; constant across legs.
	CalledNumber string `json:"called_number,omitempty" db:"called_number"`

	// Caller identity as seen by the carrier. May be present on some legs only.
	CallerIDExternal   string `json:"caller_id_external,omitempty" db:"caller_id_external"`
	CallerNameExternal string `json:"caller_name_external,omitempty" db:"caller_name_external"`
	CallerIDInternal   string `json:"caller_id_internal,omitempty" db:"caller_id_internal"`
	CallerNameInternal string `json:"caller_name_internal,omitempty" db:"caller_name_internal"`

	// EventTime is the time of this leg transition. Zero when the platform omitted it.
	EventTime time.Time `json:"event_time" db:"event_time"`
	// CallStartTime is when the call was first received; constant across legs.
	CallStartTime time.Time `json:"call_start_time" db:"call_start_time"`

	// RawPayload is the original webhook body, kept for audit. Opaque to merging.
	RawPayload string `json:"raw_payload,omitempty" db:"raw_payload"`

	Consumed         bool   `json:"consumed" db:"consumed"`
	LinkedCallRecord string `json:"linked_call_record,omitempty" db:"linked_call_record"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// Party is one side of a leg.
type Party struct {
	Kind   PartyKind `json:"kind,omitempty"`
	Name   string    `json:"name,omitempty"`
	Number string    `json:"number,omitempty"`
}

// EffectiveTime is the time used for causal ordering: EventTime, falling back
// to CallStartTime.
func (e CallEvent) EffectiveTime() time.Time {
	if !e.EventTime.IsZero() {
		return e.EventTime
	}
	return e.CallStartTime
}

type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAnswered Status = "answered"
	StatusEnded    Status = "ended"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type PartyKind string

const (
	KindExternal  PartyKind = "external"
	KindIVR       PartyKind = "ivr"
	KindHuntGroup PartyKind = "huntgroup"
	KindPhone     PartyKind = "phone"
)
