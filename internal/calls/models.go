package calls

import (
	"encoding/json"
	"strings"
	"time"
)

// CallRecord is the single summarized row per call, folded from its CallEvents.
//
// CallID is the natural key: there is at most one record per call id and it
// never changes after creation. All other fields are derived and overwritten
// on every merge of the call.
type CallRecord struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	Direction Direction `json:"direction" db:"direction"`

	StartTime  time.Time  `json:"start_time" db:"start_time"`
	AnswerTime *time.Time `json:"answer_time,omitempty" db:"answer_time"`
	EndTime    *time.Time `json:"end_time,omitempty" db:"end_time"`

	// DurationSeconds is talk time: EndTime - AnswerTime, 0 unless both are set.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	CallerNumber string `json:"caller_number,omitempty" db:"caller_number"`
	CallerName   string `json:"caller_name,omitempty" db:"caller_name"`
	CalledNumber string `json:"called_number,omitempty" db:"called_number"`

	// IVRPath holds visited IVR node names in first-seen order.
	IVRPath []string `json:"ivr_path" db:"ivr_path"`

	// Empty means the call never reached a hunt group / was never answered by a phone.
	HuntGroup           string `json:"hunt_group,omitempty" db:"hunt_group"`
	AnsweredByName      string `json:"answered_by_name,omitempty" db:"answered_by_name"`
	AnsweredByExtension string `json:"answered_by_extension,omitempty" db:"answered_by_extension"`

	FinalStatus FinalStatus `json:"final_status" db:"final_status"`

	EventCount int `json:"event_count" db:"event_count"`
	// RawEventsSnapshot is a JSON array of the raw payloads of every folded event.
	RawEventsSnapshot json.RawMessage `json:"raw_events_snapshot,omitempty" db:"raw_events_snapshot"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IVRPathSeparator joins IVR node names for display.
const IVRPathSeparator = " → "

// IVRPathString renders the path the way the call log shows it, e.g. "Day → Sales".
func (r CallRecord) IVRPathString() string {
	return strings.Join(r.IVRPath, IVRPathSeparator)
}

type Direction string

const (
	DirectionInbound  Direction = "Inbound"
	DirectionOutbound Direction = "Outbound"
	// DirectionMissed overrides Inbound/Outbound for every call not answered by a person.
	DirectionMissed Direction = "Missed"
)

type FinalStatus string

const (
	FinalStatusAnswered  FinalStatus = "Answered"
	FinalStatusMissed    FinalStatus = "Missed"
	FinalStatusIVROnly   FinalStatus = "IVR Only"
	FinalStatusAbandoned FinalStatus = "Abandoned"
)

// ParseFinalStatus accepts the display value or a lower-case/underscored form ("ivr_only").
func ParseFinalStatus(s string) (FinalStatus, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", " ")) {
	case "answered":
		return FinalStatusAnswered, true
	case "missed":
		return FinalStatusMissed, true
	case "ivr only":
		return FinalStatusIVROnly, true
	case "abandoned":
		return FinalStatusAbandoned, true
	default:
		return "", false
	}
}
