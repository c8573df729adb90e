package reporting

import (
	"time"

	"callmerge/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// GroupTotals is one aggregate row: records sharing a final status and hunt
// group within the requested range.
type GroupTotals struct {
	FinalStatus calls.FinalStatus
	HuntGroup   string
	Calls       int
	TalkSeconds int
}

// CallsSummary aggregates merged call records whose start time falls in
// [Range.From, Range.To).
type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	MissedCalls    int `json:"missed_calls"`
	IVROnlyCalls   int `json:"ivr_only_calls"`
	AbandonedCalls int `json:"abandoned_calls"`

	// Talk durations cover answered calls only.
	TotalTalkSeconds   int `json:"total_talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`

	AnswerRate float64 `json:"answer_rate"`

	HuntGroups []HuntGroupSummary `json:"hunt_groups"`
}

type HuntGroupSummary struct {
	HuntGroup     string  `json:"hunt_group"`
	TotalCalls    int     `json:"total_calls"`
	AnsweredCalls int     `json:"answered_calls"`
	AnswerRate    float64 `json:"answer_rate"`
}
