package merge

import "callmerge/internal/calls"

// Classify maps extracted facts to a final status and direction. First match wins:
//
//	answered by a phone     -> Answered,  original direction
//	reached a hunt group    -> Missed,    Missed
//	visited an IVR node     -> IVR Only,  Missed
//	otherwise               -> Abandoned, Missed
func Classify(f Facts) (calls.FinalStatus, calls.Direction) {
	switch {
	case f.Answered:
		dir := f.Direction
		if dir == "" {
			dir = calls.DirectionInbound
		}
		return calls.FinalStatusAnswered, dir
	case f.ReachedHuntGroup:
		return calls.FinalStatusMissed, calls.DirectionMissed
	case f.VisitedIVR:
		return calls.FinalStatusIVROnly, calls.DirectionMissed
	default:
		return calls.FinalStatusAbandoned, calls.DirectionMissed
	}
}
