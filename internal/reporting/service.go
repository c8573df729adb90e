package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"callmerge/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository returns per (final status, hunt group) totals for records whose
// start time is in [from, to).
type Repository interface {
	Totals(ctx context.Context, from, to time.Time) ([]GroupTotals, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, r TimeRange) (CallsSummary, error) {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.Totals(ctx, r.From, r.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: r, HuntGroups: []HuntGroupSummary{}}
	groups := map[string]*HuntGroupSummary{}
	for _, row := range rows {
		out.TotalCalls += row.Calls
		switch row.FinalStatus {
		case calls.FinalStatusAnswered:
			out.AnsweredCalls += row.Calls
			out.TotalTalkSeconds += row.TalkSeconds
		case calls.FinalStatusMissed:
			out.MissedCalls += row.Calls
		case calls.FinalStatusIVROnly:
			out.IVROnlyCalls += row.Calls
		case calls.FinalStatusAbandoned:
			out.AbandonedCalls += row.Calls
		}

		if row.HuntGroup == "" {
			continue
		}
		g, ok := groups[row.HuntGroup]
		if !ok {
			g = &HuntGroupSummary{HuntGroup: row.HuntGroup}
			groups[row.HuntGroup] = g
		}
		g.TotalCalls += row.Calls
		if row.FinalStatus == calls.FinalStatusAnswered {
			g.AnsweredCalls += row.Calls
		}
	}

	if out.AnsweredCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / out.AnsweredCalls
	}
	out.AnswerRate = rate(out.AnsweredCalls, out.TotalCalls)

	for _, g := range groups {
		g.AnswerRate = rate(g.AnsweredCalls, g.TotalCalls)
		out.HuntGroups = append(out.HuntGroups, *g)
	}
	sort.Slice(out.HuntGroups, func(i, j int) bool {
		return out.HuntGroups[i].HuntGroup < out.HuntGroups[j].HuntGroup
	})
	return out, nil
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
