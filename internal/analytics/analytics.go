package analytics

import (
	"context"
	"sort"
	"time"

	"sentinel-antinuke/internal/antinuke"
)

type Source interface {
	PunishmentsSince(ctx context.Context, guildID string, since time.Time) ([]antinuke.PunishmentLogEntry, error)
}

type Service struct {
	source Source
}

func New(source Source) *Service {
	return &Service{source: source}
}

type Report struct {
	Total            int
	Applied          int
	Failed           int
	ActionsReverted  int
	ReversalFailures int
	ByPunishment     map[string]int
	ByAction         map[string]int
	TopOffenders     []Offender
	Last             time.Time
}

type Offender struct {
	UserID string
	Count  int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	entries, err := s.source.PunishmentsSince(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByPunishment: make(map[string]int), ByAction: make(map[string]int)}
	offenders := make(map[string]int)
	for _, entry := range entries {
		report.Total++
		if entry.Applied {
			report.Applied++
		} else {
			report.Failed++
		}
		report.ActionsReverted += entry.ActionsReverted
		report.ReversalFailures += entry.ReversalFailures
		report.ByPunishment[string(entry.Punishment)]++
		report.ByAction[string(entry.ActionType)]++
		offenders[entry.UserID]++
		if entry.CreatedAt.After(report.Last) {
			report.Last = entry.CreatedAt
		}
	}

	for userID, count := range offenders {
		report.TopOffenders = append(report.TopOffenders, Offender{UserID: userID, Count: count})
	}
	sort.Slice(report.TopOffenders, func(i, j int) bool {
		if report.TopOffenders[i].Count != report.TopOffenders[j].Count {
			return report.TopOffenders[i].Count > report.TopOffenders[j].Count
		}
		return report.TopOffenders[i].UserID < report.TopOffenders[j].UserID
	})
	if len(report.TopOffenders) > 5 {
		report.TopOffenders = report.TopOffenders[:5]
	}
	return report, nil
}
