package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinel-antinuke/internal/antinuke"
)

type staticSource struct {
	entries []antinuke.PunishmentLogEntry
	err     error
}

func (s staticSource) PunishmentsSince(ctx context.Context, guildID string, since time.Time) ([]antinuke.PunishmentLogEntry, error) {
	return s.entries, s.err
}

func TestReport(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	source := staticSource{entries: []antinuke.PunishmentLogEntry{
		{UserID: "u1", ActionType: antinuke.ActionBan, Punishment: antinuke.PunishmentBan, Applied: true, ActionsReverted: 3, CreatedAt: base},
		{UserID: "u1", ActionType: antinuke.ActionBan, Punishment: antinuke.PunishmentBan, Applied: false, ActionsReverted: 2, ReversalFailures: 1, CreatedAt: base.Add(time.Minute)},
		{UserID: "u2", ActionType: antinuke.ActionRoleCreate, Punishment: antinuke.PunishmentKick, Applied: true, CreatedAt: base.Add(30 * time.Second)},
	}}

	report, err := New(source).Report(context.Background(), "g1", base)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 3 || report.Applied != 2 || report.Failed != 1 {
		t.Fatalf("unexpected totals %+v", report)
	}
	if report.ActionsReverted != 5 || report.ReversalFailures != 1 {
		t.Fatalf("unexpected reversal totals %+v", report)
	}
	if report.ByAction["ban"] != 2 || report.ByPunishment["kick"] != 1 {
		t.Fatalf("unexpected breakdown %+v", report)
	}
	if len(report.TopOffenders) != 2 || report.TopOffenders[0].UserID != "u1" {
		t.Fatalf("unexpected offenders %+v", report.TopOffenders)
	}
	if !report.Last.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected last entry time, got %v", report.Last)
	}
}

func TestReportError(t *testing.T) {
	if _, err := New(staticSource{err: errors.New("down")}).Report(context.Background(), "g1", time.Time{}); err == nil {
		t.Fatalf("expected error")
	}
}
