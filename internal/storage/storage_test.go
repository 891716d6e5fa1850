package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sentinel-antinuke/internal/antinuke"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestUpsertGuildSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetGuildSettings(ctx, "g1", GuildSettings{AntinukeEnabled: true})
	if err != nil {
		t.Fatalf("get defaults: %v", err)
	}
	if got.GuildID != "g1" || !got.AntinukeEnabled {
		t.Fatalf("expected defaults for g1, got %+v", got)
	}

	settings := GuildSettings{GuildID: "g1", AntinukeEnabled: true, LogChannelID: "c1"}
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert guild settings: %v", err)
	}
	settings.LogChannelID = "c2"
	settings.AntinukeEnabled = false
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("update guild settings: %v", err)
	}

	got, err = store.GetGuildSettings(ctx, "g1", GuildSettings{AntinukeEnabled: true})
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.LogChannelID != "c2" {
		t.Fatalf("expected channel c2, got %q", got.LogChannelID)
	}
	if got.AntinukeEnabled {
		t.Fatalf("expected antinuke disabled")
	}
}

func TestActionRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		_, err := store.InsertAction(ctx, antinuke.ActionRecord{
			GuildID:    "g1",
			UserID:     "u1",
			ActionType: antinuke.ActionBan,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
			Metadata:   map[string]any{antinuke.MetaTargetID: "t" + string(rune('a'+i)), antinuke.MetaPermissions: int64(8)},
		})
		if err != nil {
			t.Fatalf("insert action: %v", err)
		}
	}
	_, _ = store.InsertAction(ctx, antinuke.ActionRecord{GuildID: "g1", UserID: "u1", ActionType: antinuke.ActionKick, CreatedAt: base})

	count, err := store.CountActions(ctx, "g1", "u1", antinuke.ActionBan, base.Add(time.Second))
	if err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 actions inside window, got %d", count)
	}

	records, err := store.ListActions(ctx, "g1", "u1", antinuke.ActionBan, base)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].MetaString(antinuke.MetaTargetID) != "tc" {
		t.Fatalf("expected most recent first, got %q", records[0].MetaString(antinuke.MetaTargetID))
	}
	if records[0].MetaString(antinuke.MetaPermissions) != "8" {
		t.Fatalf("expected numeric metadata to survive, got %q", records[0].MetaString(antinuke.MetaPermissions))
	}

	marked, err := store.MarkActionsReverted(ctx, "g1", "u1", antinuke.ActionBan)
	if err != nil {
		t.Fatalf("mark reverted: %v", err)
	}
	if marked != 3 {
		t.Fatalf("expected 3 marked, got %d", marked)
	}
	marked, _ = store.MarkActionsReverted(ctx, "g1", "u1", antinuke.ActionBan)
	if marked != 0 {
		t.Fatalf("expected second mark to be a no-op, got %d", marked)
	}
	count, _ = store.CountActions(ctx, "g1", "u1", antinuke.ActionBan, base)
	if count != 0 {
		t.Fatalf("expected reverted actions to be excluded, got %d", count)
	}
	count, _ = store.CountActions(ctx, "g1", "u1", antinuke.ActionKick, base)
	if count != 1 {
		t.Fatalf("expected kicks untouched, got %d", count)
	}

	removed, err := store.CleanupActions(ctx, base.Add(time.Second))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
}

func TestPunishmentLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	entries := []antinuke.PunishmentLogEntry{
		{GuildID: "g1", UserID: "u1", ActionType: antinuke.ActionBan, Punishment: antinuke.PunishmentBan, Applied: true, ActionsReverted: 3, CreatedAt: base},
		{GuildID: "g1", UserID: "u2", ActionType: antinuke.ActionRoleCreate, Punishment: antinuke.PunishmentKick, ActionsReverted: 4, ReversalFailures: 1, CreatedAt: base.Add(time.Minute)},
		{GuildID: "g2", UserID: "u3", ActionType: antinuke.ActionKick, Punishment: antinuke.PunishmentWarn, Applied: true, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, entry := range entries {
		if err := store.InsertPunishment(ctx, entry); err != nil {
			t.Fatalf("insert punishment: %v", err)
		}
	}

	recent, err := store.ListPunishments(ctx, "g1", 5)
	if err != nil {
		t.Fatalf("list punishments: %v", err)
	}
	if len(recent) != 2 || recent[0].UserID != "u2" {
		t.Fatalf("expected g1 entries newest first, got %+v", recent)
	}
	if recent[0].Applied || recent[0].ReversalFailures != 1 {
		t.Fatalf("expected failed punishment with one reversal failure, got %+v", recent[0])
	}

	since, err := store.PunishmentsSince(ctx, "", base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("punishments since: %v", err)
	}
	if len(since) != 2 || since[0].GuildID != "g1" {
		t.Fatalf("expected two entries oldest first, got %+v", since)
	}
	since, _ = store.PunishmentsSince(ctx, "g2", base)
	if len(since) != 1 || since[0].UserID != "u3" {
		t.Fatalf("expected only g2 entries, got %+v", since)
	}
}

func TestThresholdConfigs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.ThresholdConfig(ctx, "g1", antinuke.ActionBan); err != nil || ok {
		t.Fatalf("expected no config, got ok=%v err=%v", ok, err)
	}

	cfg := antinuke.ThresholdConfig{Threshold: 3, TimeWindow: time.Minute, Punishment: antinuke.PunishmentBan}
	if err := store.SetThresholdConfig(ctx, "g1", antinuke.ActionBan, cfg); err != nil {
		t.Fatalf("set config: %v", err)
	}
	cfg.Threshold = 5
	if err := store.SetThresholdConfig(ctx, "g1", antinuke.ActionBan, cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}

	got, ok, err := store.ThresholdConfig(ctx, "g1", antinuke.ActionBan)
	if err != nil || !ok {
		t.Fatalf("expected config, got ok=%v err=%v", ok, err)
	}
	if got.Threshold != 5 || got.TimeWindow != time.Minute || got.Punishment != antinuke.PunishmentBan {
		t.Fatalf("unexpected config %+v", got)
	}

	all, err := store.ListThresholdConfigs(ctx, "g1")
	if err != nil {
		t.Fatalf("list configs: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 config, got %d", len(all))
	}
}

func TestWhitelist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.AddWhitelist(ctx, WhitelistEntry{GuildID: "g1", TargetID: "u1", TargetType: TargetUser, PermissionKey: "ban"})
	_ = store.AddWhitelist(ctx, WhitelistEntry{GuildID: "g1", TargetID: "r1", TargetType: TargetRole})

	cases := []struct {
		user  string
		roles []string
		key   string
		want  bool
	}{
		{"u1", nil, "ban", true},
		{"u1", nil, "kick", false},
		{"u2", []string{"r1"}, "chdl", true},
		{"u2", []string{"r2"}, "ban", false},
	}
	for _, tc := range cases {
		got, err := store.IsWhitelisted(ctx, "g1", tc.user, tc.roles, tc.key)
		if err != nil {
			t.Fatalf("is whitelisted: %v", err)
		}
		if got != tc.want {
			t.Fatalf("expected %v for %s/%v/%s, got %v", tc.want, tc.user, tc.roles, tc.key, got)
		}
	}

	removed, err := store.RemoveWhitelist(ctx, "g1", "r1", "")
	if err != nil || removed != 1 {
		t.Fatalf("expected one removal, got %d err=%v", removed, err)
	}
	entries, _ := store.ListWhitelist(ctx, "g1")
	if len(entries) != 1 || entries[0].TargetID != "u1" {
		t.Fatalf("unexpected whitelist %+v", entries)
	}
}

func TestRecordOffense(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, err := store.RecordOffense(ctx, "g1", "u1", antinuke.PunishmentKick, time.Now())
		if err != nil {
			t.Fatalf("record offense: %v", err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}
	count, _ := store.OffenseCount(ctx, "g1", "u1")
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}
	count, _ = store.OffenseCount(ctx, "g1", "u2")
	if count != 0 {
		t.Fatalf("expected 0 for unknown user, got %d", count)
	}
	_ = store.ResetOffenses(ctx, "g1", "u1")
	count, _ = store.OffenseCount(ctx, "g1", "u1")
	if count != 0 {
		t.Fatalf("expected reset, got %d", count)
	}
}

func TestRecordOffenseConcurrentFileStore(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "sentinel.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RecordOffense(ctx, "g1", "u1", antinuke.PunishmentKick, time.Now()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("record offense: %v", err)
	}

	count, err := store.OffenseCount(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("offense count: %v", err)
	}
	if count != workers {
		t.Fatalf("expected %d offenses, got %d", workers, count)
	}
}

func TestBackups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	if backup, err := store.LatestBackup(ctx, "g1", "roles"); err != nil || backup != nil {
		t.Fatalf("expected no backup, got %+v err=%v", backup, err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.AddBackup(ctx, "g1", "roles", string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("add backup: %v", err)
		}
	}
	latest, err := store.LatestBackup(ctx, "g1", "roles")
	if err != nil || latest == nil {
		t.Fatalf("expected backup, got err=%v", err)
	}
	if latest.Payload != "c" {
		t.Fatalf("expected newest payload, got %q", latest.Payload)
	}
	removed, _ := store.PruneBackups(ctx, "g1", "roles", 1)
	if removed != 2 {
		t.Fatalf("expected 2 pruned, got %d", removed)
	}
}

func TestSettingsCacheInvalidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cache, err := NewSettingsCache(store, time.Minute, GuildSettings{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	enabled, err := cache.AntinukeEnabled(ctx, "g1")
	if err != nil || enabled {
		t.Fatalf("expected disabled by default, got %v err=%v", enabled, err)
	}
	if err := cache.UpdateSettings(ctx, GuildSettings{GuildID: "g1", AntinukeEnabled: true}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	enabled, _ = cache.AntinukeEnabled(ctx, "g1")
	if !enabled {
		t.Fatalf("expected cache invalidated after update")
	}

	listed, _ := cache.Blacklisted(ctx, "g1")
	if listed {
		t.Fatalf("expected not blacklisted")
	}
	if err := cache.AddBlacklist(ctx, BlacklistEntry{GuildID: "g1", Reason: "abuse"}); err != nil {
		t.Fatalf("add blacklist: %v", err)
	}
	listed, _ = cache.Blacklisted(ctx, "g1")
	if !listed {
		t.Fatalf("expected blacklisted after add")
	}
	_ = cache.RemoveBlacklist(ctx, "g1")
	listed, _ = cache.Blacklisted(ctx, "g1")
	if listed {
		t.Fatalf("expected blacklist removed")
	}
}

func TestSettingsCacheDropsFillRacingInvalidation(t *testing.T) {
	store := newTestStore(t)
	cache, err := NewSettingsCache(store, time.Minute, GuildSettings{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	key := "settings:g1"
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.load(key, func() (any, error) {
			close(started)
			<-release
			return GuildSettings{GuildID: "g1"}, nil
		})
	}()
	<-started
	cache.invalidate(key)
	close(release)
	<-done

	cache.cache.Wait()
	if _, ok := cache.cache.Get(key); ok {
		t.Fatalf("expected stale fill to be dropped after invalidation")
	}

	value, err := cache.load(key, func() (any, error) {
		return GuildSettings{GuildID: "g1", AntinukeEnabled: true}, nil
	})
	if err != nil || !value.(GuildSettings).AntinukeEnabled {
		t.Fatalf("expected fresh load, got %+v (%v)", value, err)
	}
	cached, ok := cache.cache.Get(key)
	if !ok || !cached.(GuildSettings).AntinukeEnabled {
		t.Fatalf("expected fresh value cached, got %+v", cached)
	}
}
