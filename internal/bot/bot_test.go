package bot

import (
	"strings"
	"testing"
	"time"

	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/backup"
	"sentinel-antinuke/internal/config"
	"sentinel-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func TestLadderFromConfig(t *testing.T) {
	ladder := ladderFromConfig([]config.EscalationStep{
		{Punishment: "warn"},
		{Punishment: "timeout", DurationMinutes: 30},
		{Punishment: "escalation"},
		{Punishment: "explode"},
		{Punishment: "BAN"},
	})
	if len(ladder) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(ladder))
	}
	if ladder[1].Punishment != antinuke.PunishmentTimeout || ladder[1].Duration != 30*time.Minute {
		t.Fatalf("unexpected timeout step %+v", ladder[1])
	}
	if ladder[2].Punishment != antinuke.PunishmentBan {
		t.Fatalf("expected ban last, got %s", ladder[2].Punishment)
	}
}

func TestRoleEventMetadata(t *testing.T) {
	event := roleEvent("g1", &discordgo.Role{ID: "r1", Name: "raid", Permissions: discordgo.PermissionAdministrator, Color: 255, Hoist: true})
	if event.GuildID != "g1" || event.TargetID != "r1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Metadata[antinuke.MetaPermissions] != int64(discordgo.PermissionAdministrator) {
		t.Fatalf("expected permissions metadata, got %v", event.Metadata[antinuke.MetaPermissions])
	}
	if event.Metadata[antinuke.MetaHoist] != true || event.Metadata[antinuke.MetaMentionable] != false {
		t.Fatalf("unexpected flags %+v", event.Metadata)
	}
}

func TestChannelAndMemberEvents(t *testing.T) {
	channel := channelEvent(&discordgo.Channel{ID: "c1", GuildID: "g1", Name: "general", ParentID: "cat"})
	if channel.TargetID != "c1" || channel.Metadata[antinuke.MetaTargetName] != "general" {
		t.Fatalf("unexpected channel event %+v", channel)
	}
	member := memberEvent("g1", &discordgo.User{ID: "u1", Username: "victim"})
	if member.TargetID != "u1" || member.Metadata[antinuke.MetaTargetName] != "victim" {
		t.Fatalf("unexpected member event %+v", member)
	}
}

func TestStickersGuildID(t *testing.T) {
	guildID, err := stickersGuildID([]byte(`{"guild_id":"g1","stickers":[{"id":"s1"}]}`))
	if err != nil || guildID != "g1" {
		t.Fatalf("expected g1, got %q (%v)", guildID, err)
	}
	if _, err := stickersGuildID([]byte(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestLimitConfig(t *testing.T) {
	base := antinuke.ThresholdConfig{Threshold: 3, TimeWindow: 10 * time.Second, Punishment: antinuke.PunishmentEscalation}

	cfg, err := limitConfig(base, 5, 0, "")
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if cfg.Threshold != 5 || cfg.TimeWindow != 10*time.Second || cfg.Punishment != antinuke.PunishmentEscalation {
		t.Fatalf("expected base window and punishment kept, got %+v", cfg)
	}

	cfg, err = limitConfig(base, 2, 60, "ban")
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if cfg.TimeWindow != time.Minute || cfg.Punishment != antinuke.PunishmentBan {
		t.Fatalf("expected overrides, got %+v", cfg)
	}

	if _, err := limitConfig(base, 2, 0, "explode"); err == nil {
		t.Fatalf("expected unknown punishment error")
	}
	if _, err := limitConfig(antinuke.ThresholdConfig{}, 2, 0, ""); err == nil {
		t.Fatalf("expected missing window error")
	}
	cfg, err = limitConfig(antinuke.ThresholdConfig{}, 2, 30, "")
	if err != nil || cfg.Punishment != antinuke.PunishmentEscalation {
		t.Fatalf("expected escalation default, got %+v (%v)", cfg, err)
	}
}

func TestPermissionChecks(t *testing.T) {
	if !hasAdministrator(discordgo.PermissionAdministrator | discordgo.PermissionBanMembers) {
		t.Fatalf("expected administrator")
	}
	if hasAdministrator(discordgo.PermissionBanMembers) {
		t.Fatalf("expected no administrator")
	}
	operators := []string{"1", "2"}
	if !isOperator(operators, "2") || isOperator(operators, "3") || isOperator(operators, "") {
		t.Fatalf("unexpected operator checks")
	}
}

func TestInteractionUserID(t *testing.T) {
	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "m1"}}}}
	if interactionUserID(guild) != "m1" {
		t.Fatalf("expected member id")
	}
	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "d1"}}}
	if interactionUserID(dm) != "d1" {
		t.Fatalf("expected user id")
	}
}

func TestFormatWhitelist(t *testing.T) {
	users, roles := formatWhitelist(nil)
	if users != "None" || roles != "None" {
		t.Fatalf("expected empty lists, got %q %q", users, roles)
	}
	users, roles = formatWhitelist([]storage.WhitelistEntry{
		{TargetID: "u1", TargetType: storage.TargetUser, PermissionKey: "ban"},
		{TargetID: "r1", TargetType: storage.TargetRole, PermissionKey: storage.PermissionAll},
	})
	if users != "<@u1> (ban)" || roles != "<@&r1> (all)" {
		t.Fatalf("unexpected lists %q %q", users, roles)
	}
}

func TestCommandDefinitions(t *testing.T) {
	commands := commandDefinitions()
	if len(commands) != 2 || commands[0].Name != "antinuke" || commands[1].Name != "blacklist" {
		t.Fatalf("unexpected commands")
	}
	subs := make(map[string]*discordgo.ApplicationCommandOption)
	for _, opt := range commands[0].Options {
		subs[opt.Name] = opt
	}
	for _, name := range []string{"enable", "disable", "status", "logs", "limit", "whitelist", "backup", "pardon"} {
		if subs[name] == nil {
			t.Fatalf("missing subcommand %s", name)
		}
	}
	actions := subs["limit"].Options[0].Choices
	if len(actions) != len(antinuke.AllActionTypes()) {
		t.Fatalf("expected every action as a choice, got %d", len(actions))
	}
	permissions := subs["whitelist"].Options[0].Options[2].Choices
	if len(permissions) > 25 || permissions[0].Value != storage.PermissionAll {
		t.Fatalf("unexpected permission choices %d", len(permissions))
	}
}

func TestFormatPunishment(t *testing.T) {
	line := formatPunishment(antinuke.PunishmentLogEntry{
		UserID:     "u1",
		ActionType: antinuke.ActionBan,
		Punishment: antinuke.PunishmentKick,
		CreatedAt:  time.Unix(1_700_000_000, 0),
	})
	if !strings.Contains(line, "<t:1700000000:R>") || !strings.HasSuffix(line, "kick failed") {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestStatusLimitMarksOverrides(t *testing.T) {
	cfg := antinuke.ThresholdConfig{Threshold: 3, TimeWindow: 10 * time.Second, Punishment: antinuke.PunishmentBan}
	if line := statusLimit(antinuke.ActionBan, cfg, false); strings.HasSuffix(line, "(custom)") {
		t.Fatalf("expected default limit unmarked, got %q", line)
	}
	if line := statusLimit(antinuke.ActionBan, cfg, true); !strings.HasSuffix(line, " (custom)") {
		t.Fatalf("expected override marked, got %q", line)
	}
}

func TestBackupSummary(t *testing.T) {
	channels := &backup.Snapshot{Kind: backup.KindChannels, Channels: []backup.ChannelSnapshot{{ID: "c1"}, {ID: "c2"}}}
	if got := backupSummary(backup.KindChannels, channels); got != "Snapshot of 2 channels saved." {
		t.Fatalf("unexpected summary %q", got)
	}
	roles := &backup.Snapshot{Kind: backup.KindRoles, Roles: []backup.RoleSnapshot{{ID: "r1"}}}
	if got := backupSummary(backup.KindRoles, roles); got != "Snapshot of 1 roles saved." {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := backupSummary(backup.KindRoles, nil); got != "Snapshot of roles saved." {
		t.Fatalf("unexpected summary %q", got)
	}
}
