package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel-antinuke/internal/analytics"
	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/backup"
	"sentinel-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const statusReportWindow = 7 * 24 * time.Hour

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "antinuke":
		b.handleAntinukeCommand(ctx, session, interaction, data.Options)
	case "blacklist":
		b.handleBlacklistCommand(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) handleAntinukeCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	colors := b.cfg.Notifications.EmbedColors
	if interaction.GuildID == "" || interaction.Member == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke", "This command only works inside a server.", colors.Error, nil), true)
		return
	}
	if !b.canManage(ctx, interaction.GuildID, interaction.Member) {
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke", "Only the server owner or an administrator can change AntiNuke.", colors.Error, nil), true)
		return
	}
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke", "Choose a subcommand.", colors.Error, nil), true)
		return
	}

	sub := options[0]
	guildID := interaction.GuildID
	switch sub.Name {
	case "enable", "disable":
		enabled := sub.Name == "enable"
		settings, err := b.settings.Settings(ctx, guildID)
		if err != nil {
			b.commandFailed(session, interaction, "AntiNuke", err)
			return
		}
		settings.AntinukeEnabled = enabled
		settings.UpdatedAt = time.Now().Unix()
		if err := b.settings.UpdateSettings(ctx, settings); err != nil {
			b.commandFailed(session, interaction, "AntiNuke", err)
			return
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		b.logger.Info("antinuke toggled", zap.String("guild_id", guildID), zap.String("user_id", interaction.Member.User.ID), zap.Bool("enabled", enabled))
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke", "AntiNuke is now "+state+".", colors.Action, nil), true)
	case "status":
		b.handleStatus(ctx, session, interaction)
	case "logs":
		channelID := ""
		for _, opt := range sub.Options {
			if opt.Name == "channel" {
				channelID = opt.ChannelValue(nil).ID
			}
		}
		settings, err := b.settings.Settings(ctx, guildID)
		if err != nil {
			b.commandFailed(session, interaction, "AntiNuke Logs", err)
			return
		}
		settings.LogChannelID = channelID
		settings.UpdatedAt = time.Now().Unix()
		if err := b.settings.UpdateSettings(ctx, settings); err != nil {
			b.commandFailed(session, interaction, "AntiNuke Logs", err)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: "<#" + channelID + ">", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Logs", "Incident reports will be sent here.", colors.Action, fields), true)
	case "limit":
		b.handleLimit(ctx, session, interaction, sub.Options)
	case "whitelist":
		b.handleWhitelist(ctx, session, interaction, sub.Options)
	case "backup":
		kind := ""
		for _, opt := range sub.Options {
			if opt.Name == "kind" {
				kind = opt.StringValue()
			}
		}
		if err := b.backups.Create(ctx, guildID, kind); err != nil {
			b.commandFailed(session, interaction, "AntiNuke Backup", err)
			return
		}
		snapshot, err := b.backups.Latest(ctx, guildID, kind)
		if err != nil {
			b.logger.Warn("backup readback failed", zap.String("guild_id", guildID), zap.String("kind", kind), zap.Error(err))
		}
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Backup", backupSummary(kind, snapshot), colors.Action, nil), true)
	case "pardon":
		var user *discordgo.User
		for _, opt := range sub.Options {
			if opt.Name == "user" {
				user = opt.UserValue(nil)
			}
		}
		if user == nil || user.ID == "" {
			b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Pardon", "Choose a user.", colors.Error, nil), true)
			return
		}
		if err := b.store.ResetOffenses(ctx, guildID, user.ID); err != nil {
			b.commandFailed(session, interaction, "AntiNuke Pardon", err)
			return
		}
		b.logger.Info("offenses reset", zap.String("guild_id", guildID), zap.String("user_id", user.ID), zap.String("moderator_id", interaction.Member.User.ID))
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Pardon", "<@"+user.ID+"> starts again at the first escalation step.", colors.Action, nil), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke", "Unknown subcommand.", colors.Error, nil), true)
	}
}

func (b *Bot) handleStatus(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	colors := b.cfg.Notifications.EmbedColors
	guildID := interaction.GuildID
	settings, err := b.settings.Settings(ctx, guildID)
	if err != nil {
		b.commandFailed(session, interaction, "AntiNuke Status", err)
		return
	}

	logChannel := "default"
	if settings.LogChannelID != "" {
		logChannel = "<#" + settings.LogChannelID + ">"
	}

	overrides, err := b.store.ListThresholdConfigs(ctx, guildID)
	if err != nil {
		b.logger.Warn("threshold overrides unavailable", zap.String("guild_id", guildID), zap.Error(err))
	}
	lines := make([]string, 0, len(antinuke.AllActionTypes()))
	for _, action := range antinuke.AllActionTypes() {
		cfg, ok, err := b.tracker.Config(ctx, guildID, action)
		switch {
		case err != nil:
			lines = append(lines, action.DisplayName()+": unavailable")
		case !ok:
			lines = append(lines, action.DisplayName()+": off")
		default:
			_, custom := overrides[action]
			lines = append(lines, statusLimit(action, cfg, custom))
		}
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Enabled", Value: fmt.Sprintf("%t", settings.AntinukeEnabled), Inline: true},
		{Name: "Log Channel", Value: logChannel, Inline: true},
		{Name: "Limits", Value: strings.Join(lines, "\n"), Inline: false},
	}

	report, err := b.analytics.Report(ctx, guildID, time.Now().Add(-statusReportWindow))
	if err != nil {
		b.logger.Warn("status report failed", zap.String("guild_id", guildID), zap.Error(err))
	} else {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Last 7 Days", Value: formatReport(report), Inline: false})
	}

	recent, err := b.store.ListPunishments(ctx, guildID, 5)
	if err == nil && len(recent) > 0 {
		entries := make([]string, 0, len(recent))
		for _, entry := range recent {
			entries = append(entries, formatPunishment(entry))
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Recent", Value: strings.Join(entries, "\n"), Inline: false})
	}

	b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Status", "Current protection settings.", colors.Action, fields), true)
}

func (b *Bot) handleLimit(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	colors := b.cfg.Notifications.EmbedColors
	guildID := interaction.GuildID

	var (
		action     antinuke.ActionType
		threshold  int64
		window     int64
		punishment string
	)
	for _, opt := range options {
		switch opt.Name {
		case "action":
			action, _ = antinuke.ParseActionType(opt.StringValue())
		case "threshold":
			threshold = opt.IntValue()
		case "window":
			window = opt.IntValue()
		case "punishment":
			punishment = opt.StringValue()
		}
	}
	if action == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Limit", "Unknown action type.", colors.Error, nil), true)
		return
	}

	if threshold <= 0 {
		if err := b.store.DeleteThresholdConfig(ctx, guildID, action); err != nil {
			b.commandFailed(session, interaction, "AntiNuke Limit", err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Limit", action.DisplayName()+" restored to the default limit.", colors.Action, nil), true)
		return
	}

	base, _, err := b.tracker.Config(ctx, guildID, action)
	if err != nil {
		b.commandFailed(session, interaction, "AntiNuke Limit", err)
		return
	}
	cfg, err := limitConfig(base, threshold, window, punishment)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Limit", err.Error(), colors.Error, nil), true)
		return
	}
	if err := b.store.SetThresholdConfig(ctx, guildID, action, cfg); err != nil {
		b.commandFailed(session, interaction, "AntiNuke Limit", err)
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Limit", Value: formatLimit(action, cfg), Inline: false}}
	b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Limit", "Limit updated.", colors.Action, fields), true)
}

// limitConfig overlays the command options on the action's current limit.
func limitConfig(base antinuke.ThresholdConfig, threshold, windowSeconds int64, punishment string) (antinuke.ThresholdConfig, error) {
	cfg := base
	cfg.Threshold = int(threshold)
	if windowSeconds > 0 {
		cfg.TimeWindow = time.Duration(windowSeconds) * time.Second
	}
	if punishment != "" {
		parsed, ok := antinuke.ParsePunishment(punishment)
		if !ok {
			return antinuke.ThresholdConfig{}, fmt.Errorf("unknown punishment %q", punishment)
		}
		cfg.Punishment = parsed
	}
	if cfg.Punishment == "" {
		cfg.Punishment = antinuke.PunishmentEscalation
	}
	if cfg.TimeWindow <= 0 {
		return antinuke.ThresholdConfig{}, fmt.Errorf("a window is required for this action")
	}
	return cfg, nil
}

func (b *Bot) handleWhitelist(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	colors := b.cfg.Notifications.EmbedColors
	guildID := interaction.GuildID
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Whitelist", "Choose a subcommand.", colors.Error, nil), true)
		return
	}
	action := options[0]

	if action.Name == "list" {
		entries, err := b.store.ListWhitelist(ctx, guildID)
		if err != nil {
			b.commandFailed(session, interaction, "AntiNuke Whitelist", err)
			return
		}
		users, roles := formatWhitelist(entries)
		fields := []*discordgo.MessageEmbedField{
			{Name: "Users", Value: users, Inline: false},
			{Name: "Roles", Value: roles, Inline: false},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Whitelist", "Trusted users and roles.", colors.Action, fields), true)
		return
	}

	var targetID, targetType, permission string
	for _, opt := range action.Options {
		switch opt.Name {
		case "user":
			targetID, targetType = opt.UserValue(nil).ID, storage.TargetUser
		case "role":
			if targetID == "" {
				targetID, targetType = opt.RoleValue(nil, guildID).ID, storage.TargetRole
			}
		case "permission":
			permission = opt.StringValue()
		}
	}
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Whitelist", "Pick a user or a role.", colors.Error, nil), true)
		return
	}

	mention := "<@" + targetID + ">"
	if targetType == storage.TargetRole {
		mention = "<@&" + targetID + ">"
	}
	scope := permission
	if scope == "" {
		scope = storage.PermissionAll
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Target", Value: mention, Inline: true},
		{Name: "Permission", Value: scope, Inline: true},
	}

	switch action.Name {
	case "add":
		err := b.store.AddWhitelist(ctx, storage.WhitelistEntry{
			GuildID:       guildID,
			TargetID:      targetID,
			TargetType:    targetType,
			PermissionKey: permission,
			AddedBy:       interaction.Member.User.ID,
		})
		if err != nil {
			b.commandFailed(session, interaction, "AntiNuke Whitelist", err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Whitelist", "Whitelist updated.", colors.Action, fields), true)
	case "remove":
		removed, err := b.store.RemoveWhitelist(ctx, guildID, targetID, permission)
		if err != nil {
			b.commandFailed(session, interaction, "AntiNuke Whitelist", err)
			return
		}
		if removed == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Whitelist", "Nothing to remove.", colors.Warning, fields), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Whitelist", "Whitelist updated.", colors.Action, fields), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("AntiNuke Whitelist", "Unknown subcommand.", colors.Error, nil), true)
	}
}

func (b *Bot) handleBlacklistCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	colors := b.cfg.Notifications.EmbedColors
	userID := interactionUserID(interaction)
	if !isOperator(b.cfg.OperatorIDs, userID) {
		b.respondEmbed(session, interaction, b.commandEmbed("Blacklist", "This command is reserved for bot operators.", colors.Error, nil), true)
		return
	}
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Blacklist", "Choose a subcommand.", colors.Error, nil), true)
		return
	}

	sub := options[0]
	var guildID, reason string
	for _, opt := range sub.Options {
		switch opt.Name {
		case "guild_id":
			guildID = strings.TrimSpace(opt.StringValue())
		case "reason":
			reason = opt.StringValue()
		}
	}
	if guildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Blacklist", "A server ID is required.", colors.Error, nil), true)
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Server", Value: guildID, Inline: true}}

	switch sub.Name {
	case "add":
		err := b.settings.AddBlacklist(ctx, storage.BlacklistEntry{
			GuildID:   guildID,
			Reason:    reason,
			AddedBy:   userID,
			CreatedAt: time.Now().Unix(),
		})
		if err != nil {
			b.commandFailed(session, interaction, "Blacklist", err)
			return
		}
		b.logger.Info("guild blacklisted", zap.String("guild_id", guildID), zap.String("user_id", userID))
		b.respondEmbed(session, interaction, b.commandEmbed("Blacklist", "Server blacklisted. AntiNuke will ignore it.", colors.Action, fields), true)
	case "remove":
		if err := b.settings.RemoveBlacklist(ctx, guildID); err != nil {
			b.commandFailed(session, interaction, "Blacklist", err)
			return
		}
		b.logger.Info("guild unblacklisted", zap.String("guild_id", guildID), zap.String("user_id", userID))
		b.respondEmbed(session, interaction, b.commandEmbed("Blacklist", "Server removed from the blacklist.", colors.Action, fields), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Blacklist", "Unknown subcommand.", colors.Error, nil), true)
	}
}

// canManage allows the guild owner and members holding Administrator.
func (b *Bot) canManage(ctx context.Context, guildID string, member *discordgo.Member) bool {
	if member == nil || member.User == nil {
		return false
	}
	if hasAdministrator(member.Permissions) {
		return true
	}
	ownerID, err := b.api.OwnerID(ctx, guildID)
	if err != nil {
		b.logger.Warn("owner lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	return ownerID == member.User.ID
}

func hasAdministrator(permissions int64) bool {
	return permissions&discordgo.PermissionAdministrator != 0
}

func isOperator(operators []string, userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range operators {
		if id == userID {
			return true
		}
	}
	return false
}

func interactionUserID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func (b *Bot) commandFailed(session *discordgo.Session, interaction *discordgo.InteractionCreate, title string, err error) {
	b.logger.Warn("command failed", zap.String("guild_id", interaction.GuildID), zap.String("command", title), zap.Error(err))
	b.respondEmbed(session, interaction, b.commandEmbed(title, "Something went wrong, try again later.", b.cfg.Notifications.EmbedColors.Error, nil), true)
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Author:      b.embedAuthor(),
		Title:       title,
		Description: description,
		Color:       color,
		Footer:      b.embedFooter(),
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func formatLimit(action antinuke.ActionType, cfg antinuke.ThresholdConfig) string {
	return fmt.Sprintf("%s: %d / %s (%s)", action.DisplayName(), cfg.Threshold, cfg.TimeWindow, cfg.Punishment)
}

func statusLimit(action antinuke.ActionType, cfg antinuke.ThresholdConfig, custom bool) string {
	line := formatLimit(action, cfg)
	if custom {
		line += " (custom)"
	}
	return line
}

func backupSummary(kind string, snapshot *backup.Snapshot) string {
	if snapshot == nil {
		return "Snapshot of " + kind + " saved."
	}
	count := len(snapshot.Channels)
	if kind == backup.KindRoles {
		count = len(snapshot.Roles)
	}
	return fmt.Sprintf("Snapshot of %d %s saved.", count, kind)
}

func formatReport(report analytics.Report) string {
	if report.Total == 0 {
		return "No punishments."
	}
	lines := []string{
		fmt.Sprintf("Punishments: %d (%d applied, %d failed)", report.Total, report.Applied, report.Failed),
		fmt.Sprintf("Reverted: %d (%d failed)", report.ActionsReverted, report.ReversalFailures),
	}
	if len(report.TopOffenders) > 0 {
		offenders := make([]string, 0, len(report.TopOffenders))
		for _, offender := range report.TopOffenders {
			offenders = append(offenders, fmt.Sprintf("<@%s> x%d", offender.UserID, offender.Count))
		}
		lines = append(lines, "Top: "+strings.Join(offenders, ", "))
	}
	return strings.Join(lines, "\n")
}

func formatPunishment(entry antinuke.PunishmentLogEntry) string {
	state := "applied"
	if !entry.Applied {
		state = "failed"
	}
	return fmt.Sprintf("<t:%d:R> <@%s> %s, %s %s", entry.CreatedAt.Unix(), entry.UserID, entry.ActionType.DisplayName(), entry.Punishment, state)
}

func formatWhitelist(entries []storage.WhitelistEntry) (string, string) {
	users := make([]string, 0)
	roles := make([]string, 0)
	for _, entry := range entries {
		switch entry.TargetType {
		case storage.TargetRole:
			roles = append(roles, fmt.Sprintf("<@&%s> (%s)", entry.TargetID, entry.PermissionKey))
		default:
			users = append(users, fmt.Sprintf("<@%s> (%s)", entry.TargetID, entry.PermissionKey))
		}
	}
	userLines := "None"
	roleLines := "None"
	if len(users) > 0 {
		userLines = strings.Join(users, "\n")
	}
	if len(roles) > 0 {
		roleLines = strings.Join(roles, "\n")
	}
	return userLines, roleLines
}
