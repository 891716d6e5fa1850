package bot

import (
	"context"
	"sync"
	"time"

	"sentinel-antinuke/internal/analytics"
	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/backup"
	"sentinel-antinuke/internal/config"
	"sentinel-antinuke/internal/escalation"
	"sentinel-antinuke/internal/guild"
	"sentinel-antinuke/internal/metrics"
	"sentinel-antinuke/internal/notify"
	"sentinel-antinuke/internal/sensor"
	"sentinel-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const stickersUpdateEvent = "GUILD_STICKERS_UPDATE"

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	settings  *storage.SettingsCache
	analytics *analytics.Service
	metrics   *metrics.Metrics
	session   *discordgo.Session
	api       *guild.SessionAPI
	tracker   *antinuke.Tracker
	backups   *backup.Service
	sensors   *sensor.Registry
	stop      chan struct{}
	wg        sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, settings *storage.SettingsCache, analyticsEngine *analytics.Service, m *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildEmojis |
		discordgo.IntentsGuildWebhooks

	api := guild.NewSessionAPI(session)
	tracker := antinuke.NewTracker(store, store, cfg.Antinuke.ThresholdDefaults(), logger)
	engine := escalation.NewEngine(ladderFromConfig(cfg.Antinuke.Escalation), store, api, cfg.Antinuke.DefaultTimeout(), logger, m)
	notifier := notify.New(api, settings, notify.Options{
		DefaultChannel: cfg.DefaultLogChannel,
		DMOwner:        cfg.Antinuke.DMOwner,
		Colors:         cfg.Notifications.EmbedColors,
	}, logger)
	backups := backup.New(api, store, cfg.Antinuke.BackupKeep, logger)

	registry := sensor.NewRegistry(sensor.Deps{
		API:        api,
		Tracker:    tracker,
		Escalation: engine,
		Config:     settings,
		Whitelist:  store,
		Notifier:   notifier,
		Backups:    backups,
		Metrics:    m,
		Logger:     logger,
	}, sensor.Options{
		AuditLimit:    cfg.Antinuke.AuditLimit,
		AuditLookback: cfg.Antinuke.AuditLookback(),
		BanLookback:   cfg.Antinuke.BanLookback(),
		ReversalDelay: cfg.Antinuke.ReversalDelay(),
	})

	return &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		settings:  settings,
		analytics: analyticsEngine,
		metrics:   m,
		session:   session,
		api:       api,
		tracker:   tracker,
		backups:   backups,
		sensors:   registry,
		stop:      make(chan struct{}),
	}, nil
}

func ladderFromConfig(steps []config.EscalationStep) escalation.Ladder {
	ladder := make(escalation.Ladder, 0, len(steps))
	for _, step := range steps {
		punishment, ok := antinuke.ParsePunishment(step.Punishment)
		if !ok || punishment == antinuke.PunishmentEscalation {
			continue
		}
		ladder = append(ladder, escalation.Step{
			Punishment: punishment,
			Duration:   time.Duration(step.DurationMinutes) * time.Minute,
		})
	}
	return ladder
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onWebhooksUpdate)
	b.session.AddHandler(b.onRawEvent)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startRetention()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	close(b.stop)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	b.sensors.Handle(context.Background(), antinuke.ActionBan, memberEvent(event.GuildID, event.User))
}

// onGuildMemberRemove fires for leaves as well as kicks; the kick sensor
// only acts when a matching audit entry exists.
func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.GuildID == "" || event.User == nil {
		return
	}
	b.sensors.Handle(context.Background(), antinuke.ActionKick, memberEvent(event.GuildID, event.User))
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.GuildID == "" || event.User == nil || !event.User.Bot {
		return
	}
	b.sensors.Handle(context.Background(), antinuke.ActionBotAdd, memberEvent(event.GuildID, event.User))
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.sensors.Handle(context.Background(), antinuke.ActionChannelDelete, channelEvent(event.Channel))
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildRole == nil || event.GuildID == "" || event.Role == nil {
		return
	}
	b.sensors.Handle(context.Background(), antinuke.ActionRoleCreate, roleEvent(event.GuildID, event.Role))
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID == "" || event.RoleID == "" {
		return
	}
	b.sensors.Handle(context.Background(), antinuke.ActionRoleDelete, sensor.Event{GuildID: event.GuildID, TargetID: event.RoleID})
}

// onWebhooksUpdate does not say what changed, so both webhook sensors look
// for their own audit entry.
func (b *Bot) onWebhooksUpdate(session *discordgo.Session, event *discordgo.WebhooksUpdate) {
	if event.GuildID == "" {
		return
	}
	ctx := context.Background()
	ev := sensor.Event{GuildID: event.GuildID, Metadata: map[string]any{antinuke.MetaChannelID: event.ChannelID}}
	b.sensors.Handle(ctx, antinuke.ActionWebhookCreate, ev)
	b.sensors.Handle(ctx, antinuke.ActionWebhookDelete, ev)
}

func (b *Bot) onRawEvent(session *discordgo.Session, event *discordgo.Event) {
	if event.Type != stickersUpdateEvent {
		return
	}
	guildID, err := stickersGuildID(event.RawData)
	if err != nil {
		b.logger.Warn("sticker event decode failed", zap.Error(err))
		return
	}
	if guildID == "" {
		return
	}
	b.sensors.Handle(context.Background(), antinuke.ActionStickerCreate, sensor.Event{GuildID: guildID})
}

func memberEvent(guildID string, user *discordgo.User) sensor.Event {
	return sensor.Event{
		GuildID:  guildID,
		TargetID: user.ID,
		Metadata: map[string]any{antinuke.MetaTargetName: user.Username},
	}
}

func channelEvent(channel *discordgo.Channel) sensor.Event {
	return sensor.Event{
		GuildID:  channel.GuildID,
		TargetID: channel.ID,
		Metadata: map[string]any{
			antinuke.MetaTargetName: channel.Name,
			"channel_type":          int(channel.Type),
			"parent_id":             channel.ParentID,
		},
	}
}

func roleEvent(guildID string, role *discordgo.Role) sensor.Event {
	return sensor.Event{
		GuildID:  guildID,
		TargetID: role.ID,
		Metadata: map[string]any{
			antinuke.MetaTargetName:  role.Name,
			antinuke.MetaPermissions: role.Permissions,
			antinuke.MetaColor:       role.Color,
			antinuke.MetaHoist:       role.Hoist,
			antinuke.MetaMentionable: role.Mentionable,
		},
	}
}

type stickersPayload struct {
	GuildID string `json:"guild_id"`
}

func stickersGuildID(raw []byte) (string, error) {
	var payload stickersPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", err
	}
	return payload.GuildID, nil
}

// startRetention prunes the tracking tables on an hourly tick.
func (b *Bot) startRetention() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runRetention()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.runRetention()
			}
		}
	}()
}

func (b *Bot) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().Add(-time.Duration(b.cfg.RetentionDays) * 24 * time.Hour)
	actions, err := b.store.CleanupActions(ctx, cutoff)
	if err != nil {
		b.logger.Warn("action cleanup failed", zap.Error(err))
	}
	punishments, err := b.store.CleanupPunishments(ctx, cutoff)
	if err != nil {
		b.logger.Warn("punishment cleanup failed", zap.Error(err))
	}
	backups, err := b.store.CleanupBackups(ctx, cutoff)
	if err != nil {
		b.logger.Warn("backup cleanup failed", zap.Error(err))
	}
	if actions+punishments+backups > 0 {
		b.logger.Info("retention cleanup",
			zap.Int64("actions", actions),
			zap.Int64("punishments", punishments),
			zap.Int64("backups", backups),
		)
	}
}

func (b *Bot) embedAuthor() *discordgo.MessageEmbedAuthor {
	return &discordgo.MessageEmbedAuthor{Name: "Sentinel Security"}
}

func (b *Bot) embedFooter() *discordgo.MessageEmbedFooter {
	return &discordgo.MessageEmbedFooter{Text: "Sentinel AntiNuke"}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}
