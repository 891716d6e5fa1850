package sensor

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/escalation"
	"sentinel-antinuke/internal/guild"
	"sentinel-antinuke/internal/metrics"
	"sentinel-antinuke/internal/notify"

	"go.uber.org/zap"
)

// Event is a gateway event normalized for a sensor. TargetID is empty when
// the gateway does not identify the affected entity, in which case the
// newest unclaimed audit entry is used.
type Event struct {
	GuildID  string
	TargetID string
	Metadata map[string]any
}

type GuildConfig interface {
	AntinukeEnabled(ctx context.Context, guildID string) (bool, error)
	Blacklisted(ctx context.Context, guildID string) (bool, error)
}

type Whitelist interface {
	IsWhitelisted(ctx context.Context, guildID, userID string, roleIDs []string, permissionKey string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, incident notify.Incident)
}

type Backups interface {
	CreateChannelBackup(ctx context.Context, guildID string) error
	CreateRoleBackup(ctx context.Context, guildID string) error
}

type Escalator interface {
	Resolve(ctx context.Context, guildID, userID string, configured antinuke.Punishment) escalation.Decision
	ApplyEscalatedPunishment(ctx context.Context, guildID, userID string, punishment antinuke.Punishment, level int, duration time.Duration, reason string) bool
	RecordOffense(ctx context.Context, guildID, userID string, punishment antinuke.Punishment) (int, error)
}

type Deps struct {
	API        guild.API
	Tracker    *antinuke.Tracker
	Escalation Escalator
	Config     GuildConfig
	Whitelist  Whitelist
	Notifier   Notifier
	Backups    Backups
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Options struct {
	AuditLimit    int
	AuditLookback time.Duration
	BanLookback   time.Duration
	ReversalDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.AuditLimit <= 0 {
		o.AuditLimit = 10
	}
	if o.AuditLookback <= 0 {
		o.AuditLookback = 30 * time.Second
	}
	if o.BanLookback <= 0 {
		o.BanLookback = time.Hour
	}
	if o.ReversalDelay < 0 {
		o.ReversalDelay = 0
	}
	return o
}

// Registry owns one sensor per guarded action type, all sharing a single
// audit-log resolver.
type Registry struct {
	sensors map[antinuke.ActionType]*Sensor
	logger  *zap.Logger
}

func NewRegistry(deps Deps, opts Options) *Registry {
	opts = opts.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	resolver := newAuditResolver(deps.API, opts.AuditLimit)
	sensors := make(map[antinuke.ActionType]*Sensor)
	for action, def := range Definitions(opts.BanLookback) {
		sensors[action] = newSensor(def, deps, opts, resolver)
	}
	return &Registry{sensors: sensors, logger: deps.Logger.With(zap.String("component", "sensor"))}
}

func (r *Registry) Sensor(action antinuke.ActionType) *Sensor {
	return r.sensors[action]
}

func (r *Registry) Handle(ctx context.Context, action antinuke.ActionType, event Event) {
	sensor := r.sensors[action]
	if sensor == nil {
		r.logger.Warn("no sensor for action", zap.String("action", string(action)))
		return
	}
	sensor.Handle(ctx, event)
}

type Sensor struct {
	def      Definition
	deps     Deps
	opts     Options
	resolver *auditResolver
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) bool
}

func newSensor(def Definition, deps Deps, opts Options, resolver *auditResolver) *Sensor {
	return &Sensor{
		def:      def,
		deps:     deps,
		opts:     opts,
		resolver: resolver,
		logger: deps.Logger.With(
			zap.String("component", "sensor"),
			zap.String("action", string(def.Action)),
		),
		sleep: sleepContext,
	}
}

func (s *Sensor) lookback() time.Duration {
	if s.def.Lookback > 0 {
		return s.def.Lookback
	}
	return s.opts.AuditLookback
}

// Handle runs the exemption chain and, on a breach, the punishment pipeline.
// It never returns an error or panics into the gateway dispatcher.
func (s *Sensor) Handle(ctx context.Context, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.deps.Metrics.Error("panic")
			s.logger.Error("sensor panic",
				zap.String("guild_id", event.GuildID),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if event.GuildID == "" {
		return
	}
	action := string(s.def.Action)
	logger := s.logger.With(zap.String("guild_id", event.GuildID))

	enabled, err := s.deps.Config.AntinukeEnabled(ctx, event.GuildID)
	if err != nil {
		s.deps.Metrics.Error("settings")
		logger.Warn("settings lookup failed", zap.Error(err))
		return
	}
	if !enabled {
		s.deps.Metrics.Skip(action, "disabled")
		return
	}
	blacklisted, err := s.deps.Config.Blacklisted(ctx, event.GuildID)
	if err != nil {
		s.deps.Metrics.Error("blacklist")
		logger.Warn("blacklist lookup failed", zap.Error(err))
		return
	}
	if blacklisted {
		s.deps.Metrics.Skip(action, "blacklisted")
		return
	}

	now := s.deps.Tracker.Now()
	entry, found, err := s.resolver.resolve(ctx, event.GuildID, s.def.AuditKind, event.TargetID, s.lookback(), now)
	if err != nil {
		s.deps.Metrics.Error("audit_log")
		logger.Warn("audit log lookup failed", zap.String("kind", string(guild.Classify(err))), zap.Error(err))
		return
	}
	if !found || entry.UserID == "" {
		s.deps.Metrics.Skip(action, "unattributed")
		logger.Debug("no audit entry for event", zap.String("target_id", event.TargetID))
		return
	}
	if !s.resolver.claim(entry.ID, now) {
		s.deps.Metrics.Skip(action, "duplicate")
		return
	}
	executor := entry.UserID
	logger = logger.With(zap.String("user_id", executor))

	if executor == s.deps.API.BotUserID() {
		s.deps.Metrics.Skip(action, "self")
		return
	}
	ownerID, err := s.deps.API.OwnerID(ctx, event.GuildID)
	if err != nil {
		s.deps.Metrics.Error("owner")
		logger.Warn("owner lookup failed", zap.Error(err))
		return
	}
	if executor == ownerID {
		s.deps.Metrics.Skip(action, "owner")
		return
	}

	member, err := s.deps.API.Member(ctx, event.GuildID, executor)
	if err != nil {
		s.deps.Metrics.Error("member")
		logger.Warn("member lookup failed", zap.Error(err))
		return
	}
	if member == nil {
		s.deps.Metrics.Skip(action, "departed")
		return
	}

	whitelisted, err := s.deps.Whitelist.IsWhitelisted(ctx, event.GuildID, executor, member.Roles, s.def.PermissionKey)
	if err != nil {
		s.deps.Metrics.Error("whitelist")
		logger.Warn("whitelist lookup failed", zap.Error(err))
		return
	}
	if whitelisted {
		s.deps.Metrics.Skip(action, "whitelisted")
		return
	}

	metadata := s.metadata(event, entry)
	record, err := s.deps.Tracker.TrackAction(ctx, event.GuildID, executor, s.def.Action, metadata)
	if err != nil {
		s.deps.Metrics.Error("track")
		return
	}
	s.deps.Metrics.ActionTracked(action)

	var (
		breached bool
		reason   string
		count    int
		cfg      antinuke.ThresholdConfig
	)
	if s.def.Pattern {
		breached, reason, count, cfg = s.deps.Tracker.CheckPatternAndThreshold(ctx, event.GuildID, executor, s.def.Action)
	} else {
		breached, count, cfg = s.deps.Tracker.CheckThreshold(ctx, event.GuildID, executor, s.def.Action)
		if breached {
			reason = antinuke.ThresholdReason(s.def.Action, count, cfg)
		}
	}
	if !breached {
		logger.Debug("action tracked", zap.Int("count", count), zap.Int("threshold", cfg.Threshold))
		return
	}

	kind := "threshold"
	if strings.HasPrefix(reason, "pattern") {
		kind = "pattern"
	}
	s.deps.Metrics.Breach(action, kind)
	logger.Warn("antinuke breach", zap.String("reason", reason), zap.Int("count", count))
	s.punish(ctx, record, count, cfg, reason)
}

func (s *Sensor) metadata(event Event, entry guild.AuditEntry) map[string]any {
	metadata := make(map[string]any, len(event.Metadata)+4)
	for key, value := range event.Metadata {
		metadata[key] = value
	}
	target := event.TargetID
	if target == "" {
		target = entry.TargetID
	}
	if target != "" {
		metadata[antinuke.MetaTargetID] = target
	}
	if entry.Reason != "" {
		metadata[antinuke.MetaReason] = entry.Reason
	}
	if s.def.Enrich != nil {
		s.def.Enrich(metadata, entry)
	}
	return metadata
}

// punish runs every pipeline step even when an earlier one fails.
func (s *Sensor) punish(ctx context.Context, trigger antinuke.ActionRecord, count int, cfg antinuke.ThresholdConfig, reason string) {
	guildID, userID := trigger.GuildID, trigger.UserID
	logger := s.logger.With(zap.String("guild_id", guildID), zap.String("user_id", userID))

	s.backup(ctx, guildID)

	decision := s.deps.Escalation.Resolve(ctx, guildID, userID, cfg.Punishment)
	applied := s.deps.Escalation.ApplyEscalatedPunishment(ctx, guildID, userID, decision.Punishment, decision.Level, decision.Duration, reason)
	if applied {
		_, _ = s.deps.Escalation.RecordOffense(ctx, guildID, userID, decision.Punishment)
	}

	records, err := s.deps.Tracker.GetRecentActions(ctx, guildID, userID, s.def.Action, cfg.TimeWindow)
	if err != nil {
		s.deps.Metrics.Error("recent_actions")
	}
	result := s.revert(ctx, trigger, records)
	s.deps.Metrics.Reversal(string(s.def.Action), result.Reverted, result.Failed)

	if _, err := s.deps.Tracker.MarkActionsReverted(ctx, guildID, userID, s.def.Action); err != nil {
		s.deps.Metrics.Error("mark_reverted")
	}

	entry := antinuke.PunishmentLogEntry{
		GuildID:          guildID,
		UserID:           userID,
		ActionType:       s.def.Action,
		Punishment:       decision.Punishment,
		Applied:          applied,
		ActionsReverted:  result.Reverted,
		ReversalFailures: result.Failed,
		Reason:           reason,
		EscalationLevel:  decision.Level,
	}
	if err := s.deps.Tracker.LogPunishment(ctx, entry); err != nil {
		s.deps.Metrics.Error("punishment_log")
	}

	logger.Info("punishment pipeline finished",
		zap.String("punishment", string(decision.Punishment)),
		zap.Bool("applied", applied),
		zap.Int("level", decision.Level),
		zap.Int("reverted", result.Reverted),
		zap.Int("failed", result.Failed))

	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(ctx, notify.Incident{
			GuildID:    guildID,
			UserID:     userID,
			Action:     s.def.Action,
			Count:      count,
			Punishment: decision.Punishment,
			Applied:    applied,
			Reason:     reason,
			Level:      decision.Level,
			Reverted:   result.Reverted,
			Failed:     result.Failed,
			At:         s.deps.Tracker.Now(),
		})
	}
}

func (s *Sensor) backup(ctx context.Context, guildID string) {
	if s.deps.Backups == nil || s.def.Backup == BackupNone {
		return
	}
	var err error
	switch s.def.Backup {
	case BackupChannels:
		err = s.deps.Backups.CreateChannelBackup(ctx, guildID)
	case BackupRoles:
		err = s.deps.Backups.CreateRoleBackup(ctx, guildID)
	}
	if err != nil {
		s.deps.Metrics.Error("backup")
		s.logger.Warn("backup before punishment failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
