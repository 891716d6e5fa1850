package antinuke

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Metadata keys shared by the sensors and reversal strategies.
const (
	MetaTargetID    = "target_id"
	MetaTargetName  = "target_name"
	MetaReason      = "reason"
	MetaPermissions = "permissions"
	MetaColor       = "color"
	MetaHoist       = "hoist"
	MetaMentionable = "mentionable"
	MetaWebhookID   = "webhook_id"
	MetaChannelID   = "channel_id"
)

// Repository is the storage contract of the tracker. Each write is a single
// statement and each read an independent snapshot, so concurrent sensors can
// share one repository without extra locking.
type Repository interface {
	InsertAction(ctx context.Context, record ActionRecord) (int64, error)
	CountActions(ctx context.Context, guildID, userID string, action ActionType, since time.Time) (int, error)
	ListActions(ctx context.Context, guildID, userID string, action ActionType, since time.Time) ([]ActionRecord, error)
	MarkActionsReverted(ctx context.Context, guildID, userID string, action ActionType) (int64, error)
	InsertPunishment(ctx context.Context, entry PunishmentLogEntry) error
}

type ConfigSource interface {
	ThresholdConfig(ctx context.Context, guildID string, action ActionType) (ThresholdConfig, bool, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Tracker struct {
	repo     Repository
	configs  ConfigSource
	defaults map[ActionType]ThresholdConfig
	clock    Clock
	logger   *zap.Logger
}

func NewTracker(repo Repository, configs ConfigSource, defaults map[ActionType]ThresholdConfig, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults == nil {
		defaults = map[ActionType]ThresholdConfig{}
	}
	return &Tracker{
		repo:     repo,
		configs:  configs,
		defaults: defaults,
		clock:    realClock{},
		logger:   logger.With(zap.String("component", "tracker")),
	}
}

func (t *Tracker) WithClock(clock Clock) {
	t.clock = clock
}

func (t *Tracker) Now() time.Time {
	return t.clock.Now()
}

func (t *Tracker) TrackAction(ctx context.Context, guildID, userID string, action ActionType, metadata map[string]any) (ActionRecord, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	record := ActionRecord{
		GuildID:    guildID,
		UserID:     userID,
		ActionType: action,
		CreatedAt:  t.clock.Now(),
		Metadata:   metadata,
	}
	id, err := t.repo.InsertAction(ctx, record)
	if err != nil {
		t.logger.Error("track action failed",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Error(err))
		return record, err
	}
	record.ID = id
	return record, nil
}

// Config resolves the effective threshold policy. A guild row wins over the
// configured default; ok is false when neither exists, which disables
// protection for the action type.
func (t *Tracker) Config(ctx context.Context, guildID string, action ActionType) (ThresholdConfig, bool, error) {
	fallback, hasDefault := t.defaults[action]
	if t.configs != nil {
		cfg, found, err := t.configs.ThresholdConfig(ctx, guildID, action)
		if err != nil {
			return ThresholdConfig{}, false, err
		}
		if found {
			return normalizeConfig(cfg, fallback, hasDefault), true, nil
		}
	}
	if !hasDefault || !fallback.Valid() {
		return ThresholdConfig{}, false, nil
	}
	return fallback, true, nil
}

func normalizeConfig(cfg, fallback ThresholdConfig, hasDefault bool) ThresholdConfig {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
		if hasDefault && fallback.Threshold >= 1 {
			cfg.Threshold = fallback.Threshold
		}
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = 10 * time.Second
		if hasDefault && fallback.TimeWindow > 0 {
			cfg.TimeWindow = fallback.TimeWindow
		}
	}
	if cfg.Punishment == "" {
		cfg.Punishment = PunishmentEscalation
		if hasDefault && fallback.Punishment != "" {
			cfg.Punishment = fallback.Punishment
		}
	}
	return cfg
}

// CheckThreshold recounts the window on every call. Any failure reports no
// breach.
func (t *Tracker) CheckThreshold(ctx context.Context, guildID, userID string, action ActionType) (bool, int, ThresholdConfig) {
	cfg, ok, err := t.Config(ctx, guildID, action)
	if err != nil {
		t.logger.Warn("threshold config lookup failed", zap.String("guild_id", guildID), zap.String("action", string(action)), zap.Error(err))
		return false, 0, ThresholdConfig{}
	}
	if !ok {
		return false, 0, ThresholdConfig{}
	}
	since := t.clock.Now().Add(-cfg.TimeWindow)
	count, err := t.repo.CountActions(ctx, guildID, userID, action, since)
	if err != nil {
		t.logger.Warn("threshold count failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("action", string(action)), zap.Error(err))
		return false, 0, cfg
	}
	return count >= cfg.Threshold, count, cfg
}

func (t *Tracker) CheckPatternAndThreshold(ctx context.Context, guildID, userID string, action ActionType) (bool, string, int, ThresholdConfig) {
	exceeded, count, cfg := t.CheckThreshold(ctx, guildID, userID, action)
	if !cfg.Valid() {
		return false, "", count, cfg
	}
	if exceeded {
		return true, ThresholdReason(action, count, cfg), count, cfg
	}
	if action != ActionRoleCreate {
		return false, "", count, cfg
	}

	records, err := t.GetRecentActions(ctx, guildID, userID, action, cfg.TimeWindow)
	if err != nil {
		return false, "", count, cfg
	}
	if hit, reason := DetectRolePatterns(records); hit {
		return true, reason, count, cfg
	}
	return false, "", count, cfg
}

// GetRecentActions returns unreverted records inside the window, most recent
// first.
func (t *Tracker) GetRecentActions(ctx context.Context, guildID, userID string, action ActionType, window time.Duration) ([]ActionRecord, error) {
	since := t.clock.Now().Add(-window)
	records, err := t.repo.ListActions(ctx, guildID, userID, action, since)
	if err != nil {
		t.logger.Warn("recent actions lookup failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("action", string(action)), zap.Error(err))
		return nil, err
	}
	return records, nil
}

// MarkActionsReverted closes out every unreverted record of the action type
// for the user, not only those inside the current window.
func (t *Tracker) MarkActionsReverted(ctx context.Context, guildID, userID string, action ActionType) (int64, error) {
	affected, err := t.repo.MarkActionsReverted(ctx, guildID, userID, action)
	if err != nil {
		t.logger.Error("mark reverted failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("action", string(action)), zap.Error(err))
		return 0, err
	}
	return affected, nil
}

func (t *Tracker) LogPunishment(ctx context.Context, entry PunishmentLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.clock.Now()
	}
	if err := t.repo.InsertPunishment(ctx, entry); err != nil {
		t.logger.Error("punishment log failed", zap.String("guild_id", entry.GuildID), zap.String("user_id", entry.UserID), zap.Error(err))
		return err
	}
	return nil
}

func ThresholdReason(action ActionType, count int, cfg ThresholdConfig) string {
	return fmt.Sprintf("%d %s actions in %d seconds (limit %d)", count, action, int(cfg.TimeWindow/time.Second), cfg.Threshold)
}
