package escalation

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/guild"
	"sentinel-antinuke/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Discord rejects communication timeouts longer than 28 days.
const maxTimeout = 28 * 24 * time.Hour

// Discord caps audit log reasons at 512 characters.
const maxAuditReason = 512

type Step struct {
	Punishment antinuke.Punishment
	Duration   time.Duration
}

// Ladder is ordered from the mildest to the harshest response.
type Ladder []Step

func DefaultLadder() Ladder {
	return Ladder{
		{Punishment: antinuke.PunishmentWarn},
		{Punishment: antinuke.PunishmentTimeout, Duration: time.Hour},
		{Punishment: antinuke.PunishmentKick},
		{Punishment: antinuke.PunishmentBan},
	}
}

// At clamps out-of-range levels onto the ladder.
func (l Ladder) At(level int) Step {
	if len(l) == 0 {
		return DefaultLadder().At(level)
	}
	if level < 0 {
		level = 0
	}
	if level >= len(l) {
		level = len(l) - 1
	}
	return l[level]
}

func (l Ladder) MaxLevel() int {
	if len(l) == 0 {
		return len(DefaultLadder()) - 1
	}
	return len(l) - 1
}

type History interface {
	OffenseCount(ctx context.Context, guildID, userID string) (int, error)
	RecordOffense(ctx context.Context, guildID, userID string, punishment antinuke.Punishment, at time.Time) (int, error)
}

type Moderator interface {
	Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	DirectMessage(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Decision struct {
	Punishment antinuke.Punishment
	Duration   time.Duration
	Level      int
}

type Engine struct {
	ladder         Ladder
	history        History
	moderator      Moderator
	defaultTimeout time.Duration
	clock          Clock
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

func NewEngine(ladder Ladder, history History, moderator Moderator, defaultTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		ladder:         ladder,
		history:        history,
		moderator:      moderator,
		defaultTimeout: defaultTimeout,
		clock:          realClock{},
		logger:         logger.With(zap.String("component", "escalation")),
		metrics:        m,
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

func (e *Engine) Ladder() Ladder {
	return e.ladder
}

// GetEscalationLevel reads the offense history without changing it.
func (e *Engine) GetEscalationLevel(ctx context.Context, guildID, userID string) int {
	count, err := e.history.OffenseCount(ctx, guildID, userID)
	if err != nil {
		e.logger.Warn("offense history lookup failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	if count < 0 {
		return 0
	}
	if top := e.ladder.MaxLevel(); count > top {
		return top
	}
	return count
}

// Resolve turns a configured punishment into a concrete one. The escalation
// sentinel picks the ladder step for the user's current level.
func (e *Engine) Resolve(ctx context.Context, guildID, userID string, configured antinuke.Punishment) Decision {
	level := e.GetEscalationLevel(ctx, guildID, userID)
	if configured == antinuke.PunishmentEscalation || configured == "" {
		step := e.ladder.At(level)
		return Decision{Punishment: step.Punishment, Duration: step.Duration, Level: level}
	}
	decision := Decision{Punishment: configured, Level: level}
	if configured == antinuke.PunishmentTimeout {
		decision.Duration = e.defaultTimeout
	}
	return decision
}

func (e *Engine) RecordOffense(ctx context.Context, guildID, userID string, punishment antinuke.Punishment) (int, error) {
	count, err := e.history.RecordOffense(ctx, guildID, userID, punishment, e.clock.Now())
	if err != nil {
		e.logger.Error("offense history update failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return 0, err
	}
	return count, nil
}

// ApplyEscalatedPunishment never returns an error; REST failures are logged
// and reported as false so the caller can continue with reversal.
func (e *Engine) ApplyEscalatedPunishment(ctx context.Context, guildID, userID string, punishment antinuke.Punishment, level int, duration time.Duration, reason string) bool {
	logger := e.logger.With(
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("punishment", string(punishment)),
		zap.Int("level", level),
	)
	auditReason := truncateRunes(fmt.Sprintf("AntiNuke (level %d): %s", level+1, reason), maxAuditReason)

	var err error
	switch punishment {
	case antinuke.PunishmentWarn:
		err = e.moderator.DirectMessage(ctx, userID, warningEmbed(guildID, level, reason))
	case antinuke.PunishmentTimeout:
		if duration <= 0 {
			duration = e.defaultTimeout
		}
		if duration > maxTimeout {
			duration = maxTimeout
		}
		err = e.moderator.Timeout(ctx, guildID, userID, e.clock.Now().Add(duration), auditReason)
	case antinuke.PunishmentKick:
		err = e.moderator.Kick(ctx, guildID, userID, auditReason)
	case antinuke.PunishmentBan:
		err = e.moderator.Ban(ctx, guildID, userID, auditReason)
	default:
		logger.Warn("unknown punishment type")
		e.metrics.Punishment(string(punishment), false)
		return false
	}

	if err != nil {
		kind := guild.Classify(err)
		if kind == guild.ErrorForbidden {
			logger.Warn("punishment forbidden: missing permission or role hierarchy", zap.Error(err))
		} else {
			logger.Warn("punishment failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		e.metrics.Punishment(string(punishment), false)
		return false
	}
	logger.Info("punishment applied", zap.Duration("duration", duration))
	e.metrics.Punishment(string(punishment), true)
	return true
}

func warningEmbed(guildID string, level int, reason string) *discordgo.MessageEmbed {
	if reason == "" {
		reason = "destructive action burst"
	}
	return &discordgo.MessageEmbed{
		Title:       "AntiNuke warning",
		Description: "A burst of destructive actions was detected from your account and has been reverted. Further actions will be punished more severely.",
		Color:       0xF59E0B,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Server", Value: guildID, Inline: true},
			{Name: "Level", Value: fmt.Sprintf("%d", level+1), Inline: true},
			{Name: "Reason", Value: reason, Inline: false},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
