package sensor

import (
	"context"
	"strconv"
	"strings"

	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/guild"

	"go.uber.org/zap"
)

type ReversalResult struct {
	Reverted int
	Failed   int
}

// revert undoes the records of a breach. Loop strategies keep going after a
// failed call and wait ReversalDelay between calls. Records already marked
// reverted are skipped.
func (s *Sensor) revert(ctx context.Context, trigger antinuke.ActionRecord, records []antinuke.ActionRecord) ReversalResult {
	guildID := trigger.GuildID
	switch s.def.Reversal {
	case ReversalUnban:
		return s.eachTarget(ctx, records, antinuke.MetaTargetID, func(record antinuke.ActionRecord, target string) error {
			return s.deps.API.Unban(ctx, guildID, target)
		})
	case ReversalDeleteRoles:
		return s.eachTarget(ctx, records, antinuke.MetaTargetID, func(record antinuke.ActionRecord, target string) error {
			return s.deps.API.DeleteRole(ctx, guildID, target)
		})
	case ReversalRecreateRoles:
		return s.eachTarget(ctx, records, antinuke.MetaTargetID, func(record antinuke.ActionRecord, target string) error {
			_, err := s.deps.API.CreateRole(ctx, guildID, RoleSpecFromRecord(record))
			return err
		})
	case ReversalDeleteWebhooks:
		return s.deleteWebhooks(ctx, guildID, records)
	case ReversalKickBot:
		botID := trigger.MetaString(antinuke.MetaTargetID)
		if botID == "" {
			return ReversalResult{}
		}
		if err := s.deps.API.Kick(ctx, guildID, botID, "AntiNuke: bot added during a breach"); err != nil {
			s.logger.Warn("bot kick failed", zap.String("guild_id", guildID), zap.String("bot_id", botID), zap.Error(err))
			return ReversalResult{Failed: 1}
		}
		return ReversalResult{Reverted: 1}
	case ReversalDeleteSticker:
		stickerID := trigger.MetaString(antinuke.MetaTargetID)
		if stickerID == "" {
			return ReversalResult{}
		}
		if err := s.deps.API.DeleteSticker(ctx, guildID, stickerID); err != nil {
			return ReversalResult{Failed: 1}
		}
		return ReversalResult{Reverted: 1}
	default:
		return ReversalResult{}
	}
}

func (s *Sensor) eachTarget(ctx context.Context, records []antinuke.ActionRecord, key string, fn func(record antinuke.ActionRecord, target string) error) ReversalResult {
	var result ReversalResult
	calls := 0
	for _, record := range records {
		if record.Reverted {
			continue
		}
		target := record.MetaString(key)
		if target == "" {
			continue
		}
		if calls > 0 && !s.sleep(ctx, s.opts.ReversalDelay) {
			s.logger.Warn("reversal interrupted", zap.Error(ctx.Err()), zap.Int("remaining", len(records)-calls))
			break
		}
		calls++
		if err := fn(record, target); err != nil {
			result.Failed++
			s.logger.Warn("reversal failed",
				zap.String("guild_id", record.GuildID),
				zap.String("target_id", target),
				zap.String("kind", string(guild.Classify(err))),
				zap.Error(err))
			continue
		}
		result.Reverted++
	}
	return result
}

// deleteWebhooks only touches webhooks that still exist in the guild.
func (s *Sensor) deleteWebhooks(ctx context.Context, guildID string, records []antinuke.ActionRecord) ReversalResult {
	live, err := s.deps.API.Webhooks(ctx, guildID)
	if err != nil {
		s.logger.Warn("webhook list failed", zap.String("guild_id", guildID), zap.Error(err))
		pending := 0
		for _, record := range records {
			if !record.Reverted {
				pending++
			}
		}
		return ReversalResult{Failed: pending}
	}
	existing := make(map[string]struct{}, len(live))
	for _, webhook := range live {
		existing[webhook.ID] = struct{}{}
	}
	var candidates []antinuke.ActionRecord
	for _, record := range records {
		if _, ok := existing[record.MetaString(antinuke.MetaWebhookID)]; ok {
			candidates = append(candidates, record)
		}
	}
	return s.eachTarget(ctx, candidates, antinuke.MetaWebhookID, func(record antinuke.ActionRecord, target string) error {
		return s.deps.API.DeleteWebhook(ctx, target)
	})
}

// RoleSpecFromRecord rebuilds a deleted role from its stored metadata.
func RoleSpecFromRecord(record antinuke.ActionRecord) guild.RoleSpec {
	name := record.MetaString(antinuke.MetaTargetName)
	if name == "" {
		name = "restored-role"
	}
	permissions, _ := strconv.ParseInt(record.MetaString(antinuke.MetaPermissions), 10, 64)
	return guild.RoleSpec{
		Name:        name,
		Permissions: permissions,
		Color:       parseColor(record.Metadata[antinuke.MetaColor]),
		Hoist:       record.MetaBool(antinuke.MetaHoist),
		Mentionable: record.MetaBool(antinuke.MetaMentionable),
	}
}

// parseColor accepts a numeric color or a hex string; anything else yields
// the default role color.
func parseColor(value any) int {
	switch v := value.(type) {
	case float64:
		if v >= 0 && v <= 0xFFFFFF {
			return int(v)
		}
	case int:
		if v >= 0 && v <= 0xFFFFFF {
			return v
		}
	case int64:
		if v >= 0 && v <= 0xFFFFFF {
			return int(v)
		}
	case string:
		hex := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(v), "#"), "0x")
		if parsed, err := strconv.ParseInt(hex, 16, 64); err == nil && parsed >= 0 && parsed <= 0xFFFFFF {
			return int(parsed)
		}
	}
	return 0
}
