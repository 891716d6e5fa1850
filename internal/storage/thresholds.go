package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sentinel-antinuke/internal/antinuke"
)

type thresholdRow struct {
	GuildID       string `db:"guild_id"`
	ActionType    string `db:"action_type"`
	Threshold     int    `db:"threshold"`
	WindowSeconds int    `db:"window_seconds"`
	Punishment    string `db:"punishment"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r thresholdRow) config() antinuke.ThresholdConfig {
	return antinuke.ThresholdConfig{
		Threshold:  r.Threshold,
		TimeWindow: time.Duration(r.WindowSeconds) * time.Second,
		Punishment: antinuke.Punishment(r.Punishment),
	}
}

// ThresholdConfig reports ok=false when the guild has no row for the action.
func (s *Store) ThresholdConfig(ctx context.Context, guildID string, action antinuke.ActionType) (antinuke.ThresholdConfig, bool, error) {
	var row thresholdRow
	err := s.db.GetContext(ctx, &row, `
		SELECT guild_id, action_type, threshold, window_seconds, punishment, updated_at
		FROM threshold_configs WHERE guild_id = ? AND action_type = ?
	`, guildID, string(action))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return antinuke.ThresholdConfig{}, false, nil
		}
		return antinuke.ThresholdConfig{}, false, err
	}
	return row.config(), true, nil
}

func (s *Store) SetThresholdConfig(ctx context.Context, guildID string, action antinuke.ActionType, cfg antinuke.ThresholdConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threshold_configs (guild_id, action_type, threshold, window_seconds, punishment, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, action_type) DO UPDATE SET
			threshold = excluded.threshold,
			window_seconds = excluded.window_seconds,
			punishment = excluded.punishment,
			updated_at = excluded.updated_at
	`, guildID, string(action), cfg.Threshold, int(cfg.TimeWindow/time.Second), string(cfg.Punishment), time.Now().Unix())
	return err
}

func (s *Store) DeleteThresholdConfig(ctx context.Context, guildID string, action antinuke.ActionType) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM threshold_configs WHERE guild_id = ? AND action_type = ?`, guildID, string(action))
	return err
}

func (s *Store) ListThresholdConfigs(ctx context.Context, guildID string) (map[antinuke.ActionType]antinuke.ThresholdConfig, error) {
	var rows []thresholdRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT guild_id, action_type, threshold, window_seconds, punishment, updated_at
		FROM threshold_configs WHERE guild_id = ?
	`, guildID)
	if err != nil {
		return nil, err
	}
	configs := make(map[antinuke.ActionType]antinuke.ThresholdConfig, len(rows))
	for _, row := range rows {
		configs[antinuke.ActionType(row.ActionType)] = row.config()
	}
	return configs, nil
}
