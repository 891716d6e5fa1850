package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sentinel-antinuke/internal/antinuke"
)

func (s *Store) OffenseCount(ctx context.Context, guildID, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT offense_count FROM offense_history WHERE guild_id = ? AND user_id = ?
	`, guildID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// RecordOffense bumps the user's offense count and returns the new value.
// The increment is a single upsert so concurrent punishments never race on
// a read-then-write.
func (s *Store) RecordOffense(ctx context.Context, guildID, userID string, punishment antinuke.Punishment, at time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		INSERT INTO offense_history (guild_id, user_id, offense_count, last_punishment, last_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			offense_count = offense_history.offense_count + 1,
			last_punishment = excluded.last_punishment,
			last_at = excluded.last_at
		RETURNING offense_count
	`, guildID, userID, string(punishment), at.Unix())
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetOffenses(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offense_history WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return err
}
