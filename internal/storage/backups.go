package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Backup struct {
	ID        int64  `db:"id"`
	GuildID   string `db:"guild_id"`
	Kind      string `db:"kind"`
	Payload   string `db:"payload"`
	CreatedAt int64  `db:"created_at"`
}

func (s *Store) AddBackup(ctx context.Context, guildID, kind, payload string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO backups (guild_id, kind, payload, created_at) VALUES (?, ?, ?, ?)
	`, guildID, kind, payload, at.Unix())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// LatestBackup returns nil when the guild has no snapshot of that kind.
func (s *Store) LatestBackup(ctx context.Context, guildID, kind string) (*Backup, error) {
	var backup Backup
	err := s.db.GetContext(ctx, &backup, `
		SELECT id, guild_id, kind, payload, created_at
		FROM backups WHERE guild_id = ? AND kind = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, guildID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &backup, nil
}

// PruneBackups keeps the newest keep snapshots per guild and kind.
func (s *Store) PruneBackups(ctx context.Context, guildID, kind string, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM backups WHERE guild_id = ? AND kind = ? AND id NOT IN (
			SELECT id FROM backups WHERE guild_id = ? AND kind = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, guildID, kind, guildID, kind, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) CleanupBackups(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
