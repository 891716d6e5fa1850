package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	TargetUser = "user"
	TargetRole = "role"

	// PermissionAll whitelists a target for every guarded action.
	PermissionAll = "all"
)

type WhitelistEntry struct {
	GuildID       string `db:"guild_id"`
	TargetID      string `db:"target_id"`
	TargetType    string `db:"target_type"`
	PermissionKey string `db:"permission_key"`
	AddedBy       string `db:"added_by"`
	CreatedAt     int64  `db:"created_at"`
}

func (s *Store) AddWhitelist(ctx context.Context, entry WhitelistEntry) error {
	if entry.PermissionKey == "" {
		entry.PermissionKey = PermissionAll
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO antinuke_whitelist (guild_id, target_id, target_type, permission_key, added_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.GuildID, entry.TargetID, entry.TargetType, entry.PermissionKey, entry.AddedBy, entry.CreatedAt)
	return err
}

// RemoveWhitelist drops one permission key, or every key for the target when
// permissionKey is empty.
func (s *Store) RemoveWhitelist(ctx context.Context, guildID, targetID, permissionKey string) (int64, error) {
	query := `DELETE FROM antinuke_whitelist WHERE guild_id = ? AND target_id = ?`
	args := []any{guildID, targetID}
	if permissionKey != "" {
		query += ` AND permission_key = ?`
		args = append(args, permissionKey)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) ListWhitelist(ctx context.Context, guildID string) ([]WhitelistEntry, error) {
	var entries []WhitelistEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT guild_id, target_id, target_type, permission_key, added_by, created_at
		FROM antinuke_whitelist
		WHERE guild_id = ?
		ORDER BY target_type, target_id, permission_key
	`, guildID)
	return entries, err
}

// IsWhitelisted matches the user directly or any of the given roles, for the
// permission key or the catch-all key.
func (s *Store) IsWhitelisted(ctx context.Context, guildID, userID string, roleIDs []string, permissionKey string) (bool, error) {
	targets := append([]string{userID}, roleIDs...)
	query, args, err := sqlx.In(`
		SELECT COUNT(*) FROM antinuke_whitelist
		WHERE guild_id = ? AND target_id IN (?) AND permission_key IN (?)
	`, guildID, targets, []string{permissionKey, PermissionAll})
	if err != nil {
		return false, err
	}
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(query), args...); err != nil {
		return false, err
	}
	return count > 0, nil
}
