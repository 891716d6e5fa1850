package storage

import (
	"context"
	"time"

	"sentinel-antinuke/internal/antinuke"

	"github.com/goccy/go-json"
)

type actionRow struct {
	ID         int64  `db:"id"`
	GuildID    string `db:"guild_id"`
	UserID     string `db:"user_id"`
	ActionType string `db:"action_type"`
	CreatedAt  int64  `db:"created_at"`
	Metadata   string `db:"metadata"`
	Reverted   bool   `db:"reverted"`
}

func (r actionRow) record() antinuke.ActionRecord {
	metadata := map[string]any{}
	if r.Metadata != "" {
		_ = json.Unmarshal([]byte(r.Metadata), &metadata)
	}
	return antinuke.ActionRecord{
		ID:         r.ID,
		GuildID:    r.GuildID,
		UserID:     r.UserID,
		ActionType: antinuke.ActionType(r.ActionType),
		CreatedAt:  time.UnixMilli(r.CreatedAt),
		Metadata:   metadata,
		Reverted:   r.Reverted,
	}
}

type punishmentRow struct {
	ID               int64  `db:"id"`
	GuildID          string `db:"guild_id"`
	UserID           string `db:"user_id"`
	ActionType       string `db:"action_type"`
	Punishment       string `db:"punishment"`
	Applied          bool   `db:"applied"`
	ActionsReverted  int    `db:"actions_reverted"`
	ReversalFailures int    `db:"reversal_failures"`
	Reason           string `db:"reason"`
	EscalationLevel  int    `db:"escalation_level"`
	CreatedAt        int64  `db:"created_at"`
}

func (r punishmentRow) entry() antinuke.PunishmentLogEntry {
	return antinuke.PunishmentLogEntry{
		ID:               r.ID,
		GuildID:          r.GuildID,
		UserID:           r.UserID,
		ActionType:       antinuke.ActionType(r.ActionType),
		Punishment:       antinuke.Punishment(r.Punishment),
		Applied:          r.Applied,
		ActionsReverted:  r.ActionsReverted,
		ReversalFailures: r.ReversalFailures,
		Reason:           r.Reason,
		EscalationLevel:  r.EscalationLevel,
		CreatedAt:        time.UnixMilli(r.CreatedAt),
	}
}

func (s *Store) InsertAction(ctx context.Context, record antinuke.ActionRecord) (int64, error) {
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO action_records (guild_id, user_id, action_type, created_at, metadata, reverted)
		VALUES (?, ?, ?, ?, ?, ?)
	`, record.GuildID, record.UserID, string(record.ActionType), record.CreatedAt.UnixMilli(), string(payload), boolToInt(record.Reverted))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CountActions counts unreverted actions created at or after since.
func (s *Store) CountActions(ctx context.Context, guildID, userID string, action antinuke.ActionType, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM action_records
		WHERE guild_id = ? AND user_id = ? AND action_type = ? AND reverted = 0 AND created_at >= ?
	`, guildID, userID, string(action), since.UnixMilli())
	return count, err
}

// ListActions returns unreverted actions created at or after since, most
// recent first.
func (s *Store) ListActions(ctx context.Context, guildID, userID string, action antinuke.ActionType, since time.Time) ([]antinuke.ActionRecord, error) {
	var rows []actionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, guild_id, user_id, action_type, created_at, metadata, reverted
		FROM action_records
		WHERE guild_id = ? AND user_id = ? AND action_type = ? AND reverted = 0 AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, guildID, userID, string(action), since.UnixMilli())
	if err != nil {
		return nil, err
	}
	records := make([]antinuke.ActionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// MarkActionsReverted flags every unreverted action of the type for the user,
// including ones that already left the window.
func (s *Store) MarkActionsReverted(ctx context.Context, guildID, userID string, action antinuke.ActionType) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE action_records SET reverted = 1
		WHERE guild_id = ? AND user_id = ? AND action_type = ? AND reverted = 0
	`, guildID, userID, string(action))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) InsertPunishment(ctx context.Context, entry antinuke.PunishmentLogEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO punishment_logs (guild_id, user_id, action_type, punishment, applied, actions_reverted, reversal_failures, reason, escalation_level, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.GuildID, entry.UserID, string(entry.ActionType), string(entry.Punishment), boolToInt(entry.Applied),
		entry.ActionsReverted, entry.ReversalFailures, entry.Reason, entry.EscalationLevel, createdAt.UnixMilli())
	return err
}

// ListPunishments returns the guild's most recent punishment log entries.
func (s *Store) ListPunishments(ctx context.Context, guildID string, limit int) ([]antinuke.PunishmentLogEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []punishmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, guild_id, user_id, action_type, punishment, applied, actions_reverted, reversal_failures, reason, escalation_level, created_at
		FROM punishment_logs
		WHERE guild_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, guildID, limit)
	if err != nil {
		return nil, err
	}
	return punishmentEntries(rows), nil
}

// PunishmentsSince returns the guild's entries created at or after since,
// oldest first. An empty guildID spans every guild.
func (s *Store) PunishmentsSince(ctx context.Context, guildID string, since time.Time) ([]antinuke.PunishmentLogEntry, error) {
	query := `
		SELECT id, guild_id, user_id, action_type, punishment, applied, actions_reverted, reversal_failures, reason, escalation_level, created_at
		FROM punishment_logs
		WHERE created_at >= ?`
	args := []any{since.UnixMilli()}
	if guildID != "" {
		query += ` AND guild_id = ?`
		args = append(args, guildID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var rows []punishmentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return punishmentEntries(rows), nil
}

func punishmentEntries(rows []punishmentRow) []antinuke.PunishmentLogEntry {
	entries := make([]antinuke.PunishmentLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries
}

// CleanupActions removes action records older than cutoff, reverted or not.
func (s *Store) CleanupActions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM action_records WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) CleanupPunishments(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM punishment_logs WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
