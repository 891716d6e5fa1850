package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sqlx.DB
}

type GuildSettings struct {
	GuildID         string `db:"guild_id"`
	AntinukeEnabled bool   `db:"antinuke_enabled"`
	LogChannelID    string `db:"log_channel_id"`
	UpdatedAt       int64  `db:"updated_at"`
}

type BlacklistEntry struct {
	GuildID   string `db:"guild_id"`
	Reason    string `db:"reason"`
	AddedBy   string `db:"added_by"`
	CreatedAt int64  `db:"created_at"`
}

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath
	memory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
	if !memory {
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

// GetGuildSettings returns defaults (with the guild ID filled in) when the
// guild has no row yet.
func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	var result GuildSettings
	err := s.db.GetContext(ctx, &result, `
		SELECT guild_id, antinuke_enabled, log_channel_id, updated_at
		FROM guild_settings WHERE guild_id = ?`, guildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			defaults.GuildID = guildID
			return defaults, nil
		}
		return GuildSettings{}, err
	}
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, antinuke_enabled, log_channel_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			antinuke_enabled = excluded.antinuke_enabled,
			log_channel_id = excluded.log_channel_id,
			updated_at = excluded.updated_at
	`, settings.GuildID, boolToInt(settings.AntinukeEnabled), settings.LogChannelID, time.Now().Unix())
	return err
}

func (s *Store) AddBlacklist(ctx context.Context, entry BlacklistEntry) error {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_blacklist (guild_id, reason, added_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET reason = excluded.reason, added_by = excluded.added_by
	`, entry.GuildID, entry.Reason, entry.AddedBy, entry.CreatedAt)
	return err
}

func (s *Store) RemoveBlacklist(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guild_blacklist WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) IsBlacklisted(ctx context.Context, guildID string) (bool, error) {
	var exists int
	err := s.db.GetContext(ctx, &exists, `SELECT 1 FROM guild_blacklist WHERE guild_id = ?`, guildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists == 1, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
