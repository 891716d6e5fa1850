package backup

import (
	"context"
	"errors"
	"time"

	"sentinel-antinuke/internal/guild"
	"sentinel-antinuke/internal/storage"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	KindChannels = "channels"
	KindRoles    = "roles"
)

type Source interface {
	Channels(ctx context.Context, guildID string) ([]guild.Channel, error)
	Roles(ctx context.Context, guildID string) ([]guild.Role, error)
}

type Store interface {
	AddBackup(ctx context.Context, guildID, kind, payload string, at time.Time) (int64, error)
	LatestBackup(ctx context.Context, guildID, kind string) (*storage.Backup, error)
	PruneBackups(ctx context.Context, guildID, kind string, keep int) (int64, error)
}

type ChannelSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
	Position int    `json:"position"`
	Topic    string `json:"topic,omitempty"`
	NSFW     bool   `json:"nsfw,omitempty"`
}

type RoleSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Permissions int64  `json:"permissions"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Mentionable bool   `json:"mentionable"`
	Position    int    `json:"position"`
}

type Snapshot struct {
	GuildID   string            `json:"guild_id"`
	Kind      string            `json:"kind"`
	CreatedAt time.Time         `json:"created_at"`
	Channels  []ChannelSnapshot `json:"channels,omitempty"`
	Roles     []RoleSnapshot    `json:"roles,omitempty"`
}

type Service struct {
	source Source
	store  Store
	keep   int
	now    func() time.Time
	logger *zap.Logger
}

func New(source Source, store Store, keep int, logger *zap.Logger) *Service {
	if keep <= 0 {
		keep = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source: source,
		store:  store,
		keep:   keep,
		now:    time.Now,
		logger: logger.With(zap.String("component", "backup")),
	}
}

func (s *Service) CreateChannelBackup(ctx context.Context, guildID string) error {
	channels, err := s.source.Channels(ctx, guildID)
	if err != nil {
		return err
	}
	snapshot := Snapshot{GuildID: guildID, Kind: KindChannels, CreatedAt: s.now()}
	for _, channel := range channels {
		snapshot.Channels = append(snapshot.Channels, ChannelSnapshot{
			ID:       channel.ID,
			Name:     channel.Name,
			Type:     channel.Type,
			ParentID: channel.ParentID,
			Position: channel.Position,
			Topic:    channel.Topic,
			NSFW:     channel.NSFW,
		})
	}
	return s.save(ctx, snapshot)
}

// CreateRoleBackup skips integration-managed roles, which cannot be recreated.
func (s *Service) CreateRoleBackup(ctx context.Context, guildID string) error {
	roles, err := s.source.Roles(ctx, guildID)
	if err != nil {
		return err
	}
	snapshot := Snapshot{GuildID: guildID, Kind: KindRoles, CreatedAt: s.now()}
	for _, role := range roles {
		if role.Managed {
			continue
		}
		snapshot.Roles = append(snapshot.Roles, RoleSnapshot{
			ID:          role.ID,
			Name:        role.Name,
			Permissions: role.Permissions,
			Color:       role.Color,
			Hoist:       role.Hoist,
			Mentionable: role.Mentionable,
			Position:    role.Position,
		})
	}
	return s.save(ctx, snapshot)
}

// Latest returns nil when no snapshot of the kind exists.
func (s *Service) Latest(ctx context.Context, guildID, kind string) (*Snapshot, error) {
	row, err := s.store.LatestBackup(ctx, guildID, kind)
	if err != nil || row == nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(row.Payload), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *Service) save(ctx context.Context, snapshot Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if _, err := s.store.AddBackup(ctx, snapshot.GuildID, snapshot.Kind, string(payload), snapshot.CreatedAt); err != nil {
		return err
	}
	if _, err := s.store.PruneBackups(ctx, snapshot.GuildID, snapshot.Kind, s.keep); err != nil {
		s.logger.Warn("backup prune failed", zap.String("guild_id", snapshot.GuildID), zap.String("kind", snapshot.Kind), zap.Error(err))
	}
	s.logger.Info("backup created",
		zap.String("guild_id", snapshot.GuildID),
		zap.String("kind", snapshot.Kind),
		zap.Int("channels", len(snapshot.Channels)),
		zap.Int("roles", len(snapshot.Roles)))
	return nil
}

var ErrUnknownKind = errors.New("unknown backup kind")

// Create dispatches on the snapshot kind.
func (s *Service) Create(ctx context.Context, guildID, kind string) error {
	switch kind {
	case KindChannels:
		return s.CreateChannelBackup(ctx, guildID)
	case KindRoles:
		return s.CreateRoleBackup(ctx, guildID)
	default:
		return ErrUnknownKind
	}
}
