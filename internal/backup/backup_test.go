package backup

import (
	"context"
	"errors"
	"testing"

	"sentinel-antinuke/internal/guild"
	"sentinel-antinuke/internal/storage"

	"go.uber.org/zap"
)

type fakeSource struct {
	channels []guild.Channel
	roles    []guild.Role
	err      error
}

func (f fakeSource) Channels(ctx context.Context, guildID string) ([]guild.Channel, error) {
	return f.channels, f.err
}

func (f fakeSource) Roles(ctx context.Context, guildID string) ([]guild.Role, error) {
	return f.roles, f.err
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestRoleBackupRoundTrip(t *testing.T) {
	source := fakeSource{roles: []guild.Role{
		{ID: "r1", Name: "Moderator", Permissions: 8, Color: 0xFF0000, Hoist: true},
		{ID: "r2", Name: "Some Bot", Managed: true},
	}}
	service := New(source, newStore(t), 2, zap.NewNop())
	ctx := context.Background()

	if err := service.CreateRoleBackup(ctx, "g1"); err != nil {
		t.Fatalf("create role backup: %v", err)
	}
	snapshot, err := service.Latest(ctx, "g1", KindRoles)
	if err != nil || snapshot == nil {
		t.Fatalf("expected snapshot, got err=%v", err)
	}
	if len(snapshot.Roles) != 1 {
		t.Fatalf("expected managed role skipped, got %d roles", len(snapshot.Roles))
	}
	role := snapshot.Roles[0]
	if role.Name != "Moderator" || role.Permissions != 8 || role.Color != 0xFF0000 || !role.Hoist {
		t.Fatalf("unexpected role snapshot %+v", role)
	}
}

func TestChannelBackupAndMissingKind(t *testing.T) {
	source := fakeSource{channels: []guild.Channel{{ID: "c1", Name: "general"}, {ID: "c2", Name: "rules"}}}
	service := New(source, newStore(t), 2, zap.NewNop())
	ctx := context.Background()

	if err := service.Create(ctx, "g1", KindChannels); err != nil {
		t.Fatalf("create channel backup: %v", err)
	}
	snapshot, _ := service.Latest(ctx, "g1", KindChannels)
	if snapshot == nil || len(snapshot.Channels) != 2 {
		t.Fatalf("expected two channels, got %+v", snapshot)
	}
	if missing, _ := service.Latest(ctx, "g1", KindRoles); missing != nil {
		t.Fatalf("expected no role snapshot")
	}
	if err := service.Create(ctx, "g1", "emojis"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestBackupSourceError(t *testing.T) {
	service := New(fakeSource{err: errors.New("forbidden")}, newStore(t), 2, zap.NewNop())
	if err := service.CreateChannelBackup(context.Background(), "g1"); err == nil {
		t.Fatalf("expected error")
	}
}
