package guild

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

// SessionAPI adapts a discordgo session to API.
type SessionAPI struct {
	session *discordgo.Session
}

func NewSessionAPI(session *discordgo.Session) *SessionAPI {
	return &SessionAPI{session: session}
}

func (a *SessionAPI) BotUserID() string {
	if a.session == nil || a.session.State == nil || a.session.State.User == nil {
		return ""
	}
	return a.session.State.User.ID
}

func (a *SessionAPI) OwnerID(ctx context.Context, guildID string) (string, error) {
	if a.session.State != nil {
		if cached, err := a.session.State.Guild(guildID); err == nil && cached != nil && cached.OwnerID != "" {
			return cached.OwnerID, nil
		}
	}
	fetched, err := a.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return fetched.OwnerID, nil
}

func (a *SessionAPI) AuditLog(ctx context.Context, guildID string, kind discordgo.AuditLogAction, limit int) ([]AuditEntry, error) {
	logs, err := a.session.GuildAuditLog(guildID, "", "", int(kind), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if logs == nil {
		return nil, nil
	}
	entries := make([]AuditEntry, 0, len(logs.AuditLogEntries))
	for _, raw := range logs.AuditLogEntries {
		if raw == nil {
			continue
		}
		entry := AuditEntry{
			ID:       raw.ID,
			UserID:   raw.UserID,
			TargetID: raw.TargetID,
			Reason:   raw.Reason,
			Changes:  make(map[string]AuditChange, len(raw.Changes)),
		}
		if ts, err := discordgo.SnowflakeTimestamp(raw.ID); err == nil {
			entry.CreatedAt = ts
		}
		for _, change := range raw.Changes {
			if change == nil || change.Key == nil {
				continue
			}
			entry.Changes[string(*change.Key)] = AuditChange{Old: change.OldValue, New: change.NewValue}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Member returns nil without an error when the user is no longer in the guild.
func (a *SessionAPI) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	var member *discordgo.Member
	if a.session.State != nil {
		if cached, err := a.session.State.Member(guildID, userID); err == nil {
			member = cached
		}
	}
	if member == nil {
		fetched, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			if Classify(err) == ErrorNotFound {
				return nil, nil
			}
			return nil, err
		}
		member = fetched
	}
	if member == nil || member.User == nil {
		return nil, nil
	}
	return &Member{UserID: member.User.ID, Roles: append([]string(nil), member.Roles...), Bot: member.User.Bot}, nil
}

func (a *SessionAPI) Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return a.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
}

func (a *SessionAPI) Kick(ctx context.Context, guildID, userID, reason string) error {
	return a.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (a *SessionAPI) Ban(ctx context.Context, guildID, userID, reason string) error {
	return a.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

func (a *SessionAPI) Unban(ctx context.Context, guildID, userID string) error {
	return a.session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx))
}

func (a *SessionAPI) DirectMessage(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error {
	channel, err := a.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = a.session.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx))
	return err
}

func (a *SessionAPI) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	_, err := a.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	return err
}

func (a *SessionAPI) Roles(ctx context.Context, guildID string) ([]Role, error) {
	roles, err := a.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		out = append(out, Role{
			ID:          role.ID,
			Name:        role.Name,
			Permissions: role.Permissions,
			Color:       role.Color,
			Hoist:       role.Hoist,
			Mentionable: role.Mentionable,
			Position:    role.Position,
			Managed:     role.Managed,
		})
	}
	return out, nil
}

func (a *SessionAPI) CreateRole(ctx context.Context, guildID string, spec RoleSpec) (string, error) {
	color := spec.Color
	hoist := spec.Hoist
	perms := spec.Permissions
	mentionable := spec.Mentionable
	role, err := a.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        spec.Name,
		Color:       &color,
		Hoist:       &hoist,
		Permissions: &perms,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if role == nil {
		return "", errors.New("role create returned no role")
	}
	return role.ID, nil
}

func (a *SessionAPI) DeleteRole(ctx context.Context, guildID, roleID string) error {
	return a.session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx))
}

func (a *SessionAPI) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	channels, err := a.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		out = append(out, Channel{
			ID:       channel.ID,
			Name:     channel.Name,
			Type:     int(channel.Type),
			ParentID: channel.ParentID,
			Position: channel.Position,
			Topic:    channel.Topic,
			NSFW:     channel.NSFW,
		})
	}
	return out, nil
}

func (a *SessionAPI) Webhooks(ctx context.Context, guildID string) ([]Webhook, error) {
	hooks, err := a.session.GuildWebhooks(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Webhook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		out = append(out, Webhook{ID: hook.ID, ChannelID: hook.ChannelID, Name: hook.Name})
	}
	return out, nil
}

func (a *SessionAPI) DeleteWebhook(ctx context.Context, webhookID string) error {
	return a.session.WebhookDelete(webhookID, discordgo.WithContext(ctx))
}

func (a *SessionAPI) DeleteSticker(ctx context.Context, guildID, stickerID string) error {
	endpoint := discordgo.EndpointGuild(guildID) + "/stickers/"
	_, err := a.session.RequestWithBucketID(http.MethodDelete, endpoint+stickerID, nil, endpoint, discordgo.WithContext(ctx))
	return err
}
