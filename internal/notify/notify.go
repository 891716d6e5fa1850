package notify

import (
	"context"
	"fmt"
	"time"

	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Incident describes one completed punishment pipeline run.
type Incident struct {
	GuildID    string
	UserID     string
	Action     antinuke.ActionType
	Count      int
	Punishment antinuke.Punishment
	Applied    bool
	Reason     string
	Level      int
	Reverted   int
	Failed     int
	At         time.Time
}

type Sender interface {
	OwnerID(ctx context.Context, guildID string) (string, error)
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
	DirectMessage(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error
}

type ChannelResolver interface {
	LogChannel(ctx context.Context, guildID string) (string, error)
}

type Options struct {
	DefaultChannel string
	DMOwner        bool
	Colors         config.EmbedColors
}

type Notifier struct {
	sender   Sender
	channels ChannelResolver
	opts     Options
	logger   *zap.Logger
}

func New(sender Sender, channels ChannelResolver, opts Options, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		sender:   sender,
		channels: channels,
		opts:     opts,
		logger:   logger.With(zap.String("component", "notify")),
	}
}

// Notify never fails the caller; delivery problems are only logged.
func (n *Notifier) Notify(ctx context.Context, incident Incident) {
	if incident.At.IsZero() {
		incident.At = time.Now()
	}
	embed := n.Embed(incident)
	logger := n.logger.With(zap.String("guild_id", incident.GuildID), zap.String("user_id", incident.UserID))

	channelID := n.opts.DefaultChannel
	if n.channels != nil {
		configured, err := n.channels.LogChannel(ctx, incident.GuildID)
		if err != nil {
			logger.Warn("log channel lookup failed", zap.Error(err))
		} else if configured != "" {
			channelID = configured
		}
	}
	if channelID != "" {
		if err := n.sender.SendEmbed(ctx, channelID, embed); err != nil {
			logger.Warn("log channel notification failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	}

	if !n.opts.DMOwner {
		return
	}
	ownerID, err := n.sender.OwnerID(ctx, incident.GuildID)
	if err != nil || ownerID == "" {
		logger.Warn("owner lookup failed", zap.Error(err))
		return
	}
	if ownerID == incident.UserID {
		return
	}
	if err := n.sender.DirectMessage(ctx, ownerID, embed); err != nil {
		logger.Debug("owner dm failed", zap.Error(err))
	}
}

func (n *Notifier) Embed(incident Incident) *discordgo.MessageEmbed {
	color := n.opts.Colors.Warning
	result := "applied"
	if !incident.Applied {
		color = n.opts.Colors.Error
		result = "failed"
	}
	reverted := fmt.Sprintf("%d", incident.Reverted)
	if incident.Failed > 0 {
		reverted = fmt.Sprintf("%d (%d failed)", incident.Reverted, incident.Failed)
	}
	reason := incident.Reason
	if reason == "" {
		reason = "-"
	}
	return &discordgo.MessageEmbed{
		Title:       "AntiNuke triggered",
		Description: fmt.Sprintf("Limit exceeded for **%s**.", incident.Action.DisplayName()),
		Color:       color,
		Author:      &discordgo.MessageEmbedAuthor{Name: "Sentinel Security"},
		Footer:      &discordgo.MessageEmbedFooter{Text: "Sentinel AntiNuke"},
		Timestamp:   incident.At.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: "<@" + incident.UserID + ">", Inline: true},
			{Name: "Actions", Value: fmt.Sprintf("%d", incident.Count), Inline: true},
			{Name: "Level", Value: fmt.Sprintf("%d", incident.Level+1), Inline: true},
			{Name: "Punishment", Value: fmt.Sprintf("%s (%s)", incident.Punishment, result), Inline: true},
			{Name: "Reverted", Value: reverted, Inline: true},
			{Name: "Reason", Value: reason, Inline: false},
		},
	}
}
