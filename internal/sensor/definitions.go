package sensor

import (
	"time"

	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/guild"

	"github.com/bwmarrin/discordgo"
)

// Reversal selects how the damage of a breach is undone.
type Reversal int

const (
	ReversalNone Reversal = iota
	ReversalUnban
	ReversalDeleteRoles
	ReversalRecreateRoles
	ReversalDeleteWebhooks
	ReversalKickBot
	ReversalDeleteSticker
)

func (r Reversal) String() string {
	switch r {
	case ReversalUnban:
		return "unban"
	case ReversalDeleteRoles:
		return "delete_roles"
	case ReversalRecreateRoles:
		return "recreate_roles"
	case ReversalDeleteWebhooks:
		return "delete_webhooks"
	case ReversalKickBot:
		return "kick_bot"
	case ReversalDeleteSticker:
		return "delete_sticker"
	default:
		return "none"
	}
}

// BackupKind is taken before punishment when a definition asks for it.
type BackupKind int

const (
	BackupNone BackupKind = iota
	BackupChannels
	BackupRoles
)

type Definition struct {
	Action        antinuke.ActionType
	AuditKind     discordgo.AuditLogAction
	PermissionKey string
	// Lookback overrides the default audit-log recency bound.
	Lookback time.Duration
	// Pattern runs the role pattern detector next to the threshold.
	Pattern  bool
	Backup   BackupKind
	Reversal Reversal
	// Enrich adds action-specific metadata from the attributed audit entry.
	Enrich func(metadata map[string]any, entry guild.AuditEntry)
}

// Definitions returns the guarded action types keyed by action. banLookback
// bounds ban attribution, which Discord reports with more delay.
func Definitions(banLookback time.Duration) map[antinuke.ActionType]Definition {
	defs := []Definition{
		{
			Action:        antinuke.ActionBan,
			AuditKind:     discordgo.AuditLogActionMemberBanAdd,
			PermissionKey: "ban",
			Lookback:      banLookback,
			Reversal:      ReversalUnban,
		},
		{
			Action:        antinuke.ActionKick,
			AuditKind:     discordgo.AuditLogActionMemberKick,
			PermissionKey: "kick",
			Reversal:      ReversalNone,
		},
		{
			Action:        antinuke.ActionChannelDelete,
			AuditKind:     discordgo.AuditLogActionChannelDelete,
			PermissionKey: "chdl",
			Backup:        BackupChannels,
			Reversal:      ReversalNone,
		},
		{
			Action:        antinuke.ActionRoleCreate,
			AuditKind:     discordgo.AuditLogActionRoleCreate,
			PermissionKey: "rlcr",
			Pattern:       true,
			Backup:        BackupRoles,
			Reversal:      ReversalDeleteRoles,
		},
		{
			Action:        antinuke.ActionRoleDelete,
			AuditKind:     discordgo.AuditLogActionRoleDelete,
			PermissionKey: "rldl",
			Reversal:      ReversalRecreateRoles,
			Enrich:        enrichDeletedRole,
		},
		{
			Action:        antinuke.ActionWebhookCreate,
			AuditKind:     discordgo.AuditLogActionWebhookCreate,
			PermissionKey: "wbcr",
			Reversal:      ReversalDeleteWebhooks,
			Enrich:        enrichWebhook,
		},
		{
			Action:        antinuke.ActionWebhookDelete,
			AuditKind:     discordgo.AuditLogActionWebhookDelete,
			PermissionKey: "wbdl",
			Reversal:      ReversalNone,
			Enrich:        enrichWebhook,
		},
		{
			Action:        antinuke.ActionBotAdd,
			AuditKind:     discordgo.AuditLogActionBotAdd,
			PermissionKey: "bot",
			Reversal:      ReversalKickBot,
		},
		{
			Action:        antinuke.ActionStickerCreate,
			AuditKind:     discordgo.AuditLogActionStickerCreate,
			PermissionKey: "stcr",
			Reversal:      ReversalDeleteSticker,
		},
	}
	out := make(map[antinuke.ActionType]Definition, len(defs))
	for _, def := range defs {
		out[def.Action] = def
	}
	return out
}

// PermissionKeys lists the whitelist keys accepted by the guarded actions.
func PermissionKeys() []string {
	return []string{"ban", "kick", "chdl", "rlcr", "rldl", "wbcr", "wbdl", "bot", "stcr"}
}

// enrichDeletedRole keeps the pre-delete role state from the audit entry so
// the role can be recreated later.
func enrichDeletedRole(metadata map[string]any, entry guild.AuditEntry) {
	fields := map[string]string{
		"name":        antinuke.MetaTargetName,
		"permissions": antinuke.MetaPermissions,
		"color":       antinuke.MetaColor,
		"hoist":       antinuke.MetaHoist,
		"mentionable": antinuke.MetaMentionable,
	}
	for key, metaKey := range fields {
		change, ok := entry.Changes[key]
		if !ok || change.Old == nil {
			continue
		}
		if _, set := metadata[metaKey]; !set {
			metadata[metaKey] = change.Old
		}
	}
}

func enrichWebhook(metadata map[string]any, entry guild.AuditEntry) {
	metadata[antinuke.MetaWebhookID] = entry.TargetID
	if name, ok := entry.Changes["name"]; ok {
		value := name.New
		if value == nil {
			value = name.Old
		}
		if value != nil {
			metadata[antinuke.MetaTargetName] = value
		}
	}
}
