package bot

import (
	"sentinel-antinuke/internal/antinuke"
	"sentinel-antinuke/internal/backup"
	"sentinel-antinuke/internal/sensor"
	"sentinel-antinuke/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func actionChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(antinuke.AllActionTypes()))
	for _, action := range antinuke.AllActionTypes() {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: action.DisplayName(), Value: string(action)})
	}
	return choices
}

func punishmentChoices() []*discordgo.ApplicationCommandOptionChoice {
	return []*discordgo.ApplicationCommandOptionChoice{
		{Name: "escalation", Value: string(antinuke.PunishmentEscalation)},
		{Name: "warn", Value: string(antinuke.PunishmentWarn)},
		{Name: "timeout", Value: string(antinuke.PunishmentTimeout)},
		{Name: "kick", Value: string(antinuke.PunishmentKick)},
		{Name: "ban", Value: string(antinuke.PunishmentBan)},
	}
}

func permissionChoices() []*discordgo.ApplicationCommandOptionChoice {
	keys := sensor.PermissionKeys()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(keys)+1)
	choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: storage.PermissionAll, Value: storage.PermissionAll})
	for _, key := range keys {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: key, Value: key})
	}
	return choices
}

func whitelistTargetOptions() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Trusted user"},
		{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Trusted role"},
		{Type: discordgo.ApplicationCommandOptionString, Name: "permission", Description: "Action the exemption covers (default: all)", Choices: permissionChoices()},
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	adminOnly := int64(discordgo.PermissionAdministrator)
	dmAllowed := false
	minThreshold := 0.0
	minWindow := 1.0

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "antinuke",
			Description:              "Configure AntiNuke protection",
			DefaultMemberPermissions: &adminOnly,
			DMPermission:             &dmAllowed,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "enable", Description: "Enable AntiNuke for this server"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "disable", Description: "Disable AntiNuke for this server"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show AntiNuke settings and recent punishments"},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "logs",
					Description: "Set the AntiNuke log channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         "channel",
							Description:  "Channel that receives incident reports",
							Required:     true,
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "limit",
					Description: "Set the threshold for an action type (threshold 0 restores the default)",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "action", Description: "Action type", Required: true, Choices: actionChoices()},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "threshold", Description: "Actions allowed inside the window", Required: true, MinValue: &minThreshold},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "window", Description: "Window in seconds", MinValue: &minWindow},
						{Type: discordgo.ApplicationCommandOptionString, Name: "punishment", Description: "Punishment on breach", Choices: punishmentChoices()},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Name:        "whitelist",
					Description: "Manage trusted users and roles",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "add", Description: "Trust a user or role", Options: whitelistTargetOptions()},
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "remove", Description: "Remove a trusted user or role", Options: whitelistTargetOptions()},
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list", Description: "List trusted users and roles"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "backup",
					Description: "Snapshot channels or roles now",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "kind",
							Description: "What to snapshot",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "channels", Value: backup.KindChannels},
								{Name: "roles", Value: backup.KindRoles},
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "pardon",
					Description: "Reset a user's escalation history",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to pardon", Required: true},
					},
				},
			},
		},
		{
			Name:        "blacklist",
			Description: "Operator only: stop protecting a server",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Blacklist a server",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "guild_id", Description: "Server ID", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a server from the blacklist",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "guild_id", Description: "Server ID", Required: true},
					},
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
