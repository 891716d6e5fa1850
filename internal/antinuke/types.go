package antinuke

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ActionType string

const (
	ActionBan           ActionType = "ban"
	ActionKick          ActionType = "kick"
	ActionChannelDelete ActionType = "channel_delete"
	ActionRoleCreate    ActionType = "role_create"
	ActionRoleDelete    ActionType = "role_delete"
	ActionWebhookCreate ActionType = "webhook_create"
	ActionWebhookDelete ActionType = "webhook_delete"
	ActionBotAdd        ActionType = "bot_add"
	ActionStickerCreate ActionType = "sticker_create"
)

func AllActionTypes() []ActionType {
	return []ActionType{
		ActionBan,
		ActionKick,
		ActionChannelDelete,
		ActionRoleCreate,
		ActionRoleDelete,
		ActionWebhookCreate,
		ActionWebhookDelete,
		ActionBotAdd,
		ActionStickerCreate,
	}
}

func ParseActionType(value string) (ActionType, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, action := range AllActionTypes() {
		if string(action) == value {
			return action, true
		}
	}
	return "", false
}

// DisplayName is used in notifications and command responses.
func (a ActionType) DisplayName() string {
	switch a {
	case ActionBan:
		return "Banning Members"
	case ActionKick:
		return "Kicking Members"
	case ActionChannelDelete:
		return "Deleting Channels"
	case ActionRoleCreate:
		return "Creating Roles"
	case ActionRoleDelete:
		return "Deleting Roles"
	case ActionWebhookCreate:
		return "Creating Webhooks"
	case ActionWebhookDelete:
		return "Deleting Webhooks"
	case ActionBotAdd:
		return "Adding Bots"
	case ActionStickerCreate:
		return "Creating Stickers"
	default:
		return string(a)
	}
}

type Punishment string

const (
	PunishmentWarn    Punishment = "warn"
	PunishmentTimeout Punishment = "timeout"
	PunishmentKick    Punishment = "kick"
	PunishmentBan     Punishment = "ban"
	// PunishmentEscalation defers the choice to the escalation ladder.
	PunishmentEscalation Punishment = "escalation"
)

func ParsePunishment(value string) (Punishment, bool) {
	switch Punishment(strings.ToLower(strings.TrimSpace(value))) {
	case PunishmentWarn:
		return PunishmentWarn, true
	case PunishmentTimeout:
		return PunishmentTimeout, true
	case PunishmentKick:
		return PunishmentKick, true
	case PunishmentBan:
		return PunishmentBan, true
	case PunishmentEscalation:
		return PunishmentEscalation, true
	default:
		return "", false
	}
}

type ActionRecord struct {
	ID         int64
	GuildID    string
	UserID     string
	ActionType ActionType
	CreatedAt  time.Time
	Metadata   map[string]any
	Reverted   bool
}

// MetaString reads a metadata value as a string, tolerating the numeric
// and boolean types a JSON round trip produces.
func (r ActionRecord) MetaString(key string) string {
	value, ok := r.Metadata[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

func (r ActionRecord) MetaBool(key string) bool {
	switch v := r.Metadata[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

type ThresholdConfig struct {
	Threshold  int
	TimeWindow time.Duration
	Punishment Punishment
}

func (c ThresholdConfig) Valid() bool {
	return c.Threshold >= 1 && c.TimeWindow > 0
}

type PunishmentLogEntry struct {
	ID               int64
	GuildID          string
	UserID           string
	ActionType       ActionType
	Punishment       Punishment
	Applied          bool
	ActionsReverted  int
	ReversalFailures int
	Reason           string
	EscalationLevel  int
	CreatedAt        time.Time
}
