package guild

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

type AuditEntry struct {
	ID        string
	UserID    string
	TargetID  string
	Reason    string
	CreatedAt time.Time
	Changes   map[string]AuditChange
}

type AuditChange struct {
	Old any
	New any
}

type Member struct {
	UserID string
	Roles  []string
	Bot    bool
}

type RoleSpec struct {
	Name        string
	Permissions int64
	Color       int
	Hoist       bool
	Mentionable bool
}

type Role struct {
	ID          string
	Name        string
	Permissions int64
	Color       int
	Hoist       bool
	Mentionable bool
	Position    int
	Managed     bool
}

type Channel struct {
	ID       string
	Name     string
	Type     int
	ParentID string
	Position int
	Topic    string
	NSFW     bool
}

type Webhook struct {
	ID        string
	ChannelID string
	Name      string
}

// API is the slice of the Discord REST surface the antinuke pipeline needs.
type API interface {
	BotUserID() string
	OwnerID(ctx context.Context, guildID string) (string, error)
	AuditLog(ctx context.Context, guildID string, kind discordgo.AuditLogAction, limit int) ([]AuditEntry, error)
	Member(ctx context.Context, guildID, userID string) (*Member, error)

	Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID string) error
	DirectMessage(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error

	Roles(ctx context.Context, guildID string) ([]Role, error)
	CreateRole(ctx context.Context, guildID string, spec RoleSpec) (string, error)
	DeleteRole(ctx context.Context, guildID, roleID string) error
	Channels(ctx context.Context, guildID string) ([]Channel, error)
	Webhooks(ctx context.Context, guildID string) ([]Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
	DeleteSticker(ctx context.Context, guildID, stickerID string) error
}

type ErrorKind string

const (
	ErrorNone        ErrorKind = ""
	ErrorForbidden   ErrorKind = "forbidden"
	ErrorNotFound    ErrorKind = "not_found"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorHTTP        ErrorKind = "http"
	ErrorUnknown     ErrorKind = "unknown"
)

// Classify maps REST failures onto the categories the pipeline reports.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return ErrorForbidden
		case http.StatusNotFound:
			return ErrorNotFound
		case http.StatusTooManyRequests:
			return ErrorRateLimited
		default:
			return ErrorHTTP
		}
	}
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return ErrorRateLimited
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusForbidden:
			return ErrorForbidden
		case http.StatusNotFound:
			return ErrorNotFound
		case http.StatusTooManyRequests:
			return ErrorRateLimited
		default:
			return ErrorHTTP
		}
	}
	return ErrorUnknown
}

// StatusError carries an HTTP status for fakes and non-discordgo callers.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}
