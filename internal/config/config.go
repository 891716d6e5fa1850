package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"sentinel-antinuke/internal/antinuke"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string         `yaml:"discord_token"`
	DatabasePath      string         `yaml:"database_path"`
	LogLevel          string         `yaml:"log_level"`
	DefaultLogChannel string         `yaml:"default_log_channel"`
	RetentionDays     int            `yaml:"retention_days"`
	OperatorIDs       []string       `yaml:"operator_ids"`
	Health            HealthConfig   `yaml:"health"`
	Antinuke          AntinukeConfig `yaml:"antinuke"`
	Notifications     NotifyConfig   `yaml:"notifications"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AntinukeConfig struct {
	DefaultEnabled          bool                        `yaml:"default_enabled"`
	Preset                  string                      `yaml:"preset"`
	AuditLookbackSeconds    int                         `yaml:"audit_lookback_seconds"`
	BanLookbackSeconds      int                         `yaml:"ban_lookback_seconds"`
	AuditLimit              int                         `yaml:"audit_limit"`
	ReversalDelayMS         int                         `yaml:"reversal_delay_ms"`
	SettingsCacheTTLSeconds int                         `yaml:"settings_cache_ttl_seconds"`
	DefaultTimeoutMinutes   int                         `yaml:"default_timeout_minutes"`
	BackupKeep              int                         `yaml:"backup_keep"`
	DMOwner                 bool                        `yaml:"dm_owner"`
	Thresholds              map[string]ThresholdSetting `yaml:"thresholds"`
	Escalation              []EscalationStep            `yaml:"escalation"`
}

type ThresholdSetting struct {
	Threshold     int    `yaml:"threshold"`
	WindowSeconds int    `yaml:"window_seconds"`
	Punishment    string `yaml:"punishment"`
}

type EscalationStep struct {
	Punishment      string `yaml:"punishment"`
	DurationMinutes int    `yaml:"duration_minutes"`
}

type NotifyConfig struct {
	EmbedColors EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:      "/data/sentinel.db",
		LogLevel:          "info",
		RetentionDays:     14,
		DefaultLogChannel: "",
		Health:            HealthConfig{Enabled: false, Addr: ":8080"},
		Antinuke: AntinukeConfig{
			DefaultEnabled:          false,
			Preset:                  "medium",
			AuditLookbackSeconds:    30,
			BanLookbackSeconds:      3600,
			AuditLimit:              10,
			ReversalDelayMS:         1000,
			SettingsCacheTTLSeconds: 60,
			DefaultTimeoutMinutes:   60,
			BackupKeep:              5,
			DMOwner:                 true,
			Thresholds:              presetThresholds("medium"),
			Escalation: []EscalationStep{
				{Punishment: "warn"},
				{Punishment: "timeout", DurationMinutes: 60},
				{Punishment: "kick"},
				{Punishment: "ban"},
			},
		},
		Notifications: NotifyConfig{
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xF97316,
				Error:   0xEF4444,
			},
		},
	}
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	// thresholds missing from the file are filled from the preset below
	cfg.Antinuke.Thresholds = nil

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.Antinuke.Preset = normalizePreset(cfg.Antinuke.Preset)
	applyPreset(&cfg)
	normalize(&cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.DefaultLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.OperatorIDs = envList("OPERATOR_IDS", cfg.OperatorIDs)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Antinuke.DefaultEnabled = envBool("ANTINUKE_DEFAULT_ENABLED", cfg.Antinuke.DefaultEnabled)
	cfg.Antinuke.Preset = envString("ANTINUKE_PRESET", cfg.Antinuke.Preset)
	cfg.Antinuke.AuditLookbackSeconds = envInt("ANTINUKE_AUDIT_LOOKBACK_SECONDS", cfg.Antinuke.AuditLookbackSeconds)
	cfg.Antinuke.BanLookbackSeconds = envInt("ANTINUKE_BAN_LOOKBACK_SECONDS", cfg.Antinuke.BanLookbackSeconds)
	cfg.Antinuke.AuditLimit = envInt("ANTINUKE_AUDIT_LIMIT", cfg.Antinuke.AuditLimit)
	cfg.Antinuke.ReversalDelayMS = envInt("ANTINUKE_REVERSAL_DELAY_MS", cfg.Antinuke.ReversalDelayMS)
	cfg.Antinuke.SettingsCacheTTLSeconds = envInt("ANTINUKE_SETTINGS_CACHE_TTL_SECONDS", cfg.Antinuke.SettingsCacheTTLSeconds)
	cfg.Antinuke.DefaultTimeoutMinutes = envInt("ANTINUKE_DEFAULT_TIMEOUT_MINUTES", cfg.Antinuke.DefaultTimeoutMinutes)
	cfg.Antinuke.BackupKeep = envInt("ANTINUKE_BACKUP_KEEP", cfg.Antinuke.BackupKeep)
	cfg.Antinuke.DMOwner = envBool("ANTINUKE_DM_OWNER", cfg.Antinuke.DMOwner)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
}

func normalize(cfg *Config) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 14
	}
	a := &cfg.Antinuke
	if a.AuditLookbackSeconds <= 0 {
		a.AuditLookbackSeconds = 30
	}
	if a.BanLookbackSeconds <= 0 {
		a.BanLookbackSeconds = 3600
	}
	if a.AuditLimit <= 0 || a.AuditLimit > 100 {
		a.AuditLimit = 10
	}
	if a.ReversalDelayMS < 0 {
		a.ReversalDelayMS = 0
	}
	if a.SettingsCacheTTLSeconds <= 0 {
		a.SettingsCacheTTLSeconds = 60
	}
	if a.DefaultTimeoutMinutes <= 0 {
		a.DefaultTimeoutMinutes = 60
	}
	if a.BackupKeep <= 0 {
		a.BackupKeep = 5
	}
	if len(a.Escalation) == 0 {
		a.Escalation = DefaultConfig().Antinuke.Escalation
	}
}

// ThresholdDefaults converts the configured per-action defaults, dropping
// unknown action names and invalid entries.
func (c AntinukeConfig) ThresholdDefaults() map[antinuke.ActionType]antinuke.ThresholdConfig {
	defaults := make(map[antinuke.ActionType]antinuke.ThresholdConfig, len(c.Thresholds))
	for name, setting := range c.Thresholds {
		action, ok := antinuke.ParseActionType(name)
		if !ok {
			continue
		}
		punishment, ok := antinuke.ParsePunishment(setting.Punishment)
		if !ok {
			punishment = antinuke.PunishmentEscalation
		}
		cfg := antinuke.ThresholdConfig{
			Threshold:  setting.Threshold,
			TimeWindow: time.Duration(setting.WindowSeconds) * time.Second,
			Punishment: punishment,
		}
		if !cfg.Valid() {
			continue
		}
		defaults[action] = cfg
	}
	return defaults
}

func (c AntinukeConfig) AuditLookback() time.Duration {
	return time.Duration(c.AuditLookbackSeconds) * time.Second
}

func (c AntinukeConfig) BanLookback() time.Duration {
	return time.Duration(c.BanLookbackSeconds) * time.Second
}

func (c AntinukeConfig) ReversalDelay() time.Duration {
	return time.Duration(c.ReversalDelayMS) * time.Millisecond
}

func (c AntinukeConfig) SettingsCacheTTL() time.Duration {
	return time.Duration(c.SettingsCacheTTLSeconds) * time.Second
}

func (c AntinukeConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMinutes) * time.Minute
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func normalizePreset(value string) string {
	switch strings.ToLower(value) {
	case "low", "medium", "high":
		return strings.ToLower(value)
	default:
		return "medium"
	}
}

// applyPreset fills every action the file left unset from the preset table.
func applyPreset(cfg *Config) {
	if cfg.Antinuke.Thresholds == nil {
		cfg.Antinuke.Thresholds = map[string]ThresholdSetting{}
	}
	for name, setting := range presetThresholds(cfg.Antinuke.Preset) {
		if _, ok := cfg.Antinuke.Thresholds[name]; !ok {
			cfg.Antinuke.Thresholds[name] = setting
		}
	}
}

func presetThresholds(preset string) map[string]ThresholdSetting {
	base := map[antinuke.ActionType]ThresholdSetting{
		antinuke.ActionBan:           {Threshold: 3, WindowSeconds: 60},
		antinuke.ActionKick:          {Threshold: 3, WindowSeconds: 60},
		antinuke.ActionChannelDelete: {Threshold: 3, WindowSeconds: 60},
		antinuke.ActionRoleCreate:    {Threshold: 5, WindowSeconds: 60},
		antinuke.ActionRoleDelete:    {Threshold: 3, WindowSeconds: 60},
		antinuke.ActionWebhookCreate: {Threshold: 5, WindowSeconds: 60},
		antinuke.ActionWebhookDelete: {Threshold: 3, WindowSeconds: 60},
		antinuke.ActionBotAdd:        {Threshold: 2, WindowSeconds: 300},
		antinuke.ActionStickerCreate: {Threshold: 5, WindowSeconds: 60},
	}
	delta := 0
	switch preset {
	case "low":
		delta = 2
	case "high":
		delta = -1
	}
	out := make(map[string]ThresholdSetting, len(base))
	for action, setting := range base {
		setting.Threshold += delta
		if setting.Threshold < 1 {
			setting.Threshold = 1
		}
		setting.Punishment = string(antinuke.PunishmentEscalation)
		out[string(action)] = setting
	}
	return out
}
