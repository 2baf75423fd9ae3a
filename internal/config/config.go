package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for docbot.
type Config struct {
	General    GeneralConfig    `json:"general" yaml:"general"`
	Channels   ChannelsConfig   `json:"channels" yaml:"channels"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Limits     LimitsConfig     `json:"limits" yaml:"limits"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel" env:"DOCBOT_LOG_LEVEL"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty" env:"DOCBOT_LOG_FILE"` // optional log file path
	DataDir   string `json:"dataDir" yaml:"dataDir" env:"DOCBOT_DATA_DIR"`
	QueueSize int    `json:"queueSize" yaml:"queueSize"` // inbound events buffered before publishers wait
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	CLI      CLIConfig      `json:"cli" yaml:"cli"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled                bool           `json:"enabled" yaml:"enabled" env:"DOCBOT_TELEGRAM_ENABLED"`
	Token                  string         `json:"token" yaml:"token" env:"TELEGRAM_TOKEN"`
	AllowFrom              FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	MaxFileBytes           int64          `json:"maxFileBytes" yaml:"maxFileBytes"`
	DownloadTimeoutSeconds int            `json:"downloadTimeoutSeconds" yaml:"downloadTimeoutSeconds"`
	SendRatePerSecond      float64        `json:"sendRatePerSecond" yaml:"sendRatePerSecond"`
	Debug                  bool           `json:"debug,omitempty" yaml:"debug,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// WebhookConfig configures the HTTP upload endpoint. It is served by the HTTP server.
type WebhookConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled" env:"DOCBOT_WEBHOOK_ENABLED"`
	Path                string `json:"path" yaml:"path"`
	Secret              string `json:"secret,omitempty" yaml:"secret,omitempty" env:"DOCBOT_WEBHOOK_SECRET"` // HMAC-SHA256 key; empty disables signatures
	ReplyTimeoutSeconds int    `json:"replyTimeoutSeconds" yaml:"replyTimeoutSeconds"`
	MaxUploadBytes      int64  `json:"maxUploadBytes" yaml:"maxUploadBytes"`
}

type ServerConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" env:"DOCBOT_HTTP_ENABLED"`
	Host           string   `json:"host" yaml:"host" env:"DOCBOT_HTTP_HOST"`
	Port           int      `json:"port" yaml:"port" env:"DOCBOT_HTTP_PORT"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

type ExtractionConfig struct {
	MaxInlineChars int  `json:"maxInlineChars" yaml:"maxInlineChars"` // longer text is sent as a .txt file
	MaxPages       int  `json:"maxPages" yaml:"maxPages"`             // 0 = unlimited
	EnableSlides   bool `json:"enableSlides" yaml:"enableSlides"`
}

// LimitsConfig holds per-sender document limits. 0 disables a limit.
type LimitsConfig struct {
	FilesPerHour int `json:"filesPerHour" yaml:"filesPerHour" env:"DOCBOT_FILES_PER_HOUR"`
	FilesPerDay  int `json:"filesPerDay" yaml:"filesPerDay" env:"DOCBOT_FILES_PER_DAY"`
}

type StoreConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath" env:"DOCBOT_DB_PATH"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"` // 0 = keep forever
	PruneSchedule string `json:"pruneSchedule" yaml:"pruneSchedule"` // cron spec or @every descriptor
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// FlexStringList is a []string that can unmarshal from arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar", item.Line)
		}
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.docbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docbot"
	}
	return filepath.Join(home, ".docbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg, err := decode(path, data)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadRaw reads a config file as written, without ${VAR} expansion or
// environment overrides, so it can be edited and saved back without leaking
// secrets from the environment into the file. It does not validate.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return decode(path, data)
}

// Resolve returns a copy of a raw config with ${VAR} expansion and
// environment overrides applied, validated as Load would. raw is not modified.
func Resolve(raw *Config) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	cfg := Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("cannot expand config: %w", err)
	}
	return finish(cfg)
}

func decode(path string, data []byte) (*Config, error) {
	cfg := Defaults()
	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but starts from Defaults when the file does
// not exist, so a container can run from environment variables alone.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return finish(Defaults())
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot apply environment overrides: %w", err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes the config as YAML or JSON depending on the file extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.QueueSize < 1 {
		errs = append(errs, "general.queueSize must be >= 1")
	}

	tg := cfg.Channels.Telegram
	if tg.MaxFileBytes < 1 {
		errs = append(errs, "channels.telegram.maxFileBytes must be >= 1")
	}
	if tg.DownloadTimeoutSeconds < 1 {
		errs = append(errs, "channels.telegram.downloadTimeoutSeconds must be >= 1")
	}
	if tg.SendRatePerSecond <= 0 {
		errs = append(errs, "channels.telegram.sendRatePerSecond must be > 0")
	}

	wh := cfg.Channels.Webhook
	if wh.Enabled && !cfg.Server.Enabled {
		errs = append(errs, "channels.webhook requires server.enabled")
	}
	if !strings.HasPrefix(wh.Path, "/") {
		errs = append(errs, "channels.webhook.path must start with /")
	}
	if wh.ReplyTimeoutSeconds < 1 {
		errs = append(errs, "channels.webhook.replyTimeoutSeconds must be >= 1")
	}
	if wh.MaxUploadBytes < 1 {
		errs = append(errs, "channels.webhook.maxUploadBytes must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.Enabled && cfg.Server.Port == 0 {
		errs = append(errs, "server.port is required when the server is enabled")
	}

	if cfg.Extraction.MaxInlineChars < 1 {
		errs = append(errs, "extraction.maxInlineChars must be >= 1")
	}
	if cfg.Extraction.MaxPages < 0 {
		errs = append(errs, "extraction.maxPages must be >= 0")
	}

	if cfg.Limits.FilesPerHour < 0 || cfg.Limits.FilesPerDay < 0 {
		errs = append(errs, "limits must be >= 0")
	}
	if cfg.Limits.FilesPerHour > 0 && cfg.Limits.FilesPerDay > 0 && cfg.Limits.FilesPerDay < cfg.Limits.FilesPerHour {
		errs = append(errs, "limits.filesPerDay must be >= limits.filesPerHour")
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}
	if cfg.Store.RetentionDays < 0 {
		errs = append(errs, "store.retentionDays must be >= 0")
	}
	if cfg.Store.RetentionDays > 0 {
		if _, err := cron.ParseStandard(cfg.Store.PruneSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("store.pruneSchedule %q is invalid: %v", cfg.Store.PruneSchedule, err))
		}
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}
	if cfg.Metrics.Enabled && cfg.Server.Enabled && cfg.Metrics.Path == wh.Path {
		errs = append(errs, "metrics.path and channels.webhook.path must differ")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
