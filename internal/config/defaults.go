package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			DataDir:   "~/.docbot",
			QueueSize: 100,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:                true,
				MaxFileBytes:           20 << 20, // Bot API download limit
				DownloadTimeoutSeconds: 60,
				SendRatePerSecond:      25,
			},
			CLI: CLIConfig{
				Enabled: false,
			},
			Webhook: WebhookConfig{
				Enabled:             false,
				Path:                "/v1/extract",
				ReplyTimeoutSeconds: 60,
				MaxUploadBytes:      20 << 20,
			},
		},
		Server: ServerConfig{
			Enabled:        false,
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Extraction: ExtractionConfig{
			MaxInlineChars: 4000,
			MaxPages:       500,
			EnableSlides:   true,
		},
		Limits: LimitsConfig{
			FilesPerHour: 2,
			FilesPerDay:  5,
		},
		Store: StoreConfig{
			Enabled:       true,
			DBPath:        "~/.docbot/docbot.db",
			RetentionDays: 90,
			PruneSchedule: "@every 6h",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
