package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docbot/internal/config"
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBackupRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := filepath.Join(src, "docbot.db")
	cfgPath := filepath.Join(src, "config.yaml")
	if err := os.WriteFile(dbPath, []byte("sqlite bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte("limits:\n  filesPerHour: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, []string{dbPath, cfgPath}); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := t.TempDir()
	newDB := filepath.Join(dst, "data", "docbot.db")
	newCfg := filepath.Join(dst, "config.yaml")
	restored, err := extractTarGz(archive, newDB, newCfg)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("restored %v, want 2 files", restored)
	}

	data, err := os.ReadFile(newDB)
	if err != nil || string(data) != "sqlite bytes" {
		t.Errorf("db = %q, %v", data, err)
	}
	data, err = os.ReadFile(newCfg)
	if err != nil || !strings.Contains(string(data), "filesPerHour: 3") {
		t.Errorf("config = %q, %v", data, err)
	}
}

func TestExtractTarGzRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.gz")
	if err := os.WriteFile(path, []byte("not gzip"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := extractTarGz(path, "db", "cfg"); err == nil {
		t.Fatal("expected error for non-gzip archive")
	}
}

func TestRestoreTarget(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"docbot.db", "/data/docbot.db"},
		{"old.db-wal", "/data/docbot.db-wal"},
		{"old.db-shm", "/data/docbot.db-shm"},
		{"config.json", "/etc/docbot/config.yaml"},
		{"config.yml", "/etc/docbot/config.yaml"},
		{"notes.txt", "/etc/docbot/notes.txt"},
	}
	for _, tt := range tests {
		got := restoreTarget(tt.name, "/data/docbot.db", "/etc/docbot/config.yaml")
		if got != tt.want {
			t.Errorf("restoreTarget(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestBuildChannelsTelegramNeedsToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = ""
	if _, _, err := buildChannels(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

func TestBuildChannelsWebhookAndCLI(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channels.Telegram.Enabled = false
	cfg.Channels.CLI.Enabled = true
	cfg.Channels.Webhook.Enabled = true
	cfg.General.DataDir = t.TempDir()

	channels, webhook, err := buildChannels(cfg)
	if err != nil {
		t.Fatalf("buildChannels: %v", err)
	}
	if webhook == nil {
		t.Fatal("webhook not returned")
	}
	var names []string
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	if got := strings.Join(names, ","); got != "cli,webhook" {
		t.Errorf("channels = %s, want cli,webhook", got)
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	saved := logger
	defer func() {
		logger = saved
		slog.SetDefault(saved)
	}()

	path := filepath.Join(t.TempDir(), "logs", "docbot.log")
	closer, err := setupLogger(config.GeneralConfig{LogLevel: "debug", LogFile: path})
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	logger.Debug("hello from test")
	closer()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file = %q", data)
	}
}

func TestResolveConfigPath(t *testing.T) {
	saved := configPath
	defer func() { configPath = saved }()

	configPath = ""
	t.Setenv("DOCBOT_CONFIG", "/tmp/docbot.yaml")
	if got := resolveConfigPath(); got != "/tmp/docbot.yaml" {
		t.Errorf("env path = %q", got)
	}

	configPath = "/etc/docbot.json"
	if got := resolveConfigPath(); got != "/etc/docbot.json" {
		t.Errorf("flag path = %q", got)
	}
}
