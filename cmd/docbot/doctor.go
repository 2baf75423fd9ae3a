package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docbot/internal/channel"
	"docbot/internal/config"
	"docbot/internal/extractor"
	"docbot/internal/store"

	"github.com/spf13/cobra"
)

// checkResults counts doctor outcomes.
type checkResults struct {
	passed, warned, failed int
}

func (r *checkResults) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *checkResults) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *checkResults) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the docbot installation",
		Long: `Verifies that docbot's configuration, extraction log, Telegram token
and HTTP port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("docbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r checkResults

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			// 2. Config loads and validates
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("config is invalid")
			}
			r.pass("Config validation", "valid")

			// 3. Extractors
			registry := extractor.NewRegistry(extractor.RegistryConfig{
				MaxPages:     cfg.Extraction.MaxPages,
				EnableSlides: cfg.Extraction.EnableSlides,
				Logger:       logger,
			})
			r.pass("Formats", strings.Join(registry.Formats(), ", "))

			// 4. Extraction log
			if cfg.Store.Enabled {
				if err := checkDatabase(cmd.Context(), cfg.Store.DBPath); err != nil {
					r.fail("Extraction log", err.Error())
				} else {
					r.pass("Extraction log", cfg.Store.DBPath)
				}
			} else {
				r.warn("Extraction log", "disabled, limits are counted in memory and reset on restart")
			}

			// 5. Channels
			tc := cfg.Channels.Telegram
			switch {
			case !tc.Enabled:
				r.warn("Telegram", "disabled")
			case tc.Token == "":
				r.fail("Telegram", "enabled but no token (set TELEGRAM_TOKEN)")
			case offline:
				r.warn("Telegram", "token set, not verified (--offline)")
			default:
				tg := channel.NewTelegram(channel.TelegramConfig{Token: tc.Token, Logger: logger})
				if username, err := tg.Connect(); err != nil {
					r.fail("Telegram", err.Error())
				} else {
					r.pass("Telegram", "@"+username)
				}
			}

			if wc := cfg.Channels.Webhook; wc.Enabled {
				if wc.Secret == "" {
					r.warn("Webhook", wc.Path+" accepts unsigned uploads (set DOCBOT_WEBHOOK_SECRET)")
				} else {
					r.pass("Webhook", wc.Path+" (signed)")
				}
			}

			if !tc.Enabled && !cfg.Channels.CLI.Enabled && !cfg.Channels.Webhook.Enabled {
				r.fail("Channels", "no channels enabled")
			}

			// 6. HTTP port
			if cfg.Server.Enabled {
				addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
				if err := checkPort(addr); err != nil {
					r.warn("HTTP port", fmt.Sprintf("%s may be in use: %v", addr, err))
				} else {
					r.pass("HTTP port", addr+" available")
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running docbot.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\ndocbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! docbot is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip checks that contact Telegram")
	return cmd
}

// checkDatabase opens the extraction log, which creates and migrates it.
func checkDatabase(ctx context.Context, dbPath string) error {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
