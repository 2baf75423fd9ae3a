package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"docbot/internal/channel"
	"docbot/internal/config"
	"docbot/internal/domain"
	"docbot/internal/extractor"
	"docbot/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag or DOCBOT_CONFIG
)

func main() {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "docbot",
		Short:        "docbot: extract text from documents sent to a bot",
		Long:         "docbot receives PDF documents over Telegram, HTTP or the terminal and replies with their text.\nWith no subcommand it runs the bot.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(runOptions{})
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.docbot/config.json)")

	root.AddCommand(runCmd())
	root.AddCommand(initCmd())
	root.AddCommand(extractCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	if p := os.Getenv("DOCBOT_CONFIG"); p != "" {
		return config.ExpandPath(p)
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, falling back to defaults plus environment
// when it does not exist, and reconfigures the global logger from it. The
// returned closer releases the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	closer, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

func setupLogger(g config.GeneralConfig) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	closer := func() {}
	if g.LogFile != "" {
		path := config.ExpandPath(g.LogFile)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot (Telegram, webhook and HTTP server as configured)",
		Long:  "Starts every enabled transport and the event receiver. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.cli, "cli", false, "read file paths from the terminal instead of polling Telegram")
	return cmd
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Writes the default configuration to the config path. A .yaml or .yml path writes YAML.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "data_dir", cfg.General.DataDir)
			fmt.Println("Set TELEGRAM_TOKEN (or channels.telegram.token) and run 'docbot'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func extractCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract text from a local document",
		Long:  "Runs the extractor on one file and prints the text. Exits non-zero with the failure kind when extraction fails.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			att, err := channel.ReadAttachment(args[0], cfg.Channels.Telegram.MaxFileBytes)
			if err != nil {
				return err
			}
			registry := extractor.NewRegistry(extractor.RegistryConfig{
				MaxPages:     cfg.Extraction.MaxPages,
				EnableSlides: cfg.Extraction.EnableSlides,
				Logger:       logger,
			})
			if !registry.Supported(att) {
				return fmt.Errorf("%s: unsupported file type (supported: %s)", att.FileName, strings.Join(registry.Formats(), ", "))
			}

			doc, err := registry.Extract(cmd.Context(), att)
			if err != nil {
				if kind := domain.KindOf(err); kind != "" {
					return fmt.Errorf("%s: %w", kind, err)
				}
				return err
			}
			logger.Debug("extracted", "file", att.FileName, "format", doc.Format, "pages", doc.Pages, "chars", len([]rune(doc.Text)))

			if output == "" || output == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.Text)
				return err
			}
			if err := os.WriteFile(output, []byte(doc.Text), 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d pages, text written to %s\n", doc.Pages, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the text to a file instead of stdout")
	return cmd
}

func historyCmd() *cobra.Command {
	var sender string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent extractions from the extraction log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if !cfg.Store.Enabled {
				return errors.New("the extraction log is disabled (store.enabled = false)")
			}

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			records, err := st.RecentExtractions(cmd.Context(), sender, limit)
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(records, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No extractions recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCHANNEL\tSENDER\tFILE\tSTATUS\tPAGES\tCHARS\tLATENCY")
			for _, r := range records {
				status := string(r.Status)
				if r.ErrorKind != "" {
					status += " (" + string(r.ErrorKind) + ")"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%dms\n",
					r.CreatedAt.Local().Format(time.DateTime), r.Channel, r.SenderID, r.FileName,
					status, r.Pages, r.Chars, r.LatencyMs)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "only show one sender's extractions")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. limits.filesPerHour)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. limits.filesPerDay 10)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := setConfigValue(cfgPath, args[0], args[1]); err != nil {
				return err
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// setConfigValue edits the file as written: environment overrides and ${VAR}
// placeholders are applied only to validate the result, never saved.
func setConfigValue(cfgPath, key, value string) error {
	raw, err := config.LoadRaw(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no config at %s (run 'docbot init' first)", cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.SetByPath(raw, key, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	if _, err := config.Resolve(raw); err != nil {
		return err
	}
	if err := config.Save(cfgPath, raw); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// runContext returns a context cancelled on SIGINT or SIGTERM.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
