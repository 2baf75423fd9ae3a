package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"docbot/internal/bus"
	"docbot/internal/channel"
	"docbot/internal/config"
	"docbot/internal/domain"
	"docbot/internal/extractor"
	"docbot/internal/metrics"
	"docbot/internal/receiver"
	"docbot/internal/server"
	"docbot/internal/store"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type runOptions struct {
	cli bool // terminal instead of Telegram
}

func runBot(opts runOptions) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	if opts.cli {
		cfg.Channels.CLI.Enabled = true
		cfg.Channels.Telegram.Enabled = false
	}
	if !cfg.Channels.Telegram.Enabled && !cfg.Channels.CLI.Enabled && !cfg.Channels.Webhook.Enabled {
		return errors.New("no channels enabled (enable channels.telegram, channels.cli or channels.webhook)")
	}

	channels, webhook, err := buildChannels(cfg)
	if err != nil {
		return err
	}

	sigCtx, stop := runContext()
	defer stop()

	// Receiver, server and janitor. A failing member cancels ctx and with it
	// the whole process. Transports are not waited for since the terminal
	// blocks on stdin.
	g, ctx := errgroup.WithContext(sigCtx)

	// Message bus (closed during graceful shutdown below)
	messageBus := bus.New(cfg.General.QueueSize, logger)
	events := bus.NewEventBus(logger)

	if cfg.Metrics.Enabled {
		recorder := metrics.Attach(events)
		defer recorder.Detach()
	}

	// Extraction log. Without it limits are counted in memory.
	var (
		extractionLog domain.ExtractionLog
		counter       receiver.UsageCounter
		health        func(context.Context) error
	)
	if cfg.Store.Enabled {
		st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
		if err != nil {
			return fmt.Errorf("extraction log: %w", err)
		}
		defer st.Close()
		extractionLog, counter, health = st, st, st.Ping

		if cfg.Store.RetentionDays > 0 {
			janitor, err := store.NewJanitor(store.JanitorConfig{
				Store:     st,
				Retention: time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour,
				Schedule:  cfg.Store.PruneSchedule,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			g.Go(func() error {
				janitor.Run(ctx)
				return nil
			})
		}
	}

	registry := extractor.NewRegistry(extractor.RegistryConfig{
		MaxPages:     cfg.Extraction.MaxPages,
		EnableSlides: cfg.Extraction.EnableSlides,
		Logger:       logger,
	})
	quota := receiver.NewQuota(receiver.QuotaConfig{
		PerHour: cfg.Limits.FilesPerHour,
		PerDay:  cfg.Limits.FilesPerDay,
		Counter: counter,
		Logger:  logger,
	})
	rcv := receiver.New(receiver.Config{
		Bus:            messageBus,
		Extractor:      registry,
		Events:         events,
		Log:            extractionLog,
		Quota:          quota,
		Formats:        registry.Formats(),
		MaxInlineChars: cfg.Extraction.MaxInlineChars,
		Logger:         logger,
	})
	g.Go(func() error {
		rcv.Run(ctx)
		return nil
	})

	transports := &channelGroup{stop: stop}
	for _, ch := range channels {
		go transports.run(ctx, ch, messageBus)
		logger.Info("channel enabled", "channel", ch.Name())
	}

	if cfg.Server.Enabled {
		srvCfg := server.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Health:         health,
			Logger:         logger,
		}
		if webhook != nil {
			srvCfg.WebhookPath = cfg.Channels.Webhook.Path
			srvCfg.Webhook = webhook
		}
		if cfg.Metrics.Enabled {
			srvCfg.MetricsPath = cfg.Metrics.Path
			srvCfg.Metrics = metrics.Collector.Handler()
		}
		srv := server.New(srvCfg)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	logger.Info("docbot started", "version", version, "formats", registry.Formats())

	// Block until shutdown signal or a failed member
	<-ctx.Done()
	logger.Info("shutting down docbot...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop", "channel", ch.Name(), "err", err)
			}
		}
		runErr = g.Wait()
		messageBus.Close()
	}()

	select {
	case <-done:
		if runErr == nil {
			runErr = transports.Err()
		}
		if runErr != nil {
			return runErr
		}
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// channelGroup runs the transports. The first one to fail stops the process
// and its error becomes the run's result.
type channelGroup struct {
	stop func()

	mu  sync.Mutex
	err error
}

func (cg *channelGroup) run(ctx context.Context, ch domain.Channel, b domain.MessageBus) {
	metrics.ChannelsRunning.Inc()
	defer metrics.ChannelsRunning.Dec()

	err := ch.Start(ctx, b)
	if err != nil && ctx.Err() == nil {
		logger.Error("channel error", "channel", ch.Name(), "err", err)
		cg.mu.Lock()
		if cg.err == nil {
			cg.err = fmt.Errorf("channel %s: %w", ch.Name(), err)
		}
		cg.mu.Unlock()
	}
	// The terminal session ends the process when it exits; so does a
	// transport that fails.
	if ch.Name() == "cli" || err != nil {
		cg.stop()
	}
}

// Err returns the first transport failure, if any.
func (cg *channelGroup) Err() error {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	return cg.err
}

// buildChannels creates the enabled transports. The webhook is also returned
// so the HTTP server can mount it.
func buildChannels(cfg *config.Config) ([]domain.Channel, *channel.Webhook, error) {
	var channels []domain.Channel
	var webhook *channel.Webhook

	if tc := cfg.Channels.Telegram; tc.Enabled {
		if tc.Token == "" {
			return nil, nil, errors.New("telegram is enabled but no token is set (TELEGRAM_TOKEN)")
		}
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:             tc.Token,
			AllowFrom:         tc.AllowFrom,
			MaxFileBytes:      tc.MaxFileBytes,
			DownloadTimeout:   time.Duration(tc.DownloadTimeoutSeconds) * time.Second,
			SendRatePerSecond: tc.SendRatePerSecond,
			Debug:             tc.Debug,
			Logger:            logger,
		})
		username, err := tg.Connect()
		if err != nil {
			return nil, nil, fmt.Errorf("telegram: %w", err)
		}
		logger.Info("telegram bot connected", "username", username)
		channels = append(channels, tg)
	}

	if cfg.Channels.CLI.Enabled {
		channels = append(channels, channel.NewCLI(channel.CLIConfig{
			Logger:       logger,
			OutDir:       filepath.Join(cfg.General.DataDir, "out"),
			MaxFileBytes: cfg.Channels.Telegram.MaxFileBytes,
		}))
	}

	if wc := cfg.Channels.Webhook; wc.Enabled {
		webhook = channel.NewWebhook(channel.WebhookConfig{
			Secret:         wc.Secret,
			ReplyTimeout:   time.Duration(wc.ReplyTimeoutSeconds) * time.Second,
			MaxUploadBytes: wc.MaxUploadBytes,
			Logger:         logger,
		})
		channels = append(channels, webhook)
	}

	return channels, webhook, nil
}
