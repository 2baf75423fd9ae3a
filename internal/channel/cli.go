package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docbot/internal/domain"
)

// CLI implements domain.Channel for a terminal: each input line is a file
// path to extract, or a slash command.
type CLI struct {
	bus     domain.MessageBus
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	outDir  string
	maxSize int64
	mu      sync.Mutex // serialises writes to out
}

type CLIConfig struct {
	Logger       *slog.Logger
	In           io.Reader
	Out          io.Writer
	OutDir       string // where long extractions are written; empty prints them
	MaxFileBytes int64
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 20 << 20
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		outDir:  cfg.OutDir,
		maxSize: cfg.MaxFileBytes,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start reads lines until EOF, /quit or ctx cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(c.Name(), c.deliver)

	c.printf("docbot CLI. Enter a path to a PDF file, /help for commands, /quit to exit.\n")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return nil
		case strings.HasPrefix(line, "/"):
			c.bus.Publish(c.event(line, nil))
		default:
			att, err := ReadAttachment(line, c.maxSize)
			if err != nil {
				c.printf("error: %v\n", err)
				continue
			}
			c.bus.Publish(c.event("", att))
		}
	}
}

func (c *CLI) event(text string, att *domain.Attachment) domain.InboundEvent {
	return domain.InboundEvent{
		ID:         uuid.NewString(),
		Channel:    c.Name(),
		ChatID:     "local",
		SenderID:   "local",
		Text:       text,
		Attachment: att,
		Timestamp:  time.Now(),
	}
}

func (c *CLI) deliver(_ context.Context, reply domain.OutboundReply) error {
	if reply.Attachment == nil {
		return c.printf("%s\n", reply.Text)
	}
	if c.outDir == "" {
		return c.printf("%s\n\n%s\n", reply.Text, reply.Attachment.Data)
	}
	path := filepath.Join(c.outDir, reply.Attachment.FileName)
	if err := os.WriteFile(path, reply.Attachment.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return c.printf("%s\nSaved to %s\n", reply.Text, path)
}

func (c *CLI) printf(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

// ReadAttachment loads a local file as an attachment, guessing its MIME type
// from the extension.
func ReadAttachment(path string, maxBytes int64) (*domain.Attachment, error) {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("%s is %d bytes, the limit is %d", path, info.Size(), maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &domain.Attachment{
		FileName: filepath.Base(path),
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Data:     data,
	}, nil
}
