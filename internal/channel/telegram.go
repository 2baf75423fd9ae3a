package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"docbot/internal/domain"
)

// Lengths are in UTF-16 code units, below the API's 4096 and 1024 limits.
const (
	telegramMaxMsgLen     = 4000
	telegramMaxCaptionLen = 1000
)

// botAPI is the subset of tgbotapi.BotAPI used by the channel.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token           string
	allowFrom       []int64 // empty = allow all
	maxFileBytes    int64
	downloadTimeout time.Duration
	debug           bool

	api     botAPI
	http    *http.Client
	limiter *rate.Limiter
	bus     domain.MessageBus
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token             string
	AllowFrom         []string // user IDs as strings
	MaxFileBytes      int64
	DownloadTimeout   time.Duration
	SendRatePerSecond float64
	Debug             bool
	Logger            *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 20 << 20
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if cfg.SendRatePerSecond <= 0 {
		cfg.SendRatePerSecond = 25
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:           cfg.Token,
		allowFrom:       allowed,
		maxFileBytes:    cfg.MaxFileBytes,
		downloadTimeout: cfg.DownloadTimeout,
		debug:           cfg.Debug,
		http:            &http.Client{Timeout: cfg.DownloadTimeout},
		limiter:         rate.NewLimiter(rate.Limit(cfg.SendRatePerSecond), 1),
		logger:          cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates with the Bot API. Start calls it when needed; the
// doctor command uses it to check the token.
func (t *Telegram) Connect() (string, error) {
	if t.token == "" {
		return "", errors.New("telegram token is empty (set TELEGRAM_TOKEN)")
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return "", fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = t.debug
	t.api = bot
	return bot.Self.UserName, nil
}

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	if t.api == nil {
		username, err := t.Connect()
		if err != nil {
			return err
		}
		t.logger.Info("telegram bot connected", "username", username)
	}

	bus.OnOutbound(t.Name(), t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.api.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", msg.From.UserName)
		t.notify(ctx, chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	ev := domain.InboundEvent{
		ID:        uuid.NewString(),
		Channel:   t.Name(),
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Text:      strings.TrimSpace(msg.Text),
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	if doc := msg.Document; doc != nil {
		if ev.Text == "" {
			ev.Text = strings.TrimSpace(msg.Caption)
		}
		if int64(doc.FileSize) > t.maxFileBytes {
			t.logger.Info("telegram document too large", "file", doc.FileName, "size", doc.FileSize)
			t.notify(ctx, chatID, fmt.Sprintf("%s is too large. The limit is %s.", doc.FileName, humanize.Bytes(uint64(t.maxFileBytes))))
			return
		}

		if _, err := t.api.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadDocument)); err != nil {
			t.logger.Debug("telegram chat action failed", "chat_id", chatID, "error", err)
		}

		data, err := t.download(ctx, doc.FileID)
		if err != nil {
			t.logger.Error("telegram download failed", "file", doc.FileName, "error", err)
			t.notify(ctx, chatID, fmt.Sprintf("Could not download %s. Please try again.", doc.FileName))
			return
		}
		ev.Attachment = &domain.Attachment{
			FileName: doc.FileName,
			MimeType: doc.MimeType,
			Data:     data,
		}
	}

	t.logger.Info("telegram event received",
		"event_id", ev.ID,
		"user_id", userID,
		"chat_id", chatID,
		"attachment", ev.HasAttachment(),
	)
	t.bus.Publish(ev)
}

// download fetches a file through the Bot API file endpoint, refusing
// anything larger than the configured cap.
func (t *Telegram) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > t.maxFileBytes {
		return nil, fmt.Errorf("download: file exceeds %d bytes", t.maxFileBytes)
	}
	return data, nil
}

// deliver is the outbound handler. Errors are returned to the caller and
// never retried here.
func (t *Telegram) deliver(ctx context.Context, reply domain.OutboundReply) error {
	chatID, err := strconv.ParseInt(reply.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", reply.ChatID, err)
	}

	text := reply.Text
	if reply.Attachment != nil {
		caption := ""
		if utf16Len(text) <= telegramMaxCaptionLen {
			caption, text = text, ""
		}
		if text != "" {
			if err := t.sendText(ctx, chatID, text); err != nil {
				return err
			}
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
			Name:  reply.Attachment.FileName,
			Bytes: reply.Attachment.Data,
		})
		doc.Caption = caption
		return t.send(ctx, doc)
	}
	return t.sendText(ctx, chatID, text)
}

func (t *Telegram) sendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.send(ctx, tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if _, err := t.api.Send(c); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// notify answers a chat directly, for events that never reach the bus.
func (t *Telegram) notify(ctx context.Context, chatID int64, text string) {
	if err := t.sendText(ctx, chatID, text); err != nil {
		t.logger.Error("telegram notify failed", "chat_id", chatID, "error", err)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}
