package channel

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"docbot/internal/bus"
	"docbot/internal/domain"
)

// fakeBot records outgoing requests and serves file URLs.
type fakeBot struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	sendErr   error
	actionErr error
	fileURL   string
	updates   chan tgbotapi.Update
	stopped   bool
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if _, isAction := c.(tgbotapi.ChatActionConfig); isAction {
		return tgbotapi.Message{}, f.actionErr
	}
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	if f.fileURL == "" {
		return "", errors.New("file not found")
	}
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// texts returns the text of every message and document caption sent.
func (f *fakeBot) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.DocumentConfig:
			out = append(out, "doc:"+m.Caption)
		}
	}
	return out
}

func newTestTelegram(api *fakeBot, cfg TelegramConfig) (*Telegram, *bus.InMemoryBus) {
	cfg.Logger = testLogger()
	cfg.SendRatePerSecond = 1000
	tg := NewTelegram(cfg)
	tg.api = api
	b := bus.New(8, testLogger())
	tg.bus = b
	return tg, b
}

func documentUpdate(userID int64, fileName string, size int) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:    &tgbotapi.User{ID: userID},
		Chat:    &tgbotapi.Chat{ID: 99},
		Date:    int(time.Now().Unix()),
		Caption: "please",
		Document: &tgbotapi.Document{
			FileID:   "file-1",
			FileName: fileName,
			MimeType: "application/pdf",
			FileSize: size,
		},
	}}
}

func receiveEvent(t *testing.T, b *bus.InMemoryBus) (domain.InboundEvent, bool) {
	t.Helper()
	select {
	case ev := <-b.Subscribe():
		return ev, true
	case <-time.After(100 * time.Millisecond):
		return domain.InboundEvent{}, false
	}
}

func TestTelegram_DocumentPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	api := &fakeBot{fileURL: srv.URL}
	tg, b := newTestTelegram(api, TelegramConfig{})

	tg.handleUpdate(context.Background(), documentUpdate(7, "paper.pdf", 13))

	ev, ok := receiveEvent(t, b)
	if !ok {
		t.Fatal("expected an event on the bus")
	}
	if ev.Channel != "telegram" || ev.ChatID != "99" || ev.SenderID != "7" || ev.ID == "" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Text != "please" {
		t.Errorf("expected caption as text, got %q", ev.Text)
	}
	if ev.Attachment == nil || string(ev.Attachment.Data) != "%PDF-1.4 body" || ev.Attachment.FileName != "paper.pdf" {
		t.Errorf("unexpected attachment: %+v", ev.Attachment)
	}
}

func TestTelegram_ChatActionFailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	api := &fakeBot{fileURL: srv.URL, actionErr: errors.New("Too Many Requests: retry after 3")}
	tg, b := newTestTelegram(api, TelegramConfig{})
	var logs bytes.Buffer
	tg.logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tg.handleUpdate(context.Background(), documentUpdate(7, "paper.pdf", 13))

	if _, ok := receiveEvent(t, b); !ok {
		t.Fatal("document should still be published when the chat action fails")
	}
	out := logs.String()
	if !strings.Contains(out, "telegram chat action failed") || !strings.Contains(out, "retry after 3") {
		t.Errorf("expected chat action failure in debug log, got:\n%s", out)
	}
}

func TestTelegram_TooLargeAnsweredDirectly(t *testing.T) {
	api := &fakeBot{}
	tg, b := newTestTelegram(api, TelegramConfig{MaxFileBytes: 10})

	tg.handleUpdate(context.Background(), documentUpdate(7, "huge.pdf", 11))

	if _, ok := receiveEvent(t, b); ok {
		t.Fatal("oversized document must not be published")
	}
	texts := api.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "too large") {
		t.Errorf("expected one 'too large' reply, got %q", texts)
	}
}

func TestTelegram_DownloadFailureAnsweredDirectly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	api := &fakeBot{fileURL: srv.URL}
	tg, b := newTestTelegram(api, TelegramConfig{})

	tg.handleUpdate(context.Background(), documentUpdate(7, "paper.pdf", 5))

	if _, ok := receiveEvent(t, b); ok {
		t.Fatal("failed download must not be published")
	}
	texts := api.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Could not download") {
		t.Errorf("expected one download failure reply, got %q", texts)
	}
}

func TestTelegram_AllowList(t *testing.T) {
	api := &fakeBot{}
	tg, b := newTestTelegram(api, TelegramConfig{AllowFrom: []string{"1", " 2 ", "bogus"}})

	if !tg.isAllowed(2) || tg.isAllowed(3) {
		t.Fatal("allow list not parsed")
	}

	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 3}, Chat: &tgbotapi.Chat{ID: 3}, Text: "/start",
	}})
	if _, ok := receiveEvent(t, b); ok {
		t.Fatal("unauthorized user must not be published")
	}
	if texts := api.texts(); len(texts) != 1 || !strings.Contains(texts[0], "Unauthorized") {
		t.Errorf("expected unauthorized reply, got %q", texts)
	}
}

func TestTelegram_TextPublished(t *testing.T) {
	tg, b := newTestTelegram(&fakeBot{}, TelegramConfig{})
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 5}, Chat: &tgbotapi.Chat{ID: 6}, Text: " /start ",
	}})
	ev, ok := receiveEvent(t, b)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Text != "/start" || ev.HasAttachment() {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestTelegram_DeliverSplitsLongText(t *testing.T) {
	api := &fakeBot{}
	tg, _ := newTestTelegram(api, TelegramConfig{})

	err := tg.deliver(context.Background(), domain.OutboundReply{ChatID: "99", Text: strings.Repeat("x", telegramMaxMsgLen+10)})
	if err != nil {
		t.Fatal(err)
	}
	if texts := api.texts(); len(texts) != 2 {
		t.Errorf("expected 2 messages, got %d", len(texts))
	}
}

func TestTelegram_DeliverSplitsOnUTF16Length(t *testing.T) {
	api := &fakeBot{}
	tg, _ := newTestTelegram(api, TelegramConfig{})

	// 3000 runes, 6000 UTF-16 units.
	text := strings.Repeat("\U0001F4C4", 3000)
	if err := tg.deliver(context.Background(), domain.OutboundReply{ChatID: "99", Text: text}); err != nil {
		t.Fatal(err)
	}
	texts := api.texts()
	if len(texts) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(texts))
	}
	for i, m := range texts {
		if n := utf16Len(m); n > telegramMaxMsgLen {
			t.Errorf("message %d is %d UTF-16 units", i, n)
		}
	}
}

func TestTelegram_DeliverLongCaptionSentAsText(t *testing.T) {
	api := &fakeBot{}
	tg, _ := newTestTelegram(api, TelegramConfig{})

	// 600 runes fit the caption limit in runes but not in UTF-16 units.
	caption := strings.Repeat("\U0001F600", 600)
	err := tg.deliver(context.Background(), domain.OutboundReply{
		ChatID:     "99",
		Text:       caption,
		Attachment: &domain.Attachment{FileName: "paper.txt", Data: []byte("text")},
	})
	if err != nil {
		t.Fatal(err)
	}
	texts := api.texts()
	if len(texts) != 2 || texts[0] != caption || texts[1] != "doc:" {
		t.Errorf("expected text then uncaptioned document, got %d sends", len(texts))
	}
}

func TestTelegram_DeliverAttachment(t *testing.T) {
	api := &fakeBot{}
	tg, _ := newTestTelegram(api, TelegramConfig{})

	err := tg.deliver(context.Background(), domain.OutboundReply{
		ChatID:     "99",
		Text:       "summary",
		Attachment: &domain.Attachment{FileName: "paper.txt", Data: []byte("text")},
	})
	if err != nil {
		t.Fatal(err)
	}
	texts := api.texts()
	if len(texts) != 1 || texts[0] != "doc:summary" {
		t.Errorf("expected a single document with caption, got %q", texts)
	}
}

func TestTelegram_DeliverErrorNotRetried(t *testing.T) {
	api := &fakeBot{sendErr: errors.New("Bad Gateway")}
	tg, _ := newTestTelegram(api, TelegramConfig{})

	err := tg.deliver(context.Background(), domain.OutboundReply{ChatID: "99", Text: "hi"})
	if err == nil {
		t.Fatal("expected send error")
	}
	if n := len(api.texts()); n != 1 {
		t.Errorf("expected exactly one send attempt, got %d", n)
	}

	if err := tg.deliver(context.Background(), domain.OutboundReply{ChatID: "not-a-number", Text: "hi"}); err == nil {
		t.Fatal("expected error for invalid chat ID")
	}
}

func TestTelegram_StartStopsOnCancel(t *testing.T) {
	api := &fakeBot{updates: make(chan tgbotapi.Update)}
	tg, b := newTestTelegram(api, TelegramConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Start(ctx, b) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopped {
		t.Error("expected StopReceivingUpdates on cancel")
	}
}

func TestTelegram_ConnectNeedsToken(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: testLogger()})
	if _, err := tg.Connect(); err == nil {
		t.Fatal("expected error for empty token")
	}
}
