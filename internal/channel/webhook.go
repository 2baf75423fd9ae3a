package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"docbot/internal/domain"
)

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Secret         string // HMAC secret for verifying request signatures
	ReplyTimeout   time.Duration
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Webhook accepts document uploads over HTTP and answers each request with
// the bot's reply. The HTTP server mounts its handler.
type Webhook struct {
	secret         string
	replyTimeout   time.Duration
	maxUploadBytes int64
	logger         *slog.Logger

	mu      sync.Mutex
	bus     domain.MessageBus
	pending map[string]chan domain.OutboundReply // chat ID -> waiting request
}

// WebhookResponse is the JSON body returned for an upload.
type WebhookResponse struct {
	EventID    string             `json:"event_id"`
	Text       string             `json:"text"`
	Attachment *WebhookAttachment `json:"attachment,omitempty"`
}

type WebhookAttachment struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 60 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		secret:         cfg.Secret,
		replyTimeout:   cfg.ReplyTimeout,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         cfg.Logger,
		pending:        make(map[string]chan domain.OutboundReply),
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start registers the outbound handler and blocks until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.mu.Lock()
	w.bus = bus
	w.mu.Unlock()
	bus.OnOutbound(w.Name(), w.deliver)
	w.logger.Info("webhook channel ready")

	<-ctx.Done()
	return nil
}

func (w *Webhook) Stop() error { return nil }

// deliver hands a reply to the request waiting on its chat ID.
func (w *Webhook) deliver(_ context.Context, reply domain.OutboundReply) error {
	w.mu.Lock()
	ch, ok := w.pending[reply.ChatID]
	if ok {
		delete(w.pending, reply.ChatID)
	}
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending webhook request for chat %s", reply.ChatID)
	}
	ch <- reply
	return nil
}

// ServeHTTP handles POST uploads: multipart/form-data with a "file" field,
// or the raw document as the body.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.mu.Lock()
	bus := w.bus
	w.mu.Unlock()
	if bus == nil {
		writeError(rw, http.StatusServiceUnavailable, "webhook channel not started")
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, w.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(rw, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", w.maxUploadBytes))
			return
		}
		writeError(rw, http.StatusBadRequest, "cannot read body")
		return
	}

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			writeError(rw, http.StatusUnauthorized, "missing signature")
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			writeError(rw, http.StatusForbidden, "invalid signature")
			return
		}
	}

	att, text, err := parseUpload(r, body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	sender := r.Header.Get("X-Sender-ID")
	if sender == "" {
		sender = "webhook"
	}
	ev := domain.InboundEvent{
		ID:         uuid.NewString(),
		Channel:    w.Name(),
		ChatID:     uuid.NewString(),
		SenderID:   sender,
		Text:       text,
		Attachment: att,
		Timestamp:  time.Now(),
	}

	ch := make(chan domain.OutboundReply, 1)
	w.mu.Lock()
	w.pending[ev.ChatID] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, ev.ChatID)
		w.mu.Unlock()
	}()

	w.logger.Info("webhook upload received",
		"event_id", ev.ID,
		"sender", sender,
		"attachment", ev.HasAttachment(),
		"bytes", len(body),
	)
	bus.Publish(ev)

	timer := time.NewTimer(w.replyTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		resp := WebhookResponse{EventID: ev.ID, Text: reply.Text}
		if reply.Attachment != nil {
			resp.Attachment = &WebhookAttachment{
				FileName: reply.Attachment.FileName,
				Content:  string(reply.Attachment.Data),
			}
		}
		writeJSON(rw, http.StatusOK, resp)
	case <-timer.C:
		w.logger.Warn("webhook reply timed out", "event_id", ev.ID)
		writeError(rw, http.StatusGatewayTimeout, "timed out waiting for reply")
	case <-r.Context().Done():
		w.logger.Info("webhook client went away", "event_id", ev.ID)
	}
}

// parseUpload extracts the attachment and optional text from a request body.
func parseUpload(r *http.Request, body []byte) (*domain.Attachment, string, error) {
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		form, err := multipart.NewReader(bytes.NewReader(body), params["boundary"]).ReadForm(int64(len(body)) + 1)
		if err != nil {
			return nil, "", fmt.Errorf("invalid multipart body: %w", err)
		}
		defer form.RemoveAll()

		text := ""
		if vals := form.Value["text"]; len(vals) > 0 {
			text = vals[0]
		}
		files := form.File["file"]
		if len(files) == 0 {
			if text == "" {
				return nil, "", errors.New(`missing "file" field`)
			}
			return nil, text, nil
		}
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, "", err
		}
		return &domain.Attachment{
			FileName: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		}, text, nil
	}

	if len(body) == 0 {
		return nil, "", errors.New("empty body")
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = r.Header.Get("X-File-Name")
	}
	if name == "" {
		name = "upload"
	}
	return &domain.Attachment{
		FileName: name,
		MimeType: r.Header.Get("Content-Type"),
		Data:     body,
	}, "", nil
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
