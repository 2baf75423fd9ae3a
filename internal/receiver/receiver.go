// Package receiver routes inbound bot events to the document extractor and
// sends exactly one reply per event.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"docbot/internal/bus"
	"docbot/internal/domain"
)

const (
	defaultMaxInlineChars = 4000
	historyLimit          = 5
)

// DocumentExtractor is the receiver's view of the extractor registry.
type DocumentExtractor interface {
	Supported(att *domain.Attachment) bool
	Extract(ctx context.Context, att *domain.Attachment) (*domain.Document, error)
}

// Config holds the receiver's collaborators. Events, Log and Quota are optional.
type Config struct {
	Bus            domain.MessageBus
	Extractor      DocumentExtractor
	Events         *bus.EventBus
	Log            domain.ExtractionLog
	Quota          *Quota
	Formats        []string // accepted formats, listed in /start
	MaxInlineChars int
	Logger         *slog.Logger
}

// Receiver consumes inbound events one at a time.
type Receiver struct {
	bus            domain.MessageBus
	extractor      DocumentExtractor
	events         *bus.EventBus
	log            domain.ExtractionLog
	quota          *Quota
	formats        []string
	maxInlineChars int
	logger         *slog.Logger
}

func New(cfg Config) *Receiver {
	if cfg.MaxInlineChars <= 0 {
		cfg.MaxInlineChars = defaultMaxInlineChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []string{"pdf"}
	}
	return &Receiver{
		bus:            cfg.Bus,
		extractor:      cfg.Extractor,
		events:         cfg.Events,
		log:            cfg.Log,
		quota:          cfg.Quota,
		formats:        cfg.Formats,
		maxInlineChars: cfg.MaxInlineChars,
		logger:         cfg.Logger,
	}
}

// Run handles events until ctx is done or the bus is closed. Each event is
// handled to completion before the next one is read.
func (r *Receiver) Run(ctx context.Context) {
	r.logger.Info("receiver started")
	inbound := r.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("receiver stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				r.logger.Info("inbound channel closed, receiver stopping")
				return
			}
			r.Process(ctx, ev)
		}
	}
}

// Process handles one event and sends its reply. A failed send is reported
// and the event is dropped.
func (r *Receiver) Process(ctx context.Context, ev domain.InboundEvent) {
	r.emit(bus.EventReceived, map[string]any{
		"event_id":   ev.ID,
		"channel":    ev.Channel,
		"sender":     ev.SenderID,
		"attachment": ev.HasAttachment(),
	})

	reply := r.Handle(ctx, ev)

	if err := r.bus.SendOutbound(ctx, reply); err != nil {
		r.logger.Error("reply send failed, dropping event",
			"event_id", ev.ID,
			"channel", ev.Channel,
			"chat_id", ev.ChatID,
			"error", err,
		)
		r.emit(bus.EventReplyFailed, map[string]any{
			"event_id": ev.ID,
			"channel":  ev.Channel,
			"chat_id":  ev.ChatID,
			"error":    err.Error(),
		})
		if r.log != nil {
			if lerr := r.log.RecordReplyFailure(ctx, domain.ReplyFailure{
				EventID: ev.ID,
				Channel: ev.Channel,
				ChatID:  ev.ChatID,
				Error:   err.Error(),
			}); lerr != nil {
				r.logger.Warn("failed to record reply failure", "error", lerr)
			}
		}
		return
	}
	r.emit(bus.EventReplySent, map[string]any{
		"event_id":   ev.ID,
		"channel":    ev.Channel,
		"attachment": reply.Attachment != nil,
	})
}

// Handle computes the single reply for an event. Events without an
// attachment never reach the extractor.
func (r *Receiver) Handle(ctx context.Context, ev domain.InboundEvent) domain.OutboundReply {
	reply := domain.OutboundReply{Channel: ev.Channel, ChatID: ev.ChatID, ReplyTo: ev.ID}

	if !ev.HasAttachment() {
		reply.Text = r.handleText(ctx, ev)
		return reply
	}

	att := ev.Attachment
	if !r.extractor.Supported(att) {
		r.logger.Info("unsupported attachment", "file", att.FileName, "mime", att.MimeType)
		reply.Text = fmt.Sprintf("Unsupported file type. Please send a %s file.", r.formatList())
		return reply
	}

	if r.quota.Enabled() {
		if ok, usage := r.quota.Allow(ctx, ev.SenderID); !ok {
			r.emit(bus.EventQuotaExceeded, map[string]any{
				"event_id": ev.ID,
				"sender":   ev.SenderID,
				"window":   usage.Exceeded(),
			})
			reply.Text = limitText(usage)
			return reply
		}
	}

	start := time.Now()
	doc, err := r.extractor.Extract(ctx, att)
	latency := time.Since(start)
	r.quota.Note(ev.SenderID)

	rec := domain.ExtractionRecord{
		EventID:   ev.ID,
		Channel:   ev.Channel,
		ChatID:    ev.ChatID,
		SenderID:  ev.SenderID,
		FileName:  att.FileName,
		MimeType:  att.MimeType,
		Size:      int64(len(att.Data)),
		LatencyMs: latency.Milliseconds(),
	}

	if err != nil {
		kind := domain.KindOf(err)
		rec.Status = domain.StatusFailed
		rec.ErrorKind = kind
		rec.Error = err.Error()
		r.record(ctx, rec)
		r.logger.Warn("extraction failed", "event_id", ev.ID, "file", att.FileName, "kind", kind, "error", err)
		r.emit(bus.EventExtractionFailed, map[string]any{
			"event_id":   ev.ID,
			"kind":       string(kind),
			"error":      err.Error(),
			"latency_ms": rec.LatencyMs,
		})
		reply.Text = failureText(att.FileName, kind)
		return reply
	}

	rec.Status = domain.StatusOK
	rec.Pages = doc.Pages
	rec.Chars = len([]rune(strings.TrimSpace(doc.Text)))
	r.record(ctx, rec)
	r.logger.Info("extraction completed",
		"event_id", ev.ID,
		"file", att.FileName,
		"format", doc.Format,
		"pages", doc.Pages,
		"chars", rec.Chars,
		"latency_ms", rec.LatencyMs,
	)
	r.emit(bus.EventExtractionCompleted, map[string]any{
		"event_id":   ev.ID,
		"format":     doc.Format,
		"pages":      doc.Pages,
		"chars":      rec.Chars,
		"bytes":      rec.Size,
		"latency_ms": rec.LatencyMs,
	})

	r.fillSuccess(&reply, att.FileName, doc)
	return reply
}

func (r *Receiver) fillSuccess(reply *domain.OutboundReply, fileName string, doc *domain.Document) {
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		reply.Text = fmt.Sprintf("%s has no extractable text (%s). It may be a scanned image.", fileName, pageCount(doc.Pages))
		return
	}
	if len([]rune(text)) <= r.maxInlineChars {
		reply.Text = text
		return
	}
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if base == "" {
		base = "document"
	}
	reply.Text = fmt.Sprintf("Extracted %d characters from %s of %s. The full text is attached.",
		len([]rune(text)), pageCount(doc.Pages), fileName)
	reply.Attachment = &domain.Attachment{
		FileName: base + ".txt",
		MimeType: "text/plain; charset=utf-8",
		Data:     []byte(text),
	}
}

func (r *Receiver) record(ctx context.Context, rec domain.ExtractionRecord) {
	if r.log == nil {
		return
	}
	if err := r.log.RecordExtraction(ctx, rec); err != nil {
		r.logger.Warn("failed to record extraction", "event_id", rec.EventID, "error", err)
	}
}

func (r *Receiver) emit(eventType string, payload map[string]any) {
	if r.events == nil {
		return
	}
	r.events.Emit(bus.Event{Type: eventType, Source: "receiver", Payload: payload})
}

func (r *Receiver) formatList() string {
	names := make([]string, len(r.formats))
	for i, f := range r.formats {
		names[i] = strings.ToUpper(f)
	}
	if len(names) == 1 {
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}

func failureText(fileName string, kind domain.FailureKind) string {
	switch kind {
	case domain.KindMalformedDocument:
		return fmt.Sprintf("Could not read %s: the file is damaged or not a valid document.", fileName)
	case domain.KindExtractionUnsupported:
		return fmt.Sprintf("Could not extract text from %s: the document is encrypted or uses features that are not supported.", fileName)
	default:
		return fmt.Sprintf("Could not process %s. Please try again later.", fileName)
	}
}

func limitText(u Usage) string {
	return fmt.Sprintf("You have reached your limit of %s. Please try again later.", limitSummary(u))
}

func limitSummary(u Usage) string {
	var parts []string
	if u.PerHour > 0 {
		parts = append(parts, fmt.Sprintf("%d files per hour", u.PerHour))
	}
	if u.PerDay > 0 {
		parts = append(parts, fmt.Sprintf("%d files per day", u.PerDay))
	}
	if len(parts) == 0 {
		return "no limits"
	}
	return strings.Join(parts, " and ")
}

func pageCount(n int) string {
	if n == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", n)
}
