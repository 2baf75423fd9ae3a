package domain

import (
	"context"
	"time"
)

// ExtractionStatus is the persisted outcome of one extraction attempt.
type ExtractionStatus string

const (
	StatusOK     ExtractionStatus = "ok"
	StatusFailed ExtractionStatus = "failed"
)

// ExtractionRecord is one row of the extraction log.
type ExtractionRecord struct {
	ID        int64            `json:"id"`
	EventID   string           `json:"event_id"`
	Channel   string           `json:"channel"`
	ChatID    string           `json:"chat_id"`
	SenderID  string           `json:"sender_id"`
	FileName  string           `json:"file_name"`
	MimeType  string           `json:"mime_type"`
	Size      int64            `json:"size"`
	Pages     int              `json:"pages"`
	Chars     int              `json:"chars"`
	Status    ExtractionStatus `json:"status"`
	ErrorKind FailureKind      `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
	LatencyMs int64            `json:"latency_ms"`
	CreatedAt time.Time        `json:"created_at"`
}

// ReplyFailure records a reply that could not be delivered.
type ReplyFailure struct {
	EventID   string
	Channel   string
	ChatID    string
	Error     string
	CreatedAt time.Time
}

// ExtractionLog persists extraction attempts and failed replies.
type ExtractionLog interface {
	RecordExtraction(ctx context.Context, rec ExtractionRecord) error
	CountExtractions(ctx context.Context, senderID string, since time.Time) (int, error)
	RecentExtractions(ctx context.Context, senderID string, limit int) ([]ExtractionRecord, error)
	RecordReplyFailure(ctx context.Context, f ReplyFailure) error
}
