package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// InboundEvent is a single notification delivered by a transport.
// Transports create it once and nothing mutates it afterwards.
type InboundEvent struct {
	ID         string
	Channel    string
	ChatID     string
	SenderID   string
	Text       string
	Attachment *Attachment
	Timestamp  time.Time
}

// HasAttachment reports whether the event carries a file.
func (e InboundEvent) HasAttachment() bool {
	return e.Attachment != nil
}

// IsCommand reports whether the text body is a slash command.
func (e InboundEvent) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(e.Text), "/")
}

// Command returns the command name without the slash and any @botname suffix.
func (e InboundEvent) Command() string {
	if !e.IsCommand() {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(e.Text))
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}

// Attachment is a file payload with its declared MIME type.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}

// Ext returns the lower-cased file extension without the dot.
func (a *Attachment) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(a.FileName)), ".")
}

// OutboundReply is the single reply produced for an InboundEvent.
type OutboundReply struct {
	Channel    string
	ChatID     string
	Text       string
	Attachment *Attachment // optional file, used for long extractions
	ReplyTo    string      // InboundEvent.ID
}
