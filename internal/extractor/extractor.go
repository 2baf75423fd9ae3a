// Package extractor converts document bytes into plain text.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"sync"

	"docbot/internal/domain"
)

// Document formats understood by the registry.
const (
	FormatPDF  = "pdf"
	FormatPPTX = "pptx"
	FormatPPT  = "ppt"
)

var mimeFormats = map[string]string{
	"application/pdf":   FormatPDF,
	"application/x-pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPTX,
	"application/vnd.ms-powerpoint": FormatPPT,
}

// Detect returns the document format of an attachment from its declared MIME
// type, then its file extension, then its leading bytes. It returns "" when the
// attachment is not a known document.
func Detect(att *domain.Attachment) string {
	if att == nil {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(att.MimeType); err == nil {
		if f, ok := mimeFormats[strings.ToLower(mt)]; ok {
			return f
		}
	}
	switch ext := att.Ext(); ext {
	case FormatPDF, FormatPPTX, FormatPPT:
		return ext
	}
	if bytes.HasPrefix(att.Data, pdfMagic) {
		return FormatPDF
	}
	return ""
}

// RegistryConfig configures the extractor registry.
type RegistryConfig struct {
	MaxPages     int
	EnableSlides bool // register PPTX/PPT support
	Logger       *slog.Logger
}

// Registry dispatches attachments to the extractor registered for their format.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]domain.Extractor
	logger   *slog.Logger
}

// NewRegistry creates a registry with the PDF backend and, if enabled, slides.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Registry{
		backends: make(map[string]domain.Extractor),
		logger:   cfg.Logger,
	}
	r.Register(FormatPDF, NewPDF(PDFConfig{MaxPages: cfg.MaxPages, Logger: cfg.Logger}))
	if cfg.EnableSlides {
		slides := NewPPTX(cfg.Logger)
		r.Register(FormatPPTX, slides)
		r.Register(FormatPPT, slides)
	}
	return r
}

// Register adds or replaces the backend for a format.
func (r *Registry) Register(format string, ex domain.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[format] = ex
}

// Formats returns the registered formats.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for _, f := range []string{FormatPDF, FormatPPTX, FormatPPT} {
		if _, ok := r.backends[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Supported reports whether an extractor exists for the attachment.
func (r *Registry) Supported(att *domain.Attachment) bool {
	_, ok := r.backend(Detect(att))
	return ok
}

// Extract runs the matching backend over the attachment payload.
func (r *Registry) Extract(ctx context.Context, att *domain.Attachment) (*domain.Document, error) {
	format := Detect(att)
	ex, ok := r.backend(format)
	if !ok {
		return nil, fmt.Errorf("no extractor for %q (%s)", att.FileName, att.MimeType)
	}
	doc, err := ex.Extract(ctx, att.Data)
	if err != nil {
		return nil, err
	}
	if doc.Format == "" {
		doc.Format = format
	}
	return doc, nil
}

func (r *Registry) backend(format string) (domain.Extractor, bool) {
	if format == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.backends[format]
	return ex, ok
}
