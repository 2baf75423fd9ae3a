package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docbot/internal/domain"

	"github.com/ledongthuc/pdf"
)

const (
	// pdfHeaderWindow is how far into the file the %PDF- marker may appear.
	pdfHeaderWindow = 1024
	// pdfTrailerWindow is how far from the end the trailer and startxref are searched.
	pdfTrailerWindow = 2048
)

var (
	pdfMagic       = []byte("%PDF-")
	encryptMarker  = []byte("/Encrypt")
	startxrefToken = []byte("startxref")
	trailerToken   = []byte("trailer")
)

// PDFConfig configures the PDF extractor.
type PDFConfig struct {
	MaxPages int // 0 = unlimited
	Logger   *slog.Logger
}

// PDF extracts plain text from PDF documents using ledongthuc/pdf.
type PDF struct {
	maxPages int
	logger   *slog.Logger
}

func NewPDF(cfg PDFConfig) *PDF {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PDF{maxPages: cfg.MaxPages, logger: cfg.Logger}
}

// Extract returns the text of every page, or a typed failure. It never returns
// partial text: one unreadable page fails the whole document.
func (p *PDF) Extract(ctx context.Context, data []byte) (doc *domain.Document, err error) {
	if len(data) == 0 {
		return nil, domain.Malformed("empty document", nil)
	}
	if !hasPDFHeader(data) {
		return nil, domain.Malformed("missing %PDF- header", nil)
	}

	// The parser panics on some corrupt object graphs.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("pdf parser panic", "panic", r, "size", len(data))
			doc = nil
			err = domain.Malformed("corrupt PDF structure", fmt.Errorf("%v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if declaresEncryption(data) {
			return nil, domain.Unsupported("encrypted PDF", err)
		}
		return nil, domain.Malformed("cannot open PDF", err)
	}
	if !reader.Trailer().Key("Encrypt").IsNull() {
		return nil, domain.Unsupported("encrypted PDF", nil)
	}

	numPages := reader.NumPage()
	if p.maxPages > 0 && numPages > p.maxPages {
		return nil, domain.Unsupported(fmt.Sprintf("document has %d pages, limit is %d", numPages, p.maxPages), nil)
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, domain.Malformed(fmt.Sprintf("cannot read page %d", i), err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}

	p.logger.Debug("pdf extracted", "pages", numPages, "chars", sb.Len())

	return &domain.Document{
		Text:   sb.String(),
		Pages:  numPages,
		Format: FormatPDF,
	}, nil
}

// declaresEncryption reports whether the trailer dictionary at the end of the
// file carries an /Encrypt entry. Without a classic trailer keyword (xref
// streams) the whole region before startxref is searched. Text elsewhere in
// the file does not count.
func declaresEncryption(data []byte) bool {
	tail := data[max(0, len(data)-pdfTrailerWindow):]
	end := bytes.LastIndex(tail, startxrefToken)
	if end < 0 {
		return false
	}
	region := tail[:end]
	if i := bytes.LastIndex(region, trailerToken); i >= 0 {
		region = region[i:]
	}
	return bytes.Contains(region, encryptMarker)
}

func hasPDFHeader(data []byte) bool {
	head := data
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}
	return bytes.Contains(head, pdfMagic)
}
