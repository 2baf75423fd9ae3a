package domain

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a document could not be extracted.
type FailureKind string

const (
	// KindMalformedDocument means the bytes cannot be parsed as the claimed format.
	KindMalformedDocument FailureKind = "malformed_document"
	// KindExtractionUnsupported means the document parsed but its content cannot
	// be extracted (encrypted, legacy format, over the page limit).
	KindExtractionUnsupported FailureKind = "extraction_unsupported"
)

// Document is the successful result of an extraction.
type Document struct {
	Text   string
	Pages  int
	Format string // pdf | pptx
}

// ExtractionError is the failed result of an extraction. No partial text is
// ever returned alongside it.
type ExtractionError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Malformed builds a KindMalformedDocument error.
func Malformed(msg string, err error) *ExtractionError {
	return &ExtractionError{Kind: KindMalformedDocument, Message: msg, Err: err}
}

// Unsupported builds a KindExtractionUnsupported error.
func Unsupported(msg string, err error) *ExtractionError {
	return &ExtractionError{Kind: KindExtractionUnsupported, Message: msg, Err: err}
}

// KindOf returns the failure kind carried by err, or "" if err is not an
// extraction failure.
func KindOf(err error) FailureKind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// Extractor turns raw document bytes into text. It is a pure transformation.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Document, error)
}
