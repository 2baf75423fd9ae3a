package extractor

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"docbot/internal/domain"
)

func TestPDF_ExtractsText(t *testing.T) {
	data := buildPDF(t, []string{"Hello World"}, "")

	doc, err := NewPDF(PDFConfig{Logger: testLogger()}).Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(doc.Text, "Hello World") {
		t.Fatalf("expected text to contain 'Hello World', got %q", doc.Text)
	}
	if doc.Pages != 1 {
		t.Errorf("expected 1 page, got %d", doc.Pages)
	}
	if doc.Format != FormatPDF {
		t.Errorf("expected format pdf, got %q", doc.Format)
	}
}

func TestPDF_MultiplePagesInOrder(t *testing.T) {
	data := buildPDF(t, []string{"First page", "Second page", "Third page"}, "")

	doc, err := NewPDF(PDFConfig{Logger: testLogger()}).Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Pages != 3 {
		t.Fatalf("expected 3 pages, got %d", doc.Pages)
	}
	first := strings.Index(doc.Text, "First")
	third := strings.Index(doc.Text, "Third")
	if first < 0 || third < 0 || first > third {
		t.Fatalf("pages out of order: %q", doc.Text)
	}
}

func TestPDF_NoTextIsNotAFailure(t *testing.T) {
	data := buildPDF(t, []string{""}, "")

	doc, err := NewPDF(PDFConfig{Logger: testLogger()}).Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("blank page should extract cleanly, got %v", err)
	}
	if doc.Text != "" {
		t.Errorf("expected empty text, got %q", doc.Text)
	}
}

func TestPDF_Malformed(t *testing.T) {
	valid := buildPDF(t, []string{"Hello"}, "")

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"empty slice", []byte{}},
		{"random bytes", []byte{0x13, 0x37, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x42}},
		{"plain text", []byte("this is definitely not a pdf")},
		{"header only", []byte("%PDF-1.4\ngarbage without structure")},
		{"truncated", valid[:len(valid)/2]},
	}

	ex := NewPDF(PDFConfig{Logger: testLogger()})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ex.Extract(context.Background(), tt.data)
			if err == nil {
				t.Fatalf("expected error, got doc %+v", doc)
			}
			if doc != nil {
				t.Error("no partial result on failure")
			}
			if kind := domain.KindOf(err); kind != domain.KindMalformedDocument {
				t.Fatalf("expected %s, got %q (%v)", domain.KindMalformedDocument, kind, err)
			}
		})
	}
}

func TestPDF_EncryptedIsUnsupported(t *testing.T) {
	data := buildPDF(t, []string{"Secret"}, encryptTrailer)

	_, err := NewPDF(PDFConfig{Logger: testLogger()}).Extract(context.Background(), data)
	if kind := domain.KindOf(err); kind != domain.KindExtractionUnsupported {
		t.Fatalf("expected %s, got %q (%v)", domain.KindExtractionUnsupported, kind, err)
	}
}

func TestPDF_TruncatedWithEncryptTextIsMalformed(t *testing.T) {
	data := buildPDF(t, []string{"see the /Encrypt entry of the trailer"}, "")
	truncated := data[:bytes.Index(data, []byte("xref"))]

	_, err := NewPDF(PDFConfig{Logger: testLogger()}).Extract(context.Background(), truncated)
	if kind := domain.KindOf(err); kind != domain.KindMalformedDocument {
		t.Fatalf("expected %s, got %q (%v)", domain.KindMalformedDocument, kind, err)
	}
}

func TestDeclaresEncryption(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"encrypt trailer", buildPDF(t, []string{"x"}, encryptTrailer), true},
		{"plain", buildPDF(t, []string{"x"}, ""), false},
		{"marker in page text", buildPDF(t, []string{"/Encrypt"}, ""), false},
		{"no startxref", []byte("%PDF-1.4\n<< /Encrypt 5 0 R >>"), false},
	}
	for _, tt := range tests {
		if got := declaresEncryption(tt.data); got != tt.want {
			t.Errorf("%s: declaresEncryption = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPDF_PageLimit(t *testing.T) {
	data := buildPDF(t, []string{"a", "b", "c"}, "")

	_, err := NewPDF(PDFConfig{MaxPages: 2, Logger: testLogger()}).Extract(context.Background(), data)
	if kind := domain.KindOf(err); kind != domain.KindExtractionUnsupported {
		t.Fatalf("expected %s, got %q (%v)", domain.KindExtractionUnsupported, kind, err)
	}
}

func TestPDF_CancelledContext(t *testing.T) {
	data := buildPDF(t, []string{"Hello"}, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewPDF(PDFConfig{Logger: testLogger()}).Extract(ctx, data); err == nil {
		t.Fatal("expected context error")
	}
}

func TestHasPDFHeader(t *testing.T) {
	if !hasPDFHeader([]byte("%PDF-1.7\n")) {
		t.Error("expected header at offset 0")
	}
	if !hasPDFHeader(append([]byte("junk\n"), []byte("%PDF-1.4")...)) {
		t.Error("expected header within the first KB")
	}
	late := append(make([]byte, 2048), []byte("%PDF-1.4")...)
	if hasPDFHeader(late) {
		t.Error("header past the first KB should not count")
	}
}
