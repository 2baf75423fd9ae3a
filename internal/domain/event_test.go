package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestInboundEvent_Command(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"/start", "start"},
		{"  /Help extra args", "help"},
		{"/history@docbot", "history"},
		{"hello", ""},
		{"", ""},
	}
	for _, tt := range tests {
		ev := InboundEvent{Text: tt.text}
		if got := ev.Command(); got != tt.want {
			t.Errorf("Command(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestAttachment_Ext(t *testing.T) {
	a := &Attachment{FileName: "Lecture Notes.PDF"}
	if a.Ext() != "pdf" {
		t.Errorf("expected pdf, got %q", a.Ext())
	}
	if (&Attachment{FileName: "noext"}).Ext() != "" {
		t.Error("expected empty extension")
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("xref missing")
	err := fmt.Errorf("handle: %w", Malformed("cannot open PDF", cause))

	if KindOf(err) != KindMalformedDocument {
		t.Fatalf("expected malformed kind through wrapping, got %q", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable with errors.Is")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors carry no kind")
	}
	if KindOf(nil) != "" {
		t.Error("nil carries no kind")
	}
}
