package receiver

import (
	"context"
	"testing"
	"time"
)

func TestUsage_ExceededAndLeft(t *testing.T) {
	tests := []struct {
		u        Usage
		exceeded string
		left     int
	}{
		{Usage{Hour: 0, Day: 0, PerHour: 2, PerDay: 5}, "", 2},
		{Usage{Hour: 2, Day: 2, PerHour: 2, PerDay: 5}, "hour", 0},
		{Usage{Hour: 1, Day: 4, PerHour: 2, PerDay: 5}, "", 1},
		{Usage{Hour: 0, Day: 5, PerHour: 2, PerDay: 5}, "day", 0},
		{Usage{Hour: 9, Day: 9}, "", -1},
		{Usage{Hour: 3, Day: 3, PerDay: 5}, "", 2},
	}
	for _, tt := range tests {
		if got := tt.u.Exceeded(); got != tt.exceeded {
			t.Errorf("%+v: Exceeded() = %q, want %q", tt.u, got, tt.exceeded)
		}
		if got := tt.u.Left(); got != tt.left {
			t.Errorf("%+v: Left() = %d, want %d", tt.u, got, tt.left)
		}
	}
}

func TestQuota_MemoryWindows(t *testing.T) {
	q := NewQuota(QuotaConfig{PerHour: 2, PerDay: 3, Logger: testLogger()})
	now := time.Now()
	q.now = func() time.Time { return now }
	ctx := context.Background()

	q.Note("alice")
	q.Note("alice")
	if ok, u := q.Allow(ctx, "alice"); ok || u.Exceeded() != "hour" {
		t.Fatalf("expected hourly limit, got ok=%v usage=%+v", ok, u)
	}

	now = now.Add(61 * time.Minute)
	if ok, _ := q.Allow(ctx, "alice"); !ok {
		t.Fatal("hourly window should have rolled over")
	}
	q.Note("alice")
	if ok, u := q.Allow(ctx, "alice"); ok || u.Exceeded() != "day" {
		t.Fatalf("expected daily limit, got ok=%v usage=%+v", ok, u)
	}

	now = now.Add(24 * time.Hour)
	if ok, u := q.Allow(ctx, "alice"); !ok {
		t.Fatalf("daily window should have rolled over, usage=%+v", u)
	}
}

func TestQuota_Disabled(t *testing.T) {
	q := NewQuota(QuotaConfig{})
	if q.Enabled() {
		t.Fatal("zero limits should disable the quota")
	}
	for i := 0; i < 10; i++ {
		q.Note("alice")
	}
	if ok, _ := q.Allow(context.Background(), "alice"); !ok {
		t.Error("disabled quota must allow everything")
	}

	var nilQuota *Quota
	if nilQuota.Enabled() {
		t.Error("nil quota must be disabled")
	}
	nilQuota.Note("alice")
}
