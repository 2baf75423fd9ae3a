package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docbot/internal/domain"
)

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	return 1, p.err
}

func (p *recordingPruner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestNewJanitorValidates(t *testing.T) {
	p := &recordingPruner{}
	tests := []struct {
		name string
		cfg  JanitorConfig
	}{
		{"no store", JanitorConfig{Retention: time.Hour, Schedule: "@every 1h"}},
		{"no retention", JanitorConfig{Store: p, Schedule: "@every 1h"}},
		{"bad schedule", JanitorConfig{Store: p, Retention: time.Hour, Schedule: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewJanitor(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestJanitorRunOnceCutoff(t *testing.T) {
	p := &recordingPruner{}
	j, err := NewJanitor(JanitorConfig{Store: p, Retention: 48 * time.Hour, Schedule: "0 3 * * *", Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	if _, err := j.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := now.Add(-48 * time.Hour); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}

	p.err = errors.New("disk full")
	if _, err := j.RunOnce(context.Background()); err == nil {
		t.Error("expected prune error to be returned")
	}
}

func TestJanitorRunPrunesAtStartAndStops(t *testing.T) {
	p := &recordingPruner{}
	j, err := NewJanitor(JanitorConfig{Store: p, Retention: time.Hour, Schedule: "@every 1h", Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.calls() != 1 {
		t.Fatalf("prune calls = %d, want 1", p.calls())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestJanitorWithSQLiteStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	old := time.Now().Add(-72 * time.Hour)
	for _, at := range []time.Time{old, time.Now()} {
		if err := s.RecordExtraction(ctx, domain.ExtractionRecord{
			EventID: "e", SenderID: "u", Status: domain.StatusOK, CreatedAt: at,
		}); err != nil {
			t.Fatal(err)
		}
	}

	j, err := NewJanitor(JanitorConfig{Store: s, Retention: 24 * time.Hour, Schedule: "@every 1h", Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	n, err := j.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
}
