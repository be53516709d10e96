package fedtrain

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func openTestHistory(t *testing.T) *RunHistory {
	t.Helper()
	h, err := OpenRunHistory(HistoryConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRunHistoryLifecycle(t *testing.T) {
	h := openTestHistory(t)

	cfg := DefaultTrainingConfig()
	cfg.Rounds = 2
	key, err := h.BeginRun("run-test-1", cfg)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if key == 0 {
		t.Fatal("run key should be non-zero")
	}

	metrics := []RoundMetrics{
		{Round: 1, Loss: 0.68, Accuracy: 0.55, Clients: 4, Duration: 120 * time.Millisecond},
		{Round: 2, Loss: 0.61, Accuracy: 0.70, Clients: 4, Duration: 110 * time.Millisecond},
	}
	for _, m := range metrics {
		if err := h.RecordRound(key, m); err != nil {
			t.Fatalf("record round %d: %v", m.Round, err)
		}
	}
	if err := h.CompleteRun(key, 0.61); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rounds, err := h.Rounds(key)
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("got %d rounds, want 2", len(rounds))
	}
	for i, m := range rounds {
		want := metrics[i]
		if m.Round != want.Round || m.Loss != want.Loss || m.Accuracy != want.Accuracy || m.Clients != want.Clients {
			t.Fatalf("round %d = %+v, want %+v", i+1, m, want)
		}
	}

	last, err := h.LastRun()
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if last == nil || last.RunID != "run-test-1" {
		t.Fatalf("last run = %+v", last)
	}
	if !last.Completed || last.FinalLoss != 0.61 {
		t.Fatalf("completion not recorded: %+v", last)
	}
	if last.Config.Rounds != 2 {
		t.Fatalf("config did not round-trip: %+v", last.Config)
	}
}

func TestRunHistoryEmpty(t *testing.T) {
	h := openTestHistory(t)

	last, err := h.LastRun()
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if last != nil {
		t.Fatalf("empty history should return nil, got %+v", last)
	}

	rounds, err := h.Rounds(123)
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if len(rounds) != 0 {
		t.Fatalf("unknown run should have no rounds, got %d", len(rounds))
	}
}

func TestRunHistoryCloseIdempotent(t *testing.T) {
	h := openTestHistory(t)
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

// TestRunRecordsHistory runs the orchestrator with history enabled and
// checks the rows it leaves behind.
func TestRunRecordsHistory(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Training.Rounds = 2
	cfg.Training.LocalEpochs = 1
	cfg.History = HistoryConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "history.db"),
	}

	orch, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	orch.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := orch.RunWithTable(context.Background(), makeSeparableTable(40, 8)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := orch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	h, err := OpenRunHistory(cfg.History)
	if err != nil {
		t.Fatalf("reopen history: %v", err)
	}
	defer h.Close()

	last, err := h.LastRun()
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if last == nil || last.RunID != orch.RunID() || !last.Completed {
		t.Fatalf("last run = %+v", last)
	}
	rounds, err := h.Rounds(last.ID)
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("got %d recorded rounds, want 2", len(rounds))
	}
}
