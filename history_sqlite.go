package fedtrain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// SQLite driver using pure Go implementation.
	_ "modernc.org/sqlite"
)

// HistoryConfig configures the SQLite run-history store.
type HistoryConfig struct {
	// Enabled turns history recording on.
	Enabled bool `yaml:"enabled"`

	// Path to the SQLite database file. Default: "fedtrain_history.db".
	Path string `yaml:"path"`

	// BusyTimeout is the lock acquisition timeout in milliseconds.
	// Default: 5000.
	BusyTimeout int `yaml:"busy_timeout"`
}

// RunRecord is one training run's history row.
type RunRecord struct {
	ID        int64
	RunID     string
	StartedAt time.Time
	EndedAt   time.Time
	Config    TrainingConfig
	FinalLoss float64
	Completed bool
}

// RunHistory records runs and their per-round metrics in SQLite so past
// convergence behavior stays queryable with standard tools.
type RunHistory struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// OpenRunHistory opens (and if needed initializes) the history database.
func OpenRunHistory(cfg HistoryConfig) (*RunHistory, error) {
	if cfg.Path == "" {
		cfg.Path = "fedtrain_history.db"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	h := &RunHistory{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *RunHistory) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			config TEXT NOT NULL,
			final_loss REAL,
			completed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_key INTEGER NOT NULL REFERENCES runs(id),
			round INTEGER NOT NULL,
			loss REAL NOT NULL,
			accuracy REAL NOT NULL,
			clients INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL,
			PRIMARY KEY (run_key, round)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id)`,
	}
	for _, stmt := range schema {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("init history schema: %w", err)
		}
	}
	return nil
}

// BeginRun inserts a run row and returns its key.
func (h *RunHistory) BeginRun(runID string, cfg TrainingConfig) (int64, error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("encode run config: %w", err)
	}

	res, err := h.db.Exec(
		`INSERT INTO runs (run_id, started_at, config) VALUES (?, ?, ?)`,
		runID, time.Now().UnixMilli(), string(configJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// RecordRound appends one round's metrics to a run.
func (h *RunHistory) RecordRound(runKey int64, m RoundMetrics) error {
	_, err := h.db.Exec(
		`INSERT INTO rounds (run_key, round, loss, accuracy, clients, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runKey, m.Round, m.Loss, m.Accuracy, m.Clients, m.Duration.Milliseconds(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert round %d: %w", m.Round, err)
	}
	return nil
}

// CompleteRun marks a run finished with its final aggregate loss.
func (h *RunHistory) CompleteRun(runKey int64, finalLoss float64) error {
	_, err := h.db.Exec(
		`UPDATE runs SET ended_at = ?, final_loss = ?, completed = 1 WHERE id = ?`,
		time.Now().UnixMilli(), finalLoss, runKey,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Rounds returns a run's recorded metrics in round order.
func (h *RunHistory) Rounds(runKey int64) ([]RoundMetrics, error) {
	rows, err := h.db.Query(
		`SELECT round, loss, accuracy, clients, duration_ms FROM rounds WHERE run_key = ? ORDER BY round`,
		runKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundMetrics
	for rows.Next() {
		var m RoundMetrics
		var durationMS int64
		if err := rows.Scan(&m.Round, &m.Loss, &m.Accuracy, &m.Clients, &durationMS); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		m.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastRun returns the most recently started run, or nil when the history
// is empty.
func (h *RunHistory) LastRun() (*RunRecord, error) {
	row := h.db.QueryRow(
		`SELECT id, run_id, started_at, COALESCE(ended_at, 0), config, COALESCE(final_loss, 0), completed
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	)

	var rec RunRecord
	var started, ended int64
	var configJSON string
	var completed int
	if err := row.Scan(&rec.ID, &rec.RunID, &started, &ended, &configJSON, &rec.FinalLoss, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query last run: %w", err)
	}
	rec.StartedAt = time.UnixMilli(started)
	if ended > 0 {
		rec.EndedAt = time.UnixMilli(ended)
	}
	rec.Completed = completed == 1
	if err := json.Unmarshal([]byte(configJSON), &rec.Config); err != nil {
		return nil, fmt.Errorf("decode run config: %w", err)
	}
	return &rec, nil
}

// Close closes the underlying database.
func (h *RunHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.db.Close()
}
