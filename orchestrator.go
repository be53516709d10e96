package fedtrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// RunState is the round controller's lifecycle state.
type RunState int

const (
	// StateInitialized means the global model exists but no round has run.
	StateInitialized RunState = iota
	// StateTraining means local trainers are working on the current round.
	StateTraining
	// StateAggregating means the round's updates are being averaged.
	StateAggregating
	// StateCompleted means all configured rounds finished.
	StateCompleted
	// StateFailed means the run halted on an error or cancellation.
	StateFailed
)

// String returns a human-readable state name.
func (s RunState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateTraining:
		return "training"
	case StateAggregating:
		return "aggregating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// RoundMetrics is the per-round observability record: the sample-weighted
// aggregate of the clients' final local losses, plus accuracy on the
// held-out slice when one is configured.
type RoundMetrics struct {
	Round    int           `json:"round"`
	Loss     float64       `json:"loss"`
	Accuracy float64       `json:"accuracy"`
	Clients  int           `json:"clients"`
	Duration time.Duration `json:"duration"`
}

// GlobalModelState is the single authoritative model: parameters advanced
// exactly once per round, the round counter, and the metric history.
type GlobalModelState struct {
	Params  ModelParameters
	Round   int
	History []RoundMetrics
}

// Orchestrator drives a full federated training run: load, scale, hold
// out, partition, then R rounds of distribute → local-train → aggregate,
// and finally persistence of the converged model.
type Orchestrator struct {
	cfg    OrchestratorConfig
	arch   Architecture
	seed   int64
	runID  string
	logger *slog.Logger

	store     *ModelStore
	history   *RunHistory
	hub       *ProgressHub
	remote    *RemoteWriteClient
	publisher *S3Publisher

	mu     sync.RWMutex
	state  RunState
	global *GlobalModelState
	scaler *StandardScaler
}

// NewOrchestrator validates the configuration and wires up the configured
// sinks. Validation failures surface before any resource is allocated.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.Training.Validate(); err != nil {
		return nil, err
	}

	// Resolve a zero seed once so every component of the run, including
	// per-client generators, derives from the same value.
	cfg.Training.Seed = cfg.Training.effectiveSeed()

	o := &Orchestrator{
		cfg:    cfg,
		arch:   DefaultArchitecture(),
		seed:   cfg.Training.Seed,
		runID:  fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102-150405.000")),
		logger: slog.Default(),
		state:  StateInitialized,
	}

	if cfg.Store.Dir != "" {
		store, err := NewModelStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		o.store = store
	}
	if cfg.History.Enabled {
		history, err := OpenRunHistory(cfg.History)
		if err != nil {
			return nil, err
		}
		o.history = history
	}
	if cfg.Stream.Enabled {
		o.hub = NewProgressHub(cfg.Stream)
	}
	if cfg.RemoteWrite.Enabled {
		remote, err := NewRemoteWriteClient(cfg.RemoteWrite)
		if err != nil {
			return nil, err
		}
		o.remote = remote
	}
	if cfg.Publish.Enabled {
		publisher, err := NewS3Publisher(cfg.Publish)
		if err != nil {
			return nil, err
		}
		o.publisher = publisher
	}

	return o, nil
}

// SetLogger replaces the orchestrator's logger. Call before Run.
func (o *Orchestrator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// State returns the current controller state.
func (o *Orchestrator) State() RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// RunID identifies this run in history records and metric labels.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Hub exposes the progress stream for HTTP mounting, or nil when the
// stream is disabled.
func (o *Orchestrator) Hub() *ProgressHub {
	return o.hub
}

// Scaler returns the feature scaler fit during Run, or nil before it.
func (o *Orchestrator) Scaler() *StandardScaler {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.scaler
}

// GlobalState returns the current global model state, or nil before Run.
// The returned parameters are a deep copy.
func (o *Orchestrator) GlobalState() *GlobalModelState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.global == nil {
		return nil
	}
	history := make([]RoundMetrics, len(o.global.History))
	copy(history, o.global.History)
	return &GlobalModelState{
		Params:  o.global.Params.Clone(),
		Round:   o.global.Round,
		History: history,
	}
}

// Close releases the orchestrator's sinks. The persisted model, if any,
// is unaffected.
func (o *Orchestrator) Close() error {
	var firstErr error
	if o.history != nil {
		if err := o.history.Close(); err != nil {
			firstErr = err
		}
	}
	if o.hub != nil {
		o.hub.Close()
	}
	return firstErr
}

// Run loads the configured dataset and executes the full training run.
func (o *Orchestrator) Run(ctx context.Context) (*GlobalModelState, error) {
	table, err := LoadFeatureTable(o.cfg.Training.DatasetPath)
	if err != nil {
		o.fail()
		return nil, err
	}
	return o.RunWithTable(ctx, table)
}

// RunWithTable executes the full training run on an in-memory table. On
// success the returned state is the converged global model after exactly
// R rounds; when persistence is configured it has also been saved and, if
// so configured, published. A PersistenceError return still carries a
// valid state: the run converged and the caller may retry SaveModel.
func (o *Orchestrator) RunWithTable(ctx context.Context, table *FeatureTable) (*GlobalModelState, error) {
	cfg := o.cfg.Training
	start := time.Now()

	o.logger.Info("starting federated run",
		"run_id", o.runID,
		"records", table.Len(),
		"rounds", cfg.Rounds,
		"clients", cfg.Clients,
		"learning_rate", cfg.LearningRate,
		"batch_size", cfg.BatchSize,
		"local_epochs", cfg.LocalEpochs,
		"seed", o.seed)

	scaler, err := FitScaler(table.Features)
	if err != nil {
		o.fail()
		return nil, err
	}
	scaled, err := scaler.Transform(table.Features)
	if err != nil {
		o.fail()
		return nil, err
	}
	scaledTable := &FeatureTable{Features: scaled, Labels: table.Labels}

	trainTable, holdout := splitHoldout(scaledTable, cfg.HoldoutFraction, o.seed+1)

	shards, err := Partition(trainTable, PartitionOptions{Clients: cfg.Clients, Seed: o.seed + 2})
	if err != nil {
		o.fail()
		return nil, err
	}

	global := &GlobalModelState{
		Params: o.arch.InitParameters(newSeededRand(o.seed)),
	}

	o.mu.Lock()
	o.scaler = scaler
	o.global = global
	o.state = StateInitialized
	o.mu.Unlock()

	runKey := o.recordRunStart()

	for round := 1; round <= cfg.Rounds; round++ {
		// Cancellation is honored only at the round boundary; the last
		// completed round's state stays intact.
		if err := ctx.Err(); err != nil {
			o.fail()
			return nil, err
		}

		metrics, err := o.runRound(ctx, round, global, shards, holdout)
		if err != nil {
			o.fail()
			return nil, err
		}

		global.Round = round
		global.History = append(global.History, metrics)

		o.logger.Info("round completed",
			"run_id", o.runID,
			"round", round,
			"rounds", cfg.Rounds,
			"loss", metrics.Loss,
			"accuracy", metrics.Accuracy,
			"clients", metrics.Clients,
			"duration", metrics.Duration)

		o.emitRound(ctx, runKey, metrics)
	}

	o.mu.Lock()
	o.state = StateCompleted
	o.mu.Unlock()

	o.recordRunEnd(runKey, global)

	o.logger.Info("federated run completed",
		"run_id", o.runID,
		"rounds", global.Round,
		"final_loss", finalLoss(global),
		"duration", time.Since(start))

	if o.store != nil {
		if err := o.SaveModel(); err != nil {
			return o.GlobalState(), err
		}
	}

	return o.GlobalState(), nil
}

// runRound executes one distribute → local-train → aggregate cycle. The
// global state is mutated only on success; any failure leaves it exactly
// as the previous round left it.
func (o *Orchestrator) runRound(ctx context.Context, round int, global *GlobalModelState, shards []ClientShard, holdout *FeatureTable) (RoundMetrics, error) {
	o.setState(StateTraining)
	roundStart := time.Now()

	// Read-only snapshot distributed to every client; each trainer makes
	// its own working copy, so nothing here is shared mutable state.
	snapshot := global.Params.Clone()

	active := make([]ClientShard, 0, len(shards))
	for _, s := range shards {
		if s.Len() > 0 {
			active = append(active, s)
		}
	}

	updates := make([]ClientUpdate, len(active))
	errs := make([]error, len(active))

	workers := o.cfg.Training.Parallelism
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(active) {
		workers = len(active)
	}

	if workers <= 1 {
		for i, shard := range active {
			updates[i], errs[i] = TrainLocal(shard, snapshot, o.arch, o.cfg.Training)
		}
	} else {
		var wg sync.WaitGroup
		work := make(chan int)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range work {
					updates[i], errs[i] = TrainLocal(active[i], snapshot, o.arch, o.cfg.Training)
				}
			}()
		}
		for i := range active {
			work <- i
		}
		close(work)
		// Barrier: the aggregator needs every client's update; a slow
		// client is waited for, never dropped.
		wg.Wait()
	}

	for i, err := range errs {
		if err != nil {
			return RoundMetrics{}, fmt.Errorf("client %d round %d: %w", active[i].ClientID, round, err)
		}
	}

	o.setState(StateAggregating)

	aggregated, err := Aggregate(updates)
	if err != nil {
		var aggErr *AggregationError
		if errors.As(err, &aggErr) {
			aggErr.Round = round
		}
		return RoundMetrics{}, err
	}

	metrics := RoundMetrics{
		Round:    round,
		Loss:     WeightedLoss(updates),
		Clients:  len(updates),
		Duration: time.Since(roundStart),
	}
	if holdout.Len() > 0 {
		eval, err := Evaluate(o.arch, aggregated, holdout.Features, holdout.Labels)
		if err != nil {
			return RoundMetrics{}, err
		}
		metrics.Accuracy = eval.Accuracy
	}

	// All-or-nothing: the swap is the only global mutation in the round.
	global.Params = aggregated

	return metrics, nil
}

// SaveModel persists the current global state and scaler through the
// configured store, then publishes the artifacts if a publisher is
// configured. Persistence failures are retryable; in-memory state is
// never invalidated by them.
func (o *Orchestrator) SaveModel() error {
	if o.store == nil {
		return &PersistenceError{Message: "no model store configured"}
	}

	o.mu.RLock()
	global := o.global
	scaler := o.scaler
	o.mu.RUnlock()

	if global == nil || scaler == nil {
		return &PersistenceError{Message: "nothing to save: run has not produced a model"}
	}

	if err := o.store.Save(global, scaler); err != nil {
		return err
	}
	o.logger.Info("model persisted", "run_id", o.runID, "dir", o.store.VersionDir())

	if o.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Publish.timeout())
		defer cancel()
		if err := o.publisher.PublishDir(ctx, o.store.VersionDir(), o.cfg.Store.version()); err != nil {
			o.logger.Warn("artifact publish failed", "run_id", o.runID, "err", err)
			return err
		}
		o.logger.Info("artifacts published", "run_id", o.runID, "bucket", o.cfg.Publish.Bucket)
	}

	return nil
}

func (o *Orchestrator) setState(s RunState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) fail() {
	o.setState(StateFailed)
}

// recordRunStart begins a history row; sinks are best-effort and never
// fail the run.
func (o *Orchestrator) recordRunStart() int64 {
	if o.history == nil {
		return 0
	}
	id, err := o.history.BeginRun(o.runID, o.cfg.Training)
	if err != nil {
		o.logger.Warn("history begin failed", "run_id", o.runID, "err", err)
		return 0
	}
	return id
}

func (o *Orchestrator) recordRunEnd(runKey int64, global *GlobalModelState) {
	if o.history == nil || runKey == 0 {
		return
	}
	if err := o.history.CompleteRun(runKey, finalLoss(global)); err != nil {
		o.logger.Warn("history complete failed", "run_id", o.runID, "err", err)
	}
}

// emitRound fans a round's metrics out to every configured sink.
func (o *Orchestrator) emitRound(ctx context.Context, runKey int64, m RoundMetrics) {
	if o.history != nil && runKey != 0 {
		if err := o.history.RecordRound(runKey, m); err != nil {
			o.logger.Warn("history record failed", "run_id", o.runID, "round", m.Round, "err", err)
		}
	}
	if o.hub != nil {
		o.hub.Publish(RoundEvent{
			RunID:     o.runID,
			Round:     m.Round,
			Rounds:    o.cfg.Training.Rounds,
			Loss:      m.Loss,
			Accuracy:  m.Accuracy,
			State:     o.State().String(),
			Timestamp: time.Now(),
		})
	}
	if o.remote != nil {
		if err := o.remote.PushRound(ctx, o.runID, m); err != nil {
			o.logger.Warn("remote write failed", "run_id", o.runID, "round", m.Round, "err", err)
		}
	}
}

func finalLoss(global *GlobalModelState) float64 {
	if len(global.History) == 0 {
		return 0
	}
	return global.History[len(global.History)-1].Loss
}
