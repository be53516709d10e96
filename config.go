package fedtrain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TrainingConfig defines a single federated training run. It is supplied
// once at orchestrator start and never mutated during a run.
type TrainingConfig struct {
	// Rounds is the number of federated rounds R. Must be >= 1.
	Rounds int `yaml:"rounds"`

	// LearningRate is the SGD step size for local training. Must be > 0.
	LearningRate float64 `yaml:"learning_rate"`

	// BatchSize is the local mini-batch size B. Must be >= 1.
	BatchSize int `yaml:"batch_size"`

	// Clients is the number of simulated participants N. Must be >= 1.
	Clients int `yaml:"clients"`

	// LocalEpochs is the number of full passes each client makes over its
	// shard per round. Must be >= 1.
	LocalEpochs int `yaml:"local_epochs"`

	// Seed drives every source of randomness in the run (weight init,
	// shuffling, held-out split, dropout). A value of 0 picks a
	// time-derived seed; the effective seed is logged so a run can still
	// be reproduced after the fact.
	Seed int64 `yaml:"seed"`

	// DatasetPath points at the delimited feature table.
	DatasetPath string `yaml:"dataset_path"`

	// HoldoutFraction is the share of records reserved before partitioning
	// for per-round evaluation. Must be in [0, 1).
	HoldoutFraction float64 `yaml:"holdout_fraction"`

	// Parallelism bounds how many local trainers run concurrently within a
	// round. 0 means one worker per CPU; 1 forces the sequential path.
	// Must be >= 0.
	Parallelism int `yaml:"parallelism"`

	// DropoutRate is applied after each hidden activation during local
	// training only. Must be in [0, 1).
	DropoutRate float64 `yaml:"dropout_rate"`
}

// DefaultTrainingConfig mirrors the defaults of the original trainer:
// 3 rounds, 3 clients, learning rate 0.001, batch size 32, one local epoch.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Rounds:          3,
		LearningRate:    0.001,
		BatchSize:       32,
		Clients:         3,
		LocalEpochs:     1,
		Seed:            42,
		HoldoutFraction: 0.2,
		Parallelism:     0,
		DropoutRate:     0.2,
	}
}

// Validate checks every hyperparameter once, before any resource is
// allocated. Out-of-range values fail with a descriptive ConfigError and
// are never silently clamped.
func (c TrainingConfig) Validate() error {
	if c.Rounds < 1 {
		return &ConfigError{Field: "rounds", Message: fmt.Sprintf("must be >= 1, got %d", c.Rounds)}
	}
	if c.LearningRate <= 0 {
		return &ConfigError{Field: "learning_rate", Message: fmt.Sprintf("must be > 0, got %g", c.LearningRate)}
	}
	if c.BatchSize < 1 {
		return &ConfigError{Field: "batch_size", Message: fmt.Sprintf("must be >= 1, got %d", c.BatchSize)}
	}
	if c.Clients < 1 {
		return &ConfigError{Field: "clients", Message: fmt.Sprintf("must be >= 1, got %d", c.Clients)}
	}
	if c.LocalEpochs < 1 {
		return &ConfigError{Field: "local_epochs", Message: fmt.Sprintf("must be >= 1, got %d", c.LocalEpochs)}
	}
	if c.HoldoutFraction < 0 || c.HoldoutFraction >= 1 {
		return &ConfigError{Field: "holdout_fraction", Message: fmt.Sprintf("must be in [0, 1), got %g", c.HoldoutFraction)}
	}
	if c.Parallelism < 0 {
		return &ConfigError{Field: "parallelism", Message: fmt.Sprintf("must be >= 0, got %d", c.Parallelism)}
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return &ConfigError{Field: "dropout_rate", Message: fmt.Sprintf("must be in [0, 1), got %g", c.DropoutRate)}
	}
	return nil
}

// effectiveSeed resolves Seed == 0 to a time-derived value.
func (c TrainingConfig) effectiveSeed() int64 {
	if c.Seed != 0 {
		return c.Seed
	}
	return time.Now().UnixNano()
}

// OrchestratorConfig bundles the training hyperparameters with the
// optional sinks a run can be wired to. Every sub-config carries its own
// Enabled flag; the zero value disables it.
type OrchestratorConfig struct {
	Training TrainingConfig `yaml:"training"`

	// Store configures local artifact persistence. If Dir is empty the
	// final model is not persisted (useful for experiments and tests).
	Store ModelStoreConfig `yaml:"store"`

	// History records runs and per-round metrics in SQLite.
	History HistoryConfig `yaml:"history"`

	// Stream broadcasts round events to WebSocket subscribers.
	Stream ProgressStreamConfig `yaml:"stream"`

	// RemoteWrite pushes per-round metrics to a Prometheus
	// remote-write endpoint.
	RemoteWrite RemoteWriteConfig `yaml:"remote_write"`

	// Publish uploads successfully persisted artifacts to S3.
	Publish S3PublisherConfig `yaml:"publish"`
}

// DefaultOrchestratorConfig returns a configuration with default
// hyperparameters and all optional sinks disabled.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Training: DefaultTrainingConfig(),
		Stream:   DefaultProgressStreamConfig(),
	}
}

// LoadOrchestratorConfig reads an OrchestratorConfig from a YAML file.
// Fields absent from the file keep their defaults; the result is validated
// before being returned.
func LoadOrchestratorConfig(path string) (OrchestratorConfig, error) {
	cfg := DefaultOrchestratorConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ConfigError{Field: "file", Message: fmt.Sprintf("read %s: %v", path, err)}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Field: "file", Message: fmt.Sprintf("parse %s: %v", path, err)}
	}
	if err := cfg.Training.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
