package fedtrain

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the fedtrain package.
var (
	// ErrConfig is returned for invalid training configuration.
	ErrConfig = errors.New("invalid training configuration")

	// ErrDataset is returned when the input dataset is missing or malformed.
	ErrDataset = errors.New("invalid dataset")

	// ErrPartition is returned for invalid partition requests.
	ErrPartition = errors.New("invalid partition request")

	// ErrAggregation is returned when a round produces no usable client
	// contributions or structurally incompatible updates.
	ErrAggregation = errors.New("aggregation failed")

	// ErrPersistence is returned when writing or reading model artifacts fails.
	ErrPersistence = errors.New("model persistence failed")

	// ErrModelNotFound is returned when no persisted model exists yet.
	// Consumers should treat it as "not trained yet", not as a crash.
	ErrModelNotFound = errors.New("no persisted model")
)

// ConfigError reports an invalid configuration value. Invalid values are
// never clamped; the run refuses to start instead.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// DatasetError reports a problem with the input feature table.
type DatasetError struct {
	Path    string
	Message string
	Cause   error
}

func (e *DatasetError) Error() string {
	if e.Path != "" {
		if e.Cause != nil {
			return fmt.Sprintf("dataset %s: %s: %v", e.Path, e.Message, e.Cause)
		}
		return fmt.Sprintf("dataset %s: %s", e.Path, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("dataset: %s: %v", e.Message, e.Cause)
	}
	return "dataset: " + e.Message
}

func (e *DatasetError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for DatasetError.
func (e *DatasetError) Is(target error) bool {
	return target == ErrDataset
}

// PartitionError reports an invalid client/record combination.
type PartitionError struct {
	Clients int
	Records int
	Message string
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %d records across %d clients: %s", e.Records, e.Clients, e.Message)
}

// Is implements error matching for PartitionError.
func (e *PartitionError) Is(target error) bool {
	return target == ErrPartition
}

// AggregationError reports a failed federated-averaging step. The round it
// belongs to does not mutate the global model.
type AggregationError struct {
	Round   int
	Message string
}

func (e *AggregationError) Error() string {
	if e.Round > 0 {
		return fmt.Sprintf("aggregation round %d: %s", e.Round, e.Message)
	}
	return "aggregation: " + e.Message
}

// Is implements error matching for AggregationError.
func (e *AggregationError) Is(target error) bool {
	return target == ErrAggregation
}

// PersistenceError reports an artifact I/O failure. It is recoverable: the
// in-memory model state remains valid and the save may be retried.
type PersistenceError struct {
	Path    string
	Message string
	Cause   error
}

func (e *PersistenceError) Error() string {
	if e.Path != "" {
		if e.Cause != nil {
			return fmt.Sprintf("persistence %s: %s: %v", e.Path, e.Message, e.Cause)
		}
		return fmt.Sprintf("persistence %s: %s", e.Path, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("persistence: %s: %v", e.Message, e.Cause)
	}
	return "persistence: " + e.Message
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
