package fedtrain

import (
	"fmt"
	"math/rand"
)

// ClientShard is one simulated participant's disjoint slice of the
// feature table. Shards reference the table's rows; they never copy or
// mutate record contents, only membership.
type ClientShard struct {
	ClientID int
	Features [][]float64
	Labels   []float64
}

// Len returns the shard's record count, which doubles as its aggregation
// weight.
func (s ClientShard) Len() int {
	return len(s.Features)
}

// PartitionOptions controls how the table is split across clients.
type PartitionOptions struct {
	// Clients is the number of shards N to produce. Must be >= 1.
	Clients int

	// Seed drives the uniform shuffle so partitions are reproducible.
	Seed int64

	// RequireNonEmpty fails the partition when N exceeds the record
	// count instead of producing trailing empty shards.
	RequireNonEmpty bool
}

// Partition splits the table into N disjoint, jointly exhaustive shards:
// a seeded uniform shuffle of the row order followed by a contiguous
// as-equal-as-possible split. Shard sizes differ by at most one record,
// with the first M%N shards one record larger. When N exceeds the record
// count the trailing shards are empty unless RequireNonEmpty is set.
func Partition(table *FeatureTable, opts PartitionOptions) ([]ClientShard, error) {
	n := opts.Clients
	m := table.Len()

	if n <= 0 {
		return nil, &PartitionError{Clients: n, Records: m, Message: "client count must be >= 1"}
	}
	if opts.RequireNonEmpty && n > m {
		return nil, &PartitionError{Clients: n, Records: m, Message: "more clients than records"}
	}

	perm := rand.New(rand.NewSource(opts.Seed)).Perm(m)

	base := m / n
	extra := m % n

	shards := make([]ClientShard, n)
	offset := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		shard := ClientShard{
			ClientID: i,
			Features: make([][]float64, 0, size),
			Labels:   make([]float64, 0, size),
		}
		for _, idx := range perm[offset : offset+size] {
			shard.Features = append(shard.Features, table.Features[idx])
			shard.Labels = append(shard.Labels, table.Labels[idx])
		}
		shards[i] = shard
		offset += size
	}

	if offset != m {
		// Unreachable unless the size arithmetic above regresses.
		return nil, &PartitionError{Clients: n, Records: m, Message: fmt.Sprintf("assigned %d of %d records", offset, m)}
	}

	return shards, nil
}
