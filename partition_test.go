package fedtrain

import (
	"errors"
	"fmt"
	"testing"
)

func TestPartitionExhaustive(t *testing.T) {
	table := makeSeparableTable(103, 9)
	shards, err := Partition(table, PartitionOptions{Clients: 4, Seed: 42})
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	if len(shards) != 4 {
		t.Fatalf("expected 4 shards, got %d", len(shards))
	}

	total := 0
	seen := make(map[string]int)
	for _, s := range shards {
		total += s.Len()
		for i, row := range s.Features {
			key := rowKey(row, s.Labels[i])
			seen[key]++
		}
	}
	if total != 103 {
		t.Fatalf("shard sizes sum to %d, want 103", total)
	}

	for i, row := range table.Features {
		key := rowKey(row, table.Labels[i])
		if seen[key] == 0 {
			t.Fatalf("record %d missing from all shards", i)
		}
		seen[key]--
	}
}

func rowKey(row []float64, label float64) string {
	return fmt.Sprintf("%v|%v", row, label)
}

func TestPartitionShardSizes(t *testing.T) {
	table := makeSeparableTable(100, 3)
	shards, err := Partition(table, PartitionOptions{Clients: 4, Seed: 1})
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	for i, s := range shards {
		if s.Len() != 25 {
			t.Fatalf("shard %d has %d records, want 25", i, s.Len())
		}
		if s.ClientID != i {
			t.Fatalf("shard %d carries client id %d", i, s.ClientID)
		}
	}

	// Remainder spreads one extra record over the first M%N shards.
	table = makeSeparableTable(10, 3)
	shards, err = Partition(table, PartitionOptions{Clients: 3, Seed: 1})
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	want := []int{4, 3, 3}
	for i, s := range shards {
		if s.Len() != want[i] {
			t.Fatalf("shard %d has %d records, want %d", i, s.Len(), want[i])
		}
	}
}

func TestPartitionDeterministic(t *testing.T) {
	table := makeSeparableTable(50, 5)
	a, err := Partition(table, PartitionOptions{Clients: 3, Seed: 7})
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	b, err := Partition(table, PartitionOptions{Clients: 3, Seed: 7})
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	for i := range a {
		if a[i].Len() != b[i].Len() {
			t.Fatalf("shard %d sizes differ: %d vs %d", i, a[i].Len(), b[i].Len())
		}
		for j := range a[i].Features {
			if a[i].Labels[j] != b[i].Labels[j] {
				t.Fatalf("shard %d row %d labels differ", i, j)
			}
			for k := range a[i].Features[j] {
				if a[i].Features[j][k] != b[i].Features[j][k] {
					t.Fatalf("shard %d row %d differs between runs", i, j)
				}
			}
		}
	}

	c, err := Partition(table, PartitionOptions{Clients: 3, Seed: 8})
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	same := true
	for j := range a[0].Features {
		if j >= len(c[0].Features) || a[0].Labels[j] != c[0].Labels[j] {
			same = false
			break
		}
		for k := range a[0].Features[j] {
			if a[0].Features[j][k] != c[0].Features[j][k] {
				same = false
			}
		}
	}
	if same {
		t.Fatal("different seeds produced identical first shard")
	}
}

func TestPartitionMoreClientsThanRecords(t *testing.T) {
	table := makeSeparableTable(2, 1)
	shards, err := Partition(table, PartitionOptions{Clients: 5, Seed: 1})
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	nonEmpty := 0
	for _, s := range shards {
		if s.Len() > 0 {
			nonEmpty++
		}
	}
	if nonEmpty != 2 {
		t.Fatalf("expected 2 non-empty shards, got %d", nonEmpty)
	}

	_, err = Partition(table, PartitionOptions{Clients: 5, Seed: 1, RequireNonEmpty: true})
	if !errors.Is(err, ErrPartition) {
		t.Fatalf("expected partition error, got %v", err)
	}
	var perr *PartitionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PartitionError, got %T", err)
	}
	if perr.Clients != 5 || perr.Records != 2 {
		t.Fatalf("unexpected error detail: %+v", perr)
	}
}

func TestPartitionInvalidClients(t *testing.T) {
	table := makeSeparableTable(10, 1)
	for _, n := range []int{0, -1} {
		if _, err := Partition(table, PartitionOptions{Clients: n}); !errors.Is(err, ErrPartition) {
			t.Fatalf("clients=%d: expected partition error, got %v", n, err)
		}
	}
}
