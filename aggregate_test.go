package fedtrain

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestAggregateIdentity(t *testing.T) {
	arch := DefaultArchitecture()
	params := arch.InitParameters(rand.New(rand.NewSource(11)))

	out, err := Aggregate([]ClientUpdate{{ClientID: 0, Params: params, SampleCount: 40, Loss: 0.5}})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !paramsEqual(out, params) {
		t.Fatal("single-client aggregate should return the client's parameters unchanged")
	}
}

func TestAggregateEqualWeightsIsMean(t *testing.T) {
	arch := Architecture{InputSize: 2, HiddenSizes: []int{2}}
	a := arch.InitParameters(rand.New(rand.NewSource(1)))
	b := arch.InitParameters(rand.New(rand.NewSource(2)))

	out, err := Aggregate([]ClientUpdate{
		{ClientID: 0, Params: a, SampleCount: 10},
		{ClientID: 1, Params: b, SampleCount: 10},
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	for i := range out.Tensors {
		for j := range out.Tensors[i].Data {
			want := (a.Tensors[i].Data[j] + b.Tensors[i].Data[j]) / 2
			if math.Abs(out.Tensors[i].Data[j]-want) > 1e-12 {
				t.Fatalf("tensor %d value %d: got %v, want %v", i, j, out.Tensors[i].Data[j], want)
			}
		}
	}
}

func TestAggregateWeighting(t *testing.T) {
	arch := Architecture{InputSize: 1, HiddenSizes: []int{1}}
	a := arch.InitParameters(rand.New(rand.NewSource(1)))
	b := a.Clone()
	for _, tensor := range a.Tensors {
		for j := range tensor.Data {
			tensor.Data[j] = 0
		}
	}
	for _, tensor := range b.Tensors {
		for j := range tensor.Data {
			tensor.Data[j] = 1
		}
	}

	out, err := Aggregate([]ClientUpdate{
		{ClientID: 0, Params: a, SampleCount: 30},
		{ClientID: 1, Params: b, SampleCount: 10},
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	for _, tensor := range out.Tensors {
		for _, v := range tensor.Data {
			if math.Abs(v-0.25) > 1e-12 {
				t.Fatalf("weighted mean of 0 (w=30) and 1 (w=10) should be 0.25, got %v", v)
			}
		}
	}
}

func TestAggregateSkipsEmptyShards(t *testing.T) {
	arch := Architecture{InputSize: 1, HiddenSizes: []int{1}}
	trained := arch.InitParameters(rand.New(rand.NewSource(3)))
	stale := arch.InitParameters(rand.New(rand.NewSource(4)))

	out, err := Aggregate([]ClientUpdate{
		{ClientID: 0, Params: trained, SampleCount: 5},
		{ClientID: 1, Params: stale, SampleCount: 0},
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !paramsEqual(out, trained) {
		t.Fatal("zero-sample update must not influence the aggregate")
	}
}

func TestAggregateNoContributors(t *testing.T) {
	arch := Architecture{InputSize: 1, HiddenSizes: []int{1}}
	p := arch.InitParameters(rand.New(rand.NewSource(1)))

	_, err := Aggregate([]ClientUpdate{
		{ClientID: 0, Params: p, SampleCount: 0},
		{ClientID: 1, Params: p.Clone(), SampleCount: 0},
	})
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("expected aggregation error, got %v", err)
	}

	if _, err := Aggregate(nil); !errors.Is(err, ErrAggregation) {
		t.Fatalf("expected aggregation error for empty input, got %v", err)
	}
}

func TestAggregateShapeMismatch(t *testing.T) {
	a := Architecture{InputSize: 2, HiddenSizes: []int{2}}.InitParameters(rand.New(rand.NewSource(1)))
	b := Architecture{InputSize: 2, HiddenSizes: []int{3}}.InitParameters(rand.New(rand.NewSource(1)))

	_, err := Aggregate([]ClientUpdate{
		{ClientID: 0, Params: a, SampleCount: 5},
		{ClientID: 1, Params: b, SampleCount: 5},
	})
	var aggErr *AggregationError
	if !errors.As(err, &aggErr) {
		t.Fatalf("expected *AggregationError, got %v", err)
	}
}

func TestWeightedLoss(t *testing.T) {
	updates := []ClientUpdate{
		{SampleCount: 30, Loss: 1.0},
		{SampleCount: 10, Loss: 2.0},
		{SampleCount: 0, Loss: 99},
	}
	got := WeightedLoss(updates)
	want := (30*1.0 + 10*2.0) / 40
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("weighted loss = %v, want %v", got, want)
	}
	if WeightedLoss(nil) != 0 {
		t.Fatal("weighted loss of no updates should be 0")
	}
}
