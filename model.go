package fedtrain

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is one named parameter block of the network, stored row-major.
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Clone returns a deep copy of the tensor.
func (t Tensor) Clone() Tensor {
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return Tensor{Name: t.Name, Shape: shape, Data: data}
}

// SameShape reports whether two tensors are structurally compatible.
func (t Tensor) SameShape(other Tensor) bool {
	if len(t.Shape) != len(other.Shape) || len(t.Data) != len(other.Data) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// ModelParameters is an ordered collection of named tensors representing
// one instance of the network. Instances are structurally comparable only
// when derived from the same architecture.
type ModelParameters struct {
	Tensors []Tensor `json:"tensors"`
}

// Clone returns a deep copy suitable for handing to a client without
// sharing mutable state.
func (p ModelParameters) Clone() ModelParameters {
	tensors := make([]Tensor, len(p.Tensors))
	for i, t := range p.Tensors {
		tensors[i] = t.Clone()
	}
	return ModelParameters{Tensors: tensors}
}

// SameShape reports whether two parameter sets share the exact tensor
// layout.
func (p ModelParameters) SameShape(other ModelParameters) bool {
	if len(p.Tensors) != len(other.Tensors) {
		return false
	}
	for i := range p.Tensors {
		if !p.Tensors[i].SameShape(other.Tensors[i]) {
			return false
		}
	}
	return true
}

// NumValues returns the total scalar parameter count.
func (p ModelParameters) NumValues() int {
	n := 0
	for _, t := range p.Tensors {
		n += len(t.Data)
	}
	return n
}

// Architecture describes the fixed feed-forward network: input → hidden
// layers with ReLU (and dropout at training time) → single sigmoid output.
type Architecture struct {
	InputSize   int   `json:"input_size"`
	HiddenSizes []int `json:"hidden_sizes"`
}

// DefaultArchitecture is the fundraising predictor: 7 → 64 → 32 → 16 → 1.
func DefaultArchitecture() Architecture {
	return Architecture{
		InputSize:   NumFeatures,
		HiddenSizes: []int{64, 32, 16},
	}
}

// LayerSizes returns the full layer width sequence including the single
// output unit.
func (a Architecture) LayerSizes() []int {
	sizes := make([]int, 0, len(a.HiddenSizes)+2)
	sizes = append(sizes, a.InputSize)
	sizes = append(sizes, a.HiddenSizes...)
	return append(sizes, 1)
}

// NumLayers returns the number of linear layers.
func (a Architecture) NumLayers() int {
	return len(a.HiddenSizes) + 1
}

// InitParameters builds a fresh parameter set with Xavier-uniform weights
// and zero biases, drawn from the supplied generator. Seeding the
// generator fixes the initialization, which is what makes whole runs
// reproducible.
func (a Architecture) InitParameters(rng *rand.Rand) ModelParameters {
	sizes := a.LayerSizes()
	tensors := make([]Tensor, 0, 2*a.NumLayers())

	for l := 0; l < a.NumLayers(); l++ {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))

		weight := Tensor{
			Name:  fmt.Sprintf("layer%d.weight", l),
			Shape: []int{out, in},
			Data:  make([]float64, out*in),
		}
		for i := range weight.Data {
			weight.Data[i] = (rng.Float64()*2 - 1) * limit
		}

		bias := Tensor{
			Name:  fmt.Sprintf("layer%d.bias", l),
			Shape: []int{out},
			Data:  make([]float64, out),
		}

		tensors = append(tensors, weight, bias)
	}

	return ModelParameters{Tensors: tensors}
}

// newSeededRand builds an explicitly seeded generator; ambient global
// randomness is never used.
func newSeededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Matches reports whether a parameter set has this architecture's layout.
func (a Architecture) Matches(p ModelParameters) bool {
	if len(p.Tensors) != 2*a.NumLayers() {
		return false
	}
	sizes := a.LayerSizes()
	for l := 0; l < a.NumLayers(); l++ {
		in, out := sizes[l], sizes[l+1]
		w, b := p.Tensors[2*l], p.Tensors[2*l+1]
		if len(w.Shape) != 2 || w.Shape[0] != out || w.Shape[1] != in || len(w.Data) != out*in {
			return false
		}
		if len(b.Shape) != 1 || b.Shape[0] != out || len(b.Data) != out {
			return false
		}
	}
	return true
}
