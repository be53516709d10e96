package fedtrain

import (
	"fmt"
	"math"
	"math/rand"
)

// lossEpsilon keeps binary cross-entropy finite at saturated outputs.
const lossEpsilon = 1e-7

// network is a mutable working instance of the model. Each client builds
// its own from a parameter snapshot, so no tensor state is ever shared
// between concurrently training clients.
type network struct {
	arch    Architecture
	sizes   []int
	weights [][]float64 // per layer, row-major [out*in]
	biases  [][]float64 // per layer, [out]
}

// newNetwork materializes a network from a parameter set. The parameters
// are copied; the caller's tensors stay untouched.
func newNetwork(arch Architecture, params ModelParameters) (*network, error) {
	if !arch.Matches(params) {
		return nil, fmt.Errorf("parameters do not match architecture %v", arch.LayerSizes())
	}

	n := &network{
		arch:    arch,
		sizes:   arch.LayerSizes(),
		weights: make([][]float64, arch.NumLayers()),
		biases:  make([][]float64, arch.NumLayers()),
	}
	for l := 0; l < arch.NumLayers(); l++ {
		n.weights[l] = append([]float64(nil), params.Tensors[2*l].Data...)
		n.biases[l] = append([]float64(nil), params.Tensors[2*l+1].Data...)
	}
	return n, nil
}

// parameters exports the current weights as a fresh parameter set.
func (n *network) parameters() ModelParameters {
	tensors := make([]Tensor, 0, 2*n.arch.NumLayers())
	for l := 0; l < n.arch.NumLayers(); l++ {
		in, out := n.sizes[l], n.sizes[l+1]
		tensors = append(tensors,
			Tensor{
				Name:  fmt.Sprintf("layer%d.weight", l),
				Shape: []int{out, in},
				Data:  append([]float64(nil), n.weights[l]...),
			},
			Tensor{
				Name:  fmt.Sprintf("layer%d.bias", l),
				Shape: []int{out},
				Data:  append([]float64(nil), n.biases[l]...),
			},
		)
	}
	return ModelParameters{Tensors: tensors}
}

// forwardCache holds per-sample intermediate state needed by backward.
type forwardCache struct {
	inputs  [][]float64 // activation entering each layer (post-dropout)
	preacts [][]float64 // z values per layer
	masks   [][]float64 // dropout scale per hidden unit, nil at inference
}

// infer runs a forward pass with dropout inactive and returns the sigmoid
// output probability.
func (n *network) infer(x []float64) float64 {
	out, _ := n.forward(x, nil, 0)
	return out
}

// forward runs one sample through the network. When rng is non-nil,
// inverted dropout with the given rate is applied after each hidden ReLU;
// this path is used only during local training.
func (n *network) forward(x []float64, rng *rand.Rand, dropout float64) (float64, *forwardCache) {
	layers := n.arch.NumLayers()
	cache := &forwardCache{
		inputs:  make([][]float64, layers),
		preacts: make([][]float64, layers),
		masks:   make([][]float64, layers),
	}

	a := x
	for l := 0; l < layers; l++ {
		in, out := n.sizes[l], n.sizes[l+1]
		cache.inputs[l] = a

		z := make([]float64, out)
		w := n.weights[l]
		for i := 0; i < out; i++ {
			sum := n.biases[l][i]
			row := w[i*in : (i+1)*in]
			for j, v := range a {
				sum += row[j] * v
			}
			z[i] = sum
		}
		cache.preacts[l] = z

		if l == layers-1 {
			return sigmoid(z[0]), cache
		}

		next := make([]float64, out)
		for i, v := range z {
			if v > 0 {
				next[i] = v
			}
		}

		if rng != nil && dropout > 0 {
			keep := 1 - dropout
			mask := make([]float64, out)
			for i := range mask {
				if rng.Float64() < keep {
					mask[i] = 1 / keep
					next[i] *= mask[i]
				} else {
					next[i] = 0
				}
			}
			cache.masks[l] = mask
		}

		a = next
	}

	// LayerSizes always ends in a width-1 output layer, so the loop
	// returns before falling through.
	return 0, cache
}

// gradients accumulates parameter gradients with the same layout as the
// network's weights.
type gradients struct {
	weights [][]float64
	biases  [][]float64
}

func newGradients(n *network) *gradients {
	g := &gradients{
		weights: make([][]float64, len(n.weights)),
		biases:  make([][]float64, len(n.biases)),
	}
	for l := range n.weights {
		g.weights[l] = make([]float64, len(n.weights[l]))
		g.biases[l] = make([]float64, len(n.biases[l]))
	}
	return g
}

func (g *gradients) reset() {
	for l := range g.weights {
		clear(g.weights[l])
		clear(g.biases[l])
	}
}

// backward accumulates gradients for one sample given its forward cache
// and the predicted probability. The combined sigmoid + cross-entropy
// derivative at the output is simply p - y.
func (n *network) backward(cache *forwardCache, p, y float64, g *gradients) {
	layers := n.arch.NumLayers()

	delta := []float64{p - y}
	for l := layers - 1; l >= 0; l-- {
		in := n.sizes[l]
		out := n.sizes[l+1]
		a := cache.inputs[l]

		for i := 0; i < out; i++ {
			g.biases[l][i] += delta[i]
			row := g.weights[l][i*in : (i+1)*in]
			for j, v := range a {
				row[j] += delta[i] * v
			}
		}

		if l == 0 {
			break
		}

		// Propagate through the previous layer's dropout and ReLU.
		prev := make([]float64, in)
		w := n.weights[l]
		for j := 0; j < in; j++ {
			var sum float64
			for i := 0; i < out; i++ {
				sum += w[i*in+j] * delta[i]
			}
			if mask := cache.masks[l-1]; mask != nil {
				sum *= mask[j]
			}
			if cache.preacts[l-1][j] <= 0 {
				sum = 0
			}
			prev[j] = sum
		}
		delta = prev
	}
}

// applySGD takes one gradient-descent step with gradients averaged over
// batchSize samples.
func (n *network) applySGD(g *gradients, lr float64, batchSize int) {
	scale := lr / float64(batchSize)
	for l := range n.weights {
		for i, v := range g.weights[l] {
			n.weights[l][i] -= scale * v
		}
		for i, v := range g.biases[l] {
			n.biases[l][i] -= scale * v
		}
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// bceLoss is the binary cross-entropy between a predicted probability and
// a {0,1} label, clamped away from the log singularities.
func bceLoss(p, y float64) float64 {
	if p < lossEpsilon {
		p = lossEpsilon
	} else if p > 1-lossEpsilon {
		p = 1 - lossEpsilon
	}
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}
