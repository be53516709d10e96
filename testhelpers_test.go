package fedtrain

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// makeSeparableTable builds a balanced, strongly separable synthetic
// dataset: positives cluster at +3 and negatives at -3 on the first
// feature, with small noise elsewhere.
func makeSeparableTable(n int, seed int64) *FeatureTable {
	rng := rand.New(rand.NewSource(seed))
	table := &FeatureTable{
		Features: make([][]float64, n),
		Labels:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		label := float64(i % 2)
		row := make([]float64, NumFeatures)
		for j := range row {
			row[j] = rng.NormFloat64() * 0.3
		}
		if label == 1 {
			row[0] += 3
		} else {
			row[0] -= 3
		}
		table.Features[i] = row
		table.Labels[i] = label
	}
	return table
}

// zeroParams returns a parameter set of the default architecture with
// every value zeroed, so the network outputs exactly sigmoid(0) = 0.5.
func zeroParams() ModelParameters {
	params := DefaultArchitecture().InitParameters(rand.New(rand.NewSource(1)))
	for _, t := range params.Tensors {
		clear(t.Data)
	}
	return params
}

func paramsEqual(a, b ModelParameters) bool {
	if len(a.Tensors) != len(b.Tensors) {
		return false
	}
	for i := range a.Tensors {
		if !a.Tensors[i].SameShape(b.Tensors[i]) {
			return false
		}
		for j := range a.Tensors[i].Data {
			if a.Tensors[i].Data[j] != b.Tensors[i].Data[j] {
				return false
			}
		}
	}
	return true
}

func paramsFinite(t *testing.T, p ModelParameters) {
	t.Helper()
	for _, tensor := range p.Tensors {
		for _, v := range tensor.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("tensor %s contains non-finite value %v", tensor.Name, v)
			}
		}
	}
}

// writeCSV writes a dataset file with the canonical header into dir and
// returns its path.
func writeCSV(t *testing.T, dir string, table *FeatureTable) string {
	t.Helper()

	path := filepath.Join(dir, "dataset.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	defer f.Close()

	header := ""
	for _, c := range FeatureColumns {
		header += c + ","
	}
	header += LabelColumn + "\n"
	if _, err := f.WriteString(header); err != nil {
		t.Fatalf("write header: %v", err)
	}

	for i, row := range table.Features {
		line := ""
		for _, v := range row {
			line += fmt.Sprintf("%g,", v)
		}
		line += fmt.Sprintf("%g\n", table.Labels[i])
		if _, err := f.WriteString(line); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	return path
}
