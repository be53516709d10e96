package fedtrain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

// FeatureColumns is the fixed input schema of the fundraising dataset, in
// model input order.
var FeatureColumns = []string{
	"TeamExperience",
	"PitchQuality",
	"TokenomicsScore",
	"Traction",
	"CommunityEngagement",
	"PreviousFunding",
	"RaiseSuccessProb",
}

// LabelColumn is the binary target column.
const LabelColumn = "SuccessLabel"

// NumFeatures is the model input width.
const NumFeatures = 7

// FeatureTable is an ordered set of fixed-width feature vectors with a
// binary label per record. Every vector has length NumFeatures in
// FeatureColumns order; labels are 0 or 1.
type FeatureTable struct {
	Features [][]float64
	Labels   []float64
}

// Len returns the number of records.
func (t *FeatureTable) Len() int {
	return len(t.Features)
}

// LoadFeatureTable reads a CSV feature table and validates it against the
// expected schema. Columns may appear in any order as long as all seven
// feature columns and the label column are present. Any value that cannot
// be coerced to a number fails the whole load; no training starts on a
// partially valid dataset.
func LoadFeatureTable(path string) (*FeatureTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DatasetError{Path: path, Message: "cannot open", Cause: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, &DatasetError{Path: path, Message: "cannot read header", Cause: err}
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[strings.TrimSpace(name)] = i
	}

	featureIdx := make([]int, NumFeatures)
	for i, name := range FeatureColumns {
		idx, ok := colIndex[name]
		if !ok {
			return nil, &DatasetError{Path: path, Message: fmt.Sprintf("missing feature column %q", name)}
		}
		featureIdx[i] = idx
	}
	labelIdx, ok := colIndex[LabelColumn]
	if !ok {
		return nil, &DatasetError{Path: path, Message: fmt.Sprintf("missing label column %q", LabelColumn)}
	}

	table := &FeatureTable{}
	line := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DatasetError{Path: path, Message: fmt.Sprintf("malformed row %d", line+1), Cause: err}
		}
		line++

		row := make([]float64, NumFeatures)
		for i, idx := range featureIdx {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
			if err != nil {
				return nil, &DatasetError{
					Path:    path,
					Message: fmt.Sprintf("row %d column %q: non-numeric value %q", line, FeatureColumns[i], record[idx]),
				}
			}
			row[i] = v
		}

		label, err := strconv.ParseFloat(strings.TrimSpace(record[labelIdx]), 64)
		if err != nil {
			return nil, &DatasetError{
				Path:    path,
				Message: fmt.Sprintf("row %d column %q: non-numeric value %q", line, LabelColumn, record[labelIdx]),
			}
		}
		if label != 0 && label != 1 {
			return nil, &DatasetError{
				Path:    path,
				Message: fmt.Sprintf("row %d column %q: label must be 0 or 1, got %g", line, LabelColumn, label),
			}
		}

		table.Features = append(table.Features, row)
		table.Labels = append(table.Labels, label)
	}

	return table, nil
}

// splitHoldout reserves a fraction of records for evaluation. The held-out
// membership is drawn from a seeded permutation so runs are reproducible.
// A fraction of 0 returns the full table for training and an empty
// held-out slice.
func splitHoldout(table *FeatureTable, fraction float64, seed int64) (train, holdout *FeatureTable) {
	m := table.Len()
	k := int(float64(m) * fraction)
	if k <= 0 {
		return table, &FeatureTable{}
	}

	perm := rand.New(rand.NewSource(seed)).Perm(m)

	train = &FeatureTable{
		Features: make([][]float64, 0, m-k),
		Labels:   make([]float64, 0, m-k),
	}
	holdout = &FeatureTable{
		Features: make([][]float64, 0, k),
		Labels:   make([]float64, 0, k),
	}
	for i, idx := range perm {
		if i < k {
			holdout.Features = append(holdout.Features, table.Features[idx])
			holdout.Labels = append(holdout.Labels, table.Labels[idx])
		} else {
			train.Features = append(train.Features, table.Features[idx])
			train.Labels = append(train.Labels, table.Labels[idx])
		}
	}
	return train, holdout
}
