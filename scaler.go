package fedtrain

import (
	"fmt"
	"math"
)

// StandardScaler standardizes features to zero mean and unit variance. It
// is fit once on the full table before partitioning so every client, and
// later the serving side, sees the same feature space.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-feature mean and population standard deviation.
// Constant features get a divisor of 1 so they pass through unscaled
// instead of producing NaN.
func FitScaler(features [][]float64) (*StandardScaler, error) {
	if len(features) == 0 {
		return nil, &DatasetError{Message: "cannot fit scaler on empty table"}
	}

	width := len(features[0])
	mean := make([]float64, width)
	std := make([]float64, width)

	for _, row := range features {
		if len(row) != width {
			return nil, &DatasetError{Message: fmt.Sprintf("ragged row: expected %d features, got %d", width, len(row))}
		}
		for i, v := range row {
			mean[i] += v
		}
	}
	n := float64(len(features))
	for i := range mean {
		mean[i] /= n
	}

	for _, row := range features {
		for i, v := range row {
			d := v - mean[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / n)
		if std[i] == 0 {
			std[i] = 1
		}
	}

	return &StandardScaler{Mean: mean, Std: std}, nil
}

// NumFeatures returns the width the scaler was fit on.
func (s *StandardScaler) NumFeatures() int {
	return len(s.Mean)
}

// TransformRow standardizes a single feature vector into a new slice.
func (s *StandardScaler) TransformRow(row []float64) ([]float64, error) {
	if len(row) != len(s.Mean) {
		return nil, &DatasetError{Message: fmt.Sprintf("expected %d features, got %d", len(s.Mean), len(row))}
	}
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out, nil
}

// Transform standardizes a feature matrix into a new matrix; the input is
// left untouched.
func (s *StandardScaler) Transform(features [][]float64) ([][]float64, error) {
	out := make([][]float64, len(features))
	for i, row := range features {
		scaled, err := s.TransformRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
