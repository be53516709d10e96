package fedtrain

// EvalMetrics summarizes classifier quality on a labeled slice at the 0.5
// decision threshold. Undefined ratios (no predicted or actual positives)
// evaluate to 0 rather than NaN.
type EvalMetrics struct {
	Loss      float64 `json:"loss"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Evaluate scores a parameter set on the given slice with dropout
// inactive. An empty slice yields zero metrics.
func Evaluate(arch Architecture, params ModelParameters, features [][]float64, labels []float64) (EvalMetrics, error) {
	var m EvalMetrics
	if len(features) == 0 {
		return m, nil
	}

	net, err := newNetwork(arch, params)
	if err != nil {
		return m, err
	}

	var tp, fp, tn, fn int
	for i, row := range features {
		p := net.infer(row)
		m.Loss += bceLoss(p, labels[i])

		predicted := p > 0.5
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && !actual:
			tn++
		default:
			fn++
		}
	}

	n := float64(len(features))
	m.Loss /= n
	m.Accuracy = float64(tp+tn) / n
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}
