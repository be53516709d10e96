package fedtrain

// Aggregate performs federated averaging over one round's client updates:
// for every tensor position, the sample-count-weighted mean
//
//	aggregated = Σ(sampleCount_k × param_k) / Σ(sampleCount_k)
//
// over updates with a positive sample count. Clients with more local data
// pull the global model proportionally harder. Updates from empty shards
// carry zero weight and are skipped rather than polluting the mean.
//
// It fails with an AggregationError when no update trained on any data
// this round, or when parameter shapes disagree across updates; either is
// a structural fault and the caller must not mutate the global model.
func Aggregate(updates []ClientUpdate) (ModelParameters, error) {
	contributors := make([]ClientUpdate, 0, len(updates))
	totalSamples := 0
	for _, u := range updates {
		if u.SampleCount > 0 {
			contributors = append(contributors, u)
			totalSamples += u.SampleCount
		}
	}
	if totalSamples == 0 {
		return ModelParameters{}, &AggregationError{Message: "no client contributed training samples"}
	}

	ref := contributors[0].Params
	for _, u := range contributors[1:] {
		if !u.Params.SameShape(ref) {
			return ModelParameters{}, &AggregationError{
				Message: "parameter shape mismatch between client updates",
			}
		}
	}

	aggregated := ref.Clone()
	for _, t := range aggregated.Tensors {
		clear(t.Data)
	}

	for _, u := range contributors {
		weight := float64(u.SampleCount) / float64(totalSamples)
		for ti, t := range u.Params.Tensors {
			dst := aggregated.Tensors[ti].Data
			for i, v := range t.Data {
				dst[i] += weight * v
			}
		}
	}

	return aggregated, nil
}

// WeightedLoss returns the sample-count-weighted mean of the clients'
// final local losses, the aggregate loss reported per round.
func WeightedLoss(updates []ClientUpdate) float64 {
	totalSamples := 0
	for _, u := range updates {
		totalSamples += u.SampleCount
	}
	if totalSamples == 0 {
		return 0
	}
	var loss float64
	for _, u := range updates {
		loss += u.Loss * float64(u.SampleCount) / float64(totalSamples)
	}
	return loss
}
