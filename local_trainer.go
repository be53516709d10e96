package fedtrain

import (
	"math/rand"
)

// ClientUpdate is one client's contribution for a single round: its
// post-training parameters, its shard size (the aggregation weight), and
// the mean loss over its final local epoch. Updates are consumed by the
// aggregator within the round and never persisted.
type ClientUpdate struct {
	ClientID    int
	Params      ModelParameters
	SampleCount int
	Loss        float64
}

// TrainLocal runs one client's local step: a fresh working copy of the
// global snapshot, LocalEpochs passes over the shard in mini-batches of
// BatchSize, plain SGD on binary cross-entropy. Dropout is active only
// here. The client's dropout and batch shuffling draw from a generator
// seeded by (run seed, client ID), so results do not depend on whether
// clients run sequentially or in parallel. The seed is used exactly as
// given; NewOrchestrator resolves a zero seed to a time-derived value
// once, before any client trains.
//
// An empty shard trains nothing: the update carries the input parameters
// unchanged with SampleCount 0 so it contributes zero weight downstream.
func TrainLocal(shard ClientShard, global ModelParameters, arch Architecture, cfg TrainingConfig) (ClientUpdate, error) {
	if shard.Len() == 0 {
		return ClientUpdate{
			ClientID:    shard.ClientID,
			Params:      global.Clone(),
			SampleCount: 0,
			Loss:        0,
		}, nil
	}

	net, err := newNetwork(arch, global)
	if err != nil {
		return ClientUpdate{}, err
	}

	rng := rand.New(rand.NewSource(clientSeed(cfg.Seed, shard.ClientID)))
	grads := newGradients(net)

	order := make([]int, shard.Len())
	for i := range order {
		order[i] = i
	}

	var finalEpochLoss float64
	for epoch := 0; epoch < cfg.LocalEpochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		var epochLoss float64
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := order[start:end]

			grads.reset()
			for _, idx := range batch {
				p, cache := net.forward(shard.Features[idx], rng, cfg.DropoutRate)
				epochLoss += bceLoss(p, shard.Labels[idx])
				net.backward(cache, p, shard.Labels[idx], grads)
			}
			net.applySGD(grads, cfg.LearningRate, len(batch))
		}
		finalEpochLoss = epochLoss / float64(shard.Len())
	}

	return ClientUpdate{
		ClientID:    shard.ClientID,
		Params:      net.parameters(),
		SampleCount: shard.Len(),
		Loss:        finalEpochLoss,
	}, nil
}

// clientSeed mixes the run seed with a client index so every client gets
// an independent but reproducible stream.
func clientSeed(seed int64, clientID int) int64 {
	return int64(uint64(seed) + uint64(clientID+1)*0x9E3779B97F4A7C15)
}
