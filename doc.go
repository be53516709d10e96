// Package fedtrain implements a single-process federated training
// orchestrator for the fundraising success predictor.
//
// A run partitions a tabular dataset across N simulated clients, trains a
// private replica of the global model on each shard, and merges the
// replicas with sample-count-weighted federated averaging over R rounds.
// The converged parameters and the feature scaler are then persisted
// atomically to a versioned directory that serving components read.
//
// # Basic Usage
//
// Configure and run a training simulation:
//
//	cfg := fedtrain.DefaultOrchestratorConfig()
//	cfg.Training.DatasetPath = "dataset.csv"
//	cfg.Store.Dir = "models"
//
//	orch, err := fedtrain.NewOrchestrator(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer orch.Close()
//
//	state, err := orch.Run(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("final loss after %d rounds: %.4f\n",
//	    state.Round, state.History[len(state.History)-1].Loss)
//
// Serve predictions from the persisted bundle:
//
//	store, _ := fedtrain.NewModelStore(cfg.Store)
//	predictor, err := fedtrain.LoadPredictor(store)
//	if errors.Is(err, fedtrain.ErrModelNotFound) {
//	    // no training run has completed yet
//	}
//
// # Determinism
//
// Every source of randomness (weight initialization, shuffling, the
// held-out split, dropout) derives from the configured seed, so two runs
// with the same seed, config, and dataset produce identical parameters,
// whether clients execute sequentially or in parallel.
package fedtrain
