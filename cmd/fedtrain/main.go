// Command fedtrain runs a federated training simulation over a tabular
// dataset and persists the converged model for serving.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/superpage-ml/fedtrain"
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config file; flags override its values")
		dataPath    = flag.String("data", "", "path to the training dataset CSV")
		outDir      = flag.String("out", "models", "artifact output directory (empty disables persistence)")
		rounds      = flag.Int("rounds", 3, "number of federated rounds")
		clients     = flag.Int("clients", 3, "number of simulated clients")
		lr          = flag.Float64("lr", 0.001, "learning rate")
		batchSize   = flag.Int("batch-size", 32, "local mini-batch size")
		localEpochs = flag.Int("local-epochs", 1, "local epochs per round")
		seed        = flag.Int64("seed", 42, "random seed (0 picks a time-derived seed)")
		parallelism = flag.Int("parallelism", 0, "concurrent local trainers (0 = one per CPU)")
		historyPath = flag.String("history", "", "SQLite run-history database (empty disables)")
		streamAddr  = flag.String("stream-addr", "", "serve live progress over WebSocket at this address (empty disables)")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := fedtrain.DefaultOrchestratorConfig()
	if *configPath != "" {
		loaded, err := fedtrain.LoadOrchestratorConfig(*configPath)
		if err != nil {
			logger.Error("config load failed", "path", *configPath, "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.Training.DatasetPath = *dataPath
		case "rounds":
			cfg.Training.Rounds = *rounds
		case "clients":
			cfg.Training.Clients = *clients
		case "lr":
			cfg.Training.LearningRate = *lr
		case "batch-size":
			cfg.Training.BatchSize = *batchSize
		case "local-epochs":
			cfg.Training.LocalEpochs = *localEpochs
		case "seed":
			cfg.Training.Seed = *seed
		case "parallelism":
			cfg.Training.Parallelism = *parallelism
		case "out":
			cfg.Store.Dir = *outDir
		case "history":
			cfg.History.Enabled = *historyPath != ""
			cfg.History.Path = *historyPath
		case "stream-addr":
			cfg.Stream.Enabled = *streamAddr != ""
		}
	})
	if cfg.Training.DatasetPath == "" {
		fmt.Fprintln(os.Stderr, "fedtrain: -data or a config file with training.dataset_path is required")
		flag.Usage()
		os.Exit(2)
	}
	if cfg.Store.Dir == "" && *outDir != "" && !flagWasSet("out") {
		cfg.Store.Dir = *outDir
	}

	orch, err := fedtrain.NewOrchestrator(cfg)
	if err != nil {
		logger.Error("orchestrator setup failed", "err", err)
		os.Exit(1)
	}
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *streamAddr != "" && orch.Hub() != nil {
		mux := http.NewServeMux()
		mux.Handle("/progress", orch.Hub())
		srv := &http.Server{Addr: *streamAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("progress stream server failed", "err", err)
			}
		}()
		defer srv.Close()
		logger.Info("progress stream listening", "addr", *streamAddr)
	}

	state, err := orch.Run(ctx)
	if err != nil {
		logger.Error("training failed", "err", err)
		os.Exit(1)
	}

	final := state.History[len(state.History)-1]
	logger.Info("training finished",
		"run_id", orch.RunID(),
		"rounds", state.Round,
		"loss", final.Loss,
		"accuracy", final.Accuracy)
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
