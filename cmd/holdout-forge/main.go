package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/cpuid/v2"

	"holdout-forge/internal/chart"
	"holdout-forge/internal/config"
	"holdout-forge/internal/dataset"
	"holdout-forge/internal/loss"
	"holdout-forge/internal/model"
	"holdout-forge/internal/optim"
	"holdout-forge/internal/trainer"
	"holdout-forge/internal/web"
)

const (
	syntheticValidFrac = 0.2
	predictSamples     = 5
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	source := flag.String("source", "", "Dataset source: synthetic, idx or shards")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of shard loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N training batches")
	lr := flag.Float64("lr", 0, "Learning rate")
	optimizer := flag.String("optimizer", "", "Optimizer: sgd or adam")
	hidden := flag.String("hidden", "", "Comma separated hidden layer widths")
	dropout := flag.Float64("dropout", 0, "Dropout probability; 0 disables dropout")
	momentum := flag.Float64("momentum", 0, "SGD momentum")
	plotDir := flag.String("plot-dir", "", "Directory for loss and accuracy plots")
	httpAddr := flag.String("http", "", "Serve live progress on this address")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	hiddenWidths, err := config.ParseHidden(*hidden)
	if err != nil {
		log.Fatalf("invalid -hidden: %v", err)
	}
	set := setFlags()
	var dropoutOverride, momentumOverride *float64
	if set["dropout"] {
		dropoutOverride = dropout
	}
	if set["momentum"] {
		momentumOverride = momentum
	}
	cfg.ApplyOverrides(config.Overrides{
		Source:       *source,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		NumWorkers:   *numWorkers,
		Seed:         *seed,
		LogEvery:     *logEvery,
		LearningRate: *lr,
		Optimizer:    *optimizer,
		Hidden:       hiddenWidths,
		Dropout:      dropoutOverride,
		Momentum:     momentumOverride,
		PlotDir:      *plotDir,
		HTTPAddr:     *httpAddr,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = cpuid.CPU.LogicalCores
	}
	log.Printf("cpu=%q logical_cores=%d avx2=%t fma3=%t num_workers=%d",
		cpuid.CPU.BrandName,
		cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.AVX2),
		cpuid.CPU.Supports(cpuid.FMA3),
		cfg.NumWorkers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	train, valid, inputs, err := buildLoaders(cfg)
	if err != nil {
		log.Fatalf("build loaders: %v", err)
	}

	net, err := model.NewMLP(model.MLPConfig{
		Inputs:  inputs,
		Hidden:  cfg.Hidden,
		Classes: cfg.Classes,
		Dropout: cfg.Dropout,
		Seed:    cfg.Seed,
	})
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	opt, err := newOptimizer(cfg.Optimizer, net.Params(), cfg.LearningRate, cfg.Momentum)
	if err != nil {
		log.Fatalf("build optimizer: %v", err)
	}
	log.Printf("model inputs=%d hidden=%v classes=%d dropout=%.2f optimizer=%s lr=%g",
		inputs, cfg.Hidden, cfg.Classes, cfg.Dropout, cfg.Optimizer, cfg.LearningRate)

	baseLoss, baseAcc, err := trainer.Evaluate(ctx, net, loss.NLL{}, valid)
	if err != nil {
		log.Fatalf("baseline validation failed: %v", err)
	}
	log.Printf("untrained valid_loss=%.3f accuracy=%.3f chance=%.3f", baseLoss, baseAcc, 1/float64(cfg.Classes))

	plots := &chart.Recorder{}
	reporters := trainer.MultiReporter{trainer.LogReporter{Epochs: cfg.Epochs}, plots}

	var srv *http.Server
	var live *web.Server
	if cfg.HTTPAddr != "" {
		live = web.NewServer(plots)
		reporters = append(reporters, live)
		srv = &http.Server{Addr: cfg.HTTPAddr, Handler: live.Handler()}
		go func() {
			log.Printf("serving progress on http://%s", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server: %v", err)
			}
		}()
	}

	history, err := trainer.Run(ctx, trainer.RunConfig{
		Model:     net,
		Loss:      loss.NLL{},
		Optimizer: opt,
		Train:     train,
		Valid:     valid,
		Epochs:    cfg.Epochs,
		LogEvery:  cfg.LogEvery,
		Reporter:  reporters,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("completed epochs=%d", len(history))

	if cfg.PlotDir != "" && len(history) > 0 {
		paths, err := plots.Save(cfg.PlotDir, "png")
		if err != nil {
			log.Fatalf("save plots: %v", err)
		}
		log.Printf("plots=%v", paths)
	}

	if err := showPredictions(ctx, net, valid); err != nil {
		log.Printf("predict: %v", err)
	}

	if srv != nil {
		if ctx.Err() == nil {
			log.Printf("training finished; serving results until interrupted")
			<-ctx.Done()
		}
		live.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}
}

// setFlags reports which flags were given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// newOptimizer returns the optimizer called name ("sgd" or "adam").
func newOptimizer(name string, params []*model.Param, lr, momentum float64) (trainer.Optimizer, error) {
	switch strings.ToLower(name) {
	case "sgd":
		sgd, err := optim.NewSGD(params, lr, momentum)
		if err != nil {
			return nil, err
		}
		return sgd, nil
	case "adam":
		adam, err := optim.NewAdam(params, lr)
		if err != nil {
			return nil, err
		}
		return adam, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

// buildLoaders returns the training and validation loaders of the configured
// source and the feature count of an example.
func buildLoaders(cfg *config.Config) (train, valid dataset.Loader, features int, err error) {
	switch cfg.Source {
	case config.SourceSynthetic:
		examples := dataset.Gaussian(dataset.GaussianConfig{
			Examples: cfg.SyntheticExamples,
			Features: cfg.SyntheticFeatures,
			Classes:  cfg.Classes,
			Seed:     cfg.Seed,
		})
		trainSet, validSet := dataset.Split(examples, syntheticValidFrac, cfg.Seed)
		log.Printf("source=synthetic train=%d valid=%d", len(trainSet), len(validSet))
		train, valid, err = memoryLoaders(trainSet, validSet, cfg)
		return train, valid, cfg.SyntheticFeatures, err

	case config.SourceIDX:
		trainSet, err := dataset.LoadIDX(cfg.TrainImages, cfg.TrainLabels)
		if err != nil {
			return nil, nil, 0, err
		}
		validSet, err := dataset.LoadIDX(cfg.ValidImages, cfg.ValidLabels)
		if err != nil {
			return nil, nil, 0, err
		}
		if len(trainSet) == 0 {
			return nil, nil, 0, fmt.Errorf("no examples in %s", cfg.TrainImages)
		}
		log.Printf("source=idx train=%d valid=%d", len(trainSet), len(validSet))
		train, valid, err = memoryLoaders(trainSet, validSet, cfg)
		return train, valid, len(trainSet[0].Features), err

	case config.SourceShards:
		trainLoader, err := shardLoader(cfg.TrainRoots, cfg, cfg.Seed)
		if err != nil {
			return nil, nil, 0, err
		}
		validLoader, err := shardLoader(cfg.ValidRoots, cfg, cfg.Seed+1)
		if err != nil {
			return nil, nil, 0, err
		}
		return trainLoader, validLoader, cfg.FeatureGrid * cfg.FeatureGrid, nil

	default:
		return nil, nil, 0, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

func memoryLoaders(trainSet, validSet []dataset.Example, cfg *config.Config) (dataset.Loader, dataset.Loader, error) {
	train, err := dataset.NewMemoryLoader(trainSet, cfg.BatchSize, true, cfg.Seed)
	if err != nil {
		return nil, nil, err
	}
	valid, err := dataset.NewMemoryLoader(validSet, cfg.BatchSize, false, cfg.Seed)
	if err != nil {
		return nil, nil, err
	}
	return train, valid, nil
}

func shardLoader(roots []string, cfg *config.Config, seed int64) (*dataset.ShardLoader, error) {
	l, err := dataset.NewShardLoader(dataset.ShardOptions{
		Roots:      roots,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Seed:       seed,
		Grid:       cfg.FeatureGrid,
	})
	if err != nil {
		return nil, err
	}
	for root, n := range l.Shards() {
		log.Printf("root=%s shards=%d", root, n)
	}
	return l, nil
}

// showPredictions logs the predicted class distribution of the first few
// validation examples.
func showPredictions(ctx context.Context, m model.Model, valid dataset.Loader) error {
	it, err := valid.Iterate(ctx)
	if err != nil {
		return err
	}
	defer it.Close()
	batch, err := it.Next()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	n := min(predictSamples, batch.Len())
	preds, err := trainer.Predict(m, batch.Inputs[:n])
	if err != nil {
		return err
	}
	for i, p := range preds {
		log.Printf("sample=%d label=%d predicted=%d p=%.3f", i, batch.Labels[i], p.Class, p.Probs[p.Class])
	}
	return nil
}
