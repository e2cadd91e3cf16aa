package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v2"

	"github.com/kotoba-ml/kotoba/internal/autodiff"
	"github.com/kotoba-ml/kotoba/internal/backend/cpu"
	"github.com/kotoba-ml/kotoba/internal/checkpoint"
	"github.com/kotoba-ml/kotoba/internal/config"
	"github.com/kotoba-ml/kotoba/internal/dataset"
	"github.com/kotoba-ml/kotoba/internal/embedder"
	"github.com/kotoba-ml/kotoba/internal/encoder"
	"github.com/kotoba-ml/kotoba/internal/pairgen"
	"github.com/kotoba-ml/kotoba/internal/tokenizer"
	"github.com/kotoba-ml/kotoba/internal/trainer"
)

func main() {
	app := &cli.App{
		Name:  "kotoba",
		Usage: "Fine-tune a sentence embedding model on dialogue pairs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file (defaults apply if omitted)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "prepare",
				Usage:  "Generate contrastive pair datasets from a conversation corpus",
				Action: prepareCommand,
			},
			{
				Name:   "train",
				Usage:  "Fine-tune the embedder on prepared datasets",
				Action: trainCommand,
			},
			{
				Name:   "export",
				Usage:  "Validate the best checkpoint and write its manifest",
				Action: exportCommand,
			},
			{
				Name:   "pipeline",
				Usage:  "Run prepare, train, export, and a smoke test in sequence",
				Action: pipelineCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func loadConfig(c *cli.Context) (config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

// buildModel assembles tokenizer, encoder, and projection head with
// weights seeded from the config.
func buildModel(cfg config.Config) (*embedder.SentenceEmbedder, *autodiff.Backend, error) {
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(cfg.Seed))

	tok, err := tokenizer.NewTikToken(cfg.Model.Encoding)
	if err != nil {
		return nil, nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	enc, err := encoder.New(encoder.Config{
		VocabSize: tok.VocabSize(),
		HiddenDim: cfg.Model.HiddenDim,
		FFNDim:    cfg.Model.FFNDim,
		NumLayers: cfg.Model.EncoderLayers,
	}, backend, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("building encoder: %w", err)
	}

	model, err := embedder.New(tok, enc, embedder.Config{
		EmbeddingDim:     cfg.Model.EmbeddingDim,
		ProjectionHidden: cfg.Model.ProjectionHidden,
		Dropout:          cfg.Model.Dropout,
		MaxLen:           cfg.Model.MaxLen,
	}, backend, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("building embedder: %w", err)
	}
	return model, backend, nil
}

func datasetPath(cfg config.Config, split string) string {
	return filepath.Join(cfg.Data.OutputDir, split+".csv")
}

func prepareCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	corpus, err := pairgen.LoadCorpus(cfg.Data.CorpusPath)
	if err != nil {
		return err
	}

	gen := pairgen.New(cfg.Seed)
	pairs, err := gen.Generate(corpus)
	if err != nil {
		return err
	}
	train, val, test := gen.Split(pairs, pairgen.SplitRatios{
		Train:      cfg.Data.TrainRatio,
		Validation: cfg.Data.ValRatio,
	})

	if err := os.MkdirAll(cfg.Data.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for _, part := range []struct {
		name  string
		pairs []dataset.ContrastivePair
	}{
		{"train", train},
		{"val", val},
		{"test", test},
	} {
		path := datasetPath(cfg, part.name)
		if err := dataset.SaveCSV(path, part.pairs); err != nil {
			return fmt.Errorf("writing %s split: %w", part.name, err)
		}
		slog.Info("wrote dataset split", "split", part.name, "pairs", len(part.pairs), "path", path)
	}
	return nil
}

func trainCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return runTraining(c.Context, cfg)
}

func runTraining(ctx context.Context, cfg config.Config) error {
	trainPairs, err := dataset.LoadCSV(datasetPath(cfg, "train"))
	if err != nil {
		return fmt.Errorf("training data missing, run prepare first: %w", err)
	}
	valPairs, err := dataset.LoadCSV(datasetPath(cfg, "val"))
	if err != nil {
		return fmt.Errorf("validation data missing, run prepare first: %w", err)
	}

	model, backend, err := buildModel(cfg)
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(cfg.Training.CheckpointPath)
	if err != nil {
		return err
	}

	tr, err := trainer.New(model, store, trainer.Config{
		Epochs:       cfg.Training.Epochs,
		BatchSize:    cfg.Training.BatchSize,
		LearningRate: cfg.Training.LearningRate,
		Temperature:  cfg.Training.Temperature,
		Unfreeze: trainer.UnfreezePolicy{
			TriggerEpoch: cfg.Training.UnfreezeEpoch,
			LastLayers:   cfg.Training.UnfreezeLayers,
		},
		PrefetchDepth: cfg.Training.PrefetchDepth,
	}, backend)
	if err != nil {
		return err
	}

	result, err := tr.Run(ctx, trainPairs, valPairs)
	if err != nil {
		return err
	}
	slog.Info("training complete",
		"best_val_loss", result.BestValidationLoss,
		"checkpoints", len(result.CheckpointEpochs),
		"checkpoint_path", result.CheckpointPath,
	)
	return nil
}

// manifest describes an exported checkpoint for serving-side tooling.
type manifest struct {
	CheckpointPath string  `json:"checkpoint_path"`
	EmbeddingDim   int     `json:"embedding_dim"`
	Epoch          int     `json:"epoch"`
	ValidationLoss float64 `json:"validation_loss"`
	NumTensors     int     `json:"num_tensors"`
}

func exportCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return runExport(cfg)
}

func runExport(cfg config.Config) error {
	store, err := checkpoint.NewStore(cfg.Training.CheckpointPath)
	if err != nil {
		return err
	}
	stateDict, meta, err := store.Load()
	if err != nil {
		return fmt.Errorf("no trained checkpoint to export: %w", err)
	}

	// Loading into a freshly built model proves the checkpoint matches
	// the configured architecture before anything ships.
	model, _, err := buildModel(cfg)
	if err != nil {
		return err
	}
	if err := model.LoadStateDict(stateDict); err != nil {
		return fmt.Errorf("checkpoint does not match model architecture: %w", err)
	}

	m := manifest{
		CheckpointPath: store.Path(),
		EmbeddingDim:   cfg.Model.EmbeddingDim,
		Epoch:          meta.Epoch,
		ValidationLoss: meta.Loss,
		NumTensors:     len(stateDict),
	}
	data, err := sonic.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	manifestPath := strings.TrimSuffix(store.Path(), filepath.Ext(store.Path())) + ".manifest.json"
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	slog.Info("exported checkpoint", "manifest", manifestPath, "epoch", meta.Epoch, "val_loss", meta.Loss)
	return nil
}

func pipelineCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	slog.Info("pipeline step", "step", "prepare")
	if err := prepareCommand(c); err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	slog.Info("pipeline step", "step", "train")
	if err := runTraining(c.Context, cfg); err != nil {
		return fmt.Errorf("train failed: %w", err)
	}
	slog.Info("pipeline step", "step", "export")
	if err := runExport(cfg); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	slog.Info("pipeline step", "step", "smoke-test")
	if err := smokeTest(cfg); err != nil {
		return fmt.Errorf("smoke test failed: %w", err)
	}
	slog.Info("pipeline complete")
	return nil
}

// smokeTest loads the trained checkpoint and embeds a sample sentence,
// checking the output is a finite unit vector.
func smokeTest(cfg config.Config) error {
	store, err := checkpoint.NewStore(cfg.Training.CheckpointPath)
	if err != nil {
		return err
	}
	stateDict, _, err := store.Load()
	if err != nil {
		return err
	}
	model, _, err := buildModel(cfg)
	if err != nil {
		return err
	}
	if err := model.LoadStateDict(stateDict); err != nil {
		return err
	}

	vec, err := model.EncodeOne("こんにちは、世界")
	if err != nil {
		return err
	}
	var norm float64
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("embedding contains non-finite values")
		}
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1) > 1e-4 {
		return fmt.Errorf("embedding norm %v is not unit length", norm)
	}
	return nil
}
