// Package config holds the run configuration for data preparation,
// training, and export, loadable from a YAML file over safe defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	Seed int64 `yaml:"seed"`

	Data     DataConfig     `yaml:"data"`
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
}

// DataConfig covers corpus input and derived dataset locations.
type DataConfig struct {
	CorpusPath string  `yaml:"corpus_path"`
	OutputDir  string  `yaml:"output_dir"`
	TrainRatio float64 `yaml:"train_ratio"`
	ValRatio   float64 `yaml:"val_ratio"`
}

// ModelConfig covers tokenizer and network dimensions.
type ModelConfig struct {
	Encoding         string  `yaml:"encoding"`          // tiktoken encoding name
	MaxLen           int     `yaml:"max_len"`           // token truncation length
	HiddenDim        int     `yaml:"hidden_dim"`        // encoder hidden size
	FFNDim           int     `yaml:"ffn_dim"`           // encoder inner size
	EncoderLayers    int     `yaml:"encoder_layers"`    // encoder depth
	EmbeddingDim     int     `yaml:"embedding_dim"`     // final sentence vector size
	ProjectionHidden int     `yaml:"projection_hidden"` // projection inner size
	Dropout          float32 `yaml:"dropout"`
}

// TrainingConfig covers the optimization loop.
type TrainingConfig struct {
	Epochs         int     `yaml:"epochs"`
	BatchSize      int     `yaml:"batch_size"`
	LearningRate   float32 `yaml:"learning_rate"`
	Temperature    float32 `yaml:"temperature"`
	UnfreezeEpoch  int     `yaml:"unfreeze_epoch"`
	UnfreezeLayers int     `yaml:"unfreeze_layers"`
	PrefetchDepth  int     `yaml:"prefetch_depth"`
	CheckpointPath string  `yaml:"checkpoint_path"`
}

// Default returns the configuration matching the reference training
// recipe: cl100k_base tokenization truncated at 512 tokens, a 384-dim
// embedding behind a 512-wide projection, Adam at 2e-5 over batches of
// 16 for 10 epochs, and the last 4 encoder layers unfrozen after the
// 3rd epoch.
func Default() Config {
	return Config{
		Seed: 42,
		Data: DataConfig{
			CorpusPath: "data/conversations.json",
			OutputDir:  "data",
			TrainRatio: 0.70,
			ValRatio:   0.15,
		},
		Model: ModelConfig{
			Encoding:         "cl100k_base",
			MaxLen:           512,
			HiddenDim:        256,
			FFNDim:           1024,
			EncoderLayers:    6,
			EmbeddingDim:     384,
			ProjectionHidden: 512,
			Dropout:          0.1,
		},
		Training: TrainingConfig{
			Epochs:         10,
			BatchSize:      16,
			LearningRate:   2e-5,
			Temperature:    1,
			UnfreezeEpoch:  2,
			UnfreezeLayers: 4,
			PrefetchDepth:  1,
			CheckpointPath: "checkpoints/best.ktba",
		},
	}
}

// Load reads a YAML config file over the defaults. Fields absent from
// the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
