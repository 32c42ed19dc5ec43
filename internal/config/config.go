package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset sources.
const (
	SourceSynthetic = "synthetic"
	SourceIDX       = "idx"
	SourceShards    = "shards"
)

const (
	defaultEpochs       = 10
	defaultBatchSize    = 64
	defaultLogEvery     = 50
	defaultLearningRate = 0.003
	defaultFeatureGrid  = 8
	defaultOptimizer    = "adam"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Source string `yaml:"source"`

	TrainRoots  []string `yaml:"train_roots"`
	ValidRoots  []string `yaml:"valid_roots"`
	FeatureGrid int      `yaml:"feature_grid"`

	TrainImages string `yaml:"train_images"`
	TrainLabels string `yaml:"train_labels"`
	ValidImages string `yaml:"valid_images"`
	ValidLabels string `yaml:"valid_labels"`

	SyntheticExamples int `yaml:"synthetic_examples"`
	SyntheticFeatures int `yaml:"synthetic_features"`

	Classes      int     `yaml:"classes"`
	Hidden       []int   `yaml:"hidden"`
	Dropout      float64 `yaml:"dropout"`
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`

	Epochs     int   `yaml:"epochs"`
	BatchSize  int   `yaml:"batch_size"`
	NumWorkers int   `yaml:"num_workers"`
	Seed       int64 `yaml:"seed"`
	LogEvery   int   `yaml:"log_every"`

	PlotDir  string `yaml:"plot_dir"`
	HTTPAddr string `yaml:"http_addr"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Source       string
	Epochs       int
	BatchSize    int
	NumWorkers   int
	Seed         int64
	LogEvery     int
	LearningRate float64
	Optimizer    string
	Hidden       []int
	PlotDir      string
	HTTPAddr     string

	// Dropout and Momentum are applied whenever non-nil, so a flag can set
	// them back to zero.
	Dropout  *float64
	Momentum *float64
}

// Load reads and validates a Config from YAML. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Source != "" {
		c.Source = o.Source
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Optimizer != "" {
		c.Optimizer = o.Optimizer
	}
	if len(o.Hidden) > 0 {
		c.Hidden = o.Hidden
	}
	if o.Dropout != nil {
		c.Dropout = *o.Dropout
	}
	if o.Momentum != nil {
		c.Momentum = *o.Momentum
	}
	if o.PlotDir != "" {
		c.PlotDir = o.PlotDir
	}
	if o.HTTPAddr != "" {
		c.HTTPAddr = o.HTTPAddr
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Source == "" {
		c.Source = SourceSynthetic
	}
	switch c.Source {
	case SourceSynthetic:
		if c.SyntheticExamples <= 0 {
			return fmt.Errorf("synthetic_examples must be > 0 (got %d)", c.SyntheticExamples)
		}
		if c.SyntheticFeatures <= 0 {
			return fmt.Errorf("synthetic_features must be > 0 (got %d)", c.SyntheticFeatures)
		}
	case SourceIDX:
		if c.TrainImages == "" || c.TrainLabels == "" {
			return errors.New("train_images and train_labels must be set for the idx source")
		}
		if c.ValidImages == "" || c.ValidLabels == "" {
			return errors.New("valid_images and valid_labels must be set for the idx source")
		}
	case SourceShards:
		if len(c.TrainRoots) == 0 {
			return errors.New("at least one training root must be set")
		}
		if len(c.ValidRoots) == 0 {
			return errors.New("at least one validation root must be set")
		}
		if c.FeatureGrid == 0 {
			c.FeatureGrid = defaultFeatureGrid
		}
		if c.FeatureGrid < 0 {
			return fmt.Errorf("feature_grid must be > 0 (got %d)", c.FeatureGrid)
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}

	if c.Classes < 2 {
		return fmt.Errorf("classes must be >= 2 (got %d)", c.Classes)
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden[%d] must be > 0 (got %d)", i, h)
		}
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1) (got %g)", c.Dropout)
	}
	c.Optimizer = strings.ToLower(strings.TrimSpace(c.Optimizer))
	if c.Optimizer == "" {
		c.Optimizer = defaultOptimizer
	}
	if c.Optimizer != "sgd" && c.Optimizer != "adam" {
		return fmt.Errorf("unknown optimizer %q", c.Optimizer)
	}
	if c.LearningRate == 0 {
		c.LearningRate = defaultLearningRate
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.Epochs == 0 {
		c.Epochs = defaultEpochs
	}
	if c.Epochs < 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = defaultLogEvery
	}
	return nil
}

// ParseHidden parses a comma separated list of hidden layer widths such as
// "256,128,64".
func ParseHidden(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var widths []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("hidden: %w", err)
		}
		widths = append(widths, v)
	}
	return widths, nil
}
