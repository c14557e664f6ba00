// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/evaluator"
	"github.com/gorse-io/recbench/model"
	"github.com/gorse-io/recbench/model/cf"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Config is the configuration of an experiment.
type Config struct {
	// Seed drives every stochastic step: splitting, model initialization and search.
	Seed     int64          `mapstructure:"seed"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Prune    PruneConfig    `mapstructure:"prune"`
	Split    SplitConfig    `mapstructure:"split"`
	Evaluate EvaluateConfig `mapstructure:"evaluate"`
	Search   SearchConfig   `mapstructure:"search"`
	Output   OutputConfig   `mapstructure:"output"`
}

// DatasetConfig is the configuration for the interaction source.
type DatasetConfig struct {
	// Source is a file path or a database URL (mysql://, postgres://, sqlite://).
	Source          string `mapstructure:"source" validate:"required"`
	Query           string `mapstructure:"query"`
	Sep             string `mapstructure:"sep"`
	Header          bool   `mapstructure:"header"`
	UserColumn      string `mapstructure:"user_column" validate:"required"`
	ItemColumn      string `mapstructure:"item_column" validate:"required"`
	RatingColumn    string `mapstructure:"rating_column"`
	TimestampColumn string `mapstructure:"timestamp_column"`
	Filter          string `mapstructure:"filter"`
}

// PruneConfig is the configuration for k-core pruning. K = 0 disables pruning.
type PruneConfig struct {
	K int `mapstructure:"k" validate:"gte=0"`
}

// SplitConfig is the configuration for splitting.
type SplitConfig struct {
	Scheme             string  `mapstructure:"scheme" validate:"oneof=nested holdout"`
	TestFraction       float64 `mapstructure:"test_fraction" validate:"gte=0,lte=1"`
	ValidationFraction float64 `mapstructure:"validation_fraction" validate:"gte=0,lte=1"`
	TrainFraction      float64 `mapstructure:"train_fraction" validate:"gte=0,lte=1"`
}

// EvaluateConfig is the configuration for scoring.
type EvaluateConfig struct {
	TopK int `mapstructure:"top_k" validate:"gt=0"`
	Jobs int `mapstructure:"jobs" validate:"gt=0"`
}

// SearchConfig is the configuration for hyper-parameter search.
type SearchConfig struct {
	Model    string `mapstructure:"model" validate:"required"`
	Strategy string `mapstructure:"strategy" validate:"oneof=grid tpe"`
	Trials   int    `mapstructure:"trials" validate:"gte=0"`
	Refit    string `mapstructure:"refit" validate:"oneof=full train"`
	Progress bool   `mapstructure:"progress"`
	// Grid overrides the default grid of the model. Axes are searched in order.
	Grid []GridAxis `mapstructure:"grid" validate:"dive"`
}

// GridAxis is one named list of candidate values.
type GridAxis struct {
	Name   string        `mapstructure:"name" validate:"required"`
	Values []interface{} `mapstructure:"values" validate:"min=1"`
}

// OutputConfig is the configuration for result files. Empty paths are skipped.
type OutputConfig struct {
	CSV         string `mapstructure:"csv"`
	MetricsFile string `mapstructure:"metrics_file"`
	ExportDir   string `mapstructure:"export_dir"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Seed: 42,
		Dataset: DatasetConfig{
			Sep:          ",",
			UserColumn:   dataset.DefaultColumns.User,
			ItemColumn:   dataset.DefaultColumns.Item,
			RatingColumn: dataset.DefaultColumns.Rating,
		},
		Prune: PruneConfig{
			K: dataset.DefaultCore,
		},
		Split: SplitConfig{
			Scheme:             dataset.SchemeNested,
			TestFraction:       0.2,
			ValidationFraction: 0.2,
			TrainFraction:      1,
		},
		Evaluate: EvaluateConfig{
			TopK: 10,
			Jobs: runtime.NumCPU(),
		},
		Search: SearchConfig{
			Model:    "bpr",
			Strategy: evaluator.StrategyGrid,
			Trials:   10,
			Refit:    evaluator.RefitFull,
			Progress: true,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	v.SetDefault("seed", defaultConfig.Seed)
	// [dataset]
	v.SetDefault("dataset.source", defaultConfig.Dataset.Source)
	v.SetDefault("dataset.query", defaultConfig.Dataset.Query)
	v.SetDefault("dataset.sep", defaultConfig.Dataset.Sep)
	v.SetDefault("dataset.header", defaultConfig.Dataset.Header)
	v.SetDefault("dataset.user_column", defaultConfig.Dataset.UserColumn)
	v.SetDefault("dataset.item_column", defaultConfig.Dataset.ItemColumn)
	v.SetDefault("dataset.rating_column", defaultConfig.Dataset.RatingColumn)
	v.SetDefault("dataset.timestamp_column", defaultConfig.Dataset.TimestampColumn)
	v.SetDefault("dataset.filter", defaultConfig.Dataset.Filter)
	// [prune]
	v.SetDefault("prune.k", defaultConfig.Prune.K)
	// [split]
	v.SetDefault("split.scheme", defaultConfig.Split.Scheme)
	v.SetDefault("split.test_fraction", defaultConfig.Split.TestFraction)
	v.SetDefault("split.validation_fraction", defaultConfig.Split.ValidationFraction)
	v.SetDefault("split.train_fraction", defaultConfig.Split.TrainFraction)
	// [evaluate]
	v.SetDefault("evaluate.top_k", defaultConfig.Evaluate.TopK)
	v.SetDefault("evaluate.jobs", defaultConfig.Evaluate.Jobs)
	// [search]
	v.SetDefault("search.model", defaultConfig.Search.Model)
	v.SetDefault("search.strategy", defaultConfig.Search.Strategy)
	v.SetDefault("search.trials", defaultConfig.Search.Trials)
	v.SetDefault("search.refit", defaultConfig.Search.Refit)
	v.SetDefault("search.progress", defaultConfig.Search.Progress)
	// [output]
	v.SetDefault("output.csv", defaultConfig.Output.CSV)
	v.SetDefault("output.metrics_file", defaultConfig.Output.MetricsFile)
	v.SetDefault("output.export_dir", defaultConfig.Output.ExportDir)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"seed", "RECBENCH_SEED"},
	{"dataset.source", "RECBENCH_DATASET_SOURCE"},
	{"dataset.query", "RECBENCH_DATASET_QUERY"},
	{"dataset.filter", "RECBENCH_DATASET_FILTER"},
	{"prune.k", "RECBENCH_PRUNE_K"},
	{"split.scheme", "RECBENCH_SPLIT_SCHEME"},
	{"evaluate.top_k", "RECBENCH_TOP_K"},
	{"evaluate.jobs", "RECBENCH_JOBS"},
	{"search.model", "RECBENCH_MODEL"},
	{"search.strategy", "RECBENCH_SEARCH_STRATEGY"},
	{"search.trials", "RECBENCH_SEARCH_TRIALS"},
	{"output.csv", "RECBENCH_OUTPUT_CSV"},
	{"output.metrics_file", "RECBENCH_METRICS_FILE"},
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefault(v)
	for _, binding := range bindings {
		_ = v.BindEnv(binding.key, binding.env)
	}
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// LoadConfig loads configuration from a toml, yaml or json file. Environment variables
// prefixed by RECBENCH_ override the file. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return unmarshal(v)
}

var validate = validator.New()

// Validate checks the configuration before any computation starts. Errors satisfy
// errors.Is(err, errors.NotValid).
func (config *Config) Validate() error {
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	if err := config.SplitConfig().Validate(); err != nil {
		return errors.Trace(err)
	}
	if _, err := cf.NewModelCreator(config.Search.Model); err != nil {
		return errors.Trace(err)
	}
	if config.Search.Strategy == evaluator.StrategyTPE && config.Search.Trials <= 0 {
		return errors.NotValidf("search.trials %d with tpe", config.Search.Trials)
	}
	if err := config.Grid().Validate(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Columns returns where the loader finds each field.
func (config *Config) Columns() dataset.Columns {
	return dataset.Columns{
		User:      config.Dataset.UserColumn,
		Item:      config.Dataset.ItemColumn,
		Rating:    config.Dataset.RatingColumn,
		Timestamp: config.Dataset.TimestampColumn,
	}
}

// SplitConfig returns the splitting configuration seeded by the global seed.
func (config *Config) SplitConfig() dataset.SplitConfig {
	return dataset.SplitConfig{
		Scheme:             config.Split.Scheme,
		TestFraction:       config.Split.TestFraction,
		ValidationFraction: config.Split.ValidationFraction,
		TrainFraction:      config.Split.TrainFraction,
		Seed:               config.Seed,
	}
}

// Grid returns the configured grid, or the default grid of the model if none is configured.
func (config *Config) Grid() model.ParamsGrid {
	if len(config.Search.Grid) == 0 {
		return cf.DefaultGrid(config.Search.Model)
	}
	return lo.Map(config.Search.Grid, func(axis GridAxis, _ int) model.ParamAxis {
		return model.ParamAxis{Name: model.ParamName(axis.Name), Values: axis.Values}
	})
}

// SearchConfig returns the sweep settings.
func (config *Config) SearchConfig() evaluator.SearchConfig {
	return evaluator.SearchConfig{
		TopK:     config.Evaluate.TopK,
		Jobs:     config.Evaluate.Jobs,
		Seed:     config.Seed,
		Strategy: config.Search.Strategy,
		Trials:   config.Search.Trials,
		Progress: config.Search.Progress,
	}
}

// ParseGridFlag parses "name=v1,v2,..." into an axis. Values that look like numbers are
// converted.
func ParseGridFlag(flag string) (GridAxis, error) {
	name, values, found := strings.Cut(flag, "=")
	if !found || name == "" || values == "" {
		return GridAxis{}, errors.NotValidf("grid %q (expected name=v1,v2)", flag)
	}
	var raw []string
	hook := mapstructure.StringToSliceHookFunc(",")
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{DecodeHook: hook, Result: &raw})
	if err != nil {
		return GridAxis{}, errors.Trace(err)
	}
	if err = decoder.Decode(values); err != nil {
		return GridAxis{}, errors.Trace(err)
	}
	return GridAxis{Name: name, Values: lo.Map(raw, func(s string, _ int) interface{} { return parseValue(s) })}, nil
}

func parseValue(s string) interface{} {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
