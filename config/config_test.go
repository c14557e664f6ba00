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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/evaluator"
	"github.com/gorse-io/recbench/model"
	"github.com/gorse-io/recbench/model/cf"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshal(t *testing.T) {
	data, err := os.ReadFile("config.toml.template")
	require.NoError(t, err)
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader(string(data))))
	config, err := unmarshal(v)
	require.NoError(t, err)

	assert.Equal(t, int64(42), config.Seed)
	// [dataset]
	assert.Equal(t, "ratings.csv", config.Dataset.Source)
	assert.Equal(t, ",", config.Dataset.Sep)
	assert.True(t, config.Dataset.Header)
	assert.Equal(t, dataset.Columns{User: "userId", Item: "movieId", Rating: "rating", Timestamp: "timestamp"}, config.Columns())
	assert.Equal(t, "rating >= 4", config.Dataset.Filter)
	// [prune]
	assert.Equal(t, 10, config.Prune.K)
	// [split]
	assert.Equal(t, dataset.SplitConfig{
		Scheme:             dataset.SchemeNested,
		TestFraction:       0.2,
		ValidationFraction: 0.2,
		TrainFraction:      1,
		Seed:               42,
	}, config.SplitConfig())
	// [evaluate]
	assert.Equal(t, 10, config.Evaluate.TopK)
	assert.Equal(t, 4, config.Evaluate.Jobs)
	// [search]
	assert.Equal(t, "bpr", config.Search.Model)
	assert.Equal(t, evaluator.StrategyGrid, config.Search.Strategy)
	assert.Equal(t, evaluator.RefitFull, config.Search.Refit)
	assert.False(t, config.Search.Progress)
	grid := config.Grid()
	assert.Equal(t, []model.ParamName{model.NEpochs, model.NFactors}, grid.Names())
	assert.Equal(t, 25, grid.NumCombinations())
	assert.Equal(t, 50, grid.Combination(24).GetInt(model.NEpochs, 0))
	assert.Equal(t, 100, grid.Combination(24).GetInt(model.NFactors, 0))
	// [output]
	assert.Equal(t, "search.csv", config.Output.CSV)
	assert.Empty(t, config.Output.MetricsFile)

	assert.NoError(t, config.Validate())
}

func TestSetDefault(t *testing.T) {
	v := viper.New()
	setDefault(v)
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader("")))
	config, err := unmarshal(v)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)
	// the default grid of the model is used
	assert.Equal(t, cf.DefaultGrid("bpr"), config.Grid())
}

type environmentVariable struct {
	key   string
	value string
}

func TestBindEnv(t *testing.T) {
	variables := []environmentVariable{
		{"RECBENCH_SEED", "7"},
		{"RECBENCH_DATASET_SOURCE", "<source>"},
		{"RECBENCH_DATASET_FILTER", "rating > 3"},
		{"RECBENCH_PRUNE_K", "5"},
		{"RECBENCH_SPLIT_SCHEME", "holdout"},
		{"RECBENCH_TOP_K", "20"},
		{"RECBENCH_JOBS", "3"},
		{"RECBENCH_MODEL", "als"},
		{"RECBENCH_SEARCH_STRATEGY", "tpe"},
		{"RECBENCH_SEARCH_TRIALS", "30"},
		{"RECBENCH_OUTPUT_CSV", "<csv>"},
		{"RECBENCH_METRICS_FILE", "<metrics>"},
	}
	for _, variable := range variables {
		t.Setenv(variable.key, variable.value)
	}

	config, err := LoadConfig("config.toml.template")
	require.NoError(t, err)
	assert.Equal(t, int64(7), config.Seed)
	assert.Equal(t, "<source>", config.Dataset.Source)
	assert.Equal(t, "rating > 3", config.Dataset.Filter)
	assert.Equal(t, 5, config.Prune.K)
	assert.Equal(t, dataset.SchemeHoldout, config.Split.Scheme)
	assert.Equal(t, 20, config.Evaluate.TopK)
	assert.Equal(t, 3, config.Evaluate.Jobs)
	assert.Equal(t, "als", config.Search.Model)
	assert.Equal(t, evaluator.StrategyTPE, config.Search.Strategy)
	assert.Equal(t, 30, config.Search.Trials)
	assert.Equal(t, "<csv>", config.Output.CSV)
	assert.Equal(t, "<metrics>", config.Output.MetricsFile)

	// values from the file are kept
	assert.Equal(t, "userId", config.Dataset.UserColumn)
}

func TestLoadConfig(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset:\n  source: data.tsv\n  sep: \"\\t\"\nsearch:\n  model: item_knn\n"), 0644))
	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "data.tsv", config.Dataset.Source)
	assert.Equal(t, "\t", config.Dataset.Sep)
	assert.Equal(t, "item_knn", config.Search.Model)
	assert.Equal(t, GetDefaultConfig().Evaluate.TopK, config.Evaluate.TopK)
	assert.NoError(t, config.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		config := GetDefaultConfig()
		config.Dataset.Source = "ratings.csv"
		return config
	}
	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(config *Config)
	}{
		{"no source", func(config *Config) { config.Dataset.Source = "" }},
		{"negative core", func(config *Config) { config.Prune.K = -1 }},
		{"unknown scheme", func(config *Config) { config.Split.Scheme = "random" }},
		{"test fraction", func(config *Config) { config.Split.TestFraction = 1.5 }},
		{"holdout over one", func(config *Config) {
			config.Split.Scheme = dataset.SchemeHoldout
			config.Split.TestFraction = 0.6
			config.Split.ValidationFraction = 0.6
		}},
		{"top k", func(config *Config) { config.Evaluate.TopK = 0 }},
		{"jobs", func(config *Config) { config.Evaluate.Jobs = 0 }},
		{"unknown model", func(config *Config) { config.Search.Model = "svd" }},
		{"unknown strategy", func(config *Config) { config.Search.Strategy = "random" }},
		{"tpe without trials", func(config *Config) {
			config.Search.Strategy = evaluator.StrategyTPE
			config.Search.Trials = 0
		}},
		{"unknown refit", func(config *Config) { config.Search.Refit = "all" }},
		{"empty axis", func(config *Config) { config.Search.Grid = []GridAxis{{Name: "lr"}} }},
		{"duplicate axis", func(config *Config) {
			config.Search.Grid = []GridAxis{{Name: "lr", Values: []interface{}{0.1}}, {Name: "lr", Values: []interface{}{0.2}}}
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := valid()
			test.modify(config)
			assert.True(t, errors.Is(config.Validate(), errors.NotValid))
		})
	}
}

func TestParseGridFlag(t *testing.T) {
	axis, err := ParseGridFlag("lr=0.01,0.05")
	require.NoError(t, err)
	assert.Equal(t, GridAxis{Name: "lr", Values: []interface{}{0.01, 0.05}}, axis)

	axis, err = ParseGridFlag("n_factors=8, 16")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{8, 16}, axis.Values)

	_, err = ParseGridFlag("n_factors")
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = ParseGridFlag("=1")
	assert.True(t, errors.Is(err, errors.NotValid))
}
