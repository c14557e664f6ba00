// Copyright 2022 gorse Project Authors
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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/gorse-io/recbench/base/log"
	"github.com/gorse-io/recbench/cmd/version"
	"github.com/gorse-io/recbench/config"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model/cf"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "recbench",
	Short: "Offline evaluation and hyper-parameter search for recommendation models.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Search hyper-parameters on validation data and score the best ones on test data",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd.Flags())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := runExperiment(ctx, conf, os.Stdout); err != nil {
			log.Logger().Fatal("failed to run experiment", zap.Error(err))
		}
	},
}

var pruneCommand = &cobra.Command{
	Use:   "prune",
	Short: "Clean, filter and prune interactions, then print a summary",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd.Flags())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		l, err := loadLog(ctx, conf)
		if err != nil {
			log.Logger().Fatal("failed to load interactions", zap.Error(err))
		}
		if err = writeSummary(os.Stdout, l.Summarize(conf.Prune.K), conf.Prune.K); err != nil {
			log.Logger().Fatal("failed to write summary", zap.Error(err))
		}
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			if err = dataset.WriteCSVFile(output, l); err != nil {
				log.Logger().Fatal("failed to write interactions", zap.Error(err))
			}
		}
	},
}

var splitCommand = &cobra.Command{
	Use:   "split",
	Short: "Split interactions into train, validation and test files",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd.Flags())
		if conf.Output.ExportDir == "" {
			log.Logger().Fatal("missing export directory (--export-dir)")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if _, err := splitLog(ctx, conf); err != nil {
			log.Logger().Fatal("failed to split interactions", zap.Error(err))
		}
	},
}

var modelsCommand = &cobra.Command{
	Use:   "models",
	Short: "List models and their default search grids",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range cf.ModelNames() {
			fmt.Printf("%s\t%d combinations\n", name, cf.DefaultGrid(name).NumCombinations())
			for _, axis := range cf.DefaultGrid(name) {
				fmt.Printf("  %s\t%v\n", axis.Name, axis.Values)
			}
		}
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
	},
}

// loadConfig loads the configuration file and applies flags that were set explicitly.
func loadConfig(flags *pflag.FlagSet) *config.Config {
	configPath, _ := flags.GetString("config")
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.String("config", configPath), zap.Error(err))
	}
	if err = applyFlags(flags, conf); err != nil {
		log.Logger().Fatal("invalid flag", zap.Error(err))
	}
	if err = conf.Validate(); err != nil {
		log.Logger().Fatal("invalid config", zap.Error(err))
	}
	return conf
}

func applyFlags(flags *pflag.FlagSet, conf *config.Config) error {
	if flags.Changed("source") {
		conf.Dataset.Source, _ = flags.GetString("source")
	}
	if flags.Changed("filter") {
		conf.Dataset.Filter, _ = flags.GetString("filter")
	}
	if flags.Changed("seed") {
		conf.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("core") {
		conf.Prune.K, _ = flags.GetInt("core")
	}
	if flags.Changed("export-dir") {
		conf.Output.ExportDir, _ = flags.GetString("export-dir")
	}
	if flags.Lookup("model") == nil {
		return nil
	}
	if flags.Changed("model") {
		conf.Search.Model, _ = flags.GetString("model")
		// the configured grid belongs to another model
		conf.Search.Grid = nil
	}
	if flags.Changed("grid") {
		values, _ := flags.GetStringArray("grid")
		conf.Search.Grid = nil
		for _, value := range values {
			axis, err := config.ParseGridFlag(value)
			if err != nil {
				return errors.Trace(err)
			}
			conf.Search.Grid = append(conf.Search.Grid, axis)
		}
	}
	if flags.Changed("strategy") {
		conf.Search.Strategy, _ = flags.GetString("strategy")
	}
	if flags.Changed("trials") {
		conf.Search.Trials, _ = flags.GetInt("trials")
	}
	if flags.Changed("refit") {
		conf.Search.Refit, _ = flags.GetString("refit")
	}
	if flags.Changed("top-k") {
		conf.Evaluate.TopK, _ = flags.GetInt("top-k")
	}
	if flags.Changed("jobs") {
		conf.Evaluate.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("csv") {
		conf.Output.CSV, _ = flags.GetString("csv")
	}
	if flags.Changed("metrics-file") {
		conf.Output.MetricsFile, _ = flags.GetString("metrics-file")
	}
	if flags.Changed("no-progress") {
		conf.Search.Progress = false
	}
	return nil
}

func addDataFlags(flags *pflag.FlagSet) {
	flags.StringP("source", "s", "", "interaction file or database URL")
	flags.String("filter", "", "expression selecting interactions to keep")
	flags.IntP("core", "k", dataset.DefaultCore, "minimum interactions per user and item (0 disables pruning)")
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().Int64("seed", 0, "random seed")

	addDataFlags(pruneCommand.Flags())
	pruneCommand.Flags().StringP("output", "o", "", "write pruned interactions to this CSV file")

	addDataFlags(splitCommand.Flags())
	splitCommand.Flags().String("export-dir", "", "directory to write partitions into")

	addDataFlags(runCommand.Flags())
	runCommand.Flags().StringP("model", "m", "", fmt.Sprintf("model to tune %v", cf.ModelNames()))
	runCommand.Flags().StringArrayP("grid", "g", nil, "search axis as name=v1,v2 (repeatable)")
	runCommand.Flags().String("strategy", "", "search strategy (grid or tpe)")
	runCommand.Flags().Int("trials", 0, "number of tpe trials")
	runCommand.Flags().String("refit", "", "data to refit the best parameters on (full or train)")
	runCommand.Flags().Int("top-k", 0, "length of recommendation lists")
	runCommand.Flags().IntP("jobs", "j", 0, "number of concurrent jobs")
	runCommand.Flags().String("csv", "", "write the search result to this CSV file")
	runCommand.Flags().String("metrics-file", "", "write Prometheus metrics to this text file")
	runCommand.Flags().String("export-dir", "", "directory to write partitions into")
	runCommand.Flags().Bool("no-progress", false, "hide the progress bar")

	rootCommand.AddCommand(runCommand, pruneCommand, splitCommand, modelsCommand, versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute command", zap.Error(err))
	}
}
