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
	"io"
	"strconv"

	"github.com/gorse-io/recbench/base/log"
	"github.com/gorse-io/recbench/config"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/evaluator"
	"github.com/gorse-io/recbench/model/cf"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

// loadLog reads, cleans, filters and prunes interactions.
func loadLog(ctx context.Context, conf *config.Config) (*dataset.Log, error) {
	loader, err := dataset.NewLoader(conf.Dataset.Source, conf.Dataset.Query, conf.Dataset.Sep,
		conf.Dataset.Header, conf.Columns())
	if err != nil {
		return nil, errors.Trace(err)
	}
	rows, loadReport, err := loader.Load(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "load %s", log.RedactDBURL(conf.Dataset.Source))
	}
	log.Logger().Info("load interactions",
		zap.String("source", log.RedactDBURL(conf.Dataset.Source)),
		zap.Int("n_rows", loadReport.Rows),
		zap.Int("n_malformed", loadReport.Malformed))
	l, cleanReport := dataset.Clean(rows)
	log.Logger().Info("clean interactions",
		zap.Int("n_missing_ratings", cleanReport.MissingRatings),
		zap.Int("n_duplicates", cleanReport.Duplicates),
		zap.Int("n_collisions", cleanReport.Collisions),
		zap.Int("n_interactions", cleanReport.Interactions))
	if conf.Dataset.Filter != "" {
		filter, err := dataset.NewInteractionFilter(conf.Dataset.Filter)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if l, err = filter.Apply(l); err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Info("filter interactions",
			zap.Stringer("filter", filter),
			zap.Int("n_interactions", l.Count()))
	}
	if conf.Prune.K > 0 {
		before := l.Summarize(conf.Prune.K)
		if l, err = dataset.PruneCore(l, conf.Prune.K); err != nil {
			return nil, errors.Trace(err)
		}
		after := l.Summarize(conf.Prune.K)
		log.Logger().Info("prune interactions",
			zap.Int("k", conf.Prune.K),
			zap.Int("n_users_below_k", before.UsersBelowK),
			zap.Int("n_items_below_k", before.ItemsBelowK),
			zap.Int("n_users", after.Users),
			zap.Int("n_items", after.Items),
			zap.Int("n_interactions", after.Interactions))
	}
	if l.Count() == 0 {
		return nil, errors.Annotate(dataset.ErrData, "no interactions left")
	}
	return l, nil
}

func splitLog(ctx context.Context, conf *config.Config) (*dataset.Partitions, error) {
	l, err := loadLog(ctx, conf)
	if err != nil {
		return nil, errors.Trace(err)
	}
	p, err := dataset.SplitPipeline(l, conf.SplitConfig())
	if err != nil {
		return nil, errors.Trace(err)
	}
	if conf.Output.ExportDir != "" {
		if err = p.Export(conf.Output.ExportDir); err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Info("export partitions", zap.String("dir", conf.Output.ExportDir))
	}
	return p, nil
}

func runExperiment(ctx context.Context, conf *config.Config, w io.Writer) error {
	p, err := splitLog(ctx, conf)
	if err != nil {
		return errors.Trace(err)
	}
	creator, err := cf.NewModelCreator(conf.Search.Model)
	if err != nil {
		return errors.Trace(err)
	}
	e := &evaluator.Experiment{
		Model:   conf.Search.Model,
		Creator: creator,
		Grid:    conf.Grid(),
		Search:  conf.SearchConfig(),
		Refit:   conf.Search.Refit,
	}
	report, runErr := e.Run(ctx, p)
	// failed rows are worth writing out
	if report != nil && report.Search != nil {
		if err = report.Search.WriteTable(w); err != nil {
			return errors.Trace(err)
		}
		if conf.Output.CSV != "" {
			if err = report.Search.WriteCSVFile(conf.Output.CSV); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if runErr != nil {
		return errors.Trace(runErr)
	}
	if err = writeReport(w, report, conf.Evaluate.TopK); err != nil {
		return errors.Trace(err)
	}
	if conf.Output.MetricsFile != "" {
		if err = evaluator.WriteMetrics(conf.Output.MetricsFile, report); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func writeReport(w io.Writer, report *evaluator.Report, k int) error {
	if _, err := fmt.Fprintf(w, "\nrun %s: %s with %v\n", report.RunId, report.Model, report.Best.Params); err != nil {
		return errors.Trace(err)
	}
	table := tablewriter.NewWriter(w)
	table.Header([]string{"", fmt.Sprintf("NDCG@%d", k), fmt.Sprintf("Precision@%d", k),
		fmt.Sprintf("Recall@%d", k), "Users"})
	for _, row := range []struct {
		name  string
		score evaluator.Score
	}{
		{"validation", report.Best.Score},
		{"test", report.Test},
	} {
		if err := table.Append([]string{
			row.name,
			strconv.FormatFloat(row.score.NDCG, 'f', 4, 64),
			strconv.FormatFloat(row.score.Precision, 'f', 4, 64),
			strconv.FormatFloat(row.score.Recall, 'f', 4, 64),
			strconv.Itoa(row.score.Users),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func writeSummary(w io.Writer, s dataset.Summary, k int) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Users", "Items", "Interactions", "Density", fmt.Sprintf("Users < %d", k), fmt.Sprintf("Items < %d", k)})
	if err := table.Append([]string{
		strconv.Itoa(s.Users),
		strconv.Itoa(s.Items),
		strconv.Itoa(s.Interactions),
		strconv.FormatFloat(s.Density, 'g', 4, 64),
		strconv.Itoa(s.UsersBelowK),
		strconv.Itoa(s.ItemsBelowK),
	}); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(table.Render())
}
