// Copyright 2021 gorse Project Authors
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

package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorse-io/recbench/base/log"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const (
	// RefitFull fits the final model on everything except the test data.
	RefitFull = "full"
	// RefitTrain fits the final model on the data used during the search.
	RefitTrain = "train"
)

// Experiment searches hyper-parameters of a model on the validation data, then refits the
// best parameters and scores them on the test data.
type Experiment struct {
	Model   string
	Creator model.ModelCreator
	Grid    model.ParamsGrid
	Search  SearchConfig
	Refit   string
}

// Report is the outcome of an experiment.
type Report struct {
	RunId   string
	Model   string
	Search  *SearchResult
	Best    Record
	Test    Score
	Elapsed time.Duration
}

// Run executes the experiment on split data. The search result is returned even when every
// evaluation failed.
func (e *Experiment) Run(ctx context.Context, p *dataset.Partitions) (*Report, error) {
	start := time.Now()
	report := &Report{RunId: uuid.NewString(), Model: e.Model}
	logger := log.Logger().With(zap.String("run_id", report.RunId), zap.String("model", e.Model))
	var refit *dataset.Log
	switch e.Refit {
	case RefitFull, "":
		refit = p.FullTrain
	case RefitTrain:
		refit = p.Train
	default:
		return nil, errors.NotValidf("refit %q", e.Refit)
	}
	result, err := Sweep(ctx, e.Creator, e.Grid, p.Train, p.Validation, e.Search)
	report.Search = result
	if err != nil {
		return report, errors.Trace(err)
	}
	report.Best, _ = result.Best()
	logger.Info("best parameters",
		zap.Int("index", report.Best.Index),
		zap.Stringer("params", report.Best.Params),
		zap.Float64(fmt.Sprintf("NDCG@%v", e.Search.TopK), report.Best.Score.NDCG))
	report.Test, err = Evaluate(ctx, e.Creator(), report.Best.Params, refit, p.Test, e.Search.TopK, e.Search.Jobs)
	if err != nil {
		return report, errors.Annotate(err, "refit best parameters")
	}
	report.Elapsed = time.Since(start)
	logger.Info("test score",
		zap.Int("n_train", refit.Count()),
		zap.Int("n_test", p.Test.Count()),
		zap.Float64(fmt.Sprintf("NDCG@%v", e.Search.TopK), report.Test.NDCG),
		zap.Float64(fmt.Sprintf("Precision@%v", e.Search.TopK), report.Test.Precision),
		zap.Float64(fmt.Sprintf("Recall@%v", e.Search.TopK), report.Test.Recall),
		zap.String("time", report.Elapsed.String()))
	return report, nil
}
