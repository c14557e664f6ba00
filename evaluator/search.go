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
	"os"
	"time"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/gorse-io/recbench/base"
	"github.com/gorse-io/recbench/base/log"
	"github.com/gorse-io/recbench/common/parallel"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	StrategyGrid = "grid"
	StrategyTPE  = "tpe"
)

// SearchConfig controls a hyper-parameter sweep.
type SearchConfig struct {
	TopK int
	// Jobs is the number of evaluations running at the same time.
	Jobs     int
	Seed     int64
	Strategy string
	// Trials is the number of TPE trials. A grid smaller than Trials is searched exhaustively.
	Trials   int
	Progress bool
}

// Record is one evaluated point of a sweep.
type Record struct {
	Index int
	// Combination is the position of Params in the cartesian product of the grid.
	Combination int
	Params      model.Params
	Score       Score
	Elapsed     time.Duration
	Err         error
}

// Failed reports whether the evaluation did not produce a score.
func (r Record) Failed() bool {
	return r.Err != nil
}

// SearchResult contains the return of a sweep. Records are kept in evaluation order.
type SearchResult struct {
	Names     []model.ParamName
	Records   []Record
	BestIndex int
}

// Best returns the record with the highest nDCG. Among equal scores the earliest wins.
func (r *SearchResult) Best() (Record, bool) {
	if r.BestIndex < 0 || r.BestIndex >= len(r.Records) {
		return Record{}, false
	}
	return r.Records[r.BestIndex], true
}

// Failures counts failed records.
func (r *SearchResult) Failures() int {
	return lo.CountBy(r.Records, Record.Failed)
}

func (r *SearchResult) selectBest() {
	r.BestIndex = -1
	for i, record := range r.Records {
		if record.Failed() {
			continue
		}
		if r.BestIndex < 0 || record.Score.NDCG > r.Records[r.BestIndex].Score.NDCG {
			r.BestIndex = i
		}
	}
}

type sweeper struct {
	creator  model.ModelCreator
	grid     model.ParamsGrid
	train    *dataset.Log
	valid    *dataset.Log
	cfg      SearchConfig
	bar      *progressbar.ProgressBar
	finished *atomic.Int32
	failed   *atomic.Int32
}

// evaluate fits a fresh model with the combination-th grid point. Failures, panics included,
// are kept in the record.
func (s *sweeper) evaluate(ctx context.Context, combination int) (record Record) {
	record.Combination = combination
	record.Params = s.grid.Combination(combination)
	if _, fixed := record.Params[model.RandomState]; !fixed {
		record.Params[model.RandomState] = base.DeriveSeed(s.cfg.Seed, combination)
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			record.Err = errors.Annotatef(model.ErrFit, "panic: %v", r)
		}
		record.Elapsed = time.Since(start)
		s.finished.Inc()
		if record.Failed() {
			s.failed.Inc()
			log.Logger().Warn("evaluation failed",
				zap.Int("combination", combination),
				zap.Stringer("params", record.Params),
				zap.Error(record.Err))
		} else {
			log.Logger().Info(fmt.Sprintf("evaluate (%v/%v)", s.finished.Load(), s.total()),
				zap.Stringer("params", record.Params),
				zap.Float64(fmt.Sprintf("NDCG@%v", s.cfg.TopK), record.Score.NDCG),
				zap.Float64(fmt.Sprintf("Precision@%v", s.cfg.TopK), record.Score.Precision),
				zap.Float64(fmt.Sprintf("Recall@%v", s.cfg.TopK), record.Score.Recall),
				zap.String("fit_time", record.Elapsed.String()))
		}
		_ = s.bar.Add(1)
	}()
	record.Score, record.Err = Evaluate(ctx, s.creator(), record.Params, s.train, s.valid, s.cfg.TopK, 1)
	return
}

func (s *sweeper) total() int {
	if s.cfg.Strategy == StrategyTPE {
		return min(s.cfg.Trials, s.grid.NumCombinations())
	}
	return s.grid.NumCombinations()
}

func (s *sweeper) gridSearch(ctx context.Context) ([]Record, error) {
	records := make([]Record, s.grid.NumCombinations())
	err := parallel.Parallel(ctx, len(records), s.cfg.Jobs, func(_, jobId int) error {
		records[jobId] = s.evaluate(ctx, jobId)
		records[jobId].Index = jobId
		return nil
	})
	return records, errors.Trace(err)
}

// tpeSearch draws grid points with a seeded tree-structured Parzen estimator. Trials run one
// after another.
func (s *sweeper) tpeSearch(ctx context.Context) ([]Record, error) {
	choices := lo.Map(s.grid, func(axis model.ParamAxis, _ int) []string {
		return lo.Map(axis.Values, func(v interface{}, _ int) string { return fmt.Sprint(v) })
	})
	study, err := goptuna.CreateStudy("recbench",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionSampler(tpe.NewSampler(tpe.SamplerOptionSeed(s.cfg.Seed))),
		goptuna.StudyOptionLogger(&studyLogger{log.Logger().Sugar()}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var records []Record
	objective := func(trial goptuna.Trial) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, errors.Trace(err)
		}
		combination := 0
		for i, axis := range s.grid {
			value, err := trial.SuggestCategorical(string(axis.Name), choices[i])
			if err != nil {
				return 0, errors.Trace(err)
			}
			combination = combination*len(axis.Values) + lo.IndexOf(choices[i], value)
		}
		record := s.evaluate(ctx, combination)
		record.Index = len(records)
		records = append(records, record)
		return record.Score.NDCG, nil
	}
	if err = study.Optimize(objective, s.cfg.Trials); err != nil {
		return records, errors.Trace(err)
	}
	return records, errors.Trace(ctx.Err())
}

// Sweep evaluates models created by creator over grid, fitting on train and scoring on valid.
// Each evaluation gets its own model and the random state derived from the seed and its grid
// position, unless the grid fixes the random state. Failed fits are recorded and the sweep goes
// on; an error is returned with the result when every evaluation failed.
func Sweep(ctx context.Context, creator model.ModelCreator, grid model.ParamsGrid, train, valid *dataset.Log, cfg SearchConfig) (*SearchResult, error) {
	if err := grid.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.TopK <= 0 {
		return nil, errors.NotValidf("top k %d", cfg.TopK)
	}
	cfg.Jobs = max(cfg.Jobs, 1)
	s := &sweeper{
		creator:  creator,
		grid:     grid,
		train:    train,
		valid:    valid,
		cfg:      cfg,
		finished: atomic.NewInt32(0),
		failed:   atomic.NewInt32(0),
	}
	var search func(context.Context) ([]Record, error)
	switch cfg.Strategy {
	case StrategyGrid, "":
		s.cfg.Strategy = StrategyGrid
		search = s.gridSearch
	case StrategyTPE:
		if cfg.Trials <= 0 {
			return nil, errors.NotValidf("tpe trials %d", cfg.Trials)
		}
		// if the number of combination is less than number of trials, use grid search
		if grid.NumCombinations() <= cfg.Trials {
			s.cfg.Strategy = StrategyGrid
			search = s.gridSearch
		} else {
			search = s.tpeSearch
		}
	default:
		return nil, errors.NotValidf("search strategy %q", cfg.Strategy)
	}
	s.bar = progressbar.NewOptions(s.total(),
		progressbar.OptionSetDescription(s.cfg.Strategy+" search"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetVisibility(cfg.Progress))
	log.Logger().Info("start sweep",
		zap.String("strategy", s.cfg.Strategy),
		zap.Int("evaluations", s.total()),
		zap.Int("jobs", cfg.Jobs),
		zap.Int64("seed", cfg.Seed))
	start := time.Now()
	records, err := search(ctx)
	_ = s.bar.Finish()
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := &SearchResult{Names: grid.Names(), Records: records}
	result.selectBest()
	log.Logger().Info("complete sweep",
		zap.Int("evaluations", int(s.finished.Load())),
		zap.Int("failures", int(s.failed.Load())),
		zap.String("time", time.Since(start).String()))
	if _, ok := result.Best(); !ok {
		return result, errors.Annotatef(model.ErrFit, "all %d evaluations failed", len(records))
	}
	return result, nil
}

// studyLogger sends goptuna logs to zap.
type studyLogger struct {
	*zap.SugaredLogger
}

func (l *studyLogger) Debug(msg string, fields ...interface{}) {
	l.Debugw(msg, fields...)
}

func (l *studyLogger) Info(msg string, fields ...interface{}) {
	l.Debugw(msg, fields...)
}

func (l *studyLogger) Warn(msg string, fields ...interface{}) {
	l.Warnw(msg, fields...)
}

func (l *studyLogger) Error(msg string, fields ...interface{}) {
	l.Errorw(msg, fields...)
}
