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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/recbench/base/log"
	"github.com/gorse-io/recbench/common/parallel"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Score is the mean of per-user metrics over every user of an evaluation log.
type Score struct {
	NDCG      float64
	Precision float64
	Recall    float64
	HitRate   float64
	MRR       float64
	MAP       float64
	// Users is the number of users averaged over.
	Users int
	// Empty counts users who got no recommendation, including users unknown to the model.
	Empty int
}

const numMetrics = 6

// Evaluate fits m on train and scores its top-k recommendations for the users of eval.
// Users the model cannot serve count as 0 for every metric. Per-user scores are summed in
// user id order, so the result does not depend on jobs.
func Evaluate(ctx context.Context, m model.Model, params model.Params, train, eval *dataset.Log, k, jobs int) (Score, error) {
	if k <= 0 {
		return Score{}, errors.NotValidf("top k %d", k)
	}
	if err := m.Fit(ctx, train, params); err != nil {
		return Score{}, errors.Trace(err)
	}
	return score(ctx, m, eval, k, jobs)
}

func score(ctx context.Context, m model.Model, eval *dataset.Log, k, jobs int) (Score, error) {
	users := eval.Users()
	if len(users) == 0 {
		return Score{}, nil
	}
	recommendations, err := m.Recommend(ctx, users, k)
	if err != nil {
		if !errors.Is(err, model.ErrUnknownUser) {
			return Score{}, errors.Trace(err)
		}
		log.Logger().Debug("users unknown to the model", zap.Error(err))
	}
	idcg := IdealDCG(k)
	userScores := make([][numMetrics]float64, len(users))
	empty := make([]bool, len(users))
	if err = parallel.For(ctx, len(users), jobs, func(i int) {
		rankList := recommendations[users[i]]
		if len(rankList) == 0 {
			empty[i] = true
			return
		}
		relevant := mapset.NewThreadUnsafeSet(eval.UserItems(users[i])...)
		userScores[i] = [numMetrics]float64{
			ndcg(rankList, relevant, k, idcg),
			Precision(rankList, relevant, k),
			Recall(rankList, relevant, k),
			HitRate(rankList, relevant, k),
			MRR(rankList, relevant, k),
			MAP(rankList, relevant, k),
		}
	}); err != nil {
		return Score{}, errors.Trace(err)
	}
	var sum [numMetrics]float64
	result := Score{Users: len(users)}
	for i := range userScores {
		for j := range sum {
			sum[j] += userScores[i][j]
		}
		if empty[i] {
			result.Empty++
		}
	}
	n := float64(len(users))
	result.NDCG = sum[0] / n
	result.Precision = sum[1] / n
	result.Recall = sum[2] / n
	result.HitRate = sum[3] / n
	result.MRR = sum[4] / n
	result.MAP = sum[5] / n
	return result, nil
}
