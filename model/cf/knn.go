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

package cf

import (
	"context"

	"github.com/chewxy/math32"
	"github.com/gorse-io/recbench/base/log"
	"github.com/gorse-io/recbench/common/heap"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ItemKNN recommends items similar to those a user interacted with. Item similarity is the
// cosine between the user sets of two items:
//
//	sim(i, j) = |U_i ∩ U_j| / (sqrt(|U_i| |U_j|) + shrinkage)
//
// Only the NNeighbors most similar items of each item are kept. The score of item j for user u
// sums sim(i, j) over items i of u that keep j as a neighbor.
type ItemKNN struct {
	model.BaseModel
	trainIndex
	neighbors  [][]heap.Elem[int32, float32]
	nNeighbors int
	shrinkage  float32
}

func NewItemKNN() *ItemKNN {
	return new(ItemKNN)
}

func (knn *ItemKNN) SetParams(params model.Params) {
	knn.BaseModel.SetParams(params)
	knn.nNeighbors = knn.Params.GetInt(model.NNeighbors, 100)
	knn.shrinkage = knn.Params.GetFloat32(model.Shrinkage, 0)
}

func (knn *ItemKNN) Fit(ctx context.Context, train *dataset.Log, params model.Params) error {
	knn.SetParams(params)
	log.Logger().Debug("fit item knn",
		zap.Int("train_set_size", train.Count()),
		zap.Stringer("params", knn.GetParams()))
	if train.Count() == 0 {
		return errors.Annotate(model.ErrFit, "empty training data")
	}
	if knn.nNeighbors <= 0 {
		return errors.Annotatef(model.ErrFit, "%s must be positive, got %d", model.NNeighbors, knn.nNeighbors)
	}
	if knn.shrinkage < 0 {
		return errors.Annotatef(model.ErrFit, "%s must not be negative, got %v", model.Shrinkage, knn.shrinkage)
	}
	knn.initIndex(train)
	userFeedback := train.GetUserFeedback()
	itemFeedback := train.GetItemFeedback()
	knn.neighbors = make([][]heap.Elem[int32, float32], train.CountItems())
	common := make([]int, train.CountItems())
	for i := range itemFeedback {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		clear(common)
		for _, u := range itemFeedback[i] {
			for _, j := range userFeedback[u] {
				common[j]++
			}
		}
		filter := heap.NewTopKFilter[int32, float32](knn.nNeighbors)
		for j, n := range common {
			if j == i || n == 0 {
				continue
			}
			norm := math32.Sqrt(float32(len(itemFeedback[i]) * len(itemFeedback[j])))
			filter.Push(int32(j), float32(n)/(norm+knn.shrinkage))
		}
		knn.neighbors[i] = filter.PopAll()
	}
	return nil
}

func (knn *ItemKNN) Recommend(ctx context.Context, userIds []string, n int) (map[string][]string, error) {
	return knn.recommend(ctx, userIds, n, func(userIndex int32, scores []float32) {
		for _, i := range knn.userFeedback[userIndex] {
			for _, neighbor := range knn.neighbors[i] {
				scores[neighbor.Value] += neighbor.Weight
			}
		}
	})
}

// ItemPop recommends the most popular items in training data.
type ItemPop struct {
	model.BaseModel
	trainIndex
	popularity []float32
}

func NewItemPop() *ItemPop {
	return new(ItemPop)
}

func (pop *ItemPop) Fit(_ context.Context, train *dataset.Log, params model.Params) error {
	pop.SetParams(params)
	if train.Count() == 0 {
		return errors.Annotate(model.ErrFit, "empty training data")
	}
	pop.initIndex(train)
	pop.popularity = make([]float32, train.CountItems())
	for i, users := range train.GetItemFeedback() {
		pop.popularity[i] = float32(len(users))
	}
	return nil
}

func (pop *ItemPop) Recommend(ctx context.Context, userIds []string, n int) (map[string][]string, error) {
	return pop.recommend(ctx, userIds, n, func(_ int32, scores []float32) {
		copy(scores, pop.popularity)
	})
}
