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
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/recbench/common/floats"
	"github.com/gorse-io/recbench/common/heap"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// trainIndex keeps what a fitted model needs from its training data: id mappings and
// the items each user already interacted with.
type trainIndex struct {
	UserIndex    *dataset.FreqDict
	ItemIndex    *dataset.FreqDict
	userFeedback [][]int32
}

func (index *trainIndex) initIndex(train *dataset.Log) {
	index.UserIndex = train.GetUserDict()
	index.ItemIndex = train.GetItemDict()
	index.userFeedback = train.GetUserFeedback()
}

// recommend ranks all items for each user with score, leaving out training items.
// Equal scores rank the smaller item id first.
func (index *trainIndex) recommend(ctx context.Context, userIds []string, n int, score func(userIndex int32, scores []float32)) (map[string][]string, error) {
	if index.ItemIndex == nil {
		return nil, errors.New("model is not fitted")
	}
	var (
		result  = make(map[string][]string, len(userIds))
		unknown []string
		scores  = make([]float32, index.ItemIndex.Count())
		exclude = bitset.New(uint(index.ItemIndex.Count()))
	)
	for _, userId := range userIds {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		userIndex, ok := index.UserIndex.Index(userId)
		if !ok {
			unknown = append(unknown, userId)
			continue
		}
		floats.Zero(scores)
		score(int32(userIndex), scores)
		exclude.ClearAll()
		for _, i := range index.userFeedback[userIndex] {
			exclude.Set(uint(i))
		}
		filter := heap.NewTopKFilter[int32, float32](n)
		for i := range scores {
			if !exclude.Test(uint(i)) && !math32.IsNaN(scores[i]) {
				filter.Push(int32(i), scores[i])
			}
		}
		result[userId] = lo.Map(filter.PopAllValues(), func(i int32, _ int) string {
			itemId, _ := index.ItemIndex.String(int(i))
			return itemId
		})
	}
	return result, model.UnknownUsers(unknown)
}

// BaseMatrixFactorization holds latent factors for users and items.
type BaseMatrixFactorization struct {
	model.BaseModel
	trainIndex
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
	nFactors   int
	nEpochs    int
	initMean   float32
	initStdDev float32
}

func (baseModel *BaseMatrixFactorization) SetParams(params model.Params) {
	baseModel.BaseModel.SetParams(params)
	baseModel.nFactors = baseModel.Params.GetInt(model.NFactors, 16)
	baseModel.nEpochs = baseModel.Params.GetInt(model.NEpochs, 50)
	baseModel.initMean = baseModel.Params.GetFloat32(model.InitMean, 0)
	baseModel.initStdDev = baseModel.Params.GetFloat32(model.InitStdDev, 0.01)
}

// Init validates parameters and data, then draws initial factors.
func (baseModel *BaseMatrixFactorization) Init(train *dataset.Log) error {
	if train.Count() == 0 {
		return errors.Annotate(model.ErrFit, "empty training data")
	}
	if baseModel.nFactors <= 0 {
		return errors.Annotatef(model.ErrFit, "%s must be positive, got %d", model.NFactors, baseModel.nFactors)
	}
	if baseModel.nEpochs < 0 {
		return errors.Annotatef(model.ErrFit, "%s must not be negative, got %d", model.NEpochs, baseModel.nEpochs)
	}
	baseModel.initIndex(train)
	rng := baseModel.GetRandomGenerator()
	baseModel.UserFactor = rng.NormalMatrix(train.CountUsers(), baseModel.nFactors, baseModel.initMean, baseModel.initStdDev)
	baseModel.ItemFactor = rng.NormalMatrix(train.CountItems(), baseModel.nFactors, baseModel.initMean, baseModel.initStdDev)
	return nil
}

func (baseModel *BaseMatrixFactorization) internalPredict(userIndex, itemIndex int32) float32 {
	return floats.Dot(baseModel.UserFactor[userIndex], baseModel.ItemFactor[itemIndex])
}

// diverged reports whether training produced non-finite factors.
func (baseModel *BaseMatrixFactorization) diverged() bool {
	for _, factors := range [][][]float32{baseModel.UserFactor, baseModel.ItemFactor} {
		for _, vec := range factors {
			for _, v := range vec {
				if math32.IsNaN(v) || math32.IsInf(v, 0) {
					return true
				}
			}
		}
	}
	return false
}

func (baseModel *BaseMatrixFactorization) Recommend(ctx context.Context, userIds []string, n int) (map[string][]string, error) {
	return baseModel.recommend(ctx, userIds, n, func(userIndex int32, scores []float32) {
		for i := range scores {
			scores[i] = baseModel.internalPredict(userIndex, int32(i))
		}
	})
}

var creators = map[string]model.ModelCreator{
	"bpr":      func() model.Model { return NewBPR() },
	"als":      func() model.Model { return NewALS() },
	"item_knn": func() model.Model { return NewItemKNN() },
	"item_pop": func() model.Model { return NewItemPop() },
}

var defaultGrids = map[string]model.ParamsGrid{
	"bpr": {
		{Name: model.NEpochs, Values: []interface{}{1, 5, 10, 20, 50}},
		{Name: model.NFactors, Values: []interface{}{5, 10, 20, 50, 100}},
	},
	"als": {
		{Name: model.NFactors, Values: []interface{}{8, 16, 32, 64}},
		{Name: model.Reg, Values: []interface{}{0.001, 0.01, 0.1}},
	},
	"item_knn": {
		{Name: model.NNeighbors, Values: []interface{}{10, 50, 100, 200, 400}},
	},
	"item_pop": {},
}

// ModelNames returns the names of available models.
func ModelNames() []string {
	names := lo.Keys(creators)
	sort.Strings(names)
	return names
}

// NewModelCreator looks up a model by name.
func NewModelCreator(name string) (model.ModelCreator, error) {
	creator, exist := creators[name]
	if !exist {
		return nil, errors.NotValidf("model %q (available: %v)", name, ModelNames())
	}
	return creator, nil
}

// DefaultGrid returns the search grid used when none is configured.
func DefaultGrid(name string) model.ParamsGrid {
	return defaultGrids[name]
}
