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
	"fmt"
	"time"

	"github.com/gorse-io/recbench/base/log"
	"github.com/gorse-io/recbench/common/floats"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ALS [7] is the Weighted Regularized Matrix Factorization, which exploits unique properties
// of implicit feedback datasets. It treats the data as indication of positive and negative
// preference associated with vastly varying confidence levels. This leads to a factor model
// which is especially tailored for implicit feedback recommenders. Authors also proposed a
// scalable optimization procedure, which scales linearly with the data size.
//
// Hyper-parameters:
//
//	NFactors   - The number of latent factors. Default is 16.
//	NEpochs    - The number of training epochs. Default is 50.
//	InitMean   - The mean of initial latent factors. Default is 0.
//	InitStdDev - The standard deviation of initial latent factors. Default is 0.1.
//	Reg        - The strength of regularization.
//	Weight     - The weight of missing entries. Default is 0.001.
type ALS struct {
	BaseMatrixFactorization
	// Hyper parameters
	reg    float32
	weight float32
}

// NewALS creates a eALS model.
func NewALS() *ALS {
	return new(ALS)
}

// SetParams sets hyper-parameters for the ALS model.
func (als *ALS) SetParams(params model.Params) {
	als.BaseMatrixFactorization.SetParams(params)
	als.initStdDev = als.Params.GetFloat32(model.InitStdDev, 0.1)
	als.reg = als.Params.GetFloat32(model.Reg, 0.06)
	als.weight = als.Params.GetFloat32(model.Weight, 0.001)
}

// Fit the ALS model by element-wise coordinate descent.
func (als *ALS) Fit(ctx context.Context, train *dataset.Log, params model.Params) error {
	als.SetParams(params)
	log.Logger().Debug("fit als",
		zap.Int("train_set_size", train.Count()),
		zap.Stringer("params", als.GetParams()))
	if als.reg < 0 || als.weight <= 0 || als.weight > 1 {
		return errors.Annotatef(model.ErrFit, "invalid %s=%v or %s=%v", model.Reg, als.reg, model.Weight, als.weight)
	}
	if err := als.Init(train); err != nil {
		return err
	}
	// Create temporary matrix
	s := make([][]float32, als.nFactors)
	for i := range s {
		s[i] = make([]float32, als.nFactors)
	}
	userPredictions := make([]float32, train.CountItems())
	itemPredictions := make([]float32, train.CountUsers())
	userRes := make([]float32, train.CountItems())
	itemRes := make([]float32, train.CountUsers())
	for ep := 1; ep <= als.nEpochs; ep++ {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		fitStart := time.Now()
		// Update user factors
		// S^q <- \sum^N_{itemIndex=1} c_i q_i q_i^T
		floats.MatZero(s)
		for itemIndex := 0; itemIndex < train.CountItems(); itemIndex++ {
			for i := 0; i < als.nFactors; i++ {
				floats.MulConstAdd(als.ItemFactor[itemIndex], als.ItemFactor[itemIndex][i], s[i])
			}
		}
		for userIndex, userFeedback := range train.GetUserFeedback() {
			for _, i := range userFeedback {
				userPredictions[i] = als.internalPredict(int32(userIndex), i)
			}
			for f := 0; f < als.nFactors; f++ {
				// for itemIndex \in R_u do   \hat_{r}^f_{ui} <- \hat_{r}_{ui} - p_{uf]q_{if}
				for _, i := range userFeedback {
					userRes[i] = userPredictions[i] - als.UserFactor[userIndex][f]*als.ItemFactor[i][f]
				}
				// p_{uf} <-
				a, b, c := float32(0), float32(0), float32(0)
				for _, i := range userFeedback {
					a += (1 - (1-als.weight)*userRes[i]) * als.ItemFactor[i][f]
					c += (1 - als.weight) * als.ItemFactor[i][f] * als.ItemFactor[i][f]
				}
				for k := 0; k < als.nFactors; k++ {
					if k != f {
						b += als.weight * als.UserFactor[userIndex][k] * s[k][f]
					}
				}
				als.UserFactor[userIndex][f] = (a - b) / (c + als.weight*s[f][f] + als.reg)
				// for itemIndex \in R_u do   \hat_{r}_{ui} <- \hat_{r}^f_{ui} - p_{uf]q_{if}
				for _, i := range userFeedback {
					userPredictions[i] = userRes[i] + als.UserFactor[userIndex][f]*als.ItemFactor[i][f]
				}
			}
		}
		// Update item factors
		// S^p <- P^T P
		floats.MatZero(s)
		for userIndex := 0; userIndex < train.CountUsers(); userIndex++ {
			for i := 0; i < als.nFactors; i++ {
				floats.MulConstAdd(als.UserFactor[userIndex], als.UserFactor[userIndex][i], s[i])
			}
		}
		for itemIndex, itemFeedback := range train.GetItemFeedback() {
			for _, u := range itemFeedback {
				itemPredictions[u] = als.internalPredict(u, int32(itemIndex))
			}
			for f := 0; f < als.nFactors; f++ {
				// for userIndex \in R_i do   \hat_{r}^f_{ui} <- \hat_{r}_{ui} - p_{uf]q_{if}
				for _, u := range itemFeedback {
					itemRes[u] = itemPredictions[u] - als.UserFactor[u][f]*als.ItemFactor[itemIndex][f]
				}
				// q_{if} <-
				a, b, c := float32(0), float32(0), float32(0)
				for _, u := range itemFeedback {
					a += (1 - (1-als.weight)*itemRes[u]) * als.UserFactor[u][f]
					c += (1 - als.weight) * als.UserFactor[u][f] * als.UserFactor[u][f]
				}
				for k := 0; k < als.nFactors; k++ {
					if k != f {
						b += als.weight * als.ItemFactor[itemIndex][k] * s[k][f]
					}
				}
				als.ItemFactor[itemIndex][f] = (a - b) / (c + als.weight*s[f][f] + als.reg)
				// for userIndex \in R_i do   \hat_{r}_{ui} <- \hat_{r}^f_{ui} - p_{uf]q_{if}
				for _, u := range itemFeedback {
					itemPredictions[u] = itemRes[u] + als.UserFactor[u][f]*als.ItemFactor[itemIndex][f]
				}
			}
		}
		log.Logger().Debug(fmt.Sprintf("fit als %v/%v", ep, als.nEpochs),
			zap.String("fit_time", time.Since(fitStart).String()))
	}
	if als.diverged() {
		return errors.Annotatef(model.ErrFit, "als diverged with %s", als.GetParams())
	}
	return nil
}
