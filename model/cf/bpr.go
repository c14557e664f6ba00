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

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/recbench/base/log"
	"github.com/gorse-io/recbench/common/floats"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// BPR means Bayesian Personal Ranking, is a pairwise learning algorithm for matrix factorization
// model with implicit feedback. The pairwise ranking between item i and j for user u is estimated
// by:
//
//	p(i >_u j) = \sigma( p_u^T (q_i - q_j) )
//
// Hyper-parameters:
//
//	Reg       - The regularization parameter of the cost function that is
//	            optimized. Default is 0.01.
//	Lr        - The learning rate of SGD. Default is 0.05.
//	NFactors  - The number of latent factors. Default is 16.
//	NEpochs   - The number of iteration of the SGD procedure. Default is 50.
//	InitMean  - The mean of initial random latent factors. Default is 0.
//	InitStdDev - The standard deviation of initial random latent factors. Default is 0.001.
type BPR struct {
	BaseMatrixFactorization
	// Hyper parameters
	lr  float32
	reg float32
}

// NewBPR creates a BPR model.
func NewBPR() *BPR {
	return new(BPR)
}

// SetParams sets hyper-parameters of the BPR model.
func (bpr *BPR) SetParams(params model.Params) {
	bpr.BaseMatrixFactorization.SetParams(params)
	bpr.initStdDev = bpr.Params.GetFloat32(model.InitStdDev, 0.001)
	bpr.lr = bpr.Params.GetFloat32(model.Lr, 0.05)
	bpr.reg = bpr.Params.GetFloat32(model.Reg, 0.01)
}

// Fit the BPR model. Its cost function is optimized by stochastic gradient descent with one
// random generator, so the same random state always gives the same factors.
func (bpr *BPR) Fit(ctx context.Context, train *dataset.Log, params model.Params) error {
	bpr.SetParams(params)
	log.Logger().Debug("fit bpr",
		zap.Int("train_set_size", train.Count()),
		zap.Stringer("params", bpr.GetParams()))
	if bpr.lr <= 0 {
		return errors.Annotatef(model.ErrFit, "%s must be positive, got %v", model.Lr, bpr.lr)
	}
	if err := bpr.Init(train); err != nil {
		return err
	}
	// Users who interacted with every item have no negative samples.
	var users []int32
	userFeedback := make([]mapset.Set[int32], train.CountUsers())
	for u, items := range train.GetUserFeedback() {
		userFeedback[u] = mapset.NewThreadUnsafeSet(items...)
		if len(items) < train.CountItems() {
			users = append(users, int32(u))
		}
	}
	if len(users) == 0 {
		return errors.Annotate(model.ErrFit, "no user has a negative item")
	}
	// Create buffers
	temp := make([]float32, bpr.nFactors)
	userFactor := make([]float32, bpr.nFactors)
	positiveItemFactor := make([]float32, bpr.nFactors)
	negativeItemFactor := make([]float32, bpr.nFactors)
	rng := bpr.GetRandomGenerator()
	for epoch := 1; epoch <= bpr.nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		fitStart := time.Now()
		var cost float32
		for step := 0; step < train.Count(); step++ {
			// Select a user
			userIndex := users[rng.Intn(len(users))]
			items := train.GetUserFeedback()[userIndex]
			posIndex := items[rng.Intn(len(items))]
			// Select a negative sample
			negIndex := int32(-1)
			for {
				j := rng.Int31n(int32(train.CountItems()))
				if !userFeedback[userIndex].Contains(j) {
					negIndex = j
					break
				}
			}
			diff := bpr.internalPredict(userIndex, posIndex) - bpr.internalPredict(userIndex, negIndex)
			cost += math32.Log1p(math32.Exp(-diff))
			grad := math32.Exp(-diff) / (1.0 + math32.Exp(-diff))
			// Pairwise update
			copy(userFactor, bpr.UserFactor[userIndex])
			copy(positiveItemFactor, bpr.ItemFactor[posIndex])
			copy(negativeItemFactor, bpr.ItemFactor[negIndex])
			// Update positive item latent factor: +w_u
			floats.MulConstTo(userFactor, grad, temp)
			floats.MulConstAdd(positiveItemFactor, -bpr.reg, temp)
			floats.MulConstAdd(temp, bpr.lr, bpr.ItemFactor[posIndex])
			// Update negative item latent factor: -w_u
			floats.MulConstTo(userFactor, -grad, temp)
			floats.MulConstAdd(negativeItemFactor, -bpr.reg, temp)
			floats.MulConstAdd(temp, bpr.lr, bpr.ItemFactor[negIndex])
			// Update user latent factor: h_i-h_j
			floats.SubTo(positiveItemFactor, negativeItemFactor, temp)
			floats.MulConst(temp, grad)
			floats.MulConstAdd(userFactor, -bpr.reg, temp)
			floats.MulConstAdd(temp, bpr.lr, bpr.UserFactor[userIndex])
		}
		log.Logger().Debug(fmt.Sprintf("fit bpr %v/%v", epoch, bpr.nEpochs),
			zap.String("fit_time", time.Since(fitStart).String()),
			zap.Float32("loss", cost))
	}
	if bpr.diverged() {
		return errors.Annotatef(model.ErrFit, "bpr diverged with %s", bpr.GetParams())
	}
	return nil
}
