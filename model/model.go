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

package model

import (
	"context"

	"github.com/gorse-io/recbench/base"
	"github.com/gorse-io/recbench/dataset"
	"github.com/juju/errors"
)

const (
	// ErrFit is wrapped by errors from Model.Fit.
	ErrFit = errors.ConstError("fit failed")
	// ErrUnknownUser is wrapped by errors from Model.Recommend for users absent
	// from the training data.
	ErrUnknownUser = errors.ConstError("unknown user")
)

// Model is the interface for all recommenders under evaluation.
type Model interface {
	// Fit trains the model. The error wraps ErrFit if the training data or the
	// parameters cannot be used.
	Fit(ctx context.Context, train *dataset.Log, params Params) error
	// Recommend returns at most n items per user, best first, excluding items the
	// user interacted with in training. Users unknown to the model are left out of
	// the result and reported by an error wrapping ErrUnknownUser; the result for
	// the other users is still returned.
	Recommend(ctx context.Context, userIds []string, n int) (map[string][]string, error)
}

// ModelCreator creates a fresh model. Every evaluation gets its own instance.
type ModelCreator func() Model

// BaseModel model must be included by every recommendation model. Hyper-parameters
// and the random generator are managed by the BaseModel.
type BaseModel struct {
	Params    Params               // Hyper-parameters
	rng       base.RandomGenerator // Random generator
	randState int64                // Random seed
}

// SetParams sets hyper-parameters for the BaseModel model.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
	model.rng = base.NewRandomGenerator(model.randState)
}

// GetParams returns all hyper-parameters.
func (model *BaseModel) GetParams() Params {
	return model.Params
}

func (model *BaseModel) GetRandomGenerator() base.RandomGenerator {
	return model.rng
}

// UnknownUsers builds the error returned for users missing from the training data.
func UnknownUsers(userIds []string) error {
	if len(userIds) == 0 {
		return nil
	}
	if len(userIds) == 1 {
		return errors.Annotatef(ErrUnknownUser, "user %s", userIds[0])
	}
	return errors.Annotatef(ErrUnknownUser, "%d users (first %s)", len(userIds), userIds[0])
}
