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
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/gorse-io/recbench/base/log"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

/* ParamName */

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	Lr          ParamName = "lr"           // learning rate
	Reg         ParamName = "reg"          // regularization strength
	NEpochs     ParamName = "n_epochs"     // number of epochs
	NFactors    ParamName = "n_factors"    // number of factors
	RandomState ParamName = "random_state" // random state (seed)
	InitMean    ParamName = "init_mean"    // mean of gaussian initial parameter
	InitStdDev  ParamName = "init_std"     // standard deviation of gaussian initial parameter
	Weight      ParamName = "weight"       // weight for negative samples in ALS
	NNeighbors  ParamName = "n_neighbors"  // number of neighbors in ItemKNN
	Shrinkage   ParamName = "shrinkage"    // similarity shrinkage in ItemKNN
)

// Params stores hyper-parameters for an model. It is a map between names and values.
// For example, hyper-parameters for BPR is given by:
//
//	model.Params{
//		model.Lr:       0.05,
//		model.NEpochs:  100,
//		model.NFactors: 16,
//		model.Reg:      0.01,
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

func typeMismatch(getter string, name ParamName, val interface{}) {
	log.Logger().Error("parameter type mismatch",
		zap.String("getter", getter),
		zap.String("name", string(name)),
		zap.String("type", reflect.TypeOf(val).String()))
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
// Integral floats are accepted since decoded configuration may carry them.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int32:
			return int(val)
		case int64:
			return int(val)
		case float64:
			if val == math.Trunc(val) {
				return int(val)
			}
		}
		typeMismatch("GetInt", name, val)
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		case int32:
			return int64(val)
		case float64:
			if val == math.Trunc(val) {
				return int64(val)
			}
		}
		typeMismatch("GetInt64", name, val)
	}
	return _default
}

// GetFloat32 gets a float parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		case int64:
			return float32(val)
		default:
			typeMismatch("GetFloat32", name, val)
		}
	}
	return _default
}

// GetString gets a string parameter. Returns _default if not exists or type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			typeMismatch("GetString", name, val)
		}
	}
	return _default
}

// Overwrite returns a copy of parameters updated by params.
func (parameters Params) Overwrite(params Params) Params {
	merged := parameters.Copy()
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// String formats parameters as name=value pairs sorted by name.
func (parameters Params) String() string {
	names := lo.Keys(parameters)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return strings.Join(lo.Map(names, func(name ParamName, _ int) string {
		return fmt.Sprintf("%s=%v", name, parameters[name])
	}), ", ")
}

// ParamAxis is one named dimension of a grid.
type ParamAxis struct {
	Name   ParamName
	Values []interface{}
}

// ParamsGrid contains candidates for grid search. Axes keep their declared order: the
// first axis varies slowest and values are visited in the order they are listed.
type ParamsGrid []ParamAxis

// Len returns the number of axes.
func (grid ParamsGrid) Len() int {
	return len(grid)
}

// Names returns axis names in declared order.
func (grid ParamsGrid) Names() []ParamName {
	return lo.Map(grid, func(axis ParamAxis, _ int) ParamName { return axis.Name })
}

// Get returns the values of an axis.
func (grid ParamsGrid) Get(name ParamName) ([]interface{}, bool) {
	for _, axis := range grid {
		if axis.Name == name {
			return axis.Values, true
		}
	}
	return nil, false
}

// Fill appends axes of _default that grid does not have.
func (grid ParamsGrid) Fill(_default ParamsGrid) ParamsGrid {
	filled := append(ParamsGrid{}, grid...)
	for _, axis := range _default {
		if _, exist := grid.Get(axis.Name); !exist {
			filled = append(filled, axis)
		}
	}
	return filled
}

// Validate rejects repeated axes and axes without values.
func (grid ParamsGrid) Validate() error {
	seen := make(map[ParamName]struct{})
	for _, axis := range grid {
		if axis.Name == "" {
			return errors.NotValidf("unnamed grid axis")
		}
		if _, exist := seen[axis.Name]; exist {
			return errors.NotValidf("duplicate grid axis %s", axis.Name)
		}
		if len(axis.Values) == 0 {
			return errors.NotValidf("empty grid axis %s", axis.Name)
		}
		seen[axis.Name] = struct{}{}
	}
	return nil
}

// NumCombinations returns the size of the cartesian product.
func (grid ParamsGrid) NumCombinations() int {
	n := 1
	for _, axis := range grid {
		n *= len(axis.Values)
	}
	return n
}

// Combination returns the index-th point of the cartesian product.
func (grid ParamsGrid) Combination(index int) Params {
	params := make(Params, len(grid))
	for i := len(grid) - 1; i >= 0; i-- {
		values := grid[i].Values
		params[grid[i].Name] = values[index%len(values)]
		index /= len(values)
	}
	return params
}

// Combinations returns every point of the cartesian product in grid order.
func (grid ParamsGrid) Combinations() []Params {
	combinations := make([]Params, grid.NumCombinations())
	for i := range combinations {
		combinations[i] = grid.Combination(i)
	}
	return combinations
}
