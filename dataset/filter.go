// Copyright 2025 gorse Project Authors
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

package dataset

import (
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
)

// InteractionFilter keeps interactions matching a boolean expression over
// user, item, rating and timestamp, e.g. `rating >= 4`.
type InteractionFilter struct {
	source  string
	program *vm.Program
}

func filterEnv(r Interaction) map[string]any {
	return map[string]any{
		"user":      r.UserId,
		"item":      r.ItemId,
		"rating":    r.Rating,
		"timestamp": r.Timestamp,
	}
}

// NewInteractionFilter compiles a filter expression.
func NewInteractionFilter(source string) (*InteractionFilter, error) {
	program, err := expr.Compile(source, expr.Env(filterEnv(Interaction{})))
	if err != nil {
		return nil, errors.NewNotValid(err, "filter expression")
	}
	if program.Node().Type().Kind() != reflect.Bool {
		return nil, errors.NotValidf("filter expression %q does not return bool", source)
	}
	return &InteractionFilter{source: source, program: program}, nil
}

func (f *InteractionFilter) String() string {
	return f.source
}

// Apply returns the interactions accepted by the filter.
func (f *InteractionFilter) Apply(l *Log) (*Log, error) {
	var runErr error
	filtered := l.Filter(func(r Interaction) bool {
		if runErr != nil {
			return false
		}
		result, err := expr.Run(f.program, filterEnv(r))
		if err != nil {
			runErr = err
			return false
		}
		return result.(bool)
	})
	if runErr != nil {
		return nil, errors.Annotatef(runErr, "evaluate filter %q", f.source)
	}
	return filtered, nil
}
