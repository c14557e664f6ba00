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
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/recbench/base"
	"github.com/gorse-io/recbench/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// roundingSlack absorbs floating point error in n*fraction before rounding up,
// so that 10 * 0.3 holds out 3 records instead of 4.
const roundingSlack = 1e-9

// HeldOutCount returns how many of n interactions a user holds out: n*fraction rounded
// up, but never all of them.
func HeldOutCount(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	h := int(math.Ceil(float64(n)*fraction - roundingSlack))
	return max(0, min(h, n-1))
}

func checkFraction(name string, fraction float64) error {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return errors.NotValidf("%s %v (must be in [0, 1])", name, fraction)
	}
	return nil
}

// Split partitions a log per user. For every user, in ascending user id order,
// HeldOutCount(n, fraction) of the user's interactions (listed by item id) are drawn
// uniformly without replacement into heldOut and the rest stay in keep. All draws come
// from one generator seeded with seed, so identical inputs give identical partitions.
func Split(l *Log, fraction float64, seed int64) (keep, heldOut *Log, err error) {
	if err = checkFraction("split fraction", fraction); err != nil {
		return nil, nil, err
	}
	rng := base.NewRandomGenerator(seed)
	held := bitset.New(uint(l.Count()))
	for u := 0; u < l.CountUsers(); u++ {
		begin, end := l.userOffsets[u], l.userOffsets[u+1]
		h := HeldOutCount(end-begin, fraction)
		if h == 0 {
			continue
		}
		candidates := make([]int32, end-begin)
		for i := range candidates {
			candidates[i] = int32(begin + i)
		}
		for _, i := range rng.PartialShuffle(candidates, h) {
			held.Set(uint(i))
		}
	}
	keep = l.subset(held.Complement())
	heldOut = l.subset(held)
	return keep, heldOut, nil
}

const (
	SchemeNested  = "nested"
	SchemeHoldout = "holdout"
)

// SplitConfig describes how a log is divided into train, validation and test data.
type SplitConfig struct {
	// Scheme is SchemeNested or SchemeHoldout.
	Scheme string
	// TestFraction is the share of each user's interactions held out for testing.
	TestFraction float64
	// ValidationFraction is the share held out for validation. With SchemeNested it
	// applies to what remains after the test split, with SchemeHoldout to the full log.
	ValidationFraction float64
	// TrainFraction is the share of pure training interactions kept after downsampling.
	TrainFraction float64
	Seed          int64
}

// Validate checks fractions and the scheme name.
func (c SplitConfig) Validate() error {
	if c.Scheme != SchemeNested && c.Scheme != SchemeHoldout {
		return errors.NotValidf("split scheme %q", c.Scheme)
	}
	if err := checkFraction("test fraction", c.TestFraction); err != nil {
		return err
	}
	if err := checkFraction("validation fraction", c.ValidationFraction); err != nil {
		return err
	}
	if err := checkFraction("train fraction", c.TrainFraction); err != nil {
		return err
	}
	if c.Scheme == SchemeHoldout && c.TestFraction+c.ValidationFraction > 1 {
		return errors.NotValidf("test fraction %v plus validation fraction %v", c.TestFraction, c.ValidationFraction)
	}
	return nil
}

// Partitions are the outcome of SplitPipeline.
type Partitions struct {
	// Train is the (downsampled) data models are fitted on during the search.
	Train *Log
	// PureTrain is Train before downsampling.
	PureTrain *Log
	Validation *Log
	Test       *Log
	// FullTrain is everything except Test.
	FullTrain *Log
}

// SplitPipeline chains Split three times, each step with its own seed derived from
// the configured seed: a test split, a validation split and a downsampling of the
// pure training data.
func SplitPipeline(l *Log, cfg SplitConfig) (*Partitions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		p   Partitions
		err error
	)
	switch cfg.Scheme {
	case SchemeNested:
		if p.FullTrain, p.Test, err = Split(l, cfg.TestFraction, base.DeriveSeed(cfg.Seed, 0)); err != nil {
			return nil, errors.Trace(err)
		}
		if p.PureTrain, p.Validation, err = Split(p.FullTrain, cfg.ValidationFraction, base.DeriveSeed(cfg.Seed, 1)); err != nil {
			return nil, errors.Trace(err)
		}
	case SchemeHoldout:
		var holdout *Log
		if p.PureTrain, holdout, err = Split(l, cfg.TestFraction+cfg.ValidationFraction, base.DeriveSeed(cfg.Seed, 0)); err != nil {
			return nil, errors.Trace(err)
		}
		testShare := 0.0
		if total := cfg.TestFraction + cfg.ValidationFraction; total > 0 {
			testShare = cfg.TestFraction / total
		}
		if p.Validation, p.Test, err = Split(holdout, testShare, base.DeriveSeed(cfg.Seed, 1)); err != nil {
			return nil, errors.Trace(err)
		}
		if p.FullTrain, err = p.PureTrain.Merge(p.Validation); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if p.Train, _, err = Split(p.PureTrain, 1-cfg.TrainFraction, base.DeriveSeed(cfg.Seed, 2)); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("split interactions",
		zap.String("scheme", cfg.Scheme),
		zap.Int64("seed", cfg.Seed),
		zap.Int("n_train", p.Train.Count()),
		zap.Int("n_pure_train", p.PureTrain.Count()),
		zap.Int("n_validation", p.Validation.Count()),
		zap.Int("n_test", p.Test.Count()))
	return &p, nil
}
