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
	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/recbench/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// DefaultCore is the minimum number of interactions per user and per item.
const DefaultCore = 10

// PruneCore returns the k-core of a log: the largest subset in which every user and
// every item has at least k interactions. Users below k are dropped, then items below
// k, until a pass removes nothing. An empty k-core yields an empty log.
func PruneCore(l *Log, k int) (*Log, error) {
	if k <= 0 {
		return nil, errors.NotValidf("core size %d", k)
	}
	n := l.Count()
	alive := bitset.New(uint(n))
	alive.FlipRange(0, uint(n))
	userDegree := make([]int, l.CountUsers())
	itemDegree := make([]int, l.CountItems())
	for i := 0; i < n; i++ {
		userDegree[l.recordUsers[i]]++
		itemDegree[l.recordItems[i]]++
	}

	remove := func(i uint) {
		alive.Clear(i)
		userDegree[l.recordUsers[i]]--
		itemDegree[l.recordItems[i]]--
	}
	// every productive pass removes at least one record
	maxPasses := n + 1
	converged := false
	for pass := 1; pass <= maxPasses; pass++ {
		removedUsers, removedItems := 0, 0
		for i, ok := alive.NextSet(0); ok; i, ok = alive.NextSet(i + 1) {
			if userDegree[l.recordUsers[i]] < k {
				remove(i)
				removedUsers++
			}
		}
		for i, ok := alive.NextSet(0); ok; i, ok = alive.NextSet(i + 1) {
			if itemDegree[l.recordItems[i]] < k {
				remove(i)
				removedItems++
			}
		}
		log.Logger().Debug("prune core",
			zap.Int("pass", pass),
			zap.Int("k", k),
			zap.Int("removed_by_user", removedUsers),
			zap.Int("removed_by_item", removedItems),
			zap.Uint("remain", alive.Count()))
		if removedUsers+removedItems == 0 {
			converged = true
			break
		}
	}
	if !converged {
		return nil, errors.Errorf("%d-core pruning did not converge after %d passes", k, maxPasses)
	}
	return l.subset(alive), nil
}
