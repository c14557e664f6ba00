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
	"testing"

	"github.com/gorse-io/recbench/common/floats"
	"github.com/gorse-io/recbench/dataset"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLog(t *testing.T, feedback map[string][]string) *dataset.Log {
	var records []dataset.Interaction
	for userId, items := range feedback {
		for _, itemId := range items {
			records = append(records, dataset.Interaction{UserId: userId, ItemId: itemId, Rating: 1})
		}
	}
	l, err := dataset.NewLog(records)
	require.NoError(t, err)
	return l
}

// clusters has two groups of users with disjoint tastes. u1 has not seen c yet.
func clusters(t *testing.T) *dataset.Log {
	return newLog(t, map[string][]string{
		"u1": {"a", "b"},
		"u2": {"a", "b", "c"},
		"u3": {"a", "b", "c"},
		"u4": {"a", "b", "c"},
		"u5": {"x", "y", "z"},
		"u6": {"x", "y", "z"},
		"u7": {"x", "y", "z"},
		"u8": {"x", "y", "z"},
	})
}

func assertRecommendations(t *testing.T, train *dataset.Log, recommendations map[string][]string, n int) {
	for userId, items := range recommendations {
		assert.LessOrEqual(t, len(items), n)
		for _, itemId := range items {
			assert.False(t, train.Contains(userId, itemId), "%s recommended to %s", itemId, userId)
		}
	}
}

func TestItemPop(t *testing.T) {
	train := clusters(t)
	m := NewItemPop()
	require.NoError(t, m.Fit(context.Background(), train, nil))
	recommendations, err := m.Recommend(context.Background(), []string{"u1", "u5"}, 2)
	require.NoError(t, err)
	// equal popularity goes to the smaller item id
	assert.Equal(t, []string{"x", "y"}, recommendations["u1"])
	assert.Equal(t, []string{"a", "b"}, recommendations["u5"])
	assertRecommendations(t, train, recommendations, 2)

	// unknown users are reported while others are still served
	recommendations, err = m.Recommend(context.Background(), []string{"u1", "nobody"}, 2)
	assert.True(t, errors.Is(err, model.ErrUnknownUser))
	assert.Len(t, recommendations, 1)
	assert.Equal(t, []string{"x", "y"}, recommendations["u1"])

	// empty training data
	err = NewItemPop().Fit(context.Background(), newLog(t, nil), nil)
	assert.True(t, errors.Is(err, model.ErrFit))
	// not fitted
	_, err = NewItemPop().Recommend(context.Background(), []string{"u1"}, 2)
	assert.Error(t, err)
}

func TestItemKNN(t *testing.T) {
	train := clusters(t)
	m := NewItemKNN()
	require.NoError(t, m.Fit(context.Background(), train, model.Params{model.NNeighbors: 10}))
	recommendations, err := m.Recommend(context.Background(), []string{"u1"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "x"}, recommendations["u1"])

	// neighbors of a: b shares four users, c shares three
	assert.Len(t, m.neighbors[0], 2)
	assert.Equal(t, int32(1), m.neighbors[0][0].Value)
	assert.InDelta(t, 1, m.neighbors[0][0].Weight, 1e-6)
	assert.InDelta(t, 3/float32(2*1.7320508), m.neighbors[0][1].Weight, 1e-6)

	// a single neighbor
	require.NoError(t, m.Fit(context.Background(), train, model.Params{model.NNeighbors: 1}))
	assert.Len(t, m.neighbors[0], 1)

	err = NewItemKNN().Fit(context.Background(), train, model.Params{model.NNeighbors: 0})
	assert.True(t, errors.Is(err, model.ErrFit))
	err = NewItemKNN().Fit(context.Background(), train, model.Params{model.Shrinkage: -1.0})
	assert.True(t, errors.Is(err, model.ErrFit))
}

func TestBPR(t *testing.T) {
	train := clusters(t)
	params := model.Params{
		model.NFactors:    4,
		model.NEpochs:     20,
		model.RandomState: 7,
	}
	m := NewBPR()
	require.NoError(t, m.Fit(context.Background(), train, params))
	assert.Equal(t, m.internalPredict(1, 1), floats.Dot(m.UserFactor[1], m.ItemFactor[1]))
	recommendations, err := m.Recommend(context.Background(), train.Users(), 3)
	require.NoError(t, err)
	assert.Len(t, recommendations, train.CountUsers())
	assertRecommendations(t, train, recommendations, 3)

	// same random state, same model
	other := NewBPR()
	require.NoError(t, other.Fit(context.Background(), train, params))
	assert.Equal(t, m.UserFactor, other.UserFactor)
	assert.Equal(t, m.ItemFactor, other.ItemFactor)
	otherRecommendations, err := other.Recommend(context.Background(), train.Users(), 3)
	require.NoError(t, err)
	assert.Equal(t, recommendations, otherRecommendations)

	// invalid parameters
	err = NewBPR().Fit(context.Background(), train, model.Params{model.NFactors: 0})
	assert.True(t, errors.Is(err, model.ErrFit))
	err = NewBPR().Fit(context.Background(), train, model.Params{model.Lr: -0.1})
	assert.True(t, errors.Is(err, model.ErrFit))
	// no negative items
	err = NewBPR().Fit(context.Background(), newLog(t, map[string][]string{"1": {"a", "b"}}), nil)
	assert.True(t, errors.Is(err, model.ErrFit))
	// cancelled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewBPR().Fit(ctx, train, params))
}

func TestALS(t *testing.T) {
	train := clusters(t)
	params := model.Params{
		model.NFactors:    4,
		model.NEpochs:     10,
		model.RandomState: 3,
	}
	m := NewALS()
	require.NoError(t, m.Fit(context.Background(), train, params))
	recommendations, err := m.Recommend(context.Background(), train.Users(), 2)
	require.NoError(t, err)
	assertRecommendations(t, train, recommendations, 2)
	assert.Len(t, recommendations["u1"], 2)
	// u8 has seen x, y and z
	assert.Subset(t, []string{"a", "b", "c"}, recommendations["u8"])

	other := NewALS()
	require.NoError(t, other.Fit(context.Background(), train, params))
	assert.Equal(t, m.UserFactor, other.UserFactor)

	err = NewALS().Fit(context.Background(), train, model.Params{model.Weight: 0.0})
	assert.True(t, errors.Is(err, model.ErrFit))
	err = NewALS().Fit(context.Background(), newLog(t, nil), nil)
	assert.True(t, errors.Is(err, model.ErrFit))
}

func TestNewModelCreator(t *testing.T) {
	assert.Equal(t, []string{"als", "bpr", "item_knn", "item_pop"}, ModelNames())
	for _, name := range ModelNames() {
		creator, err := NewModelCreator(name)
		require.NoError(t, err)
		assert.NotNil(t, creator())
		assert.NoError(t, DefaultGrid(name).Validate())
	}
	// every call creates a fresh model
	creator, _ := NewModelCreator("bpr")
	assert.NotSame(t, creator(), creator())

	_, err := NewModelCreator("svd")
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Equal(t, 25, DefaultGrid("bpr").NumCombinations())
	assert.Equal(t, 5, DefaultGrid("item_knn").NumCombinations())
}
