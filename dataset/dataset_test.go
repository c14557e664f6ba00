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
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairs builds a log from "user:item" strings with rating 1.
func pairs(t *testing.T, edges ...string) *Log {
	records := make([]Interaction, 0, len(edges))
	for _, edge := range edges {
		var userId, itemId string
		for i := range edge {
			if edge[i] == ':' {
				userId, itemId = edge[:i], edge[i+1:]
				break
			}
		}
		records = append(records, Interaction{UserId: userId, ItemId: itemId, Rating: 1})
	}
	l, err := NewLog(records)
	require.NoError(t, err)
	return l
}

// grid builds a log where every one of nUsers users rated every one of nItems items.
func grid(t *testing.T, nUsers, nItems int) *Log {
	records := make([]Interaction, 0, nUsers*nItems)
	for u := 0; u < nUsers; u++ {
		for i := 0; i < nItems; i++ {
			records = append(records, Interaction{
				UserId: fmt.Sprintf("u%03d", u),
				ItemId: fmt.Sprintf("i%03d", i),
				Rating: float64(1 + (u+i)%5),
			})
		}
	}
	l, err := NewLog(records)
	require.NoError(t, err)
	return l
}

func TestNewLog(t *testing.T) {
	l, err := NewLog([]Interaction{
		{UserId: "2", ItemId: "b", Rating: 3},
		{UserId: "1", ItemId: "c", Rating: 5},
		{UserId: "1", ItemId: "a", Rating: 4},
		{UserId: "10", ItemId: "a", Rating: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, l.Count())
	assert.Equal(t, 3, l.CountUsers())
	assert.Equal(t, 3, l.CountItems())
	// sorted by user id, then item id
	assert.Equal(t, []string{"1", "10", "2"}, l.Users())
	assert.Equal(t, []string{"a", "b", "c"}, l.Items())
	assert.Equal(t, Interaction{UserId: "1", ItemId: "a", Rating: 4}, l.Get(0))
	assert.Equal(t, []string{"a", "c"}, l.UserItems("1"))
	assert.Nil(t, l.UserItems("unknown"))
	assert.True(t, l.UserItemSet("1").Contains("c"))
	assert.True(t, l.Contains("2", "b"))
	assert.False(t, l.Contains("2", "a"))
	assert.False(t, l.Contains("3", "a"))
	// indices
	assert.Equal(t, [][]int32{{0, 2}, {0}, {1}}, l.GetUserFeedback())
	assert.Equal(t, [][]int32{{0, 1}, {2}, {0}}, l.GetItemFeedback())
	assert.Equal(t, 2, l.GetUserDict().Freq(0))
	assert.Equal(t, 2, l.GetItemDict().Freq(0))

	// records are copied
	records := l.Records()
	records[0].Rating = 100
	assert.Equal(t, 4.0, l.Get(0).Rating)

	_, err = NewLog([]Interaction{{UserId: "1", ItemId: "a", Rating: math.NaN()}})
	assert.True(t, errors.Is(err, ErrData))
	_, err = NewLog([]Interaction{{UserId: "1", ItemId: "a", Rating: 1}, {UserId: "1", ItemId: "a", Rating: 2}})
	assert.True(t, errors.Is(err, ErrData))

	empty, err := NewLog(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Count())
	assert.Zero(t, empty.CountUsers())
}

func TestClean(t *testing.T) {
	ts1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ts2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	l, report := Clean([]Interaction{
		{UserId: "1", ItemId: "a", Rating: 4, Timestamp: ts1},
		{UserId: "1", ItemId: "a", Rating: 4, Timestamp: ts1}, // exact duplicate
		{UserId: "1", ItemId: "a", Rating: 2, Timestamp: ts2}, // collision
		{UserId: "1", ItemId: "b", Rating: math.NaN()},
		{UserId: "2", ItemId: "b", Rating: 5},
	})
	assert.Equal(t, CleanReport{
		Rows:           5,
		MissingRatings: 1,
		Duplicates:     1,
		Collisions:     1,
		Interactions:   2,
	}, report)
	assert.Equal(t, []Interaction{
		{UserId: "1", ItemId: "a", Rating: 3, Timestamp: ts2},
		{UserId: "2", ItemId: "b", Rating: 5},
	}, l.Records())
}

func TestLog_Filter(t *testing.T) {
	l := grid(t, 3, 4)
	filtered := l.Filter(func(r Interaction) bool { return r.Rating >= 4 })
	for _, r := range filtered.Records() {
		assert.GreaterOrEqual(t, r.Rating, 4.0)
	}
	assert.Less(t, filtered.Count(), l.Count())
	// input is untouched
	assert.Equal(t, 12, l.Count())
}

func TestLog_Merge(t *testing.T) {
	a := pairs(t, "1:a", "2:b")
	b := pairs(t, "1:b", "3:c")
	merged, err := a.Merge(b)
	require.NoError(t, err)
	assert.True(t, merged.Equal(pairs(t, "1:a", "1:b", "2:b", "3:c")))

	_, err = a.Merge(pairs(t, "1:a"))
	assert.True(t, errors.Is(err, ErrData))
}

func TestLog_Summarize(t *testing.T) {
	l := pairs(t, "1:a", "1:b", "2:a")
	assert.Equal(t, Summary{
		Users:        2,
		Items:        2,
		Interactions: 3,
		Density:      0.75,
		UsersBelowK:  1,
		ItemsBelowK:  1,
	}, l.Summarize(2))
}
