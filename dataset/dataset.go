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
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// ErrData is returned for interaction data that cannot be used as-is.
const ErrData = errors.ConstError("malformed interaction data")

// Interaction is a single user-item record. A zero Timestamp means the source had none.
type Interaction struct {
	UserId    string
	ItemId    string
	Rating    float64
	Timestamp time.Time
}

func compareInteractions(a, b Interaction) int {
	if c := strings.Compare(a.UserId, b.UserId); c != 0 {
		return c
	}
	return strings.Compare(a.ItemId, b.ItemId)
}

// Log is an immutable collection of unique (user, item) interactions. Records are kept
// sorted by user id then item id, users and items are indexed in ascending id order.
// Every transformation returns a new Log.
type Log struct {
	records      []Interaction
	userDict     *FreqDict
	itemDict     *FreqDict
	recordUsers  []int32
	recordItems  []int32
	userOffsets  []int
	userFeedback [][]int32
	itemFeedback [][]int32
}

// NewLog creates a Log from cleaned interactions. Records with missing ratings or
// repeated (user, item) pairs are rejected; use Clean for raw input.
func NewLog(records []Interaction) (*Log, error) {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, compareInteractions)
	for i := range sorted {
		if math.IsNaN(sorted[i].Rating) {
			return nil, errors.Annotatef(ErrData, "rating of (%s, %s) is missing", sorted[i].UserId, sorted[i].ItemId)
		}
		if i > 0 && compareInteractions(sorted[i-1], sorted[i]) == 0 {
			return nil, errors.Annotatef(ErrData, "duplicate interaction (%s, %s)", sorted[i].UserId, sorted[i].ItemId)
		}
	}
	return newLog(sorted), nil
}

// newLog indexes records that are already sorted and unique.
func newLog(records []Interaction) *Log {
	l := &Log{
		records:     records,
		userDict:    NewFreqDict(),
		itemDict:    NewFreqDict(),
		recordUsers: make([]int32, len(records)),
		recordItems: make([]int32, len(records)),
		userOffsets: make([]int, 0),
	}
	itemIds := lo.Uniq(lo.Map(records, func(r Interaction, _ int) string { return r.ItemId }))
	sort.Strings(itemIds)
	for _, itemId := range itemIds {
		l.itemDict.NotCount(itemId)
	}
	for i, r := range records {
		if i == 0 || r.UserId != records[i-1].UserId {
			l.userOffsets = append(l.userOffsets, i)
		}
		l.recordUsers[i] = int32(l.userDict.Id(r.UserId))
		l.recordItems[i] = int32(l.itemDict.Id(r.ItemId))
	}
	l.userOffsets = append(l.userOffsets, len(records))
	l.userFeedback = make([][]int32, l.userDict.Count())
	l.itemFeedback = make([][]int32, l.itemDict.Count())
	for i := range records {
		u, v := l.recordUsers[i], l.recordItems[i]
		l.userFeedback[u] = append(l.userFeedback[u], v)
		l.itemFeedback[v] = append(l.itemFeedback[v], u)
	}
	return l
}

// subset keeps the records whose bit is set, in order.
func (l *Log) subset(mask *bitset.BitSet) *Log {
	records := make([]Interaction, 0, mask.Count())
	for i, ok := mask.NextSet(0); ok; i, ok = mask.NextSet(i + 1) {
		records = append(records, l.records[i])
	}
	return newLog(records)
}

// Count returns the number of interactions.
func (l *Log) Count() int {
	return len(l.records)
}

func (l *Log) CountUsers() int {
	return l.userDict.Count()
}

func (l *Log) CountItems() int {
	return l.itemDict.Count()
}

// Get returns the i-th interaction in (user, item) order.
func (l *Log) Get(i int) Interaction {
	return l.records[i]
}

// Records returns a copy of all interactions in (user, item) order.
func (l *Log) Records() []Interaction {
	return slices.Clone(l.records)
}

// Users returns user ids in ascending order.
func (l *Log) Users() []string {
	return slices.Clone(l.userDict.ToList())
}

// Items returns item ids in ascending order.
func (l *Log) Items() []string {
	return slices.Clone(l.itemDict.ToList())
}

func (l *Log) GetUserDict() *FreqDict {
	return l.userDict
}

func (l *Log) GetItemDict() *FreqDict {
	return l.itemDict
}

// GetUserFeedback returns item indices per user index.
func (l *Log) GetUserFeedback() [][]int32 {
	return l.userFeedback
}

// GetItemFeedback returns user indices per item index.
func (l *Log) GetItemFeedback() [][]int32 {
	return l.itemFeedback
}

// UserRecords returns the interactions of a user sorted by item id.
func (l *Log) UserRecords(userId string) []Interaction {
	u, ok := l.userDict.Index(userId)
	if !ok {
		return nil
	}
	return slices.Clone(l.records[l.userOffsets[u]:l.userOffsets[u+1]])
}

// UserItems returns the items of a user in ascending order.
func (l *Log) UserItems(userId string) []string {
	return lo.Map(l.UserRecords(userId), func(r Interaction, _ int) string { return r.ItemId })
}

// UserItemSet returns the items of a user as a set.
func (l *Log) UserItemSet(userId string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(l.UserItems(userId)...)
}

// Contains checks whether the (user, item) pair exists.
func (l *Log) Contains(userId, itemId string) bool {
	u, ok := l.userDict.Index(userId)
	if !ok {
		return false
	}
	records := l.records[l.userOffsets[u]:l.userOffsets[u+1]]
	_, found := slices.BinarySearchFunc(records, itemId, func(r Interaction, itemId string) int {
		return strings.Compare(r.ItemId, itemId)
	})
	return found
}

// Filter returns the interactions accepted by keep.
func (l *Log) Filter(keep func(Interaction) bool) *Log {
	mask := bitset.New(uint(len(l.records)))
	for i, r := range l.records {
		if keep(r) {
			mask.Set(uint(i))
		}
	}
	return l.subset(mask)
}

// Merge returns the union of two disjoint logs.
func (l *Log) Merge(other *Log) (*Log, error) {
	records := make([]Interaction, 0, len(l.records)+len(other.records))
	i, j := 0, 0
	for i < len(l.records) || j < len(other.records) {
		switch {
		case j == len(other.records):
			records = append(records, l.records[i])
			i++
		case i == len(l.records):
			records = append(records, other.records[j])
			j++
		default:
			c := compareInteractions(l.records[i], other.records[j])
			if c == 0 {
				return nil, errors.Annotatef(ErrData, "interaction (%s, %s) exists in both logs",
					l.records[i].UserId, l.records[i].ItemId)
			} else if c < 0 {
				records = append(records, l.records[i])
				i++
			} else {
				records = append(records, other.records[j])
				j++
			}
		}
	}
	return newLog(records), nil
}

// Equal reports whether two logs hold exactly the same interactions.
func (l *Log) Equal(other *Log) bool {
	return slices.EqualFunc(l.records, other.records, func(a, b Interaction) bool {
		return a.UserId == b.UserId && a.ItemId == b.ItemId && a.Rating == b.Rating && a.Timestamp.Equal(b.Timestamp)
	})
}

// Summary describes the shape of a log.
type Summary struct {
	Users        int     `json:"users"`
	Items        int     `json:"items"`
	Interactions int     `json:"interactions"`
	Density      float64 `json:"density"`
	UsersBelowK  int     `json:"users_below_k"`
	ItemsBelowK  int     `json:"items_below_k"`
}

// Summarize counts users, items and interactions, and how many users and items have
// fewer than k interactions.
func (l *Log) Summarize(k int) Summary {
	s := Summary{
		Users:        l.CountUsers(),
		Items:        l.CountItems(),
		Interactions: l.Count(),
	}
	if s.Users > 0 && s.Items > 0 {
		s.Density = float64(s.Interactions) / float64(s.Users) / float64(s.Items)
	}
	for u := 0; u < s.Users; u++ {
		if l.userDict.Freq(u) < k {
			s.UsersBelowK++
		}
	}
	for i := 0; i < s.Items; i++ {
		if l.itemDict.Freq(i) < k {
			s.ItemsBelowK++
		}
	}
	return s
}
