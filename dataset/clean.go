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
	"cmp"
	"math"
	"slices"

	"github.com/samber/lo"
)

// CleanReport counts what Clean removed or merged.
type CleanReport struct {
	Rows           int `json:"rows"`
	MissingRatings int `json:"missing_ratings"`
	Duplicates     int `json:"duplicates"`
	Collisions     int `json:"collisions"`
	Interactions   int `json:"interactions"`
}

// Clean turns raw rows into a Log. Rows without a rating are dropped, exact duplicate
// rows are dropped, then the remaining rows of a (user, item) pair are merged into one
// interaction holding their mean rating and latest timestamp.
func Clean(rows []Interaction) (*Log, CleanReport) {
	report := CleanReport{Rows: len(rows)}
	sorted := lo.Filter(rows, func(r Interaction, _ int) bool {
		return !math.IsNaN(r.Rating)
	})
	report.MissingRatings = len(rows) - len(sorted)
	// exact duplicates end up adjacent
	slices.SortFunc(sorted, func(a, b Interaction) int {
		if c := compareInteractions(a, b); c != 0 {
			return c
		}
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Rating, b.Rating)
	})

	records := make([]Interaction, 0, len(sorted))
	for begin := 0; begin < len(sorted); {
		end := begin + 1
		for end < len(sorted) && compareInteractions(sorted[begin], sorted[end]) == 0 {
			end++
		}
		merged := sorted[begin]
		sum, n := 0.0, 0
		for i := begin; i < end; i++ {
			r := sorted[i]
			if i > begin && r.Rating == sorted[i-1].Rating && r.Timestamp.Equal(sorted[i-1].Timestamp) {
				report.Duplicates++
				continue
			}
			sum += r.Rating
			n++
			if r.Timestamp.After(merged.Timestamp) {
				merged.Timestamp = r.Timestamp
			}
		}
		report.Collisions += n - 1
		merged.Rating = sum / float64(n)
		records = append(records, merged)
		begin = end
	}
	report.Interactions = len(records)
	return newLog(records), report
}
