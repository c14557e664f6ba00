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

package evaluator

import (
	"math"

	mapset "github.com/deckarep/golang-set/v2"
)

// Metric scores the first k items of a ranked list against the relevant items of a user.
type Metric func(rankList []string, relevant mapset.Set[string], k int) float64

func truncate(rankList []string, k int) []string {
	if k <= 0 {
		return nil
	}
	if len(rankList) > k {
		return rankList[:k]
	}
	return rankList
}

// IdealDCG returns the table IDCG[j] = \sum^{j}_{i=1} \frac {1} {\log_2(i+1)} for j = 0..k.
func IdealDCG(k int) []float64 {
	idcg := make([]float64, max(k, 0)+1)
	for j := 1; j < len(idcg); j++ {
		idcg[j] = idcg[j-1] + 1/math.Log2(float64(j)+1)
	}
	return idcg
}

// NDCG means Normalized Discounted Cumulative Gain. The ideal gain is truncated at the number
// of relevant items, so a user with fewer than k relevant items can still reach 1:
//
//	NDCG@k = DCG@k / IDCG[min(|relevant|, k)]
func NDCG(rankList []string, relevant mapset.Set[string], k int) float64 {
	return ndcg(rankList, relevant, k, IdealDCG(k))
}

func ndcg(rankList []string, relevant mapset.Set[string], k int, idcg []float64) float64 {
	h := min(relevant.Cardinality(), k)
	if h <= 0 || len(rankList) == 0 {
		return 0
	}
	// DCG = \sum^{N}_{i=1} \frac {rel_i} {\log_2(i+1)}
	dcg := 0.0
	for i, itemId := range truncate(rankList, k) {
		if relevant.Contains(itemId) {
			dcg += 1 / math.Log2(float64(i)+2)
		}
	}
	return dcg / idcg[h]
}

func hits(rankList []string, relevant mapset.Set[string], k int) int {
	hit := 0
	for _, itemId := range truncate(rankList, k) {
		if relevant.Contains(itemId) {
			hit++
		}
	}
	return hit
}

// Precision is the fraction of relevant items among k recommended slots.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {k}
func Precision(rankList []string, relevant mapset.Set[string], k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(hits(rankList, relevant, k)) / float64(k)
}

// Recall is the fraction of relevant items that have been recommended.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{relevant documents}|}
func Recall(rankList []string, relevant mapset.Set[string], k int) float64 {
	if relevant.Cardinality() == 0 {
		return 0
	}
	return float64(hits(rankList, relevant, k)) / float64(relevant.Cardinality())
}

// HitRate is 1 if any relevant item is recommended.
func HitRate(rankList []string, relevant mapset.Set[string], k int) float64 {
	if hits(rankList, relevant, k) > 0 {
		return 1
	}
	return 0
}

// MRR means Mean Reciprocal Rank. For a single user it is the reciprocal rank of the first
// relevant item: 1 for first place, 1/2 for second place and so on.
func MRR(rankList []string, relevant mapset.Set[string], k int) float64 {
	for i, itemId := range truncate(rankList, k) {
		if relevant.Contains(itemId) {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// MAP means Mean Average Precision. Precision at each hit is averaged over min(|relevant|, k).
// mAP: http://sdsawtelle.github.io/blog/output/mean-average-precision-MAP-for-recommender-systems.html
func MAP(rankList []string, relevant mapset.Set[string], k int) float64 {
	h := min(relevant.Cardinality(), k)
	if h <= 0 {
		return 0
	}
	sumPrecision := 0.0
	hit := 0
	for i, itemId := range truncate(rankList, k) {
		if relevant.Contains(itemId) {
			hit++
			sumPrecision += float64(hit) / float64(i+1)
		}
	}
	return sumPrecision / float64(h)
}
