// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package verification

import "strings"

// similarity is 1 − levenshtein/maxLen over lower-cased runes
func similarity(a, b string) float64 {
	ra := []rune(strings.ToLower(strings.TrimSpace(a)))
	rb := []rune(strings.ToLower(strings.TrimSpace(b)))
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}

	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	return 1 - float64(prev[len(rb)])/float64(longest)
}

func meanSimilarity(names []string) float64 {
	if len(names) < 2 {
		return 1
	}
	var total float64
	pairs := 0
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			total += similarity(names[i], names[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	union := len(set)
	common := 0
	seen := make(map[string]bool, len(b))
	for _, v := range b {
		if seen[v] {
			continue
		}
		seen[v] = true
		if set[v] {
			common++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}

var categoryGroups = [][]string{
	{"museum", "art_gallery", "cultural_heritage"},
	{"park", "natural_heritage", "garden"},
	{"restaurant", "cafe", "food"},
	{"hotel", "lodging", "accommodation"},
	{"church", "temple", "mosque", "religious_site"},
	{"tourist_attraction", "landmark", "monument"},
}

func categoryGroup(category string) int {
	c := strings.ToLower(category)
	for i, group := range categoryGroups {
		for _, item := range group {
			if strings.Contains(c, item) || strings.Contains(item, c) {
				return i
			}
		}
	}
	return -1
}

// categoryConsistency is 1 when all known categories fall in one group,
// dropping by 0.2 per extra group down to 0.5. Unknown categories only
// give 0.8.
func categoryConsistency(categories []string) float64 {
	unique := make(map[string]bool)
	for _, c := range categories {
		if c != "" {
			unique[c] = true
		}
	}
	if len(unique) <= 1 {
		return 1
	}

	groups := make(map[int]bool)
	for c := range unique {
		if g := categoryGroup(c); g >= 0 {
			groups[g] = true
		}
	}
	if len(groups) == 0 {
		return 0.8
	}
	if len(groups) == 1 {
		return 1
	}
	score := 1 - float64(len(groups)-1)*0.2
	if score < 0.5 {
		score = 0.5
	}
	return score
}
