package face

import (
	"math"
	"sort"

	"github.com/kozaktomas/facelookup/internal/constants"
)

// DefaultMatchThreshold is used by Matcher when no threshold is configured.
const DefaultMatchThreshold = constants.DefaultMatchThreshold

// Match is the nearest enrolled student and its cosine distance to the query.
type Match struct {
	ID       int64   `json:"student_id"`
	Distance float64 `json:"distance"`
}

// CosineDistance computes 1 - cos(a, b), in [0, 2].
// ok is false when the vectors cannot be compared: empty input, length
// mismatch, a zero-norm vector, or non-finite components.
func CosineDistance(a, b Descriptor) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, false
	}

	// sqrt(x*x) == x in IEEE arithmetic, so identical vectors land on exactly 0.
	similarity := dotProduct / math.Sqrt(normA*normB)
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) {
		return 0, false
	}
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity, true
}

// FindMatch scans every candidate and returns the one closest to query if its
// distance is strictly below threshold. Candidates that cannot be compared
// are skipped. Ties keep the earliest candidate.
func FindMatch(known KnownSet, query Descriptor, threshold float64) (Match, bool) {
	if len(query) == 0 || len(known) == 0 {
		return Match{}, false
	}

	best := Match{Distance: math.Inf(1)}
	found := false
	for _, k := range known {
		dist, ok := CosineDistance(query, k.Descriptor)
		if !ok {
			continue
		}
		if dist < best.Distance {
			best = Match{ID: k.ID, Distance: dist}
			found = true
		}
	}

	if !found || !(best.Distance < threshold) {
		return Match{}, false
	}
	return best, true
}

// Nearest returns up to k comparable candidates ordered by distance,
// regardless of any threshold. Equal distances keep enumeration order.
func Nearest(known KnownSet, query Descriptor, k int) []Match {
	if k <= 0 || len(query) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(known))
	for _, c := range known {
		if dist, ok := CosineDistance(query, c.Descriptor); ok {
			matches = append(matches, Match{ID: c.ID, Distance: dist})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Matcher binds a distance threshold to FindMatch.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a Matcher; a non-positive threshold selects DefaultMatchThreshold.
func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return Matcher{Threshold: threshold}
}

// Find returns the nearest student under the matcher's threshold.
func (m Matcher) Find(known KnownSet, query Descriptor) (Match, bool) {
	return FindMatch(known, query, m.Threshold)
}
