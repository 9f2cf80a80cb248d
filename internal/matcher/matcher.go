package matcher

import (
	"math"

	"github.com/andresmejia3/faceclari/internal/types"
)

// DefaultTolerance is the face_recognition library's usual threshold.
const DefaultTolerance = 0.45

// DistanceFunc measures how far apart two embeddings are.
type DistanceFunc func(a, b types.Embedding) float64

// Distance is the Euclidean distance between two embeddings.
// Empty embeddings or embeddings of different lengths are infinitely far apart.
func Distance(a, b types.Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CompareFaces flags every candidate within tolerance of ref (inclusive).
func CompareFaces(candidates []types.Embedding, ref types.Embedding, tolerance float64) []bool {
	return compare(Distance, candidates, ref, tolerance)
}

func compare(dist DistanceFunc, candidates []types.Embedding, ref types.Embedding, tolerance float64) []bool {
	flags := make([]bool, len(candidates))
	for i, c := range candidates {
		flags[i] = dist(c, ref) <= tolerance
	}
	return flags
}

// Matcher decides whether a feature belongs to a known identity.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	Tolerance float64
	distance  DistanceFunc
}

type Option func(*Matcher)

// WithDistance replaces the Euclidean distance.
func WithDistance(fn DistanceFunc) Option {
	return func(m *Matcher) { m.distance = fn }
}

func New(tolerance float64, opts ...Option) *Matcher {
	m := &Matcher{Tolerance: tolerance, distance: Distance}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match walks the identity's references in order and stops at the first one that
// any face of the feature is close enough to. FaceIndex is the first such face.
func (m *Matcher) Match(feature types.FaceFeature, identity *types.Identity) types.MatchResult {
	if !feature.HasFace() || identity == nil {
		return types.NoMatch
	}
	for _, ref := range identity.ReferenceEmbeddings {
		flags := compare(m.distance, feature.Embeddings, ref, m.Tolerance)
		for i, ok := range flags {
			if ok {
				return types.MatchResult{Matched: true, FaceIndex: i}
			}
		}
	}
	return types.NoMatch
}

// MatchAny returns the first identity in gallery order that matches.
// Later identities are not evaluated once one matches.
func (m *Matcher) MatchAny(feature types.FaceFeature, gallery types.Gallery) (*types.Identity, types.MatchResult) {
	if !feature.HasFace() {
		return nil, types.NoMatch
	}
	for _, identity := range gallery {
		if r := m.Match(feature, identity); r.Matched {
			return identity, r
		}
	}
	return nil, types.NoMatch
}
