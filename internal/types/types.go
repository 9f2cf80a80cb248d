package types

import "image"

// Embedding is one face descriptor produced by the vision provider (128-d for dlib models).
type Embedding []float64

// Box is a face location in pixel coordinates, in the provider's [top, right, bottom, left] order.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Rect converts the box to an image.Rectangle (Min inclusive, Max exclusive).
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// FaceFeature is the extracted facial data of a single image.
// Embeddings and Locations are index-aligned, in detection order.
type FaceFeature struct {
	SourcePath string
	Image      image.Image
	Embeddings []Embedding
	Locations  []Box
}

// EmptyFeature is the zero-face result for a path that was skipped or unreadable.
func EmptyFeature(path string) FaceFeature {
	return FaceFeature{SourcePath: path}
}

// HasFace reports whether at least one face was detected and embedded.
func (f FaceFeature) HasFace() bool {
	return len(f.Embeddings) > 0
}

// Identity is one known person in the gallery.
type Identity struct {
	Name                string
	Dir                 string
	ReferenceEmbeddings []Embedding
	ReferenceLocations  []Box // aligned with ReferenceEmbeddings; not used for matching
}

// Matchable is false for identities without any usable sample.
func (i *Identity) Matchable() bool {
	return len(i.ReferenceEmbeddings) > 0
}

// AddReference appends one sample's first face.
func (i *Identity) AddReference(e Embedding, loc Box) {
	i.ReferenceEmbeddings = append(i.ReferenceEmbeddings, e)
	i.ReferenceLocations = append(i.ReferenceLocations, loc)
}

// Gallery is the ordered set of known identities. Read-only once built.
type Gallery []*Identity

// Names returns identity names in gallery order.
func (g Gallery) Names() []string {
	names := make([]string, len(g))
	for i, id := range g {
		names[i] = id.Name
	}
	return names
}

// MatchResult is the outcome of comparing one feature against one identity.
// FaceIndex points into the feature's Embeddings/Locations and is only meaningful when Matched.
type MatchResult struct {
	Matched   bool
	FaceIndex int
}

// NoMatch is returned whenever nothing crossed the tolerance.
var NoMatch = MatchResult{Matched: false, FaceIndex: -1}
