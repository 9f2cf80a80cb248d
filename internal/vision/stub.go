package vision

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/andresmejia3/faceclari/internal/types"
)

// StubFace is one canned detection returned by Stub.
type StubFace struct {
	Box       types.Box
	Embedding types.Embedding
}

// Stub is a deterministic in-process Provider for tests and dry runs.
// Images are told apart by the red channel of their top-left pixel (see StubImage).
type Stub struct {
	Faces     map[uint8][]StubFace
	DetectErr error
	EmbedErr  error

	detectCalls atomic.Int64
	embedCalls  atomic.Int64
}

// NewStub returns an empty stub; images with unknown keys have no faces.
func NewStub() *Stub {
	return &Stub{Faces: make(map[uint8][]StubFace)}
}

// Add registers faces for images keyed by key.
func (s *Stub) Add(key uint8, faces ...StubFace) {
	s.Faces[key] = append(s.Faces[key], faces...)
}

// StubImage builds a solid image whose key Stub will recognise.
func StubImage(key uint8, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: key, G: 64, B: 64, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func stubKey(img image.Image) uint8 {
	b := img.Bounds()
	r, _, _, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	return uint8(r >> 8)
}

func (s *Stub) Detect(ctx context.Context, img image.Image) ([]types.Box, error) {
	s.detectCalls.Add(1)
	if s.DetectErr != nil {
		return nil, s.DetectErr
	}
	faces := s.Faces[stubKey(img)]
	boxes := make([]types.Box, len(faces))
	for i, f := range faces {
		boxes[i] = f.Box
	}
	return boxes, nil
}

func (s *Stub) Embed(ctx context.Context, img image.Image, boxes []types.Box) ([]types.Embedding, error) {
	s.embedCalls.Add(1)
	if s.EmbedErr != nil {
		return nil, s.EmbedErr
	}
	faces := s.Faces[stubKey(img)]
	out := make([]types.Embedding, 0, len(boxes))
	for _, b := range boxes {
		found := false
		for _, f := range faces {
			if f.Box == b {
				out = append(out, f.Embedding)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("stub: no face registered at %+v", b)
		}
	}
	return out, nil
}

func (s *Stub) Close() error { return nil }

// DetectCalls reports how many times Detect ran.
func (s *Stub) DetectCalls() int { return int(s.detectCalls.Load()) }

// EmbedCalls reports how many times Embed ran.
func (s *Stub) EmbedCalls() int { return int(s.embedCalls.Load()) }
