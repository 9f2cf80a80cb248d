//go:build dlib

package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/andresmejia3/faceclari/internal/types"
)

// DlibProvider runs the dlib models in-process through go-face.
// Build with -tags dlib; requires libdlib and the model files in modelDir.
type DlibProvider struct {
	rec *face.Recognizer
	cnn bool
	mu  sync.Mutex // go-face recognisers are not safe for concurrent use
}

func NewDlibProvider(modelDir string, model string) (Provider, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("fail to initialize recognizer: %w", err)
	}
	return &DlibProvider{rec: rec, cnn: model == "cnn"}, nil
}

func toJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *DlibProvider) Detect(ctx context.Context, img image.Image) ([]types.Box, error) {
	data, err := toJPEG(img)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	var faces []face.Face
	if p.cnn {
		faces, err = p.rec.RecognizeCNN(data)
	} else {
		faces, err = p.rec.Recognize(data)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	origin := img.Bounds().Min
	boxes := make([]types.Box, len(faces))
	for i, f := range faces {
		r := f.Rectangle.Add(origin)
		boxes[i] = types.Box{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
	}
	return boxes, nil
}

// Embed crops each box with a margin and describes the single face inside it.
func (p *DlibProvider) Embed(ctx context.Context, img image.Image, boxes []types.Box) ([]types.Embedding, error) {
	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("image type %T cannot be cropped", img)
	}

	out := make([]types.Embedding, len(boxes))
	for i, b := range boxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := b.Rect()
		margin := r.Dx() / 4
		crop := sub.SubImage(r.Inset(-margin).Intersect(img.Bounds()))

		data, err := toJPEG(crop)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		f, err := p.rec.RecognizeSingle(data)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("no face found inside box %+v", b)
		}

		e := make(types.Embedding, len(f.Descriptor))
		for j, v := range f.Descriptor {
			e[j] = float64(v)
		}
		out[i] = e
	}
	return out, nil
}

func (p *DlibProvider) Close() error {
	p.rec.Close()
	return nil
}
