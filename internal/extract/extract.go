package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/andresmejia3/faceclari/internal/codec"
	"github.com/andresmejia3/faceclari/internal/types"
	"github.com/andresmejia3/faceclari/internal/vision"
	"go.uber.org/zap"
)

// DefaultExtensions are the image types accepted when none are configured.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// Stats counts extraction outcomes. Safe for concurrent use.
type Stats struct {
	Extracted      atomic.Int64
	Unreadable     atomic.Int64
	Faceless       atomic.Int64
	ProviderErrors atomic.Int64
}

// Extractor turns an image path into a FaceFeature.
type Extractor struct {
	provider   vision.Provider
	log        *zap.Logger
	extensions []string
	Stats      Stats
}

// New returns an Extractor accepting the given extensions (matched case-sensitively).
func New(provider vision.Provider, extensions []string, log *zap.Logger) *Extractor {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &Extractor{provider: provider, log: log, extensions: slices.Clone(extensions)}
}

// IsImage reports whether path has one of the accepted extensions.
func (e *Extractor) IsImage(path string) bool {
	return slices.Contains(e.extensions, filepath.Ext(path))
}

// Extract decodes path and runs detection, then embedding only when a face was found.
// Non-image paths, unreadable files and provider failures all yield the empty feature:
// one bad file never aborts the caller's batch.
func (e *Extractor) Extract(ctx context.Context, path string) types.FaceFeature {
	if !e.IsImage(path) {
		return types.EmptyFeature(path)
	}

	img, err := codec.Decode(path)
	if err != nil {
		e.Stats.Unreadable.Add(1)
		if errors.Is(err, codec.ErrUnreadableImage) {
			e.log.Error("unreadable image", zap.String("path", path), zap.Error(err))
		} else {
			e.log.Error("cannot open image", zap.String("path", path), zap.Error(err))
		}
		return types.EmptyFeature(path)
	}

	feature, err := e.features(ctx, path, img)
	if err != nil {
		e.Stats.ProviderErrors.Add(1)
		e.log.Error("face extraction failed", zap.String("path", path), zap.Error(err))
		return types.EmptyFeature(path)
	}

	e.Stats.Extracted.Add(1)
	if !feature.HasFace() {
		e.Stats.Faceless.Add(1)
		e.log.Debug("no face detected", zap.String("path", path))
	}
	return feature
}

func (e *Extractor) features(ctx context.Context, path string, img image.Image) (types.FaceFeature, error) {
	boxes, err := e.provider.Detect(ctx, img)
	if err != nil {
		return types.FaceFeature{}, fmt.Errorf("detect: %w", err)
	}

	feature := types.FaceFeature{SourcePath: path, Image: img}
	if len(boxes) == 0 {
		return feature, nil
	}

	embs, err := e.provider.Embed(ctx, img, boxes)
	if err != nil {
		return types.FaceFeature{}, fmt.Errorf("embed: %w", err)
	}
	if len(embs) != len(boxes) {
		return types.FaceFeature{}, fmt.Errorf("provider returned %d embeddings for %d faces", len(embs), len(boxes))
	}

	feature.Embeddings = embs
	feature.Locations = boxes
	return feature, nil
}
