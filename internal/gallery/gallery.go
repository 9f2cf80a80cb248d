package gallery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/faceclari/internal/extract"
	"github.com/andresmejia3/faceclari/internal/types"
	"go.uber.org/zap"
)

// Builder loads the known identities from a directory of per-person sample folders.
type Builder struct {
	extractor *extract.Extractor
	log       *zap.Logger
}

func New(extractor *extract.Extractor, log *zap.Logger) *Builder {
	return &Builder{extractor: extractor, log: log}
}

// Build returns one identity per subdirectory of knownDir, in sorted order.
// Each usable sample contributes the first face it contains. Identities without a
// usable sample stay in the gallery but can never match.
// Subdirectories whose names normalise to the same key are merged into the first one.
func (b *Builder) Build(ctx context.Context, knownDir string) (types.Gallery, error) {
	entries, err := os.ReadDir(knownDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read known faces directory: %w", err)
	}

	var gallery types.Gallery
	byKey := make(map[string]*types.Identity)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(knownDir, entry.Name())

		key := NormalizeName(entry.Name())
		identity, seen := byKey[key]
		if seen {
			b.log.Warn("identity name collision, merging samples",
				zap.String("dir", dir), zap.String("into", identity.Name))
		} else {
			identity = &types.Identity{Name: entry.Name(), Dir: dir}
			byKey[key] = identity
			gallery = append(gallery, identity)
		}

		if err := b.loadSamples(ctx, identity, dir); err != nil {
			return nil, err
		}
	}

	for _, identity := range gallery {
		if !identity.Matchable() {
			b.log.Warn("identity has no usable sample and will never match", zap.String("identity", identity.Name))
			continue
		}
		b.log.Debug("identity loaded",
			zap.String("identity", identity.Name),
			zap.Int("samples", len(identity.ReferenceEmbeddings)))
	}
	return gallery, nil
}

func (b *Builder) loadSamples(ctx context.Context, identity *types.Identity, dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		b.log.Error("cannot read identity directory", zap.String("dir", dir), zap.Error(err))
		return nil
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.IsDir() {
			continue
		}
		feature := b.extractor.Extract(ctx, filepath.Join(dir, f.Name()))
		if !feature.HasFace() {
			continue
		}
		identity.AddReference(feature.Embeddings[0], feature.Locations[0])
	}
	return nil
}
