package sink

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/faceclari/internal/codec"
	"github.com/andresmejia3/faceclari/internal/types"
	"go.uber.org/zap"
)

// RectColor is the stroke used to mark the matched face.
var RectColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}

// Event describes one committed match. Recorders receive it after the file is written.
type Event struct {
	RunID      string          `json:"run_id"`
	SourcePath string          `json:"source_path"`
	Identity   string          `json:"identity"`
	FaceIndex  int             `json:"face_index"`
	Location   types.Box       `json:"location"`
	OutputPath string          `json:"output_path"`
	Embedding  types.Embedding `json:"-"`
	MatchedAt  time.Time       `json:"matched_at"`
}

// Recorder observes committed matches (match ledger, message broker).
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type Options struct {
	MatchedDir    string
	DrawRectangle bool
	Thickness     int
	RunID         string
}

// Annotator writes matched images into <MatchedDir>/<identity>/<basename>.
type Annotator struct {
	opts      Options
	log       *zap.Logger
	recorders []Recorder
}

func New(opts Options, log *zap.Logger, recorders ...Recorder) *Annotator {
	if opts.Thickness < 1 {
		opts.Thickness = 2
	}
	return &Annotator{opts: opts, log: log, recorders: recorders}
}

// OutputPath is where a match of sourcePath for identity is written.
func (a *Annotator) OutputPath(identity *types.Identity, sourcePath string) string {
	return filepath.Join(a.opts.MatchedDir, identity.Name, filepath.Base(sourcePath))
}

// Commit writes an annotated copy of the feature's image and returns its path.
// The feature's own image is left untouched. Committing the same match twice
// overwrites the first output with identical content.
func (a *Annotator) Commit(feature types.FaceFeature, identity *types.Identity, faceIndex int) (string, error) {
	if feature.Image == nil {
		return "", fmt.Errorf("no decoded image for %s", feature.SourcePath)
	}
	if faceIndex < 0 || faceIndex >= len(feature.Locations) {
		return "", fmt.Errorf("face index %d out of range (%d faces)", faceIndex, len(feature.Locations))
	}

	out := codec.ToRGBA(feature.Image)
	if a.opts.DrawRectangle {
		codec.DrawRect(out, feature.Locations[faceIndex].Rect(), RectColor, a.opts.Thickness)
	}

	dir := filepath.Join(a.opts.MatchedDir, identity.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := a.OutputPath(identity, feature.SourcePath)
	if err := codec.Encode(out, path); err != nil {
		return "", err
	}
	return path, nil
}

// Notify hands a committed match to every recorder. Recorder failures are logged, never returned.
func (a *Annotator) Notify(ctx context.Context, feature types.FaceFeature, identity *types.Identity, faceIndex int, outputPath string) {
	if len(a.recorders) == 0 {
		return
	}
	ev := Event{
		RunID:      a.opts.RunID,
		SourcePath: feature.SourcePath,
		Identity:   identity.Name,
		FaceIndex:  faceIndex,
		OutputPath: outputPath,
		MatchedAt:  time.Now().UTC(),
	}
	if faceIndex >= 0 && faceIndex < len(feature.Embeddings) {
		ev.Embedding = feature.Embeddings[faceIndex]
		ev.Location = feature.Locations[faceIndex]
	}
	for _, r := range a.recorders {
		if err := r.Record(ctx, ev); err != nil {
			a.log.Warn("failed to record match", zap.String("path", feature.SourcePath), zap.Error(err))
		}
	}
}
