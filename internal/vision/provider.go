package vision

import (
	"context"
	"image"

	"github.com/andresmejia3/faceclari/internal/types"
)

// Provider is the face model behind the engine. Detection and embedding are separate calls
// so callers can skip the (expensive) embedding step when nothing was detected.
//
// Implementations must be deterministic for a fixed image and model, and safe for concurrent use.
type Provider interface {
	// Detect returns face locations in detection order.
	Detect(ctx context.Context, img image.Image) ([]types.Box, error)
	// Embed returns one embedding per box, index-aligned with boxes.
	Embed(ctx context.Context, img image.Image, boxes []types.Box) ([]types.Embedding, error)
	Close() error
}
