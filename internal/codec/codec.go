package codec

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ErrUnreadableImage is returned when a file exists but cannot be decoded as an image.
var ErrUnreadableImage = errors.New("unreadable image")

// ErrUnsupportedFormat is returned by Encode for extensions it cannot write.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// JPEGQuality is used for every JPEG written to the matched tree.
const JPEGQuality = 95

// TempPrefix marks files Encode has not yet renamed into place.
const TempPrefix = ".faceclari-"

// Decode loads and decodes the image at path (jpeg, png or bmp).
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, filepath.Base(path), err)
	}
	return img, nil
}

// ToRGBA returns a fresh 8-bit RGBA copy of img, origin preserved.
// The source is never aliased, so callers may draw on the result freely.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// DrawRect strokes the outline of rect onto img with the given thickness.
// The rectangle is clipped to the image bounds; thickness grows inwards.
func DrawRect(img *image.RGBA, rect image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Canon()
	if rect.Empty() {
		return
	}

	fill := func(r image.Rectangle) {
		r = r.Intersect(img.Bounds())
		if r.Empty() {
			return
		}
		stride := img.Stride
		pix := img.Pix
		imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
		for y := r.Min.Y; y < r.Max.Y; y++ {
			rowStart := (y-imgMinY)*stride + (r.Min.X-imgMinX)*4
			for x := 0; x < r.Dx(); x++ {
				off := rowStart + x*4
				pix[off] = c.R
				pix[off+1] = c.G
				pix[off+2] = c.B
				pix[off+3] = c.A
			}
		}
	}

	t := thickness
	// top, bottom, left, right
	fill(image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, min(rect.Min.Y+t, rect.Max.Y)))
	fill(image.Rect(rect.Min.X, max(rect.Max.Y-t, rect.Min.Y), rect.Max.X, rect.Max.Y))
	fill(image.Rect(rect.Min.X, rect.Min.Y, min(rect.Min.X+t, rect.Max.X), rect.Max.Y))
	fill(image.Rect(max(rect.Max.X-t, rect.Min.X), rect.Min.Y, rect.Max.X, rect.Max.Y))
}

// Encode writes img to path, choosing the encoder from the extension.
// The file is written to a temp name in the same directory and renamed into place,
// so concurrent writers of one path never leave a partial file behind.
func Encode(img image.Image, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	var enc func(*os.File) error
	switch ext {
	case ".jpg", ".jpeg":
		enc = func(f *os.File) error { return jpeg.Encode(f, img, &jpeg.Options{Quality: JPEGQuality}) }
	case ".png":
		enc = func(f *os.File) error { return png.Encode(f, img) }
	case ".bmp":
		enc = func(f *os.File) error { return bmp.Encode(f, img) }
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), TempPrefix+"*"+ext)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := enc(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
