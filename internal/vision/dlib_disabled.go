//go:build !dlib

package vision

import "errors"

// ErrDlibUnavailable is returned when the binary was built without -tags dlib.
var ErrDlibUnavailable = errors.New("built without dlib support (rebuild with -tags dlib)")

func NewDlibProvider(modelDir string, model string) (Provider, error) {
	return nil, ErrDlibUnavailable
}
