// Package ocr implements the OCR Provider (C5): an abstraction over text
// recognition backends, with a concrete implementation that shells out to
// an external OCR binary.
package ocr

import (
	"context"
	"time"

	"github.com/chrispatten/haven-collector/internal/document"
)

// RecognitionLevel selects speed/accuracy tradeoff.
type RecognitionLevel string

const (
	LevelFast     RecognitionLevel = "fast"
	LevelAccurate RecognitionLevel = "accurate"
)

// Options configures one Recognize call, per §4.4 and the configuration
// keys in §6 (languages, timeout_ms, recognition_level, include_layout).
type Options struct {
	Languages        []string
	Timeout          time.Duration
	RecognitionLevel RecognitionLevel
	IncludeLayout    bool
}

// DefaultOptions matches §4.4's defaults: fast recognition, 2s timeout.
func DefaultOptions() Options {
	return Options{RecognitionLevel: LevelFast, Timeout: 2 * time.Second}
}

// Provider produces text, boxes, and layout regions from image bytes.
type Provider interface {
	Recognize(ctx context.Context, imageBytes []byte, opts Options) (*document.OCRResult, error)
}

// WithTimeout wraps a Provider call with opts.Timeout (or DefaultOptions
// if zero), per §4.4's per-call timeout enforcement.
func WithTimeout(ctx context.Context, opts Options, fn func(context.Context) (*document.OCRResult, error)) (*document.OCRResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// normalizeBBox converts a bottom-left-origin box (height frameH) to the
// top-left-origin [x, y, w, h] representation in [0,1] that this package
// always returns, per §4.4.
func normalizeBBox(x, yBottomLeft, w, h, frameH float64) [4]float64 {
	y := frameH - yBottomLeft - h
	return [4]float64{x, y, w, h}
}
