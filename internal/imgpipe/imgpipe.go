// Package imgpipe implements the Image Pipeline (C4): format detection,
// downscaling, and transcoding behind one configured Profile value (target
// format, max edge, size ceiling), per §4.3's re-architecture note. JPEG
// quality is not part of Profile; it is fixed at jpegQuality.
package imgpipe

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
)

// Format is a target/source image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
)

const jpegQuality = 85 // 0.85 per §4.3

// Profile bundles the intent callers pass instead of a transcode recipe:
// target format, max edge in pixels, and the size ceiling to enforce
// before any network call.
type Profile struct {
	TargetFormat Format
	MaxEdge      int
	SizeCeiling  int64 // bytes
}

// LocalProfile matches the local Ollama captioning backend's bounds.
func LocalProfile() Profile {
	return Profile{TargetFormat: FormatPNG, MaxEdge: 1024, SizeCeiling: 10 << 20}
}

// CloudProfile matches the cloud vision API's bounds.
func CloudProfile() Profile {
	return Profile{TargetFormat: FormatPNG, MaxEdge: 2048, SizeCeiling: 20 << 20}
}

// Result is the pipeline's output: possibly re-encoded bytes, the
// resulting format/mime, and whether any transcoding happened.
type Result struct {
	Bytes     []byte
	MIME      string
	Format    Format
	Recoded   bool
}

// DetectFormat sniffs the encoded format from content, without decoding
// the full image.
func DetectFormat(content []byte) (Format, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(content))
	_ = cfg
	if err != nil {
		return "", collectorerr.Parse("detect image format: %v", err)
	}
	switch format {
	case "png":
		return FormatPNG, nil
	case "jpeg":
		return FormatJPEG, nil
	case "gif":
		return FormatGIF, nil
	}
	return "", collectorerr.Parse("unsupported image format %q", format)
}

// Process runs content through the pipeline per p: downscale to MaxEdge,
// transcode to TargetFormat where required, and reject (without doing
// any network I/O) images exceeding SizeCeiling, per §4.3 and §8's image
// size ceiling invariant.
func Process(ctx context.Context, content []byte, p Profile) (*Result, error) {
	if int64(len(content)) > p.SizeCeiling {
		return nil, collectorerr.Input("image size %d exceeds ceiling %d", len(content), p.SizeCeiling)
	}

	srcFormat, err := DetectFormat(content)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if srcFormat == FormatGIF {
		img, err := firstGIFFrame(content)
		if err != nil {
			return nil, err
		}
		return encodeIfNeeded(img, p, true)
	}

	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, collectorerr.Parse("decode image: %v", err)
	}

	needsDownscale := maxEdgeOf(img.Bounds()) > p.MaxEdge
	needsTranscode := srcFormat != p.TargetFormat

	if !needsDownscale && !needsTranscode && int64(len(content)) <= p.SizeCeiling {
		mime := "image/" + string(srcFormat)
		return &Result{Bytes: content, MIME: mime, Format: srcFormat, Recoded: false}, nil
	}

	if needsDownscale {
		img = downscale(img, p.MaxEdge)
	}
	return encodeIfNeeded(img, p, needsDownscale || needsTranscode)
}

func maxEdgeOf(b image.Rectangle) int {
	w, h := b.Dx(), b.Dy()
	if w > h {
		return w
	}
	return h
}

// downscale resizes img so its longest edge is maxEdge, using
// high-quality (CatmullRom) interpolation, per §4.3.
func downscale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	var newW, newH int
	if w > h {
		newW = maxEdge
		newH = h * maxEdge / w
	} else {
		newH = maxEdge
		newW = w * maxEdge / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func firstGIFFrame(content []byte) (image.Image, error) {
	g, err := gif.DecodeAll(bytes.NewReader(content))
	if err != nil {
		return nil, collectorerr.Parse("decode gif: %v", err)
	}
	if len(g.Image) == 0 {
		return nil, collectorerr.Parse("gif has no frames")
	}
	return g.Image[0], nil
}

func encodeIfNeeded(img image.Image, p Profile, recoded bool) (*Result, error) {
	var buf bytes.Buffer
	switch p.TargetFormat {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		return nil, collectorerr.Input("unsupported target format %q", p.TargetFormat)
	}

	if int64(buf.Len()) > p.SizeCeiling {
		return nil, collectorerr.Input("re-encoded image size %d exceeds ceiling %d", buf.Len(), p.SizeCeiling)
	}

	return &Result{
		Bytes:   buf.Bytes(),
		MIME:    "image/" + string(p.TargetFormat),
		Format:  p.TargetFormat,
		Recoded: recoded,
	}, nil
}
