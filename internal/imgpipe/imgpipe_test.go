package imgpipe

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture png: %v", err)
	}
	return buf.Bytes()
}

func TestProcessSkipsReencodeWhenAlreadyCompliant(t *testing.T) {
	content := solidPNG(t, 32, 32)
	result, err := Process(context.Background(), content, Profile{TargetFormat: FormatPNG, MaxEdge: 1024, SizeCeiling: 10 << 20})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Recoded {
		t.Fatalf("expected no re-encode for already-compliant image")
	}
}

func TestProcessDownscalesOversizedImage(t *testing.T) {
	content := solidPNG(t, 2000, 1000)
	result, err := Process(context.Background(), content, Profile{TargetFormat: FormatPNG, MaxEdge: 512, SizeCeiling: 10 << 20})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Recoded {
		t.Fatalf("expected downscale to trigger re-encode")
	}

	img, _, err := image.Decode(bytes.NewReader(result.Bytes))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if img.Bounds().Dx() > 512 {
		t.Fatalf("expected width <= 512, got %d", img.Bounds().Dx())
	}
}

func TestProcessRejectsOversizedInputWithoutNetworkIO(t *testing.T) {
	content := solidPNG(t, 8, 8)
	_, err := Process(context.Background(), content, Profile{TargetFormat: FormatPNG, MaxEdge: 1024, SizeCeiling: 4})
	if err == nil {
		t.Fatalf("expected rejection for oversized input")
	}
}

func TestProcessTranscodesPNGToJPEG(t *testing.T) {
	content := solidPNG(t, 16, 16)
	result, err := Process(context.Background(), content, Profile{TargetFormat: FormatJPEG, MaxEdge: 1024, SizeCeiling: 10 << 20})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Format != FormatJPEG || !result.Recoded {
		t.Fatalf("expected transcode to jpeg, got format=%v recoded=%v", result.Format, result.Recoded)
	}
}
