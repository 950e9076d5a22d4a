package ocr

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/document"
	"github.com/chrispatten/haven-collector/internal/logging"
)

// ShimProvider recognizes text by shelling out to an external OCR binary
// that reads an image path on argv and writes one JSON line per
// recognized box to stdout: {"text","x","y","w","h","confidence"}, with
// y measured from the bottom-left per the box's reporting convention.
// This delegates to an external shim binary rather than linking a vision
// framework directly.
type ShimProvider struct {
	BinaryPath string
	log        zerolog.Logger
}

// NewShimProvider builds a ShimProvider invoking binaryPath.
func NewShimProvider(binaryPath string) *ShimProvider {
	return &ShimProvider{BinaryPath: binaryPath, log: logging.WithComponent("ocr-shim")}
}

type shimBox struct {
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Recognize writes imageBytes to a temp file and invokes the shim binary,
// parsing its JSONL stdout into an OCRResult.
func (s *ShimProvider) Recognize(ctx context.Context, imageBytes []byte, opts Options) (*document.OCRResult, error) {
	return WithTimeout(ctx, opts, func(ctx context.Context) (*document.OCRResult, error) {
		tmp, err := os.CreateTemp("", "haven-ocr-*.img")
		if err != nil {
			return nil, fmt.Errorf("create ocr temp file: %w", err)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(imageBytes); err != nil {
			tmp.Close()
			return nil, fmt.Errorf("write ocr temp file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return nil, fmt.Errorf("close ocr temp file: %w", err)
		}

		level := string(opts.RecognitionLevel)
		if level == "" {
			level = string(LevelFast)
		}
		args := []string{tmp.Name(), "--level", level}
		if len(opts.Languages) > 0 {
			args = append(args, "--lang", strings.Join(opts.Languages, ","))
		}
		if opts.IncludeLayout {
			args = append(args, "--layout")
		}

		cmd := exec.CommandContext(ctx, s.BinaryPath, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		start := time.Now()
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, collectorerr.TransientRemote("ocr shim timed out: %v", ctx.Err())
			}
			return nil, fmt.Errorf("ocr shim %s failed: %w: %s", s.BinaryPath, err, stderr.String())
		}
		elapsed := time.Since(start)

		result := &document.OCRResult{RecognitionLevel: level}
		if len(opts.Languages) > 0 {
			result.Lang = opts.Languages[0]
			result.DetectedLanguages = opts.Languages
		}
		result.TimingsMS = map[string]int64{"total": elapsed.Milliseconds()}

		scanner := bufio.NewScanner(&stdout)
		var texts []string
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var b shimBox
			if err := json.Unmarshal([]byte(line), &b); err != nil {
				s.log.Warn().Err(err).Str("line", line).Msg("skipping unparsable ocr shim line")
				continue
			}
			result.Boxes = append(result.Boxes, document.OCRBox{
				Text:       b.Text,
				BBox:       normalizeBBox(b.X, b.Y, b.W, b.H, 1.0),
				Level:      "word",
				Confidence: b.Confidence,
			})
			texts = append(texts, b.Text)
		}
		result.Text = strings.Join(texts, " ")
		return result, nil
	})
}

// PlaceholderProvider always fails with a well-defined not-implemented
// error, mirroring §9's guidance for the "apple/foundation"-equivalent
// backend: implement it, or return a clear not_implemented error.
type PlaceholderProvider struct{}

func (p *PlaceholderProvider) Recognize(ctx context.Context, imageBytes []byte, opts Options) (*document.OCRResult, error) {
	return nil, collectorerr.StateConflict(501, "ocr provider not implemented on this platform")
}
