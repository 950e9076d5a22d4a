// Package caption implements the Caption Provider (C6): a pluggable
// vision backend set behind one CaptionBackend interface, with the retry
// loop living once and parameterized by a classifier, per the
// re-architecture note in §9 ("Dual vendor caption code paths
// interleaved").
package caption

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
)

// Request is one caption call's input.
type Request struct {
	ImageBytes []byte
	MIME       string
	OCRText    string // already-present OCR text, if any
}

// Prompt builds the instruction text per §4.5's prompting rules.
func (r Request) Prompt() string {
	if strings.TrimSpace(r.OCRText) != "" {
		return "describe the image scene and contents. short response."
	}
	return "describe the image scene and contents. short response. If there is any visible text, include what it says."
}

// Result is a produced caption plus usage accounting.
type Result struct {
	Caption      string
	InputTokens  int
	OutputTokens int
}

// Backend produces a caption for one image via a specific vision vendor.
type Backend interface {
	Caption(ctx context.Context, req Request) (*Result, error)
}

const maxLocalCaptionRunes = 200

// truncateCaption trims whitespace and truncates to maxLocalCaptionRunes
// visible characters with a trailing ellipsis on overflow, per §4.5's
// local-backend specifics.
func truncateCaption(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxLocalCaptionRunes {
		return s
	}
	return string(runes[:maxLocalCaptionRunes]) + "…"
}

func dataURL(mime string, content []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(content))
}

// APIKeyPrecedence resolves the vendor API key: an explicit configuration
// value wins over the environment variable, per §4.5.
func APIKeyPrecedence(explicit, envValue string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if envValue != "" {
		return envValue, nil
	}
	return "", collectorerr.Input("no api key configured for caption backend")
}
