package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
)

// LocalBackend talks to a local Ollama-style HTTP generator, per §4.5.
type LocalBackend struct {
	BaseURL string // default http://localhost:11434/api/generate
	Model   string
	Client  *http.Client
}

// NewLocalBackend builds a LocalBackend with the default endpoint.
func NewLocalBackend(model string) *LocalBackend {
	return &LocalBackend{
		BaseURL: "http://localhost:11434/api/generate",
		Model:   model,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type localRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type localResponse struct {
	Response string `json:"response"`
	Message  struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Caption sends a single JSON POST; response is either the top-level
// "response" field or "message.content", per §4.5.
func (b *LocalBackend) Caption(ctx context.Context, req Request) (*Result, error) {
	payload := localRequest{
		Model:  b.Model,
		Prompt: req.Prompt(),
		Images: []string{base64OnlyBody(req.ImageBytes)},
		Stream: false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal local caption request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build local caption request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return nil, collectorerr.TransientRemote("local caption request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read local caption response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, collectorerr.Remote(resp.StatusCode, "local caption backend: %s", raw)
	}

	var parsed localResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, collectorerr.Parse("parse local caption response: %v", err)
	}

	text := parsed.Response
	if text == "" {
		text = parsed.Message.Content
	}
	return &Result{Caption: truncateCaption(text)}, nil
}

func base64OnlyBody(imageBytes []byte) string {
	url := dataURL("image/png", imageBytes)
	if idx := indexComma(url); idx >= 0 {
		return url[idx+1:]
	}
	return url
}

func indexComma(s string) int {
	for i, c := range s {
		if c == ',' {
			return i
		}
	}
	return -1
}
