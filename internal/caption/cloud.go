package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/retry"
)

// CloudBackend calls the OpenAI Responses API with an input_image data URL
// plus an input_text prompt, per §4.5. It owns the only retry loop in this
// package, parameterized by retry.DefaultCaptionPolicy and
// retry.CaptionRetryable so both backends could share it if the local
// backend ever needs retries too.
type CloudBackend struct {
	BaseURL string // default https://api.openai.com/v1/responses
	Model   string
	APIKey  string
	Client  *http.Client
	Policy  retry.Policy
}

// NewCloudBackend builds a CloudBackend with the default endpoint and policy.
func NewCloudBackend(model, apiKey string) *CloudBackend {
	return &CloudBackend{
		BaseURL: "https://api.openai.com/v1/responses",
		Model:   model,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Policy:  retry.DefaultCaptionPolicy(),
	}
}

type cloudContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type cloudInputItem struct {
	Role    string             `json:"role"`
	Content []cloudContentItem `json:"content"`
}

type cloudRequest struct {
	Model string           `json:"model"`
	Input []cloudInputItem `json:"input"`
}

type cloudOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type cloudOutputItem struct {
	Content []cloudOutputContent `json:"content"`
}

type cloudUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type cloudResponse struct {
	Output []cloudOutputItem `json:"output"`
	Usage  cloudUsage        `json:"usage"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Caption retries on 429/5xx up to Policy.MaxRetries, honoring a
// server-supplied Retry-After header capped at Policy.Max.
func (b *CloudBackend) Caption(ctx context.Context, req Request) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= b.Policy.MaxRetries; attempt++ {
		result, retryAfter, statusCode, err := b.attempt(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retry.CaptionRetryable(statusCode) {
			return nil, err
		}
		if attempt == b.Policy.MaxRetries {
			break
		}
		delay := b.Policy.Delay(attempt, retryAfter)
		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func (b *CloudBackend) attempt(ctx context.Context, req Request) (*Result, time.Duration, int, error) {
	payload := cloudRequest{
		Model: b.Model,
		Input: []cloudInputItem{{
			Role: "user",
			Content: []cloudContentItem{
				{Type: "input_text", Text: req.Prompt()},
				{Type: "input_image", ImageURL: dataURL(mimeOrDefault(req.MIME), req.ImageBytes)},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("marshal cloud caption request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build cloud caption request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return nil, 0, 0, collectorerr.TransientRemote("cloud caption request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, resp.StatusCode, fmt.Errorf("read cloud caption response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retry.CaptionRetryable(resp.StatusCode) {
			return nil, retryAfter, resp.StatusCode, collectorerr.TransientRemote("cloud caption backend %d: %s", resp.StatusCode, raw)
		}
		return nil, retryAfter, resp.StatusCode, collectorerr.Remote(resp.StatusCode, "cloud caption backend: %s", raw)
	}

	var parsed cloudResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, 0, resp.StatusCode, collectorerr.Parse("parse cloud caption response: %v", err)
	}

	var text string
	for _, out := range parsed.Output {
		for _, c := range out.Content {
			if c.Type == "output_text" {
				text = c.Text
				break
			}
		}
		if text != "" {
			break
		}
	}

	return &Result{
		Caption:      text,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, 0, resp.StatusCode, nil
}

func mimeOrDefault(mime string) string {
	if mime == "" {
		return "image/png"
	}
	return mime
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// PlaceholderBackend always fails with a well-defined not-implemented
// error, mirroring ocr.PlaceholderProvider for the on-device multimodal
// model that §4.5 leaves unimplemented.
type PlaceholderBackend struct{}

func (p *PlaceholderBackend) Caption(ctx context.Context, req Request) (*Result, error) {
	return nil, collectorerr.StateConflict(501, "caption backend not implemented on this platform")
}
