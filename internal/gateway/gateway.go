// Package gateway implements the Gateway Submission Client (C11): batched
// JSON submission with per-item results, automatic fallback to per-item
// submission, multipart file upload, and idempotency-key derivation.
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/enrich"
	"github.com/chrispatten/haven-collector/internal/logging"
	"github.com/chrispatten/haven-collector/internal/retry"
)

// Submission is the Gateway's reply to a single-document submit.
type Submission struct {
	SubmissionID string `json:"submissionId"`
	DocumentID   string `json:"documentId,omitempty"`
	Duplicate    bool   `json:"duplicate"`
}

// FileSubmission is the Gateway's reply to a multipart file submit.
type FileSubmission struct {
	SubmissionID string `json:"submissionId"`
	DocumentID   string `json:"documentId,omitempty"`
}

// BatchItemResult is one entry of a batch response's results array.
type BatchItemResult struct {
	Index        int         `json:"index"`
	StatusCode   int         `json:"status_code"`
	Submission   *Submission `json:"submission,omitempty"`
	Error        string      `json:"error,omitempty"`
	Retryable    bool        `json:"-"` // set on synthetic fill-ins, not decoded from the wire
}

type batchRequest struct {
	Documents []enrich.Payload `json:"documents"`
}

type batchResponse struct {
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	Results      []BatchItemResult `json:"results"`
}

// Client submits enriched documents to the downstream Gateway over HTTP.
type Client struct {
	BaseURL        string
	IngestPath     string
	IngestFilePath string
	AuthHeader     string
	AuthSecret     string
	HTTPClient     *http.Client
	Policy         retry.LinearPolicy
	log            zerolog.Logger
}

// NewClient builds a Client with the HTTP-layer retry defaults from §4.10.
func NewClient(baseURL, ingestPath, ingestFilePath, authHeader, authSecret string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:        baseURL,
		IngestPath:     ingestPath,
		IngestFilePath: ingestFilePath,
		AuthHeader:     authHeader,
		AuthSecret:     authSecret,
		HTTPClient:     &http.Client{Timeout: timeout},
		Policy:         retry.DefaultGatewayPolicy(),
		log:            logging.WithComponent("gateway"),
	}
}

// IdempotencyKey derives the per-item idempotency key mandated by §4.10:
// sha256("<source_type>:<external_id>:<content_hash>").
func IdempotencyKey(sourceType, externalID, contentHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", sourceType, externalID, contentHash)))
	return hex.EncodeToString(sum[:])
}

func (c *Client) authHeaderName() string {
	if c.AuthHeader != "" {
		return c.AuthHeader
	}
	return "Authorization"
}

func (c *Client) authHeaderValue() string {
	if c.AuthHeader != "" {
		return c.AuthSecret
	}
	return "Bearer " + c.AuthSecret
}

// SubmitDocument posts a single document, retrying per the HTTP-layer
// policy on 429/503 with a linear 0.5*attempt backoff.
func (c *Client) SubmitDocument(ctx context.Context, payload enrich.Payload, idempotencyKey string) (*Submission, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal submission payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.Policy.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.IngestPath, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build submit request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(c.authHeaderName(), c.authHeaderValue())
		req.Header.Set("Idempotency-Key", idempotencyKey)

		sub, statusCode, raw, err := c.doSubmit(req)
		if err == nil {
			return sub, nil
		}
		lastErr = err
		if !retry.GatewayRetryable(statusCode) || attempt == c.Policy.MaxAttempts {
			return nil, collectorerr.Remote(statusCode, "gateway submit failed: %s", raw)
		}
		if sleepErr := retry.Sleep(ctx, c.Policy.Delay(attempt)); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func (c *Client) doSubmit(req *http.Request) (*Submission, int, []byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, nil, collectorerr.TransientRemote("gateway request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, raw, fmt.Errorf("status %d", resp.StatusCode)
	}

	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, resp.StatusCode, raw, collectorerr.Parse("parse gateway response: %v", err)
	}
	return &sub, resp.StatusCode, raw, nil
}

// SubmitBatch posts all documents to the batch endpoint. It returns nil
// (no error) when the batch endpoint itself is unavailable (404/405), per
// §4.10's "returns nil only if the endpoint is unavailable" contract —
// callers must then fall back to SubmitDocument per item.
func (c *Client) SubmitBatch(ctx context.Context, payloads []enrich.Payload) ([]BatchItemResult, error) {
	body, err := json.Marshal(batchRequest{Documents: payloads})
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.IngestPath+":batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.authHeaderName(), c.authHeaderValue())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, collectorerr.TransientRemote("gateway batch request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		c.log.Debug().Int("status", resp.StatusCode).Msg("batch endpoint unavailable, falling back to per-item submit")
		return nil, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read batch response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, collectorerr.Remote(resp.StatusCode, "gateway batch submit failed: %s", raw)
	}

	var parsed batchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, collectorerr.Parse("parse batch response: %v", err)
	}

	return fillMissingIndices(parsed.Results, len(payloads)), nil
}

// fillMissingIndices inserts a synthetic {status=502, retryable=true}
// result for any index the Gateway's batch response omitted, per §4.10.
func fillMissingIndices(results []BatchItemResult, total int) []BatchItemResult {
	byIndex := make(map[int]BatchItemResult, len(results))
	for _, r := range results {
		byIndex[r.Index] = r
	}
	out := make([]BatchItemResult, total)
	for i := 0; i < total; i++ {
		if r, ok := byIndex[i]; ok {
			out[i] = r
			continue
		}
		out[i] = BatchItemResult{Index: i, StatusCode: 502, Retryable: true}
	}
	return out
}

// SubmitFile uploads a file as a multipart request: a "meta" JSON part and
// an "upload" binary part, per §6's Gateway contract.
func (c *Client) SubmitFile(ctx context.Context, metadata any, content []byte, filename, idempotencyKey, mimeType string) (*FileSubmission, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal file metadata: %w", err)
	}
	metaPart, err := w.CreatePart(multipartHeader("meta", "", "application/json"))
	if err != nil {
		return nil, fmt.Errorf("create meta part: %w", err)
	}
	if _, err := metaPart.Write(metaBytes); err != nil {
		return nil, fmt.Errorf("write meta part: %w", err)
	}

	uploadPart, err := w.CreatePart(multipartHeader("upload", filename, mimeType))
	if err != nil {
		return nil, fmt.Errorf("create upload part: %w", err)
	}
	if _, err := uploadPart.Write(content); err != nil {
		return nil, fmt.Errorf("write upload part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.IngestFilePath, &buf)
	if err != nil {
		return nil, fmt.Errorf("build file submit request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(c.authHeaderName(), c.authHeaderValue())
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, collectorerr.TransientRemote("gateway file request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file submit response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, collectorerr.Remote(resp.StatusCode, "gateway file submit failed: %s", raw)
	}

	var sub FileSubmission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, collectorerr.Parse("parse file submit response: %v", err)
	}
	return &sub, nil
}
