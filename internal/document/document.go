// Package document holds the canonical payload shapes that flow from a
// source through enrichment to the Gateway: CanonicalDocument is what a
// collector produces from a raw item, EnrichedDocument is what the
// Enrichment Merger (C8) produces for submission.
package document

import "time"

// TimestampType distinguishes the provenance of ContentTimestamp.
type TimestampType string

const (
	TimestampSent     TimestampType = "sent"
	TimestampReceived TimestampType = "received"
	TimestampModified TimestampType = "modified"
	TimestampCreated  TimestampType = "created"
)

// ImageAttachment is an image carried by a source item. Bytes are held
// only for the duration of enrichment; only hash and metadata persist
// downstream.
type ImageAttachment struct {
	Hash     string `json:"hash"` // hex-encoded SHA256
	MIME     string `json:"mime"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Bytes    []byte `json:"-"`
	Filename string `json:"filename,omitempty"`
}

// CanonicalDocument is the normalized payload a collector emits from a
// source item, independent of where it came from.
type CanonicalDocument struct {
	SourceType          string            `json:"sourceType"`
	ExternalID          string            `json:"externalId"`
	Title               string            `json:"title,omitempty"`
	CanonicalURI        string            `json:"canonicalUri,omitempty"`
	Content             string            `json:"content"`
	ContentMIME         string            `json:"contentMime"`
	ContentTimestamp    time.Time         `json:"contentTimestamp"`
	ContentTimestampType TimestampType    `json:"contentTimestampType"`
	Metadata            map[string]any    `json:"metadata,omitempty"`
	Images              []ImageAttachment `json:"-"`
}

// ContentHash returns the content_hash recorded in Metadata, if present.
func (d *CanonicalDocument) ContentHash() string {
	if d.Metadata == nil {
		return ""
	}
	if h, ok := d.Metadata["content_hash"].(string); ok {
		return h
	}
	return ""
}

// EntitySpan is a typed named-entity span produced by the Entity Extractor (C7).
type EntitySpan struct {
	Type       string  `json:"type"` // person|organization|place|date|time|address
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// OCRBox is one recognized text region, normalized to top-left origin.
type OCRBox struct {
	Text       string    `json:"text"`
	BBox       [4]float64 `json:"bbox"` // x, y, w, h, all in [0,1]
	Level      string    `json:"level"` // word|line|block
	Confidence float64   `json:"confidence"`
}

// OCRResult is the output of the OCR Provider (C5) for a single image.
type OCRResult struct {
	Text               string            `json:"ocrText"`
	Boxes              []OCRBox          `json:"ocrBoxes"`
	Regions            []string          `json:"regions,omitempty"`
	DetectedLanguages  []string          `json:"detectedLanguages,omitempty"`
	RecognitionLevel   string            `json:"recognitionLevel"`
	Lang               string            `json:"lang,omitempty"`
	TimingsMS          map[string]int64  `json:"timingsMs,omitempty"`
}

// ImageEnrichment bundles everything produced for one image attachment.
type ImageEnrichment struct {
	Hash    string     `json:"hash"`
	OCR     *OCRResult `json:"ocr,omitempty"`
	Caption string     `json:"caption,omitempty"`
}

// DocEnrichment bundles document-level (non-image) enrichment output.
type DocEnrichment struct {
	Entities []EntitySpan `json:"entities,omitempty"`
}

// EnrichedDocument is what the orchestrator hands to the Enrichment Merger
// and what the merger's output feeds into the Gateway payload.
type EnrichedDocument struct {
	Base             CanonicalDocument  `json:"base"`
	ImageEnrichments []ImageEnrichment  `json:"imageEnrichments,omitempty"`
	DocEnrichment    *DocEnrichment     `json:"docEnrichment,omitempty"`
}

// IngestSubmission is the Gateway's reply to a single document submission.
type IngestSubmission struct {
	SubmissionID string `json:"submissionId"`
	DocumentID   string `json:"documentId,omitempty"`
	Duplicate    bool   `json:"duplicate"`
}
