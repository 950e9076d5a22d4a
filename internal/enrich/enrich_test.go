package enrich

import (
	"strings"
	"testing"
	"time"

	"github.com/chrispatten/haven-collector/internal/document"
)

func sampleDoc() document.EnrichedDocument {
	return document.EnrichedDocument{
		Base: document.CanonicalDocument{
			SourceType:           "imap",
			ExternalID:           "msg-1",
			Content:              "hello there",
			ContentMIME:          "text/plain",
			ContentTimestamp:     time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
			ContentTimestampType: document.TimestampReceived,
			Metadata:             map[string]any{"dueDate": true},
		},
		ImageEnrichments: []document.ImageEnrichment{
			{Hash: "aaaaaaaaaaaaaaaaaaaa", Caption: "a cat"},
			{Hash: "bbbbbbbbbbbbbbbbbbbb", Caption: "a dog"},
		},
		DocEnrichment: &document.DocEnrichment{
			Entities: []document.EntitySpan{
				{Type: "person", Text: "Jane Doe", Start: 0, End: 8, Confidence: 0.4},
				{Type: "date", Text: "2026-07-01", Start: 10, End: 20, Confidence: 0.85},
			},
		},
	}
}

func TestMergeInsertsPlaceholdersInOrder(t *testing.T) {
	payload := Merge(sampleDoc())
	first := strings.Index(payload.Content, "[image:0:")
	second := strings.Index(payload.Content, "[image:1:")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected two ordered placeholders, got %q", payload.Content)
	}
}

func TestMergeCollectsImageCaptions(t *testing.T) {
	payload := Merge(sampleDoc())
	captions, ok := payload.Metadata["imageCaptions"].([]string)
	if !ok || len(captions) != 2 {
		t.Fatalf("expected 2 imageCaptions, got %+v", payload.Metadata["imageCaptions"])
	}
	if captions[0] != "a cat" || captions[1] != "a dog" {
		t.Fatalf("unexpected caption order: %+v", captions)
	}
}

func TestMergeGroupsEntitiesByType(t *testing.T) {
	payload := Merge(sampleDoc())
	if payload.Enrichment == nil {
		t.Fatalf("expected enrichment to be populated")
	}
	if len(payload.Enrichment.Entities.People) != 1 {
		t.Fatalf("expected 1 person span, got %+v", payload.Enrichment.Entities.People)
	}
	if len(payload.Enrichment.Entities.Dates) != 1 {
		t.Fatalf("expected 1 date span, got %+v", payload.Enrichment.Entities.Dates)
	}
	if payload.Enrichment.Entities.Version != EntitiesVersion {
		t.Fatalf("expected version tag %q, got %q", EntitiesVersion, payload.Enrichment.Entities.Version)
	}
}

func TestMergePreservesAdditionalMetadataVerbatim(t *testing.T) {
	payload := Merge(sampleDoc())
	if v, ok := payload.Metadata["dueDate"].(bool); !ok || !v {
		t.Fatalf("expected dueDate metadata preserved verbatim, got %+v", payload.Metadata["dueDate"])
	}
}

func TestMergeWithNoImagesOrEntities(t *testing.T) {
	doc := document.EnrichedDocument{
		Base: document.CanonicalDocument{
			SourceType:  "imap",
			ExternalID:  "msg-2",
			Content:     "plain text",
			ContentMIME: "text/plain",
		},
	}
	payload := Merge(doc)
	if payload.Content != "plain text" {
		t.Fatalf("expected content unchanged, got %q", payload.Content)
	}
	if payload.Enrichment != nil {
		t.Fatalf("expected no enrichment block, got %+v", payload.Enrichment)
	}
	if _, ok := payload.Metadata["imageCaptions"]; ok {
		t.Fatalf("expected no imageCaptions key")
	}
}
