// Package enrich implements the Enrichment Merger (C8): it weaves the
// per-image and per-document enrichment outputs into the final payload a
// document submits to the Gateway.
package enrich

import (
	"fmt"
	"strings"

	"github.com/chrispatten/haven-collector/internal/document"
)

// EntitiesVersion tags the enrichment.entities shape so the Gateway (or a
// downstream search index) can evolve the grouping without breaking older
// submissions.
const EntitiesVersion = "1"

// MergedEntities groups extracted spans by type, per §4.7.
type MergedEntities struct {
	Version      string              `json:"version"`
	People       []document.EntitySpan `json:"people,omitempty"`
	Organizations []document.EntitySpan `json:"organizations,omitempty"`
	Places       []document.EntitySpan `json:"places,omitempty"`
	Dates        []document.EntitySpan `json:"dates,omitempty"`
	Times        []document.EntitySpan `json:"times,omitempty"`
	Addresses    []document.EntitySpan `json:"addresses,omitempty"`
}

// Payload is the final shape submitted to the Gateway for one document.
type Payload struct {
	SourceType          string         `json:"sourceType"`
	ExternalID          string         `json:"externalId"`
	Title               string         `json:"title,omitempty"`
	CanonicalURI        string         `json:"canonicalUri,omitempty"`
	Content             string         `json:"content"`
	ContentMIME         string         `json:"contentMime"`
	ContentTimestamp    string         `json:"contentTimestamp"`
	ContentTimestampType string        `json:"contentTimestampType"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Enrichment          *struct {
		Entities MergedEntities `json:"entities"`
	} `json:"enrichment,omitempty"`
}

// placeholder formats the marker that Merge adds to the body text for each
// image attachment. Markers are appended after the existing content in
// attachment order, not spliced in at the attachment's position.
func placeholder(index int, hash string) string {
	short := hash
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("[image:%d:%s]", index, short)
}

// Merge combines a raw canonical document with its image and document-level
// enrichment results into the final submission payload.
func Merge(doc document.EnrichedDocument) Payload {
	base := doc.Base

	content := base.Content
	captions := make([]string, 0, len(doc.ImageEnrichments))
	for i, img := range doc.ImageEnrichments {
		content = insertPlaceholder(content, i, img.Hash)
		if img.Caption != "" {
			captions = append(captions, img.Caption)
		}
	}

	metadata := cloneMetadata(base.Metadata)
	if len(captions) > 0 {
		metadata["imageCaptions"] = captions
	}

	payload := Payload{
		SourceType:           base.SourceType,
		ExternalID:           base.ExternalID,
		Title:                base.Title,
		CanonicalURI:         base.CanonicalURI,
		Content:              content,
		ContentMIME:          base.ContentMIME,
		ContentTimestamp:     base.ContentTimestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ContentTimestampType: string(base.ContentTimestampType),
		Metadata:             metadata,
	}

	if doc.DocEnrichment != nil && len(doc.DocEnrichment.Entities) > 0 {
		grouped := groupEntities(doc.DocEnrichment.Entities)
		payload.Enrichment = &struct {
			Entities MergedEntities `json:"entities"`
		}{Entities: grouped}
	}

	return payload
}

// insertPlaceholder appends an inline marker to the end of content. The
// canonical document doesn't carry per-attachment character offsets, so
// placeholders are appended in attachment order rather than spliced inline;
// ordering alone is enough for downstream caption association.
func insertPlaceholder(content string, index int, hash string) string {
	var b strings.Builder
	b.WriteString(content)
	if content != "" {
		b.WriteString("\n\n")
	}
	b.WriteString(placeholder(index, hash))
	return b.String()
}

func cloneMetadata(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func groupEntities(spans []document.EntitySpan) MergedEntities {
	g := MergedEntities{Version: EntitiesVersion}
	for _, s := range spans {
		switch s.Type {
		case "person":
			g.People = append(g.People, s)
		case "organization":
			g.Organizations = append(g.Organizations, s)
		case "place":
			g.Places = append(g.Places, s)
		case "date":
			g.Dates = append(g.Dates, s)
		case "time":
			g.Times = append(g.Times, s)
		case "address":
			g.Addresses = append(g.Addresses, s)
		}
	}
	return g
}
