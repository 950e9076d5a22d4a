// Package pipeline composes the per-item processing steps — filter
// evaluation (C2), image enrichment (C4 Image Pipeline, C5 OCR, C6
// Caption), entity extraction (C7), merging (C8), and Gateway submission
// (C11) — into the single orchestrator.ProcessFunc the Run Orchestrator
// (C13) drives. None of the composed packages know about each other;
// this is their only wiring point, gluing fetch, parse, and submit
// together for one item at a time.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chrispatten/haven-collector/internal/caption"
	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/document"
	"github.com/chrispatten/haven-collector/internal/enrich"
	"github.com/chrispatten/haven-collector/internal/entity"
	"github.com/chrispatten/haven-collector/internal/filter"
	"github.com/chrispatten/haven-collector/internal/gateway"
	"github.com/chrispatten/haven-collector/internal/imgpipe"
	"github.com/chrispatten/haven-collector/internal/logging"
	"github.com/chrispatten/haven-collector/internal/ocr"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
	"github.com/chrispatten/haven-collector/internal/source"
)

// Parser turns a raw item body into a CanonicalDocument. Different
// sources parse differently (RFC822 vs. a message-store row vs. a JSON
// fixture), so Pipeline takes one in rather than hardcoding source.ParseRFC822.
type Parser func(sourceType, externalID, folder string, raw []byte) (document.CanonicalDocument, error)

// Pipeline holds every collaborator ProcessItem needs.
type Pipeline struct {
	Filter     *filter.CompiledExpression // nil means "match everything"
	OCR        ocr.Provider
	OCROptions ocr.Options
	Caption    caption.Backend
	EntityOpts entity.Options
	Gateway    *gateway.Client
	Submitter  *gateway.BatchSubmitter
	Parse      Parser

	log zerolog.Logger
}

// New builds a Pipeline. compiled may be nil to accept all items. It starts
// gw's batch submitter immediately: the submitter's drain loop and queue
// live for the process's lifetime, not any single run.
func New(compiled *filter.CompiledExpression, ocrProvider ocr.Provider, captionBackend caption.Backend, gw *gateway.Client, parse Parser) *Pipeline {
	submitter := gateway.NewBatchSubmitter(gw)
	submitter.Start(context.Background())
	return &Pipeline{
		Filter:     compiled,
		OCR:        ocrProvider,
		OCROptions: ocr.DefaultOptions(),
		Caption:    captionBackend,
		EntityOpts: entity.Options{MinConfidence: 0.5},
		Gateway:    gw,
		Submitter:  submitter,
		Parse:      parse,
		log:        logging.WithComponent("pipeline"),
	}
}

// BatchesSubmitted returns the cumulative number of real batch submissions
// made by this pipeline's submitter, letting collectorsvc diff per-run
// Stats.Batches without depending on the gateway package directly.
func (p *Pipeline) BatchesSubmitted() int64 {
	return p.Submitter.BatchesSubmitted()
}

// RFC822Parser adapts source.ParseRFC822/ToCanonical into a Parser.
func RFC822Parser(sourceType, externalID, folder string, raw []byte) (document.CanonicalDocument, error) {
	pm, err := source.ParseRFC822(raw)
	if err != nil {
		return document.CanonicalDocument{}, fmt.Errorf("parse message: %w", err)
	}
	return source.ToCanonical(sourceType, externalID, folder, pm), nil
}

// messageContext projects a CanonicalDocument into the shape the Filter
// Engine evaluates against.
func messageContext(doc document.CanonicalDocument, folder string) *filter.MessageContext {
	mc := &filter.MessageContext{
		Subject: doc.Title,
		Body:    doc.Content,
		Folder:  folder,
		Date:    doc.ContentTimestamp,
	}
	if from, ok := doc.Metadata["from"].(string); ok {
		mc.From = from
	}
	if hasAttachment, ok := doc.Metadata["has_attachment"].(bool); ok {
		mc.HasAttachment = hasAttachment
	}
	mc.HasAttachment = mc.HasAttachment || len(doc.Images) > 0
	return mc
}

// ProcessItem implements orchestrator.ProcessFunc: parse, filter, enrich,
// submit. It never returns a non-nil error for anything recoverable at the
// item level (filtered out, OCR/caption failure, gateway rejection) — those
// become Outcome fields so the orchestrator keeps processing the rest of
// the batch. A non-nil error aborts the whole run and is returned only for
// submission errors classified collectorerr.KindFatal; a cancelled context
// surfaces as an item error like any other fetch or submission failure.
func (p *Pipeline) ProcessItem(ctx context.Context, item orchestrator.Item) (orchestrator.Outcome, error) {
	raw, err := item.Fetch(ctx)
	if err != nil {
		return orchestrator.Outcome{
			ItemError: &orchestrator.ItemError{ItemID: item.ExternalID, Reason: fmt.Sprintf("fetch failed: %v", err)},
		}, nil
	}

	doc, err := p.Parse(item.SourceType, item.ExternalID, item.Folder, raw)
	if err != nil {
		return orchestrator.Outcome{
			ItemError: &orchestrator.ItemError{ItemID: item.ExternalID, Reason: fmt.Sprintf("parse failed: %v", err)},
		}, nil
	}

	if p.Filter != nil && !p.Filter.Evaluate(messageContext(doc, item.Folder)) {
		return orchestrator.Outcome{Skipped: true, ContentTimestamp: doc.ContentTimestamp}, nil
	}

	enriched := document.EnrichedDocument{Base: doc}

	for _, img := range doc.Images {
		imgEnrichment := document.ImageEnrichment{Hash: img.Hash}

		imgBytes := img.Bytes
		if processed, err := imgpipe.Process(ctx, img.Bytes, imgpipe.LocalProfile()); err != nil {
			p.log.Warn().Err(err).Str("item", item.ExternalID).Msg("image pipeline failed, using original bytes")
		} else {
			imgBytes = processed.Bytes
		}

		if p.OCR != nil {
			result, err := ocr.WithTimeout(ctx, p.OCROptions, func(ctx context.Context) (*document.OCRResult, error) {
				return p.OCR.Recognize(ctx, imgBytes, p.OCROptions)
			})
			if err != nil {
				p.log.Warn().Err(err).Str("item", item.ExternalID).Msg("ocr failed, continuing without it")
			} else {
				imgEnrichment.OCR = result
			}
		}

		if p.Caption != nil {
			ocrText := ""
			if imgEnrichment.OCR != nil {
				ocrText = imgEnrichment.OCR.Text
			}
			result, err := p.Caption.Caption(ctx, caption.Request{ImageBytes: imgBytes, MIME: img.MIME, OCRText: ocrText})
			if err != nil {
				p.log.Warn().Err(err).Str("item", item.ExternalID).Msg("caption failed, continuing without it")
			} else {
				imgEnrichment.Caption = result.Caption
			}
		}

		enriched.ImageEnrichments = append(enriched.ImageEnrichments, imgEnrichment)
	}

	spans := entity.Extract(doc.Content, p.EntityOpts)
	if len(spans) > 0 {
		docSpans := make([]document.EntitySpan, 0, len(spans))
		for _, s := range spans {
			docSpans = append(docSpans, document.EntitySpan{
				Type:       string(s.Type),
				Text:       s.Text,
				Start:      s.Range.Start,
				End:        s.Range.End,
				Confidence: s.Confidence,
			})
		}
		enriched.DocEnrichment = &document.DocEnrichment{Entities: docSpans}
	}

	payload := enrich.Merge(enriched)

	idempotencyKey := gateway.IdempotencyKey(doc.SourceType, doc.ExternalID, doc.ContentHash())
	submission, err := p.Submitter.Submit(ctx, payload, idempotencyKey)
	if err != nil {
		if kind, ok := collectorerr.KindOf(err); ok && kind == collectorerr.KindFatal {
			return orchestrator.Outcome{}, err
		}
		return orchestrator.Outcome{
			Matched:   true,
			ItemError: &orchestrator.ItemError{ItemID: item.ExternalID, Reason: fmt.Sprintf("submission failed: %v", err)},
		}, nil
	}

	return orchestrator.Outcome{
		Matched:          true,
		Submitted:        !submission.Duplicate,
		Duplicate:        submission.Duplicate,
		ContentTimestamp: doc.ContentTimestamp,
	}, nil
}
