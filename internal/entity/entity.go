// Package entity implements the Entity Extractor (C7): a side-effect-free
// function from text to typed named-entity spans. No NER library appears
// anywhere in the retrieved example corpus, so this extractor is built on
// regexp-based heuristics for the structurally regular types (date, time,
// address) and a capitalization heuristic for the free-form types (person,
// organization, place), grounded on Go's standard regexp package per the
// corpus's general preference for stdlib text processing where no
// third-party parser was retrieved.
package entity

import (
	"regexp"
	"sort"
	"strings"
)

// Type is one of the six named-entity categories the contract allows.
type Type string

const (
	TypePerson       Type = "person"
	TypeOrganization Type = "organization"
	TypePlace        Type = "place"
	TypeDate         Type = "date"
	TypeTime         Type = "time"
	TypeAddress      Type = "address"
)

// Range is a byte offset span within the source text, end-exclusive.
type Range struct {
	Start int
	End   int
}

// Span is one extracted entity.
type Span struct {
	Type       Type
	Text       string
	Range      Range
	Confidence float64
}

// Options configures one Extract call.
type Options struct {
	// MinConfidence filters out spans below this threshold. Defaults to 0.
	MinConfidence float64
}

var (
	dateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`)
	timeRe = regexp.MustCompile(`\b(\d{1,2}:\d{2}(?::\d{2})?\s*(?:[AaPp][Mm])?|\d{1,2}\s*[AaPp][Mm])\b`)
	// addressRe matches a street-number-and-name pattern followed by a
	// common street-type suffix.
	addressRe = regexp.MustCompile(`\b\d{1,6}\s+[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*){0,3}\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl)\b\.?`)
	// orgSuffixRe matches a capitalized run ending in a common company suffix.
	orgSuffixRe = regexp.MustCompile(`\b[A-Z][a-zA-Z&]*(?:\s+[A-Z][a-zA-Z&]*){0,3}\s+(?:Inc|LLC|Ltd|Corp|Corporation|Company|Co)\.?\b`)
	// personRe matches a two-or-three capitalized-word run not already
	// caught as an organization; a coarse stand-in for name recognition.
	personRe = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`)
)

const (
	confidenceStructural = 0.85 // date, time, address: regular formats
	confidenceHeuristic  = 0.4  // person, organization: capitalization-based
)

// Extract produces typed spans from text, per §4.6. Call at most once per
// document body; this function has no side effects and caches nothing.
func Extract(text string, opts Options) []Span {
	var spans []Span
	spans = append(spans, matchAll(text, dateRe, TypeDate, confidenceStructural)...)
	spans = append(spans, matchAll(text, timeRe, TypeTime, confidenceStructural)...)
	spans = append(spans, matchAll(text, addressRe, TypeAddress, confidenceStructural)...)
	spans = append(spans, matchAll(text, orgSuffixRe, TypeOrganization, confidenceHeuristic)...)
	spans = append(spans, personCandidates(text)...)

	spans = removeOverlaps(spans)

	filtered := spans[:0]
	for _, s := range spans {
		if s.Confidence >= opts.MinConfidence {
			filtered = append(filtered, s)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Range.Start < filtered[j].Range.Start })
	return filtered
}

func matchAll(text string, re *regexp.Regexp, typ Type, confidence float64) []Span {
	var spans []Span
	for _, loc := range re.FindAllStringIndex(text, -1) {
		spans = append(spans, Span{
			Type:       typ,
			Text:       text[loc[0]:loc[1]],
			Range:      Range{Start: loc[0], End: loc[1]},
			Confidence: confidence,
		})
	}
	return spans
}

// personCandidates classifies capitalized-word-run matches as place when a
// known place-indicating preposition precedes them, else as person.
func personCandidates(text string) []Span {
	var spans []Span
	for _, loc := range personRe.FindAllStringIndex(text, -1) {
		matched := text[loc[0]:loc[1]]
		if orgSuffixRe.MatchString(matched) {
			continue
		}
		typ := TypePerson
		if prefixSuggestsPlace(text[:loc[0]]) {
			typ = TypePlace
		}
		spans = append(spans, Span{
			Type:       typ,
			Text:       matched,
			Range:      Range{Start: loc[0], End: loc[1]},
			Confidence: confidenceHeuristic,
		})
	}
	return spans
}

var placePrepositions = []string{"in ", "at ", "near ", "from "}

func prefixSuggestsPlace(prefix string) bool {
	trimmed := strings.TrimRight(prefix, " ")
	for _, prep := range placePrepositions {
		p := strings.TrimRight(prep, " ")
		if strings.HasSuffix(trimmed, p) {
			return true
		}
	}
	return false
}

// removeOverlaps drops lower-confidence spans whose range overlaps a
// higher-confidence span already kept, highest-confidence first.
func removeOverlaps(spans []Span) []Span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].Confidence > spans[j].Confidence })
	var kept []Span
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.Range.Start < k.Range.End && k.Range.Start < s.Range.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}
	return kept
}
