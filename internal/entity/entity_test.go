package entity

import "testing"

func TestExtractFindsDate(t *testing.T) {
	spans := Extract("The meeting is on 2026-08-14 at the office.", Options{})
	found := false
	for _, s := range spans {
		if s.Type == TypeDate && s.Text == "2026-08-14" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a date span, got %+v", spans)
	}
}

func TestExtractFindsTime(t *testing.T) {
	spans := Extract("Let's meet at 3:30 PM tomorrow.", Options{})
	found := false
	for _, s := range spans {
		if s.Type == TypeTime {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a time span, got %+v", spans)
	}
}

func TestExtractFindsAddress(t *testing.T) {
	spans := Extract("Send it to 123 Main Street please.", Options{})
	found := false
	for _, s := range spans {
		if s.Type == TypeAddress {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an address span, got %+v", spans)
	}
}

func TestExtractFindsOrganization(t *testing.T) {
	spans := Extract("Acme Corp sent the invoice.", Options{})
	found := false
	for _, s := range spans {
		if s.Type == TypeOrganization {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an organization span, got %+v", spans)
	}
}

func TestExtractMinConfidenceFiltersHeuristicSpans(t *testing.T) {
	spans := Extract("Acme Corp sent the invoice.", Options{MinConfidence: 0.5})
	for _, s := range spans {
		if s.Type == TypeOrganization {
			t.Fatalf("expected organization span filtered out at confidence 0.5, got %+v", s)
		}
	}
}

func TestExtractOverlappingSpansKeepsHigherConfidence(t *testing.T) {
	spans := Extract("123 Main Street, John Smith will be there.", Options{})
	var addressCount int
	for _, s := range spans {
		if s.Type == TypeAddress {
			addressCount++
		}
	}
	if addressCount != 1 {
		t.Fatalf("expected exactly one address span, got %d in %+v", addressCount, spans)
	}
}

func TestExtractIsSideEffectFreeAcrossCalls(t *testing.T) {
	text := "Meeting 2026-01-02 at 10:00 AM."
	first := Extract(text, Options{})
	second := Extract(text, Options{})
	if len(first) != len(second) {
		t.Fatalf("expected deterministic output across calls: %d vs %d", len(first), len(second))
	}
}
