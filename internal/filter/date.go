package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NowFunc resolves "now" for relative date specifiers; overridable for
// deterministic tests.
type NowFunc func() time.Time

// ResolveDate parses value as either ISO-8601 (absolute) or relative with
// optional sign and unit {min, h, d, w} (e.g. "-7d"), per §4.2.
func ResolveDate(value string, now NowFunc) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date specifier")
	}

	if d, ok := parseRelative(value); ok {
		return now().Add(d), nil
	}

	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date specifier %q", value)
}

func parseRelative(value string) (time.Duration, bool) {
	sign := time.Duration(1)
	rest := value
	if strings.HasPrefix(rest, "+") {
		rest = rest[1:]
	} else if strings.HasPrefix(rest, "-") {
		sign = -1
		rest = rest[1:]
	}
	if rest == "" {
		return 0, false
	}

	unit := rest[len(rest)-1:]
	numPart := rest[:len(rest)-1]
	var perUnit time.Duration
	switch unit {
	case "n":
		if strings.HasSuffix(rest, "min") {
			numPart = rest[:len(rest)-3]
			perUnit = time.Minute
		} else {
			return 0, false
		}
	case "h":
		perUnit = time.Hour
	case "d":
		perUnit = 24 * time.Hour
	case "w":
		perUnit = 7 * 24 * time.Hour
	default:
		return 0, false
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, false
	}
	return sign * time.Duration(n*float64(perUnit)), true
}

type dateRangeLeaf struct {
	start, end time.Time
	hasEnd     bool
}

func (e *dateRangeLeaf) Eval(m *MessageContext) bool {
	if m.Date.Before(e.start) {
		return false
	}
	if e.hasEnd && m.Date.After(e.end) {
		return false
	}
	return true
}

// DateRange builds date_range(start [,end]).
func DateRange(start string, end *string, now NowFunc) (Expression, error) {
	s, err := ResolveDate(start, now)
	if err != nil {
		return nil, err
	}
	leaf := &dateRangeLeaf{start: s}
	if end != nil {
		e, err := ResolveDate(*end, now)
		if err != nil {
			return nil, err
		}
		leaf.end = e
		leaf.hasEnd = true
	}
	return leaf, nil
}

// DateBetween builds date_between(start,end).
func DateBetween(start, end string, now NowFunc) (Expression, error) {
	return DateRange(start, &end, now)
}

type dateCompareLeaf struct {
	op string // before|after|on_or_before|on_or_after
	at time.Time
}

func (e *dateCompareLeaf) Eval(m *MessageContext) bool {
	switch e.op {
	case "before":
		return m.Date.Before(e.at)
	case "after":
		return m.Date.After(e.at)
	case "on_or_before":
		return !m.Date.After(e.at)
	case "on_or_after":
		return !m.Date.Before(e.at)
	}
	return false
}

// DateCompare builds date_before|after|on_or_before|on_or_after(value).
func DateCompare(op, value string, now NowFunc) (Expression, error) {
	t, err := ResolveDate(value, now)
	if err != nil {
		return nil, err
	}
	return &dateCompareLeaf{op: op, at: t}, nil
}
