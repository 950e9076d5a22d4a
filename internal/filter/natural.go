package filter

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reDateInLast    = regexp.MustCompile(`(?i)^date\s+in\s+last\s+(\S+)$`)
	reDateBetween   = regexp.MustCompile(`(?i)^date\s+between\s+(\S+)\s+and\s+(\S+)$`)
	reDateCompareGE = regexp.MustCompile(`(?i)^date\s*>=\s*(\S+)$`)
	reDateCompareLE = regexp.MustCompile(`(?i)^date\s*<=\s*(\S+)$`)
	reDateCompareGT = regexp.MustCompile(`(?i)^date\s*>\s*(\S+)$`)
	reDateCompareLT = regexp.MustCompile(`(?i)^date\s*<\s*(\S+)$`)
)

// NormalizeShorthand rewrites a natural-language date shortcut into its
// predicate-call DSL form, per §4.2: "date in last 7d", "date between X
// and Y", and "date >= X" style shortcuts. Input not matching any
// shortcut is returned unchanged.
func NormalizeShorthand(src string) string {
	trimmed := strings.TrimSpace(src)

	if m := reDateInLast.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("date_after(-%s)", m[1])
	}
	if m := reDateBetween.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("date_between(%s, %s)", m[1], m[2])
	}
	if m := reDateCompareGE.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("date_on_or_after(%s)", m[1])
	}
	if m := reDateCompareLE.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("date_on_or_before(%s)", m[1])
	}
	if m := reDateCompareGT.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("date_after(%s)", m[1])
	}
	if m := reDateCompareLT.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("date_before(%s)", m[1])
	}
	return trimmed
}
