// Package imaporder implements the IMAP Ordering & Cache component (C10):
// merging server-returned UIDs with a local high-water mark and cached
// range to produce a gap-aware processing order, per §4.9.
package imaporder

import "github.com/emersion/go-imap/v2"

// Order selects enumeration direction.
type Order string

const (
	Desc Order = "desc"
	Asc  Order = "asc"
)

// Cache holds the local state needed to compute the next processing order.
type Cache struct {
	// LastProcessedUID is the local high-water mark; UIDs at or below it
	// have already been processed (except within the cached gap below).
	LastProcessedUID imap.UID
	// OldestCachedUID, if non-zero, marks the lower bound already cached:
	// UIDs in [min, OldestCachedUID) are uncached and older than anything
	// seen so far.
	OldestCachedUID imap.UID
}

// Merge computes the processing order for sortedAscUIDs (the full set of
// server UIDs, ascending) given the cache and requested order, per §4.9:
//
//   - desc: (last, max] ∪ [min, oldest) in descending order — newer
//     uncached first, then older uncached; cached UIDs are skipped.
//   - asc:  [min, oldest) ∪ (last, max] in ascending order — older
//     uncached first, then newer uncached; cached UIDs are skipped.
//
// Every emitted UID lies outside [oldest, last] (the already-cached gap).
func Merge(sortedAscUIDs []imap.UID, cache Cache, order Order) []imap.UID {
	if len(sortedAscUIDs) == 0 {
		return nil
	}

	var newer, older []imap.UID
	for _, uid := range sortedAscUIDs {
		switch {
		case uid > cache.LastProcessedUID:
			newer = append(newer, uid)
		case cache.OldestCachedUID != 0 && uid < cache.OldestCachedUID:
			older = append(older, uid)
		case cache.OldestCachedUID == 0 && cache.LastProcessedUID == 0:
			// No cache state at all: everything is "newer" (first run).
			newer = append(newer, uid)
		}
	}

	switch order {
	case Asc:
		out := append([]imap.UID(nil), older...)
		out = append(out, newer...)
		return out
	default: // Desc
		out := reversed(newer)
		out = append(out, reversed(older)...)
		return out
	}
}

func reversed(uids []imap.UID) []imap.UID {
	out := make([]imap.UID, len(uids))
	for i, u := range uids {
		out[len(uids)-1-i] = u
	}
	return out
}
