package imaporder

import (
	"reflect"
	"testing"

	"github.com/emersion/go-imap/v2"
)

func uidRange(lo, hi int) []imap.UID {
	var out []imap.UID
	for i := lo; i <= hi; i++ {
		out = append(out, imap.UID(i))
	}
	return out
}

func TestMergeRoundTripDesc(t *testing.T) {
	all := uidRange(0, 100)
	cache := Cache{LastProcessedUID: 85, OldestCachedUID: 75}

	got := Merge(all, cache, Desc)

	want := append(reversedRange(86, 100), reversedRange(0, 74)...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("desc merge mismatch:\n got  %v\n want %v", got, want)
	}

	for _, uid := range got {
		if uid >= 76 && uid <= 85 {
			t.Fatalf("emitted UID %d is within the already-cached gap [76,85]", uid)
		}
	}
}

func TestMergeRoundTripAsc(t *testing.T) {
	all := uidRange(0, 100)
	cache := Cache{LastProcessedUID: 85, OldestCachedUID: 75}

	got := Merge(all, cache, Asc)

	want := append(uidRange(0, 74), uidRange(86, 100)...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("asc merge mismatch:\n got  %v\n want %v", got, want)
	}
}

func TestMergeFirstRunTreatsAllAsNewer(t *testing.T) {
	all := uidRange(1, 5)
	got := Merge(all, Cache{}, Desc)
	want := reversedRange(1, 5)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMergeEmptyInput(t *testing.T) {
	if got := Merge(nil, Cache{LastProcessedUID: 10}, Desc); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func reversedRange(lo, hi int) []imap.UID {
	r := uidRange(lo, hi)
	return reversed(r)
}
