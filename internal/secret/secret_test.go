package secret

import (
	"errors"
	"testing"
)

type fakeResolver struct {
	prefix string
	values map[string][]byte
	err    error
}

func (f *fakeResolver) Resolve(uri string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[uri]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func TestInlineResolver(t *testing.T) {
	r := NewInlineResolver(map[string][]byte{"tok1": []byte("secretvalue")})

	got, err := r.Resolve("inline://tok1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "secretvalue" {
		t.Fatalf("got %q", got)
	}

	if _, err := r.Resolve("inline://missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := r.Resolve("keychain://svc/acct"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong scheme, got %v", err)
	}
}

func TestChainFallsThroughOnNotFound(t *testing.T) {
	first := &fakeResolver{values: map[string][]byte{}}
	second := &fakeResolver{values: map[string][]byte{"inline://x": []byte("found-in-second")}}
	chain := NewChain(first, second)

	got, err := chain.Resolve("inline://x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "found-in-second" {
		t.Fatalf("got %q", got)
	}
}

func TestChainReturnsLastErrorWhenAllFail(t *testing.T) {
	boom := errors.New("boom")
	first := &fakeResolver{err: boom}
	second := &fakeResolver{values: map[string][]byte{}}
	chain := NewChain(first, second)

	_, err := chain.Resolve("inline://x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected last retained error, got %v", err)
	}
}

func TestChainReturnsNotFoundWhenAllNotFound(t *testing.T) {
	first := &fakeResolver{values: map[string][]byte{}}
	second := &fakeResolver{values: map[string][]byte{}}
	chain := NewChain(first, second)

	_, err := chain.Resolve("inline://x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
