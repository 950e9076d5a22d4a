// Package secret implements the Secret Resolver (C3): scheme://
// references are resolved to opaque byte secrets. The keychain resolver
// checks the OS keyring first and falls through to the next resolver on
// ErrNotFound.
package secret

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/logging"
)

// ErrNotFound is returned by a Resolver when its scheme/member finds
// nothing for the given URI, distinct from other resolution errors.
var ErrNotFound = errors.New("secret: not found")

// Resolver resolves a scheme://... URI to an opaque secret.
type Resolver interface {
	Resolve(uri string) ([]byte, error)
}

// KeychainResolver resolves keychain://<service>/<account> or
// keychain://<service>?account=<account> via the OS keyring.
type KeychainResolver struct {
	log zerolog.Logger
}

func NewKeychainResolver() *KeychainResolver {
	return &KeychainResolver{log: logging.WithComponent("secret-keychain")}
}

func (k *KeychainResolver) Resolve(uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, collectorerr.Input("invalid keychain uri %q: %v", uri, err)
	}
	if u.Scheme != "keychain" {
		return nil, ErrNotFound
	}

	service := u.Host
	account := strings.TrimPrefix(u.Path, "/")
	if account == "" {
		account = u.Query().Get("account")
	}
	if service == "" || account == "" {
		return nil, collectorerr.Input("keychain uri %q missing service/account", uri)
	}

	val, err := gokeyring.Get(service, account)
	if err != nil {
		if errors.Is(err, gokeyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return []byte(val), nil
}

// InlineResolver resolves inline://<id> secrets supplied per request.
// Values live only in memory for the caller's lifetime and are never
// persisted or logged.
type InlineResolver struct {
	values map[string][]byte
}

// NewInlineResolver builds a resolver over the given id -> secret map.
func NewInlineResolver(values map[string][]byte) *InlineResolver {
	cp := make(map[string][]byte, len(values))
	for k, v := range values {
		cp[k] = append([]byte(nil), v...)
	}
	return &InlineResolver{values: cp}
}

func (r *InlineResolver) Resolve(uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, collectorerr.Input("invalid inline uri %q: %v", uri, err)
	}
	if u.Scheme != "inline" {
		return nil, ErrNotFound
	}
	id := u.Opaque
	if id == "" {
		id = u.Host
	}
	if id == "" {
		id = strings.TrimPrefix(u.Path, "/")
	}
	v, ok := r.values[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Chain tries each member Resolver in order. A not-found result falls
// through to the next member; any other error is retained as "last
// error" and returned only if every member fails.
type Chain struct {
	members []Resolver
}

// NewChain builds a chain resolver over members, tried in order.
func NewChain(members ...Resolver) *Chain {
	return &Chain{members: members}
}

func (c *Chain) Resolve(uri string) ([]byte, error) {
	var lastErr error
	for _, m := range c.members {
		v, err := m.Resolve(uri)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNotFound
}
