package fsys

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Factory constructs a backing filesystem for the scheme and authority of uri.
// The path part of uri is ignored; adapters apply it.
type Factory func(ctx context.Context, uri *url.URL) (FileSystem, error)

// Schemes maps a lower-cased URI scheme to the factory that serves it.
// Each mount table owns its own table.
type Schemes map[string]Factory

// Register adds or replaces the factory for scheme
func (s Schemes) Register(scheme string, f Factory) {
	s[strings.ToLower(scheme)] = f
}

// Clone returns an independent copy
func (s Schemes) Clone() Schemes {
	c := make(Schemes, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// New constructs a filesystem for uri using the registered factory
func (s Schemes) New(ctx context.Context, uri *url.URL) (FileSystem, error) {
	f, ok := s[strings.ToLower(uri.Scheme)]
	if !ok {
		return nil, fmt.Errorf("no filesystem for scheme %q", uri.Scheme)
	}
	return f(ctx, uri)
}
