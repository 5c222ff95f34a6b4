// Package dictionary supplies the authorized term sets that lookup layers
// match against. A dictionary is always delivered to the engine as a flat
// list of strings; where the terms come from (a template sheet, a database
// table, a static config block) is this package's concern.
package dictionary

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a named dictionary does not exist.
var ErrNotFound = fmt.Errorf("dictionary: not found")

// Static serves fixed term sets, typically loaded from configuration.
type Static map[string][]string

func (s Static) Terms(_ context.Context, name string) ([]string, error) {
	terms, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return terms, nil
}

// Chain consults providers in order and returns the first hit. A provider
// error other than ErrNotFound stops the chain.
type Chain []Provider

// Provider is the lookup-layer collaborator contract. It mirrors the
// engine's DictionaryProvider so implementations here satisfy both.
type Provider interface {
	Terms(ctx context.Context, name string) ([]string, error)
}

func (c Chain) Terms(ctx context.Context, name string) ([]string, error) {
	for _, p := range c {
		terms, err := p.Terms(ctx, name)
		if err == nil {
			return terms, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}
