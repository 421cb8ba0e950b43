package inherit

import (
	"context"
	"fmt"

	"github.com/stitchtrace/stitch/internal/types"
)

// Ancestor is one resolved hop in an entity's ancestor chain.
type Ancestor struct {
	Kind      types.EntityKind
	ID        int64
	Component string
}

// ChainStep lazily resolves one ancestor. Lookup returns nil when the
// link is absent (unset reference, or a soft reference that does not
// resolve); absence is not an error.
type ChainStep struct {
	Kind   types.EntityKind
	Lookup func(ctx context.Context) (*Ancestor, error)
}

// AncestorChain is an entity's ancestors ordered nearest-first. Steps
// are evaluated lazily, so a chain walk stops at the first hop that
// answers.
type AncestorChain []ChainStep

// First walks the chain and returns the first ancestor carrying a
// non-empty component. Returns nil when no ancestor has one.
func (c AncestorChain) First(ctx context.Context) (*Ancestor, error) {
	for _, step := range c {
		anc, err := step.Lookup(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s ancestor: %w", step.Kind, err)
		}
		if anc == nil || anc.Component == "" {
			continue
		}
		return anc, nil
	}
	return nil, nil
}
