package engine

import (
	"context"

	"github.com/fenwick/engram/internal/transfer"
)

// Export assembles a lossless Bundle of every memory and link in namespace,
// the Engine-level entry point for spec.md §6's export operation (internal/transfer
// does the actual store walk; see that package for the three rendering
// formats and the round-trip contract).
func (e *Engine) Export(ctx context.Context, namespace string) (transfer.Bundle, error) {
	return transfer.Export(ctx, e.store, namespace)
}

// Import recreates bundle's memories and links, returning the mapping from
// each record's original id to the id it was assigned on this store.
func (e *Engine) Import(ctx context.Context, bundle transfer.Bundle) (map[string]string, error) {
	return transfer.Import(ctx, e.store, bundle)
}
