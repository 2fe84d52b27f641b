// Package engramerr defines the closed set of error kinds shared by every
// layer of the store: callers test with errors.Is against these sentinels
// rather than matching on message strings.
package engramerr

import "errors"

var (
	// NotFound is returned when an id is looked up and does not exist.
	NotFound = errors.New("not found")

	// Conflict is returned on a uniqueness violation: a duplicate
	// (source, target, link_type) triple, or a duplicate id.
	Conflict = errors.New("conflict")

	// InvariantViolation is returned for an out-of-range numeric field,
	// an unrecognised enum value, or a malformed vector.
	InvariantViolation = errors.New("invariant violation")

	// BackendUnavailable is returned when the underlying storage is
	// read-only, locked, or corrupt. A single recovery attempt is made
	// before this is surfaced to the caller.
	BackendUnavailable = errors.New("backend unavailable")

	// EnrichmentUnavailable is returned internally when the Enricher port
	// fails; the store degrades gracefully and never surfaces this on the
	// write path (spec.md §7). It is still exported so evolution and
	// event-stream code can recognise and log the condition.
	EnrichmentUnavailable = errors.New("enrichment unavailable")

	// EmbeddingUnavailable is the Embedder-port analogue of
	// EnrichmentUnavailable.
	EmbeddingUnavailable = errors.New("embedding unavailable")

	// Cancelled is returned when caller cancellation is observed at a
	// suspension point; any in-flight transaction is rolled back.
	Cancelled = errors.New("cancelled")

	// GraphBoundsExceeded is returned by the graph walker when a
	// traversal would exceed its configured MaxHops/MaxNodes/MaxEdges/Timeout.
	GraphBoundsExceeded = errors.New("graph bounds exceeded")
)
