package ports

import (
	"context"
	"errors"

	"github.com/fenwick/engram/pkg/types"
)

// FakeEnricher is a deterministic Enricher for tests: responses/errors are
// consumed in call order, grounded on the teacher's mockLLMClient sequencing
// style (internal/engine/enrichment_pipeline_unit_test.go).
type FakeEnricher struct {
	Derivations []Derivation
	Decisions   []ConsolidationDecision
	Errs        []error // consumed alongside Derivations/Decisions by call index

	enrichCalls      int
	consolidateCalls int
}

func (f *FakeEnricher) Enrich(ctx context.Context, content string) (Derivation, error) {
	defer func() { f.enrichCalls++ }()
	if f.enrichCalls < len(f.Errs) && f.Errs[f.enrichCalls] != nil {
		return Derivation{}, f.Errs[f.enrichCalls]
	}
	if f.enrichCalls < len(f.Derivations) {
		return f.Derivations[f.enrichCalls], nil
	}
	return Derivation{}, errors.New("fake enricher: no more derivations configured")
}

func (f *FakeEnricher) Consolidate(ctx context.Context, candidates []types.Memory) (ConsolidationDecision, error) {
	defer func() { f.consolidateCalls++ }()
	if f.consolidateCalls < len(f.Decisions) {
		return f.Decisions[f.consolidateCalls], nil
	}
	return ConsolidationDecision{Action: ConsolidationKeepBoth}, nil
}

// AlwaysFailEnricher reports failure on every Enrich/Consolidate call, used
// to exercise the degradation path deterministically.
type AlwaysFailEnricher struct {
	Err error
}

func (f *AlwaysFailEnricher) Enrich(ctx context.Context, content string) (Derivation, error) {
	return Derivation{}, f.err()
}

func (f *AlwaysFailEnricher) Consolidate(ctx context.Context, candidates []types.Memory) (ConsolidationDecision, error) {
	return ConsolidationDecision{}, f.err()
}

func (f *AlwaysFailEnricher) err() error {
	if f.Err != nil {
		return f.Err
	}
	return errors.New("enricher always fails")
}

// FakeEmbedder returns a fixed-dimension zero vector (or a configured one)
// for every input, deterministic by construction.
type FakeEmbedder struct {
	Dim       int
	Vector    []float32 // overrides the zero vector when set
	ModelName string
	Err       error
}

func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Vector != nil {
		return f.Vector, nil
	}
	dim := f.Dim
	if dim <= 0 {
		dim = 384
	}
	v := make([]float32, dim)
	v[0] = 1.0 // unit-norm, deterministic
	return v, nil
}

func (f *FakeEmbedder) Model() string {
	if f.ModelName != "" {
		return f.ModelName
	}
	return "fake-embedder"
}
