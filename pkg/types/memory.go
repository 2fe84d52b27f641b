// Package types defines the core data structures for the engram memory
// store: memories, links, audit entries, and the modification log that
// tracks agent-originated writes.
package types

import "time"

// MemoryType classifies the purpose of a memory. The set is closed; callers
// must use one of the MemoryType constants below.
type MemoryType string

const (
	MemoryTypeArchitectureDecision MemoryType = "architecture_decision"
	MemoryTypeCodePattern          MemoryType = "code_pattern"
	MemoryTypeBugFix               MemoryType = "bug_fix"
	MemoryTypeConfiguration        MemoryType = "configuration"
	MemoryTypeConstraint           MemoryType = "constraint"
	MemoryTypeEntity               MemoryType = "entity"
	MemoryTypeInsight              MemoryType = "insight"
	MemoryTypeReference            MemoryType = "reference"
	MemoryTypePreference           MemoryType = "preference"
)

// ValidMemoryTypes lists every memory type accepted by the store.
var ValidMemoryTypes = []MemoryType{
	MemoryTypeArchitectureDecision,
	MemoryTypeCodePattern,
	MemoryTypeBugFix,
	MemoryTypeConfiguration,
	MemoryTypeConstraint,
	MemoryTypeEntity,
	MemoryTypeInsight,
	MemoryTypeReference,
	MemoryTypePreference,
}

// IsValidMemoryType reports whether t is one of the closed set of memory types.
func IsValidMemoryType(t MemoryType) bool {
	for _, v := range ValidMemoryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// MemoryState is the lifecycle state of a memory row.
type MemoryState string

const (
	MemoryStateActive     MemoryState = "active"
	MemoryStateArchived   MemoryState = "archived"
	MemoryStateSuperseded MemoryState = "superseded"
)

// IsValidStateTransition validates the memory lifecycle state machine of
// spec.md §4.1: active -> archived, active -> superseded, archived -> active.
// It also accepts archived -> superseded and active -> active. Superseded is
// terminal; there is no unsupersede operation.
func IsValidStateTransition(current, next MemoryState) bool {
	switch current {
	case "", MemoryStateActive:
		return next == MemoryStateActive || next == MemoryStateArchived || next == MemoryStateSuperseded
	case MemoryStateArchived:
		return next == MemoryStateActive || next == MemoryStateSuperseded
	case MemoryStateSuperseded:
		return false
	default:
		return false
	}
}

// Memory is the primary entity of the store: a single stored observation
// with text, metadata, and an optional semantic embedding.
type Memory struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary"`
	Keywords  []string  `json:"keywords,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Context   string    `json:"context,omitempty"`

	MemoryType MemoryType `json:"memory_type"`
	Importance int        `json:"importance"` // 1..10
	Confidence float64    `json:"confidence"` // 0..1

	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	IsArchived   bool   `json:"is_archived"`
	SupersededBy string `json:"superseded_by,omitempty"`

	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Agent policy layer fields (spec.md §4.10), populated only when a role
	// is supplied at creation time; zero-valued and ignored otherwise.
	CreatedBy  string   `json:"created_by,omitempty"`
	ModifiedBy string   `json:"modified_by,omitempty"`
	VisibleTo  []string `json:"visible_to,omitempty"`
}

// State returns the memory's current lifecycle state derived from its flags.
func (m *Memory) State() MemoryState {
	if m.SupersededBy != "" {
		return MemoryStateSuperseded
	}
	if m.IsArchived {
		return MemoryStateArchived
	}
	return MemoryStateActive
}

// Draft is the input to Store.Create: the caller-supplied fields of a new
// memory, before ids, timestamps, enrichment, and embedding are attached.
type Draft struct {
	Content    string
	Namespace  string
	Importance int // 0 means "use default of 5"
	Tags       []string
	Keywords   []string
	MemoryType MemoryType
	Context    string
	CreatedBy  string
	VisibleTo  []string
}

// Patch is a partial update applied by Store.Update. Nil fields are left
// unchanged; non-nil fields replace the corresponding memory column.
type Patch struct {
	Content    *string
	Summary    *string
	Keywords   *[]string
	Tags       *[]string
	Context    *string
	MemoryType *MemoryType
	Importance *int
	Confidence *float64
	ExpiresAt  *time.Time
	ModifiedBy string
}
