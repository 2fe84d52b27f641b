// Package transfer implements the export/import round trip of spec.md §6:
// a lossless structured form for machine use, a line-delimited form for
// streaming, and a human-readable text form for documentation, plus the
// import path that reconstructs a store from the structured form up to
// (id, created_at) renaming (spec.md §8, edge case 5). Memory JSON tags
// already match spec.md's "Memory JSON form" field list (pkg/types/memory.go),
// so Bundle reuses types.Memory/types.Link directly rather than defining a
// parallel record type.
package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// Format selects one of the three export renderings named in spec.md §6.
type Format string

const (
	FormatJSON  Format = "json"  // one object: {"memories":[...],"links":[...]} — the only form Import reads back
	FormatJSONL Format = "jsonl" // one memory per line, for streaming into another tool
	FormatText  Format = "text"  // one human-readable section per memory, for documentation
)

// Bundle is the structured, lossless export of a namespace: every memory
// (active, archived, and superseded) plus every link out of them (a target
// may lie outside the namespace) and, when present, each memory's embedding.
type Bundle struct {
	Memories []types.Memory `json:"memories"`
	Links    []types.Link   `json:"links"`
}

const exportPageSize = 100

// Export walks namespace page by page (including archived and superseded
// rows, since a faithful export must round-trip the whole lifecycle, not
// just the active set) and assembles a Bundle with every outgoing link and
// embedding attached.
func Export(ctx context.Context, store storage.Store, namespace string) (Bundle, error) {
	var bundle Bundle
	page := 1
	for {
		result, err := store.List(ctx, storage.ListOptions{
			Namespace:         namespace,
			Page:              page,
			Limit:             exportPageSize,
			SortBy:            "created_at",
			SortOrder:         "asc",
			IncludeArchived:   true,
			IncludeSuperseded: true,
		})
		if err != nil {
			return Bundle{}, fmt.Errorf("transfer: list page %d: %w", page, err)
		}

		ids := make([]string, len(result.Items))
		for i := range result.Items {
			ids[i] = result.Items[i].ID
		}
		vectors, err := store.VectorsForIDs(ctx, ids)
		if err != nil {
			return Bundle{}, fmt.Errorf("transfer: vectors for page %d: %w", page, err)
		}

		for _, mem := range result.Items {
			if vec, ok := vectors[mem.ID]; ok {
				mem.Embedding = vec
			}
			bundle.Memories = append(bundle.Memories, mem)

			links, err := store.OutgoingLinks(ctx, mem.ID, storage.GraphBounds{})
			if err != nil {
				return Bundle{}, fmt.Errorf("transfer: outgoing links for %s: %w", mem.ID, err)
			}
			bundle.Links = append(bundle.Links, links...)
		}

		if !result.HasMore {
			break
		}
		page++
	}
	return bundle, nil
}

// WriteJSON writes bundle as a single JSON object, the canonical
// machine-readable form Import reads back.
func WriteJSON(w io.Writer, bundle Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(bundle)
}

// WriteJSONL writes one JSON-encoded memory per line for streaming
// consumption. Links are omitted: this form trades full fidelity (it is not
// read back by Import) for a shape a line-oriented tool can consume
// incrementally.
func WriteJSONL(w io.Writer, bundle Bundle) error {
	enc := json.NewEncoder(w)
	for _, mem := range bundle.Memories {
		if err := enc.Encode(mem); err != nil {
			return err
		}
	}
	return nil
}

// sectionMeta is the YAML front matter written above each memory's content
// in the text export: the fields a reader scans first, rendered through
// yaml.v3 rather than hand-formatted key: value lines so the output is both
// readable and, if a section is lifted out on its own, parseable.
type sectionMeta struct {
	ID         string   `yaml:"id"`
	Namespace  string   `yaml:"namespace,omitempty"`
	Type       string   `yaml:"type"`
	Importance int      `yaml:"importance"`
	Confidence float64  `yaml:"confidence"`
	CreatedAt  string   `yaml:"created_at"`
	Tags       []string `yaml:"tags,omitempty"`
	Keywords   []string `yaml:"keywords,omitempty"`
	State      string   `yaml:"state,omitempty"`
}

// WriteText renders bundle as a human-readable document, one section per
// memory — YAML front matter for the scannable fields, then the content and
// summary as plain prose — for documentation or review rather than machine
// consumption.
func WriteText(w io.Writer, bundle Bundle) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	for i, mem := range bundle.Memories {
		if i > 0 {
			fmt.Fprintln(bw, "\n---")
		}

		meta := sectionMeta{
			ID:         mem.ID,
			Namespace:  mem.Namespace,
			Type:       string(mem.MemoryType),
			Importance: mem.Importance,
			Confidence: mem.Confidence,
			CreatedAt:  mem.CreatedAt.Format(time.RFC3339),
			Tags:       mem.Tags,
			Keywords:   mem.Keywords,
		}
		switch {
		case mem.SupersededBy != "":
			meta.State = "superseded by " + mem.SupersededBy
		case mem.IsArchived:
			meta.State = "archived"
		}

		metaYAML, err := yaml.Marshal(meta)
		if err != nil {
			return fmt.Errorf("transfer: render section header for %s: %w", mem.ID, err)
		}
		bw.Write(metaYAML)

		fmt.Fprintln(bw)
		fmt.Fprintln(bw, mem.Content)
		if mem.Summary != "" {
			fmt.Fprintf(bw, "\nsummary: %s\n", mem.Summary)
		}
	}

	if len(bundle.Links) > 0 {
		fmt.Fprintln(bw, "\n\n# links")
		for _, l := range bundle.Links {
			fmt.Fprintf(bw, "%s --[%s %.2f]--> %s\n", l.Source, l.Type, l.Strength, l.Target)
		}
	}
	return nil
}

// ReadJSON decodes the canonical Bundle form written by WriteJSON.
func ReadJSON(r io.Reader) (Bundle, error) {
	var bundle Bundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return Bundle{}, fmt.Errorf("transfer: decode bundle: %w", err)
	}
	return bundle, nil
}

// Import recreates bundle's memories and links in store, in two passes:
// every memory first (so link/supersede targets always already exist),
// then lifecycle state and links. Ids and timestamps are reassigned by
// store.Create, matching spec.md §8's "equal up to (id, created_at)
// renaming" round-trip contract; every other field — content, tags,
// importance, links, embeddings — is preserved exactly. Returns the
// mapping from each record's original id to its new one.
func Import(ctx context.Context, store storage.Store, bundle Bundle) (map[string]string, error) {
	idMap := make(map[string]string, len(bundle.Memories))

	for _, mem := range bundle.Memories {
		mem := mem
		created, err := store.Create(ctx, types.Draft{
			Content:    mem.Content,
			Namespace:  mem.Namespace,
			Importance: mem.Importance,
			Tags:       mem.Tags,
			Keywords:   mem.Keywords,
			MemoryType: mem.MemoryType,
			Context:    mem.Context,
			CreatedBy:  mem.CreatedBy,
			VisibleTo:  mem.VisibleTo,
		})
		if err != nil {
			return idMap, fmt.Errorf("transfer: recreate memory %s: %w", mem.ID, err)
		}
		idMap[mem.ID] = created.ID

		// Summary and Confidence have no Draft equivalent and Create applies
		// its own defaults (summary = first 140 characters of content,
		// confidence 0.5), so both are always
		// restored here regardless of their value — including confidence 0,
		// a legitimate point in its 0..1 range that a "skip if zero" check
		// would mistake for "unset" and leave at Create's default.
		patch := types.Patch{
			ModifiedBy: mem.ModifiedBy,
			Summary:    &mem.Summary,
			Confidence: &mem.Confidence,
		}
		if mem.ExpiresAt != nil {
			patch.ExpiresAt = mem.ExpiresAt
		}
		if _, err := store.Update(ctx, created.ID, patch); err != nil {
			return idMap, fmt.Errorf("transfer: restore fields for %s: %w", created.ID, err)
		}

		if len(mem.Embedding) > 0 {
			if err := store.PutVector(ctx, created.ID, mem.Embedding, mem.EmbeddingModel); err != nil {
				return idMap, fmt.Errorf("transfer: restore embedding for %s: %w", created.ID, err)
			}
		}
	}

	for _, mem := range bundle.Memories {
		newID := idMap[mem.ID]
		if mem.IsArchived {
			if err := store.Archive(ctx, newID); err != nil {
				return idMap, fmt.Errorf("transfer: archive %s: %w", newID, err)
			}
		}
		if mem.SupersededBy != "" {
			newSupersedingID, ok := idMap[mem.SupersededBy]
			if !ok {
				continue // superseding memory fell outside this export's namespace/page window
			}
			if err := store.Supersede(ctx, newID, newSupersedingID); err != nil {
				return idMap, fmt.Errorf("transfer: supersede %s: %w", newID, err)
			}
		}
	}

	for _, link := range bundle.Links {
		if link.Type == types.LinkSupersedes {
			continue // already recreated by the Supersede calls above
		}
		source, target := idMap[link.Source], idMap[link.Target]
		if source == "" || target == "" {
			continue // an endpoint fell outside this export's namespace/page window
		}
		if _, err := store.Link(ctx, source, target, link.Type, link.Strength, link.Reason, link.UserCreated); err != nil {
			return idMap, fmt.Errorf("transfer: recreate link %s->%s: %w", source, target, err)
		}
	}

	return idMap, nil
}
