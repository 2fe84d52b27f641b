// Command engram-cli is a one-shot command surface over the engram core:
// each invocation opens the configured store, performs exactly one
// operation, and exits. It is the operator/scripting counterpart to the
// event-streaming engram-events daemon, grounded on the teacher's
// memento-backup command-dispatch shape (flag-parsed mode, one handler
// function per mode) but dispatching on a subcommand instead of a set of
// mutually exclusive boolean flags, since the operation set here is wider
// than one service's few maintenance modes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fenwick/engram/internal/config"
	"github.com/fenwick/engram/internal/engine"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/internal/storage/postgres"
	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/internal/transfer"
	"github.com/fenwick/engram/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "create":
		runCreate(args)
	case "get":
		runGet(args)
	case "list":
		runList(args)
	case "update":
		runUpdate(args)
	case "archive":
		runArchive(args)
	case "unarchive":
		runUnarchive(args)
	case "supersede":
		runSupersede(args)
	case "delete":
		runDelete(args)
	case "merge":
		runMerge(args)
	case "link":
		runLink(args)
	case "unlink":
		runUnlink(args)
	case "recall":
		runRecall(args)
	case "evolve-now":
		runEvolveNow(args)
	case "health-check":
		runHealthCheck(args)
	case "recover":
		runRecover(args)
	case "export":
		runExport(args)
	case "import":
		runImport(args)
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "engram-cli: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: engram-cli <command> [flags]

commands:
  create        store a new memory
  get           fetch a memory by id
  list          page through memories
  update        apply a partial update
  archive       mark a memory archived
  unarchive     mark a memory active again
  supersede     mark one memory superseded by another
  delete        permanently delete a memory (admin)
  merge         combine members into one winner memory
  link          create or strengthen a link between two memories
  unlink        remove a link
  recall        run the hybrid ranker for a query
  evolve-now    run one maintenance cycle immediately
  health-check  probe the backend and report port state
  recover       attempt a single backend recovery round-trip
  export        write every memory and link in a namespace to a file
  import        recreate memories and links from a prior export

Every command accepts -storage and -dsn to override ENGRAM_STORAGE_ENGINE
and ENGRAM_DSN for that one invocation.`)
}

// storageFlags wires -storage/-dsn into fs and returns accessors that apply
// them on top of the environment-loaded config, so every subcommand can
// override the backend for a single invocation without a config file.
func storageFlags(fs *flag.FlagSet) (storageEngine, dsn *string) {
	storageEngine = fs.String("storage", "", "storage engine override: sqlite or postgres")
	dsn = fs.String("dsn", "", "dsn override (sqlite file path or postgres connection string)")
	return
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.New(cfg.Storage.DSN)
	case "sqlite", "":
		return sqlite.New(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("engram-cli: unknown storage engine %q", cfg.Storage.StorageEngine)
	}
}

// loadEngine loads config, applies any override flags, opens the store and
// starts an Engine with no Enricher/Embedder configured: engram-cli talks
// directly to whatever store is on disk without a network-backed port,
// degrading exactly the way a live process would with both ports absent.
func loadEngine(storageEngine, dsn *string) (*engine.Engine, func(), error) {
	cfg := config.Load()
	if *storageEngine != "" {
		cfg.Storage.StorageEngine = *storageEngine
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	e, err := engine.New(store, nil, nil, cfg)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("construct engine: %w", err)
	}
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("start engine: %w", err)
	}

	cleanup := func() {
		_ = e.Shutdown(context.Background())
		_ = store.Close()
	}
	return e, cleanup, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "engram-cli: "+format+"\n", args...)
	os.Exit(1)
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printMemory(mem *types.Memory) {
	fmt.Printf("id:          %s\n", mem.ID)
	fmt.Printf("namespace:   %s\n", mem.Namespace)
	fmt.Printf("type:        %s\n", mem.MemoryType)
	fmt.Printf("importance:  %d\n", mem.Importance)
	fmt.Printf("confidence:  %.2f\n", mem.Confidence)
	fmt.Printf("content:     %s\n", mem.Content)
	if mem.Summary != "" {
		fmt.Printf("summary:     %s\n", mem.Summary)
	}
	if len(mem.Tags) > 0 {
		fmt.Printf("tags:        %s\n", strings.Join(mem.Tags, ", "))
	}
	if len(mem.Keywords) > 0 {
		fmt.Printf("keywords:    %s\n", strings.Join(mem.Keywords, ", "))
	}
	fmt.Printf("archived:    %v\n", mem.IsArchived)
	if mem.SupersededBy != "" {
		fmt.Printf("superseded:  %s\n", mem.SupersededBy)
	}
	fmt.Printf("created_at:  %s\n", mem.CreatedAt.Format(time.RFC3339))
}

func runCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	namespace := fs.String("namespace", "", "namespace")
	content := fs.String("content", "", "memory content (required)")
	tags := fs.String("tags", "", "comma-separated tags")
	keywords := fs.String("keywords", "", "comma-separated keywords")
	importance := fs.Int("importance", 0, "importance 1..10 (0 = default)")
	memType := fs.String("type", "", "memory type")
	memContext := fs.String("context", "", "free-form context")
	createdBy := fs.String("created-by", "", "creating agent id")
	visibleTo := fs.String("visible-to", "", "comma-separated agent roles allowed to see this memory")
	fs.Parse(args)

	if *content == "" {
		fatalf("create: -content is required")
	}

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	mem, err := e.Create(context.Background(), types.Draft{
		Content:    *content,
		Namespace:  *namespace,
		Importance: *importance,
		Tags:       splitCSV(*tags),
		Keywords:   splitCSV(*keywords),
		MemoryType: types.MemoryType(*memType),
		Context:    *memContext,
		CreatedBy:  *createdBy,
		VisibleTo:  splitCSV(*visibleTo),
	})
	if err != nil {
		fatalf("create: %v", err)
	}
	printMemory(mem)
}

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	id := fs.String("id", "", "memory id (required)")
	role := fs.String("role", "", "requesting agent role")
	fs.Parse(args)

	if *id == "" {
		fatalf("get: -id is required")
	}

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	mem, err := e.Get(context.Background(), *role, *id)
	if err != nil {
		fatalf("get: %v", err)
	}
	printMemory(mem)
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	role := fs.String("role", "", "requesting agent role")
	namespace := fs.String("namespace", "", "namespace filter")
	memType := fs.String("type", "", "memory type filter")
	minImportance := fs.Int("min-importance", 0, "minimum importance filter")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 10, "page size")
	sortBy := fs.String("sort-by", "created_at", "sort field")
	sortOrder := fs.String("sort-order", "desc", "asc or desc")
	includeArchived := fs.Bool("include-archived", false, "include archived memories")
	includeSuperseded := fs.Bool("include-superseded", false, "include superseded memories")
	fs.Parse(args)

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	result, err := e.List(context.Background(), *role, storage.ListOptions{
		Namespace:         *namespace,
		MemoryType:        *memType,
		MinImportance:     *minImportance,
		Page:              *page,
		Limit:             *limit,
		SortBy:            *sortBy,
		SortOrder:         *sortOrder,
		IncludeArchived:   *includeArchived,
		IncludeSuperseded: *includeSuperseded,
	})
	if err != nil {
		fatalf("list: %v", err)
	}

	fmt.Printf("page %d, %d/%d items, more=%v\n\n", result.Page, len(result.Items), result.Total, result.HasMore)
	for i, mem := range result.Items {
		if i > 0 {
			fmt.Println("---")
		}
		printMemory(&mem)
	}
}

func runUpdate(args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	id := fs.String("id", "", "memory id (required)")
	content := fs.String("content", "", "new content")
	summary := fs.String("summary", "", "new summary")
	tags := fs.String("tags", "", "comma-separated tags (replaces all tags)")
	keywords := fs.String("keywords", "", "comma-separated keywords (replaces all keywords)")
	memContext := fs.String("context", "", "new context")
	memType := fs.String("type", "", "new memory type")
	importance := fs.Int("importance", 0, "new importance 1..10 (0 = unchanged)")
	confidence := fs.Float64("confidence", -1, "new confidence 0..1 (-1 = unchanged)")
	modifiedBy := fs.String("modified-by", "", "agent id making this change")
	fs.Parse(args)

	if *id == "" {
		fatalf("update: -id is required")
	}

	patch := types.Patch{ModifiedBy: *modifiedBy}
	if *content != "" {
		patch.Content = content
	}
	if *summary != "" {
		patch.Summary = summary
	}
	if *tags != "" {
		v := splitCSV(*tags)
		patch.Tags = &v
	}
	if *keywords != "" {
		v := splitCSV(*keywords)
		patch.Keywords = &v
	}
	if *memContext != "" {
		patch.Context = memContext
	}
	if *memType != "" {
		v := types.MemoryType(*memType)
		patch.MemoryType = &v
	}
	if *importance != 0 {
		patch.Importance = importance
	}
	if *confidence >= 0 {
		patch.Confidence = confidence
	}

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	mem, err := e.Update(context.Background(), *id, patch)
	if err != nil {
		fatalf("update: %v", err)
	}
	printMemory(mem)
}

func runArchive(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	id := fs.String("id", "", "memory id (required)")
	fs.Parse(args)
	if *id == "" {
		fatalf("archive: -id is required")
	}
	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()
	if err := e.Archive(context.Background(), *id); err != nil {
		fatalf("archive: %v", err)
	}
	fmt.Printf("archived %s\n", *id)
}

func runUnarchive(args []string) {
	fs := flag.NewFlagSet("unarchive", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	id := fs.String("id", "", "memory id (required)")
	fs.Parse(args)
	if *id == "" {
		fatalf("unarchive: -id is required")
	}
	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()
	if err := e.Unarchive(context.Background(), *id); err != nil {
		fatalf("unarchive: %v", err)
	}
	fmt.Printf("unarchived %s\n", *id)
}

func runSupersede(args []string) {
	fs := flag.NewFlagSet("supersede", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	oldID := fs.String("old", "", "id of the memory being superseded (required)")
	newID := fs.String("new", "", "id of the superseding memory (required)")
	fs.Parse(args)
	if *oldID == "" || *newID == "" {
		fatalf("supersede: -old and -new are required")
	}
	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()
	if err := e.Supersede(context.Background(), *oldID, *newID); err != nil {
		fatalf("supersede: %v", err)
	}
	fmt.Printf("%s superseded by %s\n", *oldID, *newID)
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	id := fs.String("id", "", "memory id (required)")
	fs.Parse(args)
	if *id == "" {
		fatalf("delete: -id is required")
	}
	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()
	if err := e.Delete(context.Background(), *id); err != nil {
		fatalf("delete: %v", err)
	}
	fmt.Printf("deleted %s\n", *id)
}

func runMerge(args []string) {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	namespace := fs.String("namespace", "", "namespace")
	content := fs.String("content", "", "combined content for the winner memory (required)")
	members := fs.String("members", "", "comma-separated member ids to merge (required, 2+)")
	createdBy := fs.String("created-by", "", "agent id performing the merge")
	fs.Parse(args)

	memberIDs := splitCSV(*members)
	if *content == "" || len(memberIDs) < 2 {
		fatalf("merge: -content and at least two -members are required")
	}

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	mem, err := e.Merge(context.Background(), *namespace, *content, memberIDs, *createdBy)
	if err != nil {
		fatalf("merge: %v", err)
	}
	printMemory(mem)
}

func runLink(args []string) {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	source := fs.String("source", "", "source memory id (required)")
	target := fs.String("target", "", "target memory id (required)")
	linkType := fs.String("type", "", "link type: extends|contradicts|implements|references|supersedes (required)")
	strength := fs.Float64("strength", 0.5, "link strength 0..1")
	reason := fs.String("reason", "", "free-form reason")
	userCreated := fs.Bool("user-created", true, "mark this link as user-created rather than inferred")
	fs.Parse(args)

	if *source == "" || *target == "" || *linkType == "" {
		fatalf("link: -source, -target and -type are required")
	}

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	link, err := e.Link(context.Background(), *source, *target, types.LinkType(*linkType), *strength, *reason, *userCreated)
	if err != nil {
		fatalf("link: %v", err)
	}
	fmt.Printf("%s --[%s %.2f]--> %s\n", link.Source, link.Type, link.Strength, link.Target)
}

func runUnlink(args []string) {
	fs := flag.NewFlagSet("unlink", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	source := fs.String("source", "", "source memory id (required)")
	target := fs.String("target", "", "target memory id (required)")
	linkType := fs.String("type", "", "link type (required)")
	fs.Parse(args)

	if *source == "" || *target == "" || *linkType == "" {
		fatalf("unlink: -source, -target and -type are required")
	}

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	if err := e.DeleteLink(context.Background(), *source, *target, types.LinkType(*linkType)); err != nil {
		fatalf("unlink: %v", err)
	}
	fmt.Printf("unlinked %s -> %s [%s]\n", *source, *target, *linkType)
}

func runRecall(args []string) {
	fs := flag.NewFlagSet("recall", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	role := fs.String("role", "", "requesting agent role")
	namespace := fs.String("namespace", "", "namespace filter")
	query := fs.String("query", "", "recall query text (required)")
	limit := fs.Int("limit", 10, "maximum results")
	minImportance := fs.Int("min-importance", 0, "minimum importance floor (0 = no floor)")
	includeArchived := fs.Bool("include-archived", false, "include archived memories")
	includeSuperseded := fs.Bool("include-superseded", false, "include superseded memories")
	fs.Parse(args)

	if *query == "" {
		fatalf("recall: -query is required")
	}

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	results, err := e.Recall(context.Background(), *role, *namespace, *query, *limit, engine.RecallOptions{
		MinImportance:     *minImportance,
		IncludeArchived:   *includeArchived,
		IncludeSuperseded: *includeSuperseded,
	})
	if err != nil {
		fatalf("recall: %v", err)
	}

	for i, r := range results {
		if i > 0 {
			fmt.Println("---")
		}
		fmt.Printf("score: %.4f (vector=%.4f keyword=%.4f graph=%.4f)\n",
			r.Score, r.Components.Vector, r.Components.Keyword, r.Components.Graph)
		printMemory(&r.Memory)
	}
}

func runEvolveNow(args []string) {
	fs := flag.NewFlagSet("evolve-now", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	namespace := fs.String("namespace", "", "namespace to run the maintenance cycle over")
	fs.Parse(args)

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	summary, err := e.EvolveNow(context.Background(), *namespace)
	if err != nil {
		fatalf("evolve-now: %v", err)
	}
	fmt.Printf("scanned:        %d\n", summary.Scanned)
	fmt.Printf("clusters_found: %d\n", summary.ClustersFound)
	fmt.Printf("links_decayed:  %d\n", summary.LinksDecayed)
	fmt.Printf("links_deleted:  %d\n", summary.LinksDeleted)
	fmt.Printf("archived:       %d\n", summary.Archived)
	fmt.Printf("recalibrated:   %d\n", summary.Recalibrated)
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health-check", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	fs.Parse(args)

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	status := e.HealthCheck(context.Background())
	fmt.Printf("backend_healthy: %v\n", status.BackendHealthy)
	if status.BackendError != "" {
		fmt.Printf("backend_error:   %s\n", status.BackendError)
	}
	if status.EnricherState != "" {
		fmt.Printf("enricher:        %s\n", status.EnricherState)
	}
	if status.EmbedderState != "" {
		fmt.Printf("embedder:        %s\n", status.EmbedderState)
	}
	if !status.BackendHealthy {
		os.Exit(1)
	}
}

func runRecover(args []string) {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	fs.Parse(args)

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	if err := e.Recover(context.Background()); err != nil {
		fatalf("recover: %v", err)
	}
	fmt.Println("recovery probe ok")
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	namespace := fs.String("namespace", "", "namespace to export")
	format := fs.String("format", "json", "json, jsonl, or text")
	out := fs.String("out", "", "output file path (default: stdout)")
	fs.Parse(args)

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	bundle, err := e.Export(context.Background(), *namespace)
	if err != nil {
		fatalf("export: %v", err)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fatalf("export: %v", err)
		}
		defer f.Close()
		w = f
	}

	switch transfer.Format(*format) {
	case transfer.FormatJSON:
		err = transfer.WriteJSON(w, bundle)
	case transfer.FormatJSONL:
		err = transfer.WriteJSONL(w, bundle)
	case transfer.FormatText:
		err = transfer.WriteText(w, bundle)
	default:
		fatalf("export: unknown -format %q (want json, jsonl, or text)", *format)
	}
	if err != nil {
		fatalf("export: %v", err)
	}
	if *out != "" {
		fmt.Fprintf(os.Stderr, "wrote %d memories, %d links to %s\n", len(bundle.Memories), len(bundle.Links), *out)
	}
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	storageEngine, dsn := storageFlags(fs)
	in := fs.String("in", "", "input file path (required; must be the -format json export form)")
	fs.Parse(args)

	if *in == "" {
		fatalf("import: -in is required")
	}
	f, err := os.Open(*in)
	if err != nil {
		fatalf("import: %v", err)
	}
	defer f.Close()

	bundle, err := transfer.ReadJSON(f)
	if err != nil {
		fatalf("import: %v", err)
	}

	e, cleanup, err := loadEngine(storageEngine, dsn)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	idMap, err := e.Import(context.Background(), bundle)
	if err != nil {
		fatalf("import: %v", err)
	}
	fmt.Printf("imported %d memories, %d links\n", len(idMap), len(bundle.Links))
}
