// Command casetrace maintains the entity index for investigation reports:
// it ingests report payloads or raw scanner logs, and answers linkage,
// follow-up, graph, search, and statistics queries over the index.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/scrypster/casetrace/internal/config"
	"github.com/scrypster/casetrace/internal/engine"
	"github.com/scrypster/casetrace/internal/extract"
	"github.com/scrypster/casetrace/internal/notify"
	"github.com/scrypster/casetrace/internal/storage"
	"github.com/scrypster/casetrace/internal/storage/memory"
	"github.com/scrypster/casetrace/internal/storage/postgres"
	"github.com/scrypster/casetrace/internal/storage/sqlite"
	"github.com/scrypster/casetrace/pkg/types"
)

var (
	engineFlag = flag.String("engine", "", "Storage engine: memory, sqlite, postgres (overrides config)")
	dataPath   = flag.String("data", "", "Data directory (overrides config)")

	ingestFile = flag.String("ingest", "", "Ingest a JSON report payload file and exit")
	ingestDir  = flag.String("ingest-dir", "", "Ingest every .json payload in a directory (rate-limited) and exit")
	logFile    = flag.String("log", "", "Ingest a raw scanner log file (use with -username) and exit")
	username   = flag.String("username", "", "Username the scanner log was produced for")

	linksFor     = flag.String("links", "", "Print linked reports for a report ID and exit")
	graphFor     = flag.String("graph", "", "Print the investigation graph rooted at a report ID and exit")
	graphDepth   = flag.Int("depth", -1, "Graph traversal depth (default: configured depth)")
	followupsFor = flag.String("followups", "", "Print follow-up suggestions for a report ID and exit")

	searchCategory = flag.String("search-category", "", "Entity category to search")
	searchTerm     = flag.String("search", "", "Search term (use with -search-category)")
	searchLimit    = flag.Int("limit", 0, "Maximum search results")

	deleteReport = flag.String("delete", "", "Delete a report from the index and exit")
	statsCmd     = flag.Bool("stats", false, "Print index statistics and exit")
)

func main() {
	flag.Parse()

	cfg := config.LoadConfig()
	if *engineFlag != "" {
		cfg.Storage.StorageEngine = *engineFlag
	}
	if *dataPath != "" {
		cfg.Storage.DataPath = *dataPath
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	app := &app{cfg: cfg, store: store}
	if cfg.Notify.Enabled {
		app.events = notify.NewEventWriter(cfg.Storage.DataPath)
	}

	ctx := context.Background()

	switch {
	case *ingestFile != "":
		app.ingestPayloadFile(ctx, *ingestFile)
	case *ingestDir != "":
		app.ingestDirectory(ctx, *ingestDir)
	case *logFile != "":
		app.ingestScannerLog(ctx, *logFile)
	case *linksFor != "":
		app.printLinks(ctx, *linksFor)
	case *graphFor != "":
		app.printGraph(ctx, *graphFor)
	case *followupsFor != "":
		app.printFollowups(ctx, *followupsFor)
	case *searchCategory != "":
		app.printSearch(ctx, *searchCategory, *searchTerm, *searchLimit)
	case *deleteReport != "":
		app.deleteReport(ctx, *deleteReport)
	case *statsCmd:
		app.printStats(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// openStore selects and opens the configured storage backend. The remote
// postgres backend is wrapped in a circuit breaker so a lost database
// degrades into fast ErrBackendUnavailable failures.
func openStore(cfg *config.Config) (storage.EntityStore, error) {
	switch cfg.Storage.StorageEngine {
	case "memory":
		return memory.NewEntityStore(), nil
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, err
		}
		return sqlite.NewEntityStore(filepath.Join(cfg.Storage.DataPath, "casetrace.db"))
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres engine requires CASETRACE_POSTGRES_DSN")
		}
		inner, err := postgres.NewEntityStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return storage.NewBreakerStore(inner, "postgres"), nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.StorageEngine)
	}
}

type app struct {
	cfg    *config.Config
	store  storage.EntityStore
	events *notify.EventWriter
}

func (a *app) linker() *engine.Linker {
	return engine.NewLinker(a.store, a.cfg.Linkage.MaxEntityFanOut)
}

func (a *app) generator() *engine.Generator {
	catalog := engine.ToolCatalog(nil)
	if path := a.cfg.Notify.ToolCatalog; path != "" {
		loaded, err := engine.LoadToolCatalog(path)
		if err != nil {
			log.Fatalf("Failed to load tool catalog: %v", err)
		}
		catalog = loaded
	}
	return engine.NewGenerator(catalog)
}

func (a *app) notify(eventType, reportID string) {
	if a.events == nil {
		return
	}
	if err := a.events.Notify(eventType, reportID); err != nil {
		log.Printf("notify: %v", err)
	}
}

// ingest extracts a payload and stores the result, assigning a report ID
// when the payload carries none.
func (a *app) ingest(ctx context.Context, payload *types.ReportPayload) error {
	if payload.ReportID == "" {
		payload.ReportID = "rpt:" + uuid.NewString()[:8]
	}

	result, err := extract.FromPayload(payload)
	if err != nil {
		return err
	}
	if err := a.store.StoreEntities(ctx, payload.Ref(), result.Records); err != nil {
		return err
	}
	a.notify(notify.EventEntitiesStored, payload.ReportID)

	log.Printf("ingest: %s: %d entities, %d fields skipped",
		payload.ReportID, len(result.Records), result.SkippedFields)
	return nil
}

func (a *app) ingestPayloadFile(ctx context.Context, path string) {
	payload, err := readPayload(path)
	if err != nil {
		log.Fatalf("Failed to read payload: %v", err)
	}
	if err := a.ingest(ctx, payload); err != nil {
		log.Fatalf("Failed to ingest %s: %v", path, err)
	}
}

func (a *app) ingestDirectory(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("Failed to read directory: %v", err)
	}

	limiter := rate.NewLimiter(rate.Limit(a.cfg.Ingest.Rate), a.cfg.Ingest.Burst)
	ingested, failed := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			log.Fatalf("Ingest interrupted: %v", err)
		}
		path := filepath.Join(dir, entry.Name())
		payload, err := readPayload(path)
		if err != nil {
			log.Printf("ingest: skipping %s: %v", entry.Name(), err)
			failed++
			continue
		}
		if err := a.ingest(ctx, payload); err != nil {
			log.Printf("ingest: %s: %v", entry.Name(), err)
			failed++
			continue
		}
		ingested++
	}
	log.Printf("ingest: %d payloads stored, %d failed", ingested, failed)
}

func (a *app) ingestScannerLog(ctx context.Context, path string) {
	if *username == "" {
		log.Fatalf("-log requires -username")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read log: %v", err)
	}
	payload := extract.ParseToolLog("", *username, string(data))
	if err := a.ingest(ctx, payload); err != nil {
		log.Fatalf("Failed to ingest log: %v", err)
	}
}

func (a *app) printLinks(ctx context.Context, reportID string) {
	links, err := a.linker().LinkedReports(ctx, reportID)
	if err != nil {
		log.Fatalf("Failed to compute links: %v", err)
	}
	printJSON(map[string]interface{}{"linked_reports": links})
}

func (a *app) printGraph(ctx context.Context, reportID string) {
	depth := *graphDepth
	if depth < 0 {
		depth = a.cfg.Linkage.GraphMaxDepth
	}
	builder := engine.NewGraphBuilder(a.store, a.linker())
	graph, err := builder.Build(ctx, reportID, depth)
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}
	printJSON(graph)
}

func (a *app) printFollowups(ctx context.Context, reportID string) {
	entities, err := a.store.ReportEntities(ctx, reportID, "")
	if err != nil {
		log.Fatalf("Failed to load report entities: %v", err)
	}
	ref, err := a.store.ReportRef(ctx, reportID)
	if err != nil {
		ref = types.ReportRef{ID: reportID}
	}
	suggestions := a.generator().Generate(ref, entities)
	printJSON(map[string]interface{}{"suggestions": suggestions})
}

func (a *app) printSearch(ctx context.Context, category, term string, limit int) {
	hits, err := a.store.Search(ctx, types.Category(category), term, limit)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	printJSON(map[string]interface{}{"results": hits})
}

func (a *app) deleteReport(ctx context.Context, reportID string) {
	if err := a.store.DeleteReport(ctx, reportID); err != nil {
		log.Fatalf("Failed to delete %s: %v", reportID, err)
	}
	a.notify(notify.EventReportDeleted, reportID)
	log.Printf("deleted %s", reportID)
}

func (a *app) printStats(ctx context.Context) {
	stats, err := a.store.Statistics(ctx)
	if err != nil {
		log.Fatalf("Failed to load statistics: %v", err)
	}
	printJSON(stats)
}

func readPayload(path string) (*types.ReportPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload types.ReportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &payload, nil
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(data))
}
