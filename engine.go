package impact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jward/impact/internal/extract"
	"github.com/jward/impact/internal/resolve"
	"github.com/jward/impact/internal/scan"
	"github.com/jward/impact/internal/store"
)

// ErrEntityName indicates the entity name is not a valid lowercase
// underscore-delimited identifier.
var ErrEntityName = errors.New("invalid entity name")

// Re-exported scan errors, so callers can match without importing internals.
var (
	ErrNoCandidates    = scan.ErrNoCandidates
	ErrNoRelevantFiles = scan.ErrNoRelevantFiles
)

var entityNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Engine orchestrates the pipeline: scan, ingest, extract, resolve, query.
type Engine struct {
	store     *store.Store
	log       *slog.Logger
	workers   int
	deepParse bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers caps the scan worker pool.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithDeepParser enables tree-sitter receiver resolution for tests the
// lexical strategies cannot bind.
func WithDeepParser(enabled bool) Option {
	return func(e *Engine) { e.deepParse = enabled }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an Engine backed by a SQLite database at dbPath, creating and
// migrating the database as needed.
func New(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("impact: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("impact: migrate: %w", err)
	}
	return newEngine(s, opts), nil
}

// Open attaches to an existing database for query-only use. It never creates
// a file and never migrates.
func Open(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("impact: %w", err)
	}
	return newEngine(s, opts), nil
}

func newEngine(s *store.Store, opts []Option) *Engine {
	e := &Engine{store: s}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Query returns a Query wrapping the Store.
func (e *Engine) Query() *Query {
	return &Query{store: e.store}
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	Entity          string
	TestRoot        string
	Candidates      int
	Relevant        int
	SkippedFiles    int
	Structs         int
	TestFunctions   int
	HelperFunctions int
	DirectRefs      int
	TemplateCalls   int
	HelperCallEdges int
	SequentialCalls int
	Duration        time.Duration
}

// Run executes the full pipeline for one entity under root: discover and
// filter test files, ingest them in path order, extract facts, then run the
// three resolution passes. The populated database is left behind for
// query-only reuse.
func (e *Engine) Run(ctx context.Context, root, entity string) (*RunStats, error) {
	if !entityNameRe.MatchString(entity) {
		return nil, fmt.Errorf("%w: %q", ErrEntityName, entity)
	}
	start := time.Now()

	res, err := scan.Run(ctx, scan.Config{
		Root:    root,
		Entity:  entity,
		Workers: e.workers,
		Logger:  e.log.With("component", "scan"),
	})
	if err != nil {
		return nil, err
	}

	stats := &RunStats{
		Entity:       entity,
		TestRoot:     res.TestRoot,
		Candidates:   res.Candidates,
		Relevant:     len(res.Files),
		SkippedFiles: res.Skipped,
	}

	contents := make(map[string]string, len(res.Files))
	var extracted extract.Stats
	for _, fc := range res.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contents[fc.Path] = fc.Content

		groupID, err := e.store.EnsureGroup(groupForPath(res.TestRoot, fc.Path))
		if err != nil {
			return nil, err
		}
		file := &store.File{GroupID: groupID, Path: fc.Path}
		if _, err := e.store.InsertFile(file); err != nil {
			return nil, err
		}

		fs, err := extract.Apply(e.store, file, fc.Content)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", fc.Path, err)
		}
		extracted.Add(fs)
	}

	rlog := e.log.With("component", "resolve")
	if err := resolve.Structs(ctx, e.store, contents, e.deepParse, rlog); err != nil {
		return nil, fmt.Errorf("resolve structs: %w", err)
	}
	if err := resolve.Indirect(ctx, e.store, rlog); err != nil {
		return nil, fmt.Errorf("resolve indirect: %w", err)
	}
	if err := resolve.Sequential(ctx, e.store, rlog); err != nil {
		return nil, fmt.Errorf("resolve sequential: %w", err)
	}

	stats.Structs = extracted.Structs
	stats.TestFunctions = extracted.TestFunctions
	stats.HelperFunctions = extracted.HelperFunctions
	stats.DirectRefs = extracted.DirectRefs
	stats.TemplateCalls = extracted.TemplateCalls
	stats.HelperCallEdges = extracted.HelperCallEdges
	stats.SequentialCalls = extracted.SequentialCalls
	stats.Duration = time.Since(start)

	if err := e.storeRunMetadata(root, stats); err != nil {
		return nil, err
	}

	e.log.Info("pipeline complete",
		"entity", entity,
		"relevant", stats.Relevant,
		"tests", stats.TestFunctions,
		"helpers", stats.HelperFunctions,
		"duration", stats.Duration,
	)
	return stats, nil
}

// storeRunMetadata persists the run parameters so a query-only session can
// report what it is looking at.
func (e *Engine) storeRunMetadata(root string, stats *RunStats) error {
	pairs := [][2]string{
		{"entity", stats.Entity},
		{"root", root},
		{"test_root", stats.TestRoot},
		{"scanned_at", time.Now().UTC().Format(time.RFC3339)},
		{"candidates", strconv.Itoa(stats.Candidates)},
		{"relevant", strconv.Itoa(stats.Relevant)},
	}
	for _, p := range pairs {
		if err := e.store.SetMetadata(p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

// groupForPath derives the group name for a file: the path segment directly
// under the services tree when there is one, otherwise the parent directory.
func groupForPath(testRoot, path string) string {
	rel, err := filepath.Rel(testRoot, path)
	if err == nil && !strings.HasPrefix(rel, "..") {
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) > 1 {
			return parts[0]
		}
	}
	return filepath.Base(filepath.Dir(path))
}
