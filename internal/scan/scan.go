// Package scan discovers candidate test files under a repository root and
// filters them down to the ones that can possibly mention the target entity.
// Relevance is a cheap textual gate; the extractor decides what the mentions
// actually mean.
package scan

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"

	"github.com/jward/impact/internal/extract"
)

var (
	// ErrNoCandidates indicates the walk found no test files at all.
	ErrNoCandidates = errors.New("no candidate test files found")

	// ErrNoRelevantFiles indicates candidates exist but none mention the
	// entity or carry a sequencing construct.
	ErrNoRelevantFiles = errors.New("no files reference the entity")
)

// defaultWorkers is used when Config.Workers is zero.
const defaultWorkers = 8

// testFileGlob selects acceptance test sources.
var testFileGlob = glob.MustCompile("*_test.go")

// excludedDirGlobs name directory shapes that never hold acceptance tests:
// validators, parsers, generated clients, migration scaffolding, and the
// usual repo noise.
var excludedDirGlobs = func() []glob.Glob {
	patterns := []string{
		"validate", "parse", "client", "migration*",
		"vendor", "testdata", ".git", "node_modules",
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		globs = append(globs, glob.MustCompile(p))
	}
	return globs
}()

// Config drives one scan.
type Config struct {
	// Root is the repository root. The scan descends into Root/internal/services
	// when that directory exists, otherwise Root itself.
	Root string

	// Entity is the entity name relevance is checked against.
	Entity string

	// Workers caps the read/filter pool. Zero means defaultWorkers, clamped
	// to GOMAXPROCS and the candidate count.
	Workers int

	Logger *slog.Logger
}

// FileContent is one relevant file with its full text, ready for extraction.
type FileContent struct {
	Path    string
	Content string
}

// Result is the outcome of a scan.
type Result struct {
	// Files holds the relevant files in walk order.
	Files []FileContent

	// TestRoot is the directory the walk actually started from.
	TestRoot string

	// Candidates counts test files seen before the relevance filter.
	Candidates int

	// Skipped counts candidate files that could not be read.
	Skipped int
}

// Run walks the tree, partitions the candidates across a worker pool, and
// returns the files whose text is relevant to the entity.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	testRoot := cfg.Root
	if services := filepath.Join(cfg.Root, "internal", "services"); isDir(services) {
		testRoot = services
	}

	candidates, err := collectCandidates(ctx, testRoot)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if n := runtime.GOMAXPROCS(0); workers > n {
		workers = n
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	// Contiguous chunks keep each worker's output in walk order, so the
	// merged result is deterministic without a sort on content.
	chunks := partition(candidates, workers)
	results := make([][]FileContent, len(chunks))
	var skipped atomic.Int64

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = filterChunk(ctx, log, chunk, cfg.Entity, &skipped)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		TestRoot:   testRoot,
		Candidates: len(candidates),
		Skipped:    int(skipped.Load()),
	}
	for _, r := range results {
		res.Files = append(res.Files, r...)
	}
	if len(res.Files) == 0 {
		return nil, ErrNoRelevantFiles
	}

	log.Debug("scan complete",
		"root", testRoot,
		"candidates", res.Candidates,
		"relevant", len(res.Files),
		"skipped", res.Skipped,
	)
	return res, nil
}

// collectCandidates walks testRoot and gathers test file paths, pruning
// excluded directories.
func collectCandidates(ctx context.Context, testRoot string) ([]string, error) {
	var candidates []string
	err := filepath.WalkDir(testRoot, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != testRoot && excludedDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if testFileGlob.Match(d.Name()) {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(candidates)
	return candidates, nil
}

func excludedDir(name string) bool {
	for _, g := range excludedDirGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// partition splits paths into n contiguous chunks of near-equal size.
func partition(paths []string, n int) [][]string {
	chunks := make([][]string, 0, n)
	size := (len(paths) + n - 1) / n
	for start := 0; start < len(paths); start += size {
		end := start + size
		if end > len(paths) {
			end = len(paths)
		}
		chunks = append(chunks, paths[start:end])
	}
	return chunks
}

// filterChunk reads each path and keeps the relevant ones. Read failures are
// logged and counted, never fatal.
func filterChunk(ctx context.Context, log *slog.Logger, paths []string, entity string, skipped *atomic.Int64) []FileContent {
	var out []FileContent
	for _, path := range paths {
		if ctx.Err() != nil {
			return out
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("skipping unreadable file", "path", path, "error", err)
			skipped.Add(1)
			continue
		}
		content := string(data)
		if Relevant(content, entity) {
			out = append(out, FileContent{Path: path, Content: content})
		}
	}
	return out
}

// Relevant reports whether content mentions entity as a whole token, or
// declares an ordered sub-test map. Sequencing files must always be indexed
// because their membership can pull in tests from files that do mention the
// entity.
func Relevant(content, entity string) bool {
	if containsToken(content, entity) {
		return true
	}
	return strings.Contains(content, extract.SequenceMarker)
}

// containsToken reports a whole-token occurrence: the neighbors of the match
// must not be identifier characters, so azurerm_subnet does not match inside
// azurerm_subnet_route_table.
func containsToken(s, token string) bool {
	if token == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(s[start:], token)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(token)
		leftOK := i == 0 || !identChar(s[i-1])
		rightOK := end == len(s) || !identChar(s[end])
		if leftOK && rightOK {
			return true
		}
		start = i + 1
	}
}

func identChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
