package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jward/impact"
	"github.com/spf13/cobra"
)

var (
	flagDB      string
	flagFormat  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "impact",
	Short:         "Blast radius analysis for infrastructure acceptance tests",
	Long:          "Impact scans acceptance test sources, indexes entity references into a SQLite database, and reports which tests must re-run when an entity changes.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .impact/index.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging to stderr")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(queryCmd)
}

var (
	flagWorkers int
	flagDeep    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <root> <entity>",
	Short: "Scan a repository and index references to an entity",
	Long:  "Discovers acceptance test files under root, extracts references to the entity, resolves them, and writes the result database.",
	Args:  cobra.ExactArgs(2),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().IntVar(&flagWorkers, "workers", 0, "scan worker count (default: 8, capped at GOMAXPROCS)")
	scanCmd.Flags().BoolVar(&flagDeep, "deep", false, "enable tree-sitter receiver resolution")
}

func runScan(cmd *cobra.Command, args []string) error {
	root, err := resolveRootDir(args[0])
	if err != nil {
		return outputError("scan", err)
	}
	entity := args[1]

	dbPath := resolveDBPath(root)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return outputError("scan", fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err))
	}

	opts := []impact.Option{
		impact.WithWorkers(flagWorkers),
		impact.WithDeepParser(flagDeep),
		impact.WithLogger(newLogger()),
	}
	engine, err := impact.New(dbPath, opts...)
	if err != nil {
		return outputError("scan", err)
	}
	defer engine.Close()

	stats, err := engine.Run(context.Background(), root, entity)
	if err != nil {
		return outputError("scan", err)
	}

	fmt.Fprintf(os.Stderr, "Indexed %d of %d candidate files in %s\n",
		stats.Relevant, stats.Candidates, stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)

	count := stats.TestFunctions
	return outputResult(CLIResult{
		Command: "scan",
		Entity:  entity,
		Results: CLIScanStats{
			Entity:          stats.Entity,
			TestRoot:        stats.TestRoot,
			Candidates:      stats.Candidates,
			Relevant:        stats.Relevant,
			SkippedFiles:    stats.SkippedFiles,
			TestFunctions:   stats.TestFunctions,
			HelperFunctions: stats.HelperFunctions,
			DirectRefs:      stats.DirectRefs,
			TemplateCalls:   stats.TemplateCalls,
			SequentialCalls: stats.SequentialCalls,
			DurationMS:      stats.Duration.Milliseconds(),
		},
		TotalCount: &count,
	})
}

// newLogger builds the slog logger for the selected verbosity. Logs go to
// stderr so stdout stays machine-readable.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveRootDir returns the absolute path of the repository root argument.
func resolveRootDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag or the default.
func resolveDBPath(repoRoot string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	return filepath.Join(repoRoot, ".impact", "index.db")
}
