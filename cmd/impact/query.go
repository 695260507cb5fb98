package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jward/impact"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query an existing result database",
	Long:  "Runs queries against a database produced by 'impact scan' without rescanning sources. The entity argument defaults to the one the database was built for.",
}

func init() {
	queryCmd.AddCommand(directCmd)
	queryCmd.AddCommand(indirectCmd)
	queryCmd.AddCommand(sequentialCmd)
	queryCmd.AddCommand(radiusCmd)
}

// openEngine attaches to the database from the --db flag path (or default)
// in query-only mode.
func openEngine() (*impact.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	dbPath := resolveDBPath(findRepoRoot(cwd))

	engine, err := impact.Open(dbPath, impact.WithLogger(newLogger()))
	if err != nil {
		return nil, fmt.Errorf("database not found: %s (run 'impact scan' first): %w", dbPath, err)
	}
	return engine, nil
}

// resolveEntity returns the positional entity argument, falling back to the
// entity recorded in the database.
func resolveEntity(q *impact.Query, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	entity, err := q.Entity()
	if err != nil {
		return "", err
	}
	if entity == "" {
		return "", fmt.Errorf("no entity recorded in database; pass one explicitly")
	}
	return entity, nil
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// --- Converters ---

func directToCLI(refs []impact.DirectReference) []CLIDirectRef {
	out := make([]CLIDirectRef, len(refs))
	for i, r := range refs {
		out[i] = CLIDirectRef{
			Entity:  r.Entity,
			Kind:    string(r.Kind),
			Helper:  r.HelperName,
			Struct:  r.StructName,
			File:    r.File,
			Line:    r.Line,
			Context: r.Context,
		}
	}
	return out
}

func indirectToCLI(refs []impact.IndirectReference) []CLIIndirectRef {
	out := make([]CLIIndirectRef, len(refs))
	for i, r := range refs {
		out[i] = CLIIndirectRef{
			Test:       r.TestName,
			File:       r.File,
			Line:       r.Line,
			Step:       r.StepIndex,
			Group:      r.Group,
			Helper:     r.HelperName,
			HelperFile: r.HelperFile,
			Kind:       string(r.Kind),
			Risk:       string(r.Risk),
		}
	}
	return out
}

func sequentialToCLI(refs []impact.SequentialReference) []CLISequentialRef {
	out := make([]CLISequentialRef, len(refs))
	for i, r := range refs {
		out[i] = CLISequentialRef{
			EntryPoint: r.EntryPoint,
			Test:       r.TestName,
			File:       r.File,
			Group:      r.GroupName,
			Key:        r.KeyName,
			Step:       r.StepIndex,
			Kind:       string(r.Kind),
			Risk:       string(r.Risk),
			External:   r.External,
		}
	}
	return out
}

func impactedToCLI(tests []impact.ImpactedTest) []CLIImpactedTest {
	out := make([]CLIImpactedTest, len(tests))
	for i, t := range tests {
		out[i] = CLIImpactedTest{
			Test: t.Name,
			File: t.File,
			Line: t.Line,
			Risk: string(t.Risk),
		}
	}
	return out
}

// --- Commands ---

var directCmd = &cobra.Command{
	Use:   "direct [entity]",
	Short: "List direct references in helper bodies",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDirect,
}

func runDirect(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("direct", err)
	}
	defer engine.Close()

	q := engine.Query()
	entity, err := resolveEntity(q, args)
	if err != nil {
		return outputError("direct", err)
	}

	refs, err := q.GetDirectReferences(entity)
	if err != nil {
		return outputError("direct", err)
	}

	cliRefs := directToCLI(refs)
	count := len(cliRefs)
	return outputResult(CLIResult{
		Command:    "direct",
		Entity:     entity,
		Results:    cliRefs,
		TotalCount: &count,
	})
}

var indirectCmd = &cobra.Command{
	Use:   "indirect [entity]",
	Short: "List test steps reaching the entity through helper chains",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndirect,
}

func runIndirect(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("indirect", err)
	}
	defer engine.Close()

	q := engine.Query()
	entity, err := resolveEntity(q, args)
	if err != nil {
		return outputError("indirect", err)
	}

	refs, err := q.GetIndirectReferences(entity)
	if err != nil {
		return outputError("indirect", err)
	}

	cliRefs := indirectToCLI(refs)
	count := len(cliRefs)
	return outputResult(CLIResult{
		Command:    "indirect",
		Entity:     entity,
		Results:    cliRefs,
		TotalCount: &count,
	})
}

var sequentialCmd = &cobra.Command{
	Use:   "sequential [entity]",
	Short: "List sequential execution sets the entity pulls in",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSequential,
}

func runSequential(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("sequential", err)
	}
	defer engine.Close()

	q := engine.Query()
	entity, err := resolveEntity(q, args)
	if err != nil {
		return outputError("sequential", err)
	}

	refs, err := q.GetSequentialReferences(entity)
	if err != nil {
		return outputError("sequential", err)
	}

	cliRefs := sequentialToCLI(refs)
	count := len(cliRefs)
	return outputResult(CLIResult{
		Command:    "sequential",
		Entity:     entity,
		Results:    cliRefs,
		TotalCount: &count,
	})
}

var radiusCmd = &cobra.Command{
	Use:   "radius [entity]",
	Short: "Full blast radius: all references plus the impacted-test rollup",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRadius,
}

func runRadius(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("radius", err)
	}
	defer engine.Close()

	q := engine.Query()
	entity, err := resolveEntity(q, args)
	if err != nil {
		return outputError("radius", err)
	}

	br, err := q.GetBlastRadius(entity)
	if err != nil {
		return outputError("radius", err)
	}

	count := len(br.Impacted)
	return outputResult(CLIResult{
		Command: "radius",
		Entity:  entity,
		Results: CLIBlastRadius{
			Entity:     br.Entity,
			Direct:     directToCLI(br.Direct),
			Indirect:   indirectToCLI(br.Indirect),
			Sequential: sequentialToCLI(br.Sequential),
			Impacted:   impactedToCLI(br.Impacted),
		},
		TotalCount: &count,
	})
}
