// Package extract turns one file's raw text into structural facts in the
// entity store: struct declarations, test functions, helper (template)
// methods, direct entity references, template call references, helper call
// edges, and sequential map triples.
//
// The extractor is deliberately lexical. The source corpus follows a narrow
// authoring convention, so line patterns plus brace-depth body isolation are
// sufficient; the deepparse package is the structural substitute for the
// cases the convention does not cover.
package extract

import (
	"regexp"
	"strings"

	"github.com/jward/impact/internal/store"
)

// Stats counts what one file contributed, plus constructs the extractor had
// to skip (malformed or unparsable). Skips are observability, not errors.
type Stats struct {
	Structs         int
	TestFunctions   int
	HelperFunctions int
	DirectRefs      int
	TemplateCalls   int
	HelperCallEdges int
	SequentialCalls int
	Skipped         int
}

// Add accumulates another file's stats.
func (s *Stats) Add(o Stats) {
	s.Structs += o.Structs
	s.TestFunctions += o.TestFunctions
	s.HelperFunctions += o.HelperFunctions
	s.DirectRefs += o.DirectRefs
	s.TemplateCalls += o.TemplateCalls
	s.HelperCallEdges += o.HelperCallEdges
	s.SequentialCalls += o.SequentialCalls
	s.Skipped += o.Skipped
}

var (
	structRe   = regexp.MustCompile(`(?m)^type\s+([A-Za-z_]\w*)\s+struct\b`)
	testFuncRe = regexp.MustCompile(`(?m)^func\s+((?:Test|testAcc)\w+)\(t\s+\*testing\.T\)\s*\{`)
	helperRe   = regexp.MustCompile(`(?m)^func\s+\((\w+)\s+\*?(\w+)\)\s+(\w+)\([^)]*\)\s+string\s*\{`)

	declBlockRe   = regexp.MustCompile(`^(resource|data)\s+"([a-z][a-z0-9_]*)"`)
	attrMentionRe = regexp.MustCompile(`\b([a-z][a-z0-9]*(?:_[a-z0-9]+)+)\.`)

	structCallRe    = regexp.MustCompile(`\b([A-Z]\w*)\{\}\.(\w+)\(`)
	instantiationRe = regexp.MustCompile(`\b(\w+)\{`)

	configStructCallRe = regexp.MustCompile(`Config:\s*([A-Z]\w*)\{\}\.(\w+)\(`)
	configCallRe       = regexp.MustCompile(`Config:\s*(\w+)\.(\w+)\(`)
	configFnCallRe     = regexp.MustCompile(`Config:\s*(\w+)\(`)
	configFuncLitRe    = regexp.MustCompile(`Config:\s*func\(`)
	configVarRe        = regexp.MustCompile(`Config:\s*(\w+)\s*,?\s*$`)

	assignCallRe = regexp.MustCompile(`\b(\w+)\s*:=\s*(\w+)\.(\w+)\(`)
	returnCallRe = regexp.MustCompile(`return\s+(\w+)\.(\w+)\(`)

	seqOuterRe = regexp.MustCompile(`"([^"]+)"\s*:\s*\{`)
	seqInnerRe = regexp.MustCompile(`"([^"]+)"\s*:\s*(\w+)\s*,`)
)

// SequenceMarker is the sequencing construct the scanner and extractor agree
// on: the type of a two-level ordered sub-test map.
const SequenceMarker = "map[string]map[string]func(t *testing.T)"

// receiverSuffix is the type-name convention for configuration-producing
// receivers. Methods on other types are not template helpers.
const receiverSuffix = "Resource"

// Helper-name deny rules: lifecycle hooks, validators, parsers, and schema
// builders also live on Resource receivers and also return strings, but they
// do not produce configuration text.
var (
	helperExactDeny = map[string]bool{
		"Exists":           true,
		"Destroy":          true,
		"preCheck":         true,
		"checkDestroy":     true,
		"testCheckDestroy": true,
	}
	helperPrefixDeny = []string{"Validate", "Parse", "Marshal", "Unmarshal", "Expand", "Flatten"}
	helperSuffixDeny = []string{"Schema", "Arguments", "Attributes", "Validator", "Parser", "Client"}
)

// instantiationDeny filters control-flow keywords that can precede a brace
// and mimic the instantiation pattern.
var instantiationDeny = map[string]bool{
	"if": true, "for": true, "switch": true, "select": true, "func": true,
	"struct": true, "interface": true, "map": true, "chan": true,
	"range": true, "return": true, "else": true, "go": true, "defer": true,
}

// Apply extracts all structural facts from one file's content and appends
// them to the store. Structs are inserted first so same-file receiver
// resolution can bind against them later.
func Apply(st *store.Store, file *store.File, content string) (Stats, error) {
	var stats Stats

	for _, m := range structRe.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		if _, err := st.InsertStruct(&store.Struct{FileID: file.ID, Name: name}); err != nil {
			return stats, err
		}
		stats.Structs++
	}

	if err := applyHelpers(st, file, content, &stats); err != nil {
		return stats, err
	}
	if err := applyTestFunctions(st, file, content, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func applyHelpers(st *store.Store, file *store.File, content string, stats *Stats) error {
	for _, m := range helperRe.FindAllStringSubmatchIndex(content, -1) {
		recvVar := content[m[2]:m[3]]
		recvType := content[m[4]:m[5]]
		name := content[m[6]:m[7]]

		if !strings.HasSuffix(recvType, receiverSuffix) || excludedHelperName(name) {
			continue
		}

		body, _, ok := blockBody(content, m[1]-1)
		if !ok {
			stats.Skipped++
			continue
		}

		h := &store.HelperFunction{
			FileID:       file.ID,
			Name:         name,
			ReceiverVar:  recvVar,
			ReceiverType: recvType,
			Line:         lineAt(content, m[0]),
			Body:         body,
		}
		if _, err := st.InsertHelperFunction(h); err != nil {
			return err
		}
		stats.HelperFunctions++

		if err := extractDirectRefs(st, h, stats); err != nil {
			return err
		}
		if err := extractHelperEdges(st, h, stats); err != nil {
			return err
		}
	}
	return nil
}

// excludedHelperName applies the exact/prefix/suffix deny rules.
func excludedHelperName(name string) bool {
	if helperExactDeny[name] {
		return true
	}
	for _, p := range helperPrefixDeny {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, s := range helperSuffixDeny {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// extractDirectRefs records declared-entity blocks and inline attribute
// mentions from a helper body. The body line offset is relative to the
// declaration line, so the absolute file line is helper.Line + BodyLine.
func extractDirectRefs(st *store.Store, h *store.HelperFunction, stats *Stats) error {
	for i, raw := range strings.Split(h.Body, "\n") {
		line := strings.TrimSpace(raw)

		declared := ""
		if dm := declBlockRe.FindStringSubmatch(line); dm != nil {
			declared = dm[2]
			_, err := st.InsertDirectReference(&store.DirectReference{
				HelperID:   h.ID,
				EntityName: declared,
				Kind:       store.KindFullDeclaration,
				BodyLine:   i,
				Context:    normalizeSpace(line),
			})
			if err != nil {
				return err
			}
			stats.DirectRefs++
		}

		seen := map[string]bool{}
		for _, am := range attrMentionRe.FindAllStringSubmatch(line, -1) {
			entity := am[1]
			if entity == declared || seen[entity] {
				continue
			}
			seen[entity] = true
			_, err := st.InsertDirectReference(&store.DirectReference{
				HelperID:   h.ID,
				EntityName: entity,
				Kind:       store.KindAttributeMention,
				BodyLine:   i,
				Context:    normalizeSpace(line),
			})
			if err != nil {
				return err
			}
			stats.DirectRefs++
		}
	}
	return nil
}

// extractHelperEdges records calls through the helper's own receiver
// variable, explicit Struct{}.method(...) calls, and bare struct
// instantiations, for the join engine's one-hop chain walk.
func extractHelperEdges(st *store.Store, h *store.HelperFunction, stats *Stats) error {
	type edgeKey struct{ target, strct, kind string }
	seen := map[edgeKey]bool{}

	insert := func(e *store.HelperCallEdge) error {
		k := edgeKey{e.TargetName, e.StructName, e.Kind}
		if seen[k] {
			return nil
		}
		seen[k] = true
		if _, err := st.InsertHelperCallEdge(e); err != nil {
			return err
		}
		stats.HelperCallEdges++
		return nil
	}

	if h.ReceiverVar != "" {
		recvCallRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(h.ReceiverVar) + `\.(\w+)\(`)
		for _, m := range recvCallRe.FindAllStringSubmatch(h.Body, -1) {
			if m[1] == h.Name {
				continue // self-recursion adds nothing to the chain
			}
			err := insert(&store.HelperCallEdge{
				HelperID:    h.ID,
				TargetName:  m[1],
				ReceiverVar: h.ReceiverVar,
				Kind:        store.EdgeCall,
			})
			if err != nil {
				return err
			}
		}
	}

	for _, m := range structCallRe.FindAllStringSubmatch(h.Body, -1) {
		err := insert(&store.HelperCallEdge{
			HelperID:   h.ID,
			TargetName: m[2],
			StructName: m[1],
			Kind:       store.EdgeCall,
		})
		if err != nil {
			return err
		}
	}

	for _, m := range instantiationRe.FindAllStringSubmatchIndex(h.Body, -1) {
		name := h.Body[m[2]:m[3]]
		if instantiationDeny[name] || name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		// Struct{}.method(...) is already covered by the call edge above.
		if rest := h.Body[m[1]:]; strings.HasPrefix(rest, "}.") {
			continue
		}
		err := insert(&store.HelperCallEdge{
			HelperID:   h.ID,
			TargetName: name,
			Kind:       store.EdgeInstantiation,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func applyTestFunctions(st *store.Store, file *store.File, content string, stats *Stats) error {
	for _, m := range testFuncRe.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]

		body, _, ok := blockBody(content, m[1]-1)
		if !ok {
			stats.Skipped++
			continue
		}

		t := &store.TestFunction{
			FileID: file.ID,
			Name:   name,
			Line:   lineAt(content, m[0]),
			Body:   &body,
		}
		if _, err := st.InsertTestFunction(t); err != nil {
			return err
		}
		stats.TestFunctions++

		if err := extractTemplateCalls(st, t, body, stats); err != nil {
			return err
		}
		if err := extractSequentialCalls(st, t, body, stats); err != nil {
			return err
		}
	}
	return nil
}

// extractTemplateCalls records one TemplateCallReference per Config step.
// The declared step index is counted even for steps the extractor cannot
// parse, so later steps keep their positions.
func extractTemplateCalls(st *store.Store, t *store.TestFunction, body string, stats *Stats) error {
	lines := strings.Split(body, "\n")

	// Byte offset of each line start, for func-literal brace scanning.
	offsets := make([]int, len(lines))
	off := 0
	for i, l := range lines {
		offsets[i] = off
		off += len(l) + 1
	}

	// receiver/method pairs assigned to local variables, for Config: cfg steps.
	type assigned struct{ recv, method string }
	vars := map[string]assigned{}

	step := 0
	insert := func(tc *store.TemplateCallReference) error {
		if _, err := st.InsertTemplateCallReference(tc); err != nil {
			return err
		}
		stats.TemplateCalls++
		return nil
	}

	for i, raw := range lines {
		if am := assignCallRe.FindStringSubmatch(raw); am != nil {
			vars[am[1]] = assigned{recv: am[2], method: am[3]}
		}
		if !strings.Contains(raw, "Config:") {
			continue
		}
		abs := t.Line + i

		if cm := configStructCallRe.FindStringSubmatch(raw); cm != nil {
			step++
			err := insert(&store.TemplateCallReference{
				TestFunctionID: t.ID, StepIndex: step,
				StructName: cm[1], MethodName: cm[2],
				CallExpr: normalizeSpace(raw), Line: abs,
			})
			if err != nil {
				return err
			}
			continue
		}
		if cm := configCallRe.FindStringSubmatch(raw); cm != nil {
			step++
			err := insert(&store.TemplateCallReference{
				TestFunctionID: t.ID, StepIndex: step,
				ReceiverVar: cm[1], MethodName: cm[2],
				CallExpr: normalizeSpace(raw), Line: abs,
			})
			if err != nil {
				return err
			}
			continue
		}
		if configFuncLitRe.MatchString(raw) {
			step++
			// Anonymous wrapper: take the first returned receiver call
			// inside the literal's body.
			litOpen := strings.Index(body[offsets[i]:], "{")
			if litOpen < 0 {
				stats.Skipped++
				continue
			}
			litBody, _, ok := blockBody(body, offsets[i]+litOpen)
			if !ok {
				stats.Skipped++
				continue
			}
			rm := returnCallRe.FindStringSubmatch(litBody)
			if rm == nil {
				stats.Skipped++
				continue
			}
			err := insert(&store.TemplateCallReference{
				TestFunctionID: t.ID, StepIndex: step,
				ReceiverVar: rm[1], MethodName: rm[2],
				CallExpr: normalizeSpace(raw), Line: abs,
			})
			if err != nil {
				return err
			}
			continue
		}
		if cm := configFnCallRe.FindStringSubmatch(raw); cm != nil {
			step++
			err := insert(&store.TemplateCallReference{
				TestFunctionID: t.ID, StepIndex: step,
				MethodName: cm[1],
				CallExpr:   normalizeSpace(raw), Line: abs,
			})
			if err != nil {
				return err
			}
			continue
		}
		if vm := configVarRe.FindStringSubmatch(raw); vm != nil {
			step++
			a, ok := vars[vm[1]]
			if !ok {
				stats.Skipped++
				continue
			}
			err := insert(&store.TemplateCallReference{
				TestFunctionID: t.ID, StepIndex: step,
				ReceiverVar: a.recv, MethodName: a.method,
				CallExpr: normalizeSpace(raw), Line: abs,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// extractSequentialCalls records the (group, key, referenced function)
// triples of a two-level sequencing map literal. The step index is the
// declared order across the whole map.
func extractSequentialCalls(st *store.Store, t *store.TestFunction, body string, stats *Stats) error {
	idx := strings.Index(body, SequenceMarker)
	if idx < 0 {
		return nil
	}
	open := strings.Index(body[idx:], "{")
	if open < 0 {
		stats.Skipped++
		return nil
	}
	lit, _, ok := blockBody(body, idx+open)
	if !ok {
		stats.Skipped++
		return nil
	}

	step := 0
	pos := 0
	for {
		m := seqOuterRe.FindStringSubmatchIndex(lit[pos:])
		if m == nil {
			break
		}
		group := lit[pos+m[2] : pos+m[3]]
		inner, next, ok := blockBody(lit, pos+m[1]-1)
		if !ok {
			stats.Skipped++
			break
		}
		for _, im := range seqInnerRe.FindAllStringSubmatch(inner, -1) {
			step++
			_, err := st.InsertSequentialCall(&store.SequentialCall{
				EntryPointID:   t.ID,
				GroupName:      group,
				KeyName:        im[1],
				ReferencedName: im[2],
				StepIndex:      step,
			})
			if err != nil {
				return err
			}
			stats.SequentialCalls++
		}
		pos = next
	}
	return nil
}

// normalizeSpace trims and collapses internal whitespace for display text.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
