// Package resolve holds the passes that turn raw extracted facts into
// resolved references: receiver/struct binding, the template-call join, and
// sequential membership. Each pass only fills gaps, so re-running resolution
// over the same database is idempotent.
package resolve

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/jward/impact/internal/deepparse"
	"github.com/jward/impact/internal/store"
)

var (
	instAssignRe = regexp.MustCompile(`\b(\w+)\s*:=\s*&?([A-Z]\w*)\{`)
	varDeclRe    = regexp.MustCompile(`\bvar\s+\w+\s+([A-Z]\w*)\b`)
	ctorAssignRe = regexp.MustCompile(`\b(\w+)\s*:=\s*(\w+)\(`)
)

// Strategy is one way of binding a test function to its owning struct.
// Strategies run in declaration order; the first hit wins.
type Strategy interface {
	Name() string
	Resolve(t *store.TestFunction) (int64, bool)
}

// index is the in-memory view the struct pass works against. Resolution is a
// batch job, so one load up front beats per-row queries.
type index struct {
	files         map[int64]*store.File
	contents      map[int64]string
	structsByFile map[int64][]*store.Struct
	structsByName map[string][]*store.Struct
	constructors  map[int64]map[string]string
}

func loadIndex(st *store.Store, contents map[string]string) (*index, error) {
	idx := &index{
		files:         map[int64]*store.File{},
		contents:      map[int64]string{},
		structsByFile: map[int64][]*store.Struct{},
		structsByName: map[string][]*store.Struct{},
		constructors:  map[int64]map[string]string{},
	}

	files, err := st.Files()
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		idx.files[f.ID] = f
		if c, ok := contents[f.Path]; ok {
			idx.contents[f.ID] = c
		}
	}

	structs, err := st.Structs()
	if err != nil {
		return nil, err
	}
	for _, s := range structs {
		idx.structsByFile[s.FileID] = append(idx.structsByFile[s.FileID], s)
		idx.structsByName[s.Name] = append(idx.structsByName[s.Name], s)
	}
	return idx, nil
}

// structNamed picks the binding for a struct name: same file first, then the
// earliest declaration. Returns 0 when the name is unknown.
func (idx *index) structNamed(name string, fileID int64) int64 {
	candidates := idx.structsByName[name]
	for _, s := range candidates {
		if s.FileID == fileID {
			return s.ID
		}
	}
	if len(candidates) > 0 {
		return candidates[0].ID
	}
	return 0
}

// Structs binds every unbound helper and test function to its owning struct.
// Helpers bind by declared receiver type. Tests bind by the first strategy
// that produces a known struct: a struct literal or var declaration in the
// body, a constructor call resolved through the deep parser, or the sole
// struct declared in the file.
func Structs(ctx context.Context, st *store.Store, contents map[string]string, deep bool, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	idx, err := loadIndex(st, contents)
	if err != nil {
		return err
	}

	helpers, err := st.HelpersMissingStruct()
	if err != nil {
		return err
	}
	for _, h := range helpers {
		if id := idx.structNamed(h.ReceiverType, h.FileID); id != 0 {
			if err := st.SetHelperStruct(h.ID, id); err != nil {
				return err
			}
		} else {
			log.Debug("helper receiver type has no struct declaration",
				"helper", h.Name, "type", h.ReceiverType)
		}
	}

	tests, err := st.TestFunctionsMissingStruct()
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		return nil
	}

	if deep {
		if err := idx.loadConstructors(ctx, tests); err != nil {
			return err
		}
	}

	strategies := []Strategy{
		&bodyLiteralStrategy{idx},
		&constructorStrategy{idx},
		&soleStructStrategy{idx},
	}

	for _, t := range tests {
		for _, s := range strategies {
			id, ok := s.Resolve(t)
			if !ok {
				continue
			}
			if err := st.SetTestFunctionStruct(t.ID, id); err != nil {
				return err
			}
			log.Debug("bound test to struct", "test", t.Name, "strategy", s.Name())
			break
		}
	}
	return nil
}

// loadConstructors deep-parses each file that still has unbound tests and
// records the constructor name to return type mapping.
func (idx *index) loadConstructors(ctx context.Context, tests []*store.TestFunction) error {
	fileIDs := map[int64]bool{}
	for _, t := range tests {
		fileIDs[t.FileID] = true
	}
	for fileID := range fileIDs {
		content, ok := idx.contents[fileID]
		if !ok {
			continue
		}
		facts, err := deepparse.ParseFile(ctx, []byte(content))
		if err != nil {
			return err
		}
		ctors := map[string]string{}
		for _, c := range facts.Constructors {
			ctors[c.Name] = c.ReturnType
		}
		idx.constructors[fileID] = ctors
	}
	return nil
}

// bodyLiteralStrategy reads struct literals and var declarations out of the
// test body.
type bodyLiteralStrategy struct{ idx *index }

func (s *bodyLiteralStrategy) Name() string { return "body-literal" }

func (s *bodyLiteralStrategy) Resolve(t *store.TestFunction) (int64, bool) {
	if t.Body == nil {
		return 0, false
	}
	for _, m := range instAssignRe.FindAllStringSubmatch(*t.Body, -1) {
		if id := s.idx.structNamed(m[2], t.FileID); id != 0 {
			return id, true
		}
	}
	for _, m := range varDeclRe.FindAllStringSubmatch(*t.Body, -1) {
		if id := s.idx.structNamed(m[1], t.FileID); id != 0 {
			return id, true
		}
	}
	return 0, false
}

// constructorStrategy resolves receivers assigned from constructor calls,
// using return types recovered by the deep parser.
type constructorStrategy struct{ idx *index }

func (s *constructorStrategy) Name() string { return "constructor" }

func (s *constructorStrategy) Resolve(t *store.TestFunction) (int64, bool) {
	ctors := s.idx.constructors[t.FileID]
	if len(ctors) == 0 || t.Body == nil {
		return 0, false
	}
	for _, m := range ctorAssignRe.FindAllStringSubmatch(*t.Body, -1) {
		ret, ok := ctors[m[2]]
		if !ok {
			continue
		}
		if id := s.idx.structNamed(ret, t.FileID); id != 0 {
			return id, true
		}
	}
	return 0, false
}

// soleStructStrategy applies when the file declares exactly one struct. A
// test in a single-resource file can only mean that resource.
type soleStructStrategy struct{ idx *index }

func (s *soleStructStrategy) Name() string { return "sole-struct" }

func (s *soleStructStrategy) Resolve(t *store.TestFunction) (int64, bool) {
	structs := s.idx.structsByFile[t.FileID]
	if len(structs) == 1 {
		return structs[0].ID, true
	}
	return 0, false
}
