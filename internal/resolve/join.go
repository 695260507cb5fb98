package resolve

import (
	"context"
	"log/slog"

	"github.com/jward/impact/internal/store"
)

// helperKey identifies a helper by method name and owning struct. Helper
// names repeat across resources (basic, complete, requiresImport), so the
// struct is part of the identity.
type helperKey struct {
	name     string
	structID int64
}

// Indirect joins every template call reference to the helper it targets and
// walks the helper's call chain to a closure. Each call yields:
//
//   - a base row for the first-hop helper, SAME_FILE or CROSS_FILE relative
//     to the calling test's file
//   - one row per helper reached through call edges, classified the same way
//
// When the first hop cannot be resolved at all, the base row carries a nil
// helper and UNRESOLVED_EXTERNAL. When the first hop resolves but some
// deeper edge does not, the base row's kind degrades to UNRESOLVED_EXTERNAL
// while keeping the helper's identity, so the caller still sees which chain
// went dark.
func Indirect(ctx context.Context, st *store.Store, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	idx, err := loadIndex(st, nil)
	if err != nil {
		return err
	}

	helpers, err := st.HelperFunctions()
	if err != nil {
		return err
	}
	helpersByID := map[int64]*store.HelperFunction{}
	helpersByKey := map[helperKey]*store.HelperFunction{}
	for _, h := range helpers {
		helpersByID[h.ID] = h
		if h.StructID != nil {
			helpersByKey[helperKey{h.Name, *h.StructID}] = h
		}
	}

	edges, err := st.HelperCallEdges()
	if err != nil {
		return err
	}
	edgesByHelper := map[int64][]*store.HelperCallEdge{}
	for _, e := range edges {
		edgesByHelper[e.HelperID] = append(edgesByHelper[e.HelperID], e)
	}

	tests, err := st.TestFunctions()
	if err != nil {
		return err
	}
	testsByID := map[int64]*store.TestFunction{}
	for _, t := range tests {
		testsByID[t.ID] = t
	}

	calls, err := st.TemplateCallReferences()
	if err != nil {
		return err
	}

	type rowKey struct {
		tcID     int64
		helperID int64 // 0 for nil
		kind     string
	}
	emitted := map[rowKey]bool{}
	emit := func(tcID int64, helperID *int64, kind string) error {
		k := rowKey{tcID: tcID, kind: kind}
		if helperID != nil {
			k.helperID = *helperID
		}
		if emitted[k] {
			return nil
		}
		emitted[k] = true
		_, err := st.InsertIndirectReference(&store.IndirectReference{
			TemplateCallID: tcID,
			HelperID:       helperID,
			Kind:           kind,
		})
		return err
	}

	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}
		test := testsByID[tc.TestFunctionID]
		if test == nil {
			continue
		}

		first := resolveCall(idx, helpersByKey, tc, test)
		if first == nil {
			log.Debug("template call did not resolve",
				"test", test.Name, "method", tc.MethodName, "struct", tc.StructName)
			if err := emit(tc.ID, nil, store.KindUnresolvedExternal); err != nil {
				return err
			}
			continue
		}

		hops, unresolved := walkChain(idx, helpersByKey, edgesByHelper, first)

		baseKind := locality(first, test)
		if unresolved {
			baseKind = store.KindUnresolvedExternal
		}
		if err := emit(tc.ID, &first.ID, baseKind); err != nil {
			return err
		}
		for _, h := range hops {
			if err := emit(tc.ID, &h.ID, locality(h, test)); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveCall finds the first-hop helper for a template call: the named
// struct when the call spells one out, otherwise the calling test's struct.
func resolveCall(idx *index, byKey map[helperKey]*store.HelperFunction, tc *store.TemplateCallReference, test *store.TestFunction) *store.HelperFunction {
	var structID int64
	if tc.StructName != "" {
		structID = idx.structNamed(tc.StructName, test.FileID)
	} else if test.StructID != nil {
		structID = *test.StructID
	}
	if structID == 0 {
		return nil
	}
	return byKey[helperKey{tc.MethodName, structID}]
}

// walkChain follows call edges from the first-hop helper to a closure,
// returning every helper reached and whether any edge failed to resolve.
// Instantiation edges mark a dependency on a struct, not a call, so they do
// not extend the chain.
func walkChain(idx *index, byKey map[helperKey]*store.HelperFunction, edgesByHelper map[int64][]*store.HelperCallEdge, first *store.HelperFunction) ([]*store.HelperFunction, bool) {
	var hops []*store.HelperFunction
	unresolved := false
	visited := map[int64]bool{first.ID: true}
	queue := []*store.HelperFunction{first}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range edgesByHelper[cur.ID] {
			if e.Kind != store.EdgeCall {
				continue
			}
			var structID int64
			if e.StructName != "" {
				structID = idx.structNamed(e.StructName, cur.FileID)
			} else if cur.StructID != nil {
				structID = *cur.StructID
			}
			if structID == 0 {
				unresolved = true
				continue
			}
			target := byKey[helperKey{e.TargetName, structID}]
			if target == nil {
				unresolved = true
				continue
			}
			if visited[target.ID] {
				continue
			}
			visited[target.ID] = true
			hops = append(hops, target)
			queue = append(queue, target)
		}
	}
	return hops, unresolved
}

// locality classifies a resolved helper against the calling test's file.
func locality(h *store.HelperFunction, test *store.TestFunction) string {
	if h.FileID == test.FileID {
		return store.KindSameFile
	}
	return store.KindCrossFile
}
