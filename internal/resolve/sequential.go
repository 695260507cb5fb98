package resolve

import (
	"context"
	"log/slog"
	"sort"

	"github.com/jward/impact/internal/store"
)

// Sequential derives resolved sequential references from the raw map-literal
// triples. Every entry point gets a SEQUENTIAL_ENTRY row referencing itself,
// then one SEQUENTIAL_MEMBER row per (group, key) in declared order. Members
// that name a test never extracted get a synthesized external stub, so the
// set stays whole: a sequential group is always reported in its entirety.
func Sequential(ctx context.Context, st *store.Store, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	calls, err := st.SequentialCalls()
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		return nil
	}

	tests, err := st.TestFunctions()
	if err != nil {
		return err
	}
	testsByID := map[int64]*store.TestFunction{}
	testsByName := map[string][]*store.TestFunction{}
	for _, t := range tests {
		testsByID[t.ID] = t
		testsByName[t.Name] = append(testsByName[t.Name], t)
	}

	byEntry := map[int64][]*store.SequentialCall{}
	var entryIDs []int64
	for _, c := range calls {
		if _, seen := byEntry[c.EntryPointID]; !seen {
			entryIDs = append(entryIDs, c.EntryPointID)
		}
		byEntry[c.EntryPointID] = append(byEntry[c.EntryPointID], c)
	}
	sort.Slice(entryIDs, func(i, j int) bool { return entryIDs[i] < entryIDs[j] })

	for _, entryID := range entryIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := testsByID[entryID]
		if entry == nil {
			continue
		}
		if err := resolveEntry(st, log, entry, byEntry[entryID], testsByName); err != nil {
			return err
		}
	}
	return nil
}

// resolveEntry handles one entry point: the self row, the resolved members,
// then stubs for the rest.
func resolveEntry(st *store.Store, log *slog.Logger, entry *store.TestFunction, calls []*store.SequentialCall, testsByName map[string][]*store.TestFunction) error {
	_, err := st.InsertSequentialReference(&store.SequentialReference{
		EntryPointID: entry.ID,
		ReferencedID: entry.ID,
		StepIndex:    0,
		Kind:         store.KindSequentialEntry,
	})
	if err != nil {
		return err
	}

	// Resolve what we can first. Stub ownership clones the first resolved
	// sibling's file and struct binding so a stub lands in the group its set
	// actually runs in.
	resolved := make([]*store.TestFunction, len(calls))
	stubFileID := entry.FileID
	stubStructID := entry.StructID
	haveSibling := false
	for i, c := range calls {
		t := pickTest(testsByName[c.ReferencedName], entry.FileID)
		resolved[i] = t
		if t != nil && !haveSibling {
			stubFileID = t.FileID
			stubStructID = t.StructID
			haveSibling = true
		}
	}

	for i, c := range calls {
		member := resolved[i]
		unresolvedMember := member == nil
		if unresolvedMember {
			stub := &store.TestFunction{
				FileID:       stubFileID,
				StructID:     stubStructID,
				Name:         c.ReferencedName,
				EntryPointID: &entry.ID,
				External:     true,
			}
			if _, err := st.InsertTestFunction(stub); err != nil {
				return err
			}
			member = stub
			// Later members of this set resolve against the stub too.
			testsByName[stub.Name] = append(testsByName[stub.Name], stub)
			log.Debug("synthesized external member",
				"entry", entry.Name, "member", c.ReferencedName)
		} else if err := st.SetTestFunctionEntryPoint(member.ID, entry.ID); err != nil {
			return err
		}

		_, err := st.InsertSequentialReference(&store.SequentialReference{
			EntryPointID: entry.ID,
			ReferencedID: member.ID,
			GroupName:    c.GroupName,
			KeyName:      c.KeyName,
			StepIndex:    c.StepIndex,
			Kind:         store.KindSequentialMember,
			Unresolved:   unresolvedMember,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// pickTest chooses among same-named tests: same file as the entry point
// first, then the earliest extraction.
func pickTest(candidates []*store.TestFunction, fileID int64) *store.TestFunction {
	for _, t := range candidates {
		if t.FileID == fileID {
			return t
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return nil
}
