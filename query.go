package impact

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/impact/internal/store"
)

// Query is the read side of a populated database. It never writes, so it is
// safe against a store opened query-only.
type Query struct {
	store *store.Store
}

// Entity returns the entity the database was built for.
func (q *Query) Entity() (string, error) {
	return q.store.GetMetadata("entity")
}

// GetDirectReferences returns every occurrence of the entity in helper
// bodies, ordered by file path and absolute line.
func (q *Query) GetDirectReferences(entity string) ([]DirectReference, error) {
	rows, err := q.store.DB().Query(
		`SELECT d.entity_name, d.kind, h.line + d.body_line, d.context,
		        h.name, COALESCE(s.name, h.receiver_type), f.path
		 FROM direct_references d
		 JOIN helper_functions h ON h.id = d.helper_id
		 JOIN files f ON f.id = h.file_id
		 LEFT JOIN structs s ON s.id = h.struct_id
		 WHERE d.entity_name = ?
		 ORDER BY f.path, h.line + d.body_line, d.id`,
		entity,
	)
	if err != nil {
		return nil, fmt.Errorf("direct references: %w", err)
	}
	defer rows.Close()

	var refs []DirectReference
	for rows.Next() {
		var r DirectReference
		var kind string
		if err := rows.Scan(&r.Entity, &kind, &r.Line, &r.Context,
			&r.HelperName, &r.StructName, &r.File); err != nil {
			return nil, fmt.Errorf("scan direct reference: %w", err)
		}
		r.Kind = ReferenceKind(kind)
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// owningGroup finds the group that owns the entity: the one with the most
// full declarations of it, ties broken by the lexically smallest name. Falls
// back to any reference kind when the entity is never declared, and to zero
// when it is never referenced at all.
func (q *Query) owningGroup(entity string) (int64, string, error) {
	const base = `
		SELECT g.id, g.name
		FROM direct_references d
		JOIN helper_functions h ON h.id = d.helper_id
		JOIN files f ON f.id = h.file_id
		JOIN groups g ON g.id = f.group_id
		WHERE d.entity_name = ?%s
		GROUP BY g.id, g.name
		ORDER BY COUNT(*) DESC, g.name ASC
		LIMIT 1`

	for _, filter := range []string{" AND d.kind = '" + store.KindFullDeclaration + "'", ""} {
		var id int64
		var name string
		err := q.store.DB().QueryRow(fmt.Sprintf(base, filter), entity).Scan(&id, &name)
		if err == nil {
			return id, name, nil
		}
		if err != sql.ErrNoRows {
			return 0, "", fmt.Errorf("owning group: %w", err)
		}
	}
	return 0, "", nil
}

// indirectRow is the internal join result, with IDs kept for rollups.
type indirectRow struct {
	testID     int64
	testName   string
	testFile   string
	testLine   int
	groupID    int64
	groupName  string
	stepIndex  int
	callLine   int
	kind       string
	helperName string
	helperFile string
}

// indirectRows joins indirect references down to tests for the entity. A row
// qualifies when its helper's produced text references the entity, or when
// its chain never resolved: dark chains are included for any entity because
// they could reach it.
func (q *Query) indirectRows(entity string) ([]indirectRow, error) {
	helperIDs, err := q.store.HelperIDsDeclaringEntity(entity)
	if err != nil {
		return nil, err
	}

	where := "ir.kind = ?"
	args := []any{store.KindUnresolvedExternal}
	if len(helperIDs) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(helperIDs)), ",")
		where = "ir.helper_id IN (" + ph + ") OR " + where
		ids := make([]any, 0, len(helperIDs)+1)
		for _, id := range helperIDs {
			ids = append(ids, id)
		}
		args = append(ids, args...)
	}

	rows, err := q.store.DB().Query(
		`SELECT t.id, t.name, f.path, t.line, g.id, g.name,
		        tc.step_index, tc.line, ir.kind,
		        COALESCE(h.name, ''), COALESCE(hf.path, '')
		 FROM indirect_references ir
		 JOIN template_call_references tc ON tc.id = ir.template_call_id
		 JOIN test_functions t ON t.id = tc.test_function_id
		 JOIN files f ON f.id = t.file_id
		 JOIN groups g ON g.id = f.group_id
		 LEFT JOIN helper_functions h ON h.id = ir.helper_id
		 LEFT JOIN files hf ON hf.id = h.file_id
		 WHERE `+where+`
		 ORDER BY f.path, tc.line, ir.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("indirect references: %w", err)
	}
	defer rows.Close()

	var out []indirectRow
	for rows.Next() {
		var r indirectRow
		if err := rows.Scan(&r.testID, &r.testName, &r.testFile, &r.testLine,
			&r.groupID, &r.groupName, &r.stepIndex, &r.callLine, &r.kind,
			&r.helperName, &r.helperFile); err != nil {
			return nil, fmt.Errorf("scan indirect reference: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// classifyIndirect grades one row against the entity's owning group.
func classifyIndirect(r indirectRow, owningGroupID int64) RiskLevel {
	if r.kind == store.KindUnresolvedExternal {
		return RiskHigh
	}
	if owningGroupID != 0 && r.groupID == owningGroupID {
		return RiskLow
	}
	return RiskHigh
}

// GetIndirectReferences returns the test steps whose helper chains reach the
// entity, risk-classified against the entity's owning group.
func (q *Query) GetIndirectReferences(entity string) ([]IndirectReference, error) {
	owningID, _, err := q.owningGroup(entity)
	if err != nil {
		return nil, err
	}
	rows, err := q.indirectRows(entity)
	if err != nil {
		return nil, err
	}

	refs := make([]IndirectReference, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, IndirectReference{
			TestName:   r.testName,
			File:       r.testFile,
			Line:       r.callLine,
			StepIndex:  r.stepIndex,
			Group:      r.groupName,
			HelperName: r.helperName,
			HelperFile: r.helperFile,
			Kind:       ReferenceKind(r.kind),
			Risk:       classifyIndirect(r, owningID),
		})
	}
	return refs, nil
}

// impactedTestIDs collects the tests reached through indirect references.
func (q *Query) impactedTestIDs(entity string) (map[int64]bool, error) {
	rows, err := q.indirectRows(entity)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]bool, len(rows))
	for _, r := range rows {
		ids[r.testID] = true
	}
	return ids, nil
}

// sequentialRow is the internal join result for sequential references.
type sequentialRow struct {
	entryID    int64
	refID      int64
	entryName  string
	testName   string
	testFile   string
	testLine   int
	groupName  string
	keyName    string
	stepIndex  int
	kind       string
	unresolved bool
	external   bool
}

// sequentialRows returns every sequential reference, each set's rows ordered
// by group name, then key name, then declared step index. The entry row's
// empty group and key sort it ahead of its members.
func (q *Query) sequentialRows() ([]sequentialRow, error) {
	rows, err := q.store.DB().Query(
		`SELECT sr.entry_point_id, sr.referenced_id, et.name, rt.name,
		        rf.path, rt.line, sr.group_name, sr.key_name, sr.step_index,
		        sr.kind, sr.unresolved, rt.external
		 FROM sequential_references sr
		 JOIN test_functions et ON et.id = sr.entry_point_id
		 JOIN test_functions rt ON rt.id = sr.referenced_id
		 JOIN files rf ON rf.id = rt.file_id
		 ORDER BY sr.entry_point_id, sr.group_name, sr.key_name, sr.step_index, sr.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sequential references: %w", err)
	}
	defer rows.Close()

	var out []sequentialRow
	for rows.Next() {
		var r sequentialRow
		if err := rows.Scan(&r.entryID, &r.refID, &r.entryName, &r.testName,
			&r.testFile, &r.testLine, &r.groupName, &r.keyName, &r.stepIndex,
			&r.kind, &r.unresolved, &r.external); err != nil {
			return nil, fmt.Errorf("scan sequential reference: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSequentialReferences returns the sequential sets the entity pulls in.
// A set is reported whole: if the entry point or any member is impacted,
// every row of the set appears, because the members run together in declared
// order and cannot be re-run piecemeal.
func (q *Query) GetSequentialReferences(entity string) ([]SequentialReference, error) {
	impacted, err := q.impactedTestIDs(entity)
	if err != nil {
		return nil, err
	}
	rows, err := q.sequentialRows()
	if err != nil {
		return nil, err
	}

	byEntry := map[int64][]sequentialRow{}
	var entryOrder []int64
	for _, r := range rows {
		if _, seen := byEntry[r.entryID]; !seen {
			entryOrder = append(entryOrder, r.entryID)
		}
		byEntry[r.entryID] = append(byEntry[r.entryID], r)
	}

	var refs []SequentialReference
	for _, entryID := range entryOrder {
		set := byEntry[entryID]
		hit := false
		for _, r := range set {
			if impacted[r.refID] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		for _, r := range set {
			refs = append(refs, SequentialReference{
				EntryPoint: r.entryName,
				TestName:   r.testName,
				File:       r.testFile,
				GroupName:  r.groupName,
				KeyName:    r.keyName,
				StepIndex:  r.stepIndex,
				Kind:       ReferenceKind(r.kind),
				Risk:       RiskMedium,
				External:   r.external,
			})
		}
	}
	return refs, nil
}

// GetBlastRadius computes the combined result: direct, indirect, and
// sequential references plus the deduplicated impacted-test rollup, each
// test at its highest observed risk.
func (q *Query) GetBlastRadius(entity string) (*BlastRadius, error) {
	direct, err := q.GetDirectReferences(entity)
	if err != nil {
		return nil, err
	}

	owningID, _, err := q.owningGroup(entity)
	if err != nil {
		return nil, err
	}
	indirectRows, err := q.indirectRows(entity)
	if err != nil {
		return nil, err
	}

	br := &BlastRadius{Entity: entity, Direct: direct}

	type testInfo struct {
		name string
		file string
		line int
		risk RiskLevel
	}
	impactedByID := map[int64]*testInfo{}
	impactedSet := map[int64]bool{}

	for _, r := range indirectRows {
		risk := classifyIndirect(r, owningID)
		br.Indirect = append(br.Indirect, IndirectReference{
			TestName:   r.testName,
			File:       r.testFile,
			Line:       r.callLine,
			StepIndex:  r.stepIndex,
			Group:      r.groupName,
			HelperName: r.helperName,
			HelperFile: r.helperFile,
			Kind:       ReferenceKind(r.kind),
			Risk:       risk,
		})
		impactedSet[r.testID] = true
		if info, ok := impactedByID[r.testID]; ok {
			info.risk = maxRisk(info.risk, risk)
		} else {
			impactedByID[r.testID] = &testInfo{r.testName, r.testFile, r.testLine, risk}
		}
	}

	seqRows, err := q.sequentialRows()
	if err != nil {
		return nil, err
	}
	byEntry := map[int64][]sequentialRow{}
	var entryOrder []int64
	for _, r := range seqRows {
		if _, seen := byEntry[r.entryID]; !seen {
			entryOrder = append(entryOrder, r.entryID)
		}
		byEntry[r.entryID] = append(byEntry[r.entryID], r)
	}
	for _, entryID := range entryOrder {
		set := byEntry[entryID]
		hit := false
		for _, r := range set {
			if impactedSet[r.refID] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		for _, r := range set {
			br.Sequential = append(br.Sequential, SequentialReference{
				EntryPoint: r.entryName,
				TestName:   r.testName,
				File:       r.testFile,
				GroupName:  r.groupName,
				KeyName:    r.keyName,
				StepIndex:  r.stepIndex,
				Kind:       ReferenceKind(r.kind),
				Risk:       RiskMedium,
				External:   r.external,
			})
			if info, ok := impactedByID[r.refID]; ok {
				info.risk = maxRisk(info.risk, RiskMedium)
			} else {
				impactedByID[r.refID] = &testInfo{r.testName, r.testFile, r.testLine, RiskMedium}
			}
		}
	}

	for _, info := range impactedByID {
		br.Impacted = append(br.Impacted, ImpactedTest{
			Name: info.name,
			File: info.file,
			Line: info.line,
			Risk: info.risk,
		})
	}
	sort.Slice(br.Impacted, func(i, j int) bool {
		a, b := br.Impacted[i], br.Impacted[j]
		if riskRank[a.Risk] != riskRank[b.Risk] {
			return riskRank[a.Risk] > riskRank[b.Risk]
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Name < b.Name
	})
	return br, nil
}
