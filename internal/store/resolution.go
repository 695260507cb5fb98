package store

import "fmt"

// --- IndirectReference operations ---

// InsertIndirectReference appends a derived indirect reference. The unique
// constraint on (template_call_id, helper_id, kind) turns accidental double
// joins into hard errors rather than inflated counts; the join engine dedups
// with a seen-set before it ever gets here.
func (s *Store) InsertIndirectReference(ir *IndirectReference) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO indirect_references (template_call_id, helper_id, kind) VALUES (?, ?, ?)",
		ir.TemplateCallID, ir.HelperID, ir.Kind,
	)
	if err != nil {
		return 0, fmt.Errorf("insert indirect reference: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	ir.ID = id
	return id, nil
}

func (s *Store) IndirectReferences() ([]*IndirectReference, error) {
	rows, err := s.db.Query(
		"SELECT id, template_call_id, helper_id, kind FROM indirect_references ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("indirect references: %w", err)
	}
	defer rows.Close()
	var refs []*IndirectReference
	for rows.Next() {
		ir := &IndirectReference{}
		if err := rows.Scan(&ir.ID, &ir.TemplateCallID, &ir.HelperID, &ir.Kind); err != nil {
			return nil, fmt.Errorf("scan indirect reference: %w", err)
		}
		refs = append(refs, ir)
	}
	return refs, rows.Err()
}

// --- SequentialReference operations ---

func (s *Store) InsertSequentialReference(sr *SequentialReference) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sequential_references
		 (entry_point_id, referenced_id, group_name, key_name, step_index, kind, unresolved)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sr.EntryPointID, sr.ReferencedID, sr.GroupName, sr.KeyName, sr.StepIndex, sr.Kind, sr.Unresolved,
	)
	if err != nil {
		return 0, fmt.Errorf("insert sequential reference: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	sr.ID = id
	return id, nil
}

func (s *Store) querySequentialReferences(query string, args ...any) ([]*SequentialReference, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []*SequentialReference
	for rows.Next() {
		sr := &SequentialReference{}
		if err := rows.Scan(&sr.ID, &sr.EntryPointID, &sr.ReferencedID, &sr.GroupName,
			&sr.KeyName, &sr.StepIndex, &sr.Kind, &sr.Unresolved); err != nil {
			return nil, fmt.Errorf("scan sequential reference: %w", err)
		}
		refs = append(refs, sr)
	}
	return refs, rows.Err()
}

const sequentialRefCols = `id, entry_point_id, referenced_id, group_name, key_name, step_index, kind, unresolved`

func (s *Store) SequentialReferences() ([]*SequentialReference, error) {
	return s.querySequentialReferences(
		"SELECT " + sequentialRefCols + " FROM sequential_references ORDER BY entry_point_id, step_index",
	)
}

func (s *Store) SequentialReferencesByEntry(entryPointID int64) ([]*SequentialReference, error) {
	return s.querySequentialReferences(
		"SELECT "+sequentialRefCols+" FROM sequential_references WHERE entry_point_id = ? ORDER BY step_index",
		entryPointID,
	)
}
