package store

import (
	"database/sql"
	"fmt"
)

// --- Group operations ---

// EnsureGroup returns the surrogate key for the named group, creating the row
// on first sight.
func (s *Store) EnsureGroup(name string) (int64, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM groups WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup group: %w", err)
	}
	res, err := s.db.Exec("INSERT INTO groups (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("insert group: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (s *Store) Groups() ([]*Group, error) {
	rows, err := s.db.Query("SELECT id, name FROM groups ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}
	defer rows.Close()
	var groups []*Group
	for rows.Next() {
		g := &Group{}
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// --- File operations ---

func (s *Store) InsertFile(f *File) (int64, error) {
	res, err := s.db.Exec("INSERT INTO files (group_id, path) VALUES (?, ?)", f.GroupID, f.Path)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	return id, nil
}

func (s *Store) FileByPath(path string) (*File, error) {
	f := &File{}
	err := s.db.QueryRow("SELECT id, group_id, path FROM files WHERE path = ?", path).
		Scan(&f.ID, &f.GroupID, &f.Path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT id, group_id, path FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f := &File{}
		if err := rows.Scan(&f.ID, &f.GroupID, &f.Path); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Struct operations ---

func (s *Store) InsertStruct(st *Struct) (int64, error) {
	res, err := s.db.Exec("INSERT INTO structs (file_id, name) VALUES (?, ?)", st.FileID, st.Name)
	if err != nil {
		return 0, fmt.Errorf("insert struct: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	st.ID = id
	return id, nil
}

func (s *Store) queryStructs(query string, args ...any) ([]*Struct, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var structs []*Struct
	for rows.Next() {
		st := &Struct{}
		if err := rows.Scan(&st.ID, &st.FileID, &st.Name); err != nil {
			return nil, fmt.Errorf("scan struct: %w", err)
		}
		structs = append(structs, st)
	}
	return structs, rows.Err()
}

func (s *Store) StructsByFile(fileID int64) ([]*Struct, error) {
	return s.queryStructs("SELECT id, file_id, name FROM structs WHERE file_id = ? ORDER BY id", fileID)
}

func (s *Store) StructsByName(name string) ([]*Struct, error) {
	return s.queryStructs("SELECT id, file_id, name FROM structs WHERE name = ? ORDER BY id", name)
}

func (s *Store) Structs() ([]*Struct, error) {
	return s.queryStructs("SELECT id, file_id, name FROM structs ORDER BY id")
}

// --- TestFunction operations ---

const testFunctionCols = `id, file_id, struct_id, name, line, entry_point_id, body, external`

func (s *Store) InsertTestFunction(t *TestFunction) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO test_functions (file_id, struct_id, name, line, entry_point_id, body, external)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.FileID, t.StructID, t.Name, t.Line, t.EntryPointID, t.Body, t.External,
	)
	if err != nil {
		return 0, fmt.Errorf("insert test function: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	return id, nil
}

func (s *Store) scanTestFunction(scanner interface{ Scan(...any) error }) (*TestFunction, error) {
	t := &TestFunction{}
	err := scanner.Scan(&t.ID, &t.FileID, &t.StructID, &t.Name, &t.Line, &t.EntryPointID, &t.Body, &t.External)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) queryTestFunctions(query string, args ...any) ([]*TestFunction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var fns []*TestFunction
	for rows.Next() {
		t, err := s.scanTestFunction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test function: %w", err)
		}
		fns = append(fns, t)
	}
	return fns, rows.Err()
}

func (s *Store) TestFunctionByID(id int64) (*TestFunction, error) {
	t, err := s.scanTestFunction(s.db.QueryRow(
		"SELECT "+testFunctionCols+" FROM test_functions WHERE id = ?", id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("test function by id: %w", err)
	}
	return t, nil
}

func (s *Store) TestFunctionsByName(name string) ([]*TestFunction, error) {
	return s.queryTestFunctions(
		"SELECT "+testFunctionCols+" FROM test_functions WHERE name = ? ORDER BY id", name,
	)
}

func (s *Store) TestFunctions() ([]*TestFunction, error) {
	return s.queryTestFunctions("SELECT " + testFunctionCols + " FROM test_functions ORDER BY id")
}

func (s *Store) TestFunctionsMissingStruct() ([]*TestFunction, error) {
	return s.queryTestFunctions(
		"SELECT " + testFunctionCols + " FROM test_functions WHERE struct_id IS NULL AND NOT external ORDER BY id",
	)
}

// SetTestFunctionStruct fills a null struct binding. Existing bindings are
// never overwritten; a second resolution pass only fills gaps.
func (s *Store) SetTestFunctionStruct(id, structID int64) error {
	_, err := s.db.Exec(
		"UPDATE test_functions SET struct_id = ? WHERE id = ? AND struct_id IS NULL",
		structID, id,
	)
	if err != nil {
		return fmt.Errorf("set test function struct: %w", err)
	}
	return nil
}

// SetTestFunctionEntryPoint back-fills the sequential entry point, filling
// nulls only.
func (s *Store) SetTestFunctionEntryPoint(id, entryPointID int64) error {
	_, err := s.db.Exec(
		"UPDATE test_functions SET entry_point_id = ? WHERE id = ? AND entry_point_id IS NULL",
		entryPointID, id,
	)
	if err != nil {
		return fmt.Errorf("set test function entry point: %w", err)
	}
	return nil
}

// --- HelperFunction operations ---

const helperCols = `id, file_id, struct_id, name, receiver_var, receiver_type, line, body`

func (s *Store) InsertHelperFunction(h *HelperFunction) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO helper_functions (file_id, struct_id, name, receiver_var, receiver_type, line, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.FileID, h.StructID, h.Name, h.ReceiverVar, h.ReceiverType, h.Line, h.Body,
	)
	if err != nil {
		return 0, fmt.Errorf("insert helper function: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	h.ID = id
	return id, nil
}

func (s *Store) queryHelpers(query string, args ...any) ([]*HelperFunction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var helpers []*HelperFunction
	for rows.Next() {
		h := &HelperFunction{}
		if err := rows.Scan(&h.ID, &h.FileID, &h.StructID, &h.Name, &h.ReceiverVar,
			&h.ReceiverType, &h.Line, &h.Body); err != nil {
			return nil, fmt.Errorf("scan helper function: %w", err)
		}
		helpers = append(helpers, h)
	}
	return helpers, rows.Err()
}

func (s *Store) HelperFunctionByID(id int64) (*HelperFunction, error) {
	helpers, err := s.queryHelpers("SELECT "+helperCols+" FROM helper_functions WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("helper function by id: %w", err)
	}
	if len(helpers) == 0 {
		return nil, nil
	}
	return helpers[0], nil
}

func (s *Store) HelperFunctions() ([]*HelperFunction, error) {
	return s.queryHelpers("SELECT " + helperCols + " FROM helper_functions ORDER BY id")
}

func (s *Store) HelpersMissingStruct() ([]*HelperFunction, error) {
	return s.queryHelpers("SELECT " + helperCols + " FROM helper_functions WHERE struct_id IS NULL ORDER BY id")
}

// SetHelperStruct fills a null struct binding, never overwriting one.
func (s *Store) SetHelperStruct(id, structID int64) error {
	_, err := s.db.Exec(
		"UPDATE helper_functions SET struct_id = ? WHERE id = ? AND struct_id IS NULL",
		structID, id,
	)
	if err != nil {
		return fmt.Errorf("set helper struct: %w", err)
	}
	return nil
}

// --- DirectReference operations ---

func (s *Store) InsertDirectReference(d *DirectReference) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO direct_references (helper_id, entity_name, kind, body_line, context)
		 VALUES (?, ?, ?, ?, ?)`,
		d.HelperID, d.EntityName, d.Kind, d.BodyLine, d.Context,
	)
	if err != nil {
		return 0, fmt.Errorf("insert direct reference: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	d.ID = id
	return id, nil
}

func (s *Store) DirectReferencesByHelper(helperID int64) ([]*DirectReference, error) {
	rows, err := s.db.Query(
		"SELECT id, helper_id, entity_name, kind, body_line, context FROM direct_references WHERE helper_id = ? ORDER BY body_line",
		helperID,
	)
	if err != nil {
		return nil, fmt.Errorf("direct references by helper: %w", err)
	}
	defer rows.Close()
	var refs []*DirectReference
	for rows.Next() {
		d := &DirectReference{}
		if err := rows.Scan(&d.ID, &d.HelperID, &d.EntityName, &d.Kind, &d.BodyLine, &d.Context); err != nil {
			return nil, fmt.Errorf("scan direct reference: %w", err)
		}
		refs = append(refs, d)
	}
	return refs, rows.Err()
}

// HelperIDsDeclaringEntity returns the helpers whose produced text references
// the entity, directly feeding the aggregator's indirect closure.
func (s *Store) HelperIDsDeclaringEntity(entity string) ([]int64, error) {
	rows, err := s.db.Query(
		"SELECT DISTINCT helper_id FROM direct_references WHERE entity_name = ?", entity,
	)
	if err != nil {
		return nil, fmt.Errorf("helpers declaring entity: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan helper id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- TemplateCallReference operations ---

func (s *Store) InsertTemplateCallReference(tc *TemplateCallReference) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO template_call_references
		 (test_function_id, step_index, receiver_var, struct_name, method_name, call_expr, line)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tc.TestFunctionID, tc.StepIndex, tc.ReceiverVar, tc.StructName, tc.MethodName, tc.CallExpr, tc.Line,
	)
	if err != nil {
		return 0, fmt.Errorf("insert template call reference: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	tc.ID = id
	return id, nil
}

func (s *Store) TemplateCallReferences() ([]*TemplateCallReference, error) {
	rows, err := s.db.Query(
		`SELECT id, test_function_id, step_index, receiver_var, struct_name, method_name, call_expr, line
		 FROM template_call_references ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("template call references: %w", err)
	}
	defer rows.Close()
	var calls []*TemplateCallReference
	for rows.Next() {
		tc := &TemplateCallReference{}
		if err := rows.Scan(&tc.ID, &tc.TestFunctionID, &tc.StepIndex, &tc.ReceiverVar,
			&tc.StructName, &tc.MethodName, &tc.CallExpr, &tc.Line); err != nil {
			return nil, fmt.Errorf("scan template call reference: %w", err)
		}
		calls = append(calls, tc)
	}
	return calls, rows.Err()
}

// --- HelperCallEdge operations ---

func (s *Store) InsertHelperCallEdge(e *HelperCallEdge) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO helper_call_edges (helper_id, target_name, receiver_var, struct_name, kind)
		 VALUES (?, ?, ?, ?, ?)`,
		e.HelperID, e.TargetName, e.ReceiverVar, e.StructName, e.Kind,
	)
	if err != nil {
		return 0, fmt.Errorf("insert helper call edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return id, nil
}

func (s *Store) HelperCallEdges() ([]*HelperCallEdge, error) {
	rows, err := s.db.Query(
		"SELECT id, helper_id, target_name, receiver_var, struct_name, kind FROM helper_call_edges ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("helper call edges: %w", err)
	}
	defer rows.Close()
	var edges []*HelperCallEdge
	for rows.Next() {
		e := &HelperCallEdge{}
		if err := rows.Scan(&e.ID, &e.HelperID, &e.TargetName, &e.ReceiverVar, &e.StructName, &e.Kind); err != nil {
			return nil, fmt.Errorf("scan helper call edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- SequentialCall operations ---

func (s *Store) InsertSequentialCall(c *SequentialCall) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sequential_calls (entry_point_id, group_name, key_name, referenced_name, step_index)
		 VALUES (?, ?, ?, ?, ?)`,
		c.EntryPointID, c.GroupName, c.KeyName, c.ReferencedName, c.StepIndex,
	)
	if err != nil {
		return 0, fmt.Errorf("insert sequential call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

func (s *Store) SequentialCalls() ([]*SequentialCall, error) {
	rows, err := s.db.Query(
		`SELECT id, entry_point_id, group_name, key_name, referenced_name, step_index
		 FROM sequential_calls ORDER BY entry_point_id, step_index`,
	)
	if err != nil {
		return nil, fmt.Errorf("sequential calls: %w", err)
	}
	defer rows.Close()
	var calls []*SequentialCall
	for rows.Next() {
		c := &SequentialCall{}
		if err := rows.Scan(&c.ID, &c.EntryPointID, &c.GroupName, &c.KeyName, &c.ReferencedName, &c.StepIndex); err != nil {
			return nil, fmt.Errorf("scan sequential call: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
