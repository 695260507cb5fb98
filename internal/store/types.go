package store

// Reference kinds shared by direct, indirect, and sequential references.
// Stored as text so a persisted database is readable without this package.
const (
	KindFullDeclaration    = "FULL_DECLARATION"
	KindAttributeMention   = "ATTRIBUTE_MENTION"
	KindSameFile           = "SAME_FILE"
	KindCrossFile          = "CROSS_FILE"
	KindUnresolvedExternal = "UNRESOLVED_EXTERNAL"
	KindSequentialEntry    = "SEQUENTIAL_ENTRY"
	KindSequentialMember   = "SEQUENTIAL_MEMBER"
)

// Helper call edge kinds.
const (
	EdgeCall          = "call"
	EdgeInstantiation = "instantiation"
)

// Extraction domain types

// Group is a service/package boundary derived from a path segment. It owns files.
type Group struct {
	ID   int64
	Name string
}

// File is one scanned source file, owned by a Group.
type File struct {
	ID      int64
	GroupID int64
	Path    string
}

// Struct is a type declaration found in a file. Helper functions bind to it
// as their receiver type.
type Struct struct {
	ID     int64
	FileID int64
	Name   string
}

// TestFunction is a test entry point. StructID stays nil until the struct
// resolver binds it; EntryPointID is back-filled by the sequential resolver.
// External rows are synthesized stubs for referenced tests that were never
// extracted; their Body is nil.
type TestFunction struct {
	ID           int64
	FileID       int64
	StructID     *int64
	Name         string
	Line         int
	EntryPointID *int64
	Body         *string
	External     bool
}

// HelperFunction is a receiver method returning configuration text.
// ReceiverType is the raw type name from the declaration; StructID is the
// resolved binding.
type HelperFunction struct {
	ID           int64
	FileID       int64
	StructID     *int64
	Name         string
	ReceiverVar  string
	ReceiverType string
	Line         int
	Body         string
}

// DirectReference is an occurrence of an entity inside a helper's produced
// text. BodyLine is the offset within the helper body; the absolute file line
// is helper.Line + BodyLine.
type DirectReference struct {
	ID         int64
	HelperID   int64
	EntityName string
	Kind       string
	BodyLine   int
	Context    string
}

// TemplateCallReference is the raw fact linking a test step's Config
// expression to a receiver/method pair, recorded before resolution.
// StructName is set when the call names its struct explicitly
// (Struct{}.method(...)); otherwise the owning struct of the test applies.
type TemplateCallReference struct {
	ID             int64
	TestFunctionID int64
	StepIndex      int
	ReceiverVar    string
	StructName     string
	MethodName     string
	CallExpr       string
	Line           int
}

// HelperCallEdge records that a helper body calls another helper or
// instantiates another struct, used to walk chains beyond one hop.
type HelperCallEdge struct {
	ID          int64
	HelperID    int64
	TargetName  string
	ReceiverVar string
	StructName  string
	Kind        string
}

// SequentialCall is the raw (entry point, group, key, referenced name) triple
// extracted from a sequencing map literal, recorded before resolution.
type SequentialCall struct {
	ID             int64
	EntryPointID   int64
	GroupName      string
	KeyName        string
	ReferencedName string
	StepIndex      int
}

// Resolution domain types

// IndirectReference joins a template call to the helper it resolves to.
// HelperID is nil only when the first hop itself never resolved.
type IndirectReference struct {
	ID             int64
	TemplateCallID int64
	HelperID       *int64
	Kind           string
}

// SequentialReference links an entry-point test to a referenced test (real or
// synthesized stub) via a named group and key.
type SequentialReference struct {
	ID           int64
	EntryPointID int64
	ReferencedID int64
	GroupName    string
	KeyName      string
	StepIndex    int
	Kind         string
	Unresolved   bool
}
