package impact

import "github.com/jward/impact/internal/store"

// Store is a public alias for the internal store, for callers that need
// direct access to the underlying tables.
type Store = store.Store

// ReferenceKind classifies how a reference reaches the entity.
type ReferenceKind string

const (
	FullDeclaration    ReferenceKind = store.KindFullDeclaration
	AttributeMention   ReferenceKind = store.KindAttributeMention
	SameFile           ReferenceKind = store.KindSameFile
	CrossFile          ReferenceKind = store.KindCrossFile
	UnresolvedExternal ReferenceKind = store.KindUnresolvedExternal
	SequentialEntry    ReferenceKind = store.KindSequentialEntry
	SequentialMember   ReferenceKind = store.KindSequentialMember
)

// RiskLevel grades how confident the analysis is that a test must re-run.
// LOW means the reference stays inside the entity's owning group, HIGH means
// it crosses groups or went through an unresolved chain, MEDIUM marks
// sequential membership.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

var riskRank = map[RiskLevel]int{RiskLow: 1, RiskMedium: 2, RiskHigh: 3}

func maxRisk(a, b RiskLevel) RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// DirectReference is an occurrence of the entity in a helper's produced
// configuration text.
type DirectReference struct {
	Entity     string
	Kind       ReferenceKind
	HelperName string
	StructName string
	File       string
	Line       int
	Context    string
}

// IndirectReference links a test step to a helper whose produced text (or
// whose call chain) reaches the entity.
type IndirectReference struct {
	TestName   string
	File       string
	Line       int
	StepIndex  int
	Group      string
	HelperName string
	HelperFile string
	Kind       ReferenceKind
	Risk       RiskLevel
}

// SequentialReference is one row of a sequential execution set: the entry
// point itself (step 0) or one ordered member.
type SequentialReference struct {
	EntryPoint string
	TestName   string
	File       string
	GroupName  string
	KeyName    string
	StepIndex  int
	Kind       ReferenceKind
	Risk       RiskLevel
	External   bool
}

// ImpactedTest is the rollup view: one test that must re-run, at its highest
// observed risk.
type ImpactedTest struct {
	Name string
	File string
	Line int
	Risk RiskLevel
}

// BlastRadius is the full query result for one entity.
type BlastRadius struct {
	Entity     string
	Direct     []DirectReference
	Indirect   []IndirectReference
	Sequential []SequentialReference
	Impacted   []ImpactedTest
}
