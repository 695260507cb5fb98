package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Entity     string `json:"entity,omitempty"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIDirectRef is a JSON-friendly direct reference.
type CLIDirectRef struct {
	Entity     string `json:"entity"`
	Kind       string `json:"kind"`
	Helper     string `json:"helper"`
	Struct     string `json:"struct,omitempty"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Context    string `json:"context,omitempty"`
}

// CLIIndirectRef is a JSON-friendly indirect reference.
type CLIIndirectRef struct {
	Test       string `json:"test"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Step       int    `json:"step"`
	Group      string `json:"group,omitempty"`
	Helper     string `json:"helper,omitempty"`
	HelperFile string `json:"helper_file,omitempty"`
	Kind       string `json:"kind"`
	Risk       string `json:"risk"`
}

// CLISequentialRef is a JSON-friendly sequential reference.
type CLISequentialRef struct {
	EntryPoint string `json:"entry_point"`
	Test       string `json:"test"`
	File       string `json:"file,omitempty"`
	Group      string `json:"group,omitempty"`
	Key        string `json:"key,omitempty"`
	Step       int    `json:"step"`
	Kind       string `json:"kind"`
	Risk       string `json:"risk"`
	External   bool   `json:"external,omitempty"`
}

// CLIImpactedTest is one row of the rollup.
type CLIImpactedTest struct {
	Test string `json:"test"`
	File string `json:"file"`
	Line int    `json:"line,omitempty"`
	Risk string `json:"risk"`
}

// CLIBlastRadius is the combined query result.
type CLIBlastRadius struct {
	Entity     string             `json:"entity"`
	Direct     []CLIDirectRef     `json:"direct"`
	Indirect   []CLIIndirectRef   `json:"indirect"`
	Sequential []CLISequentialRef `json:"sequential"`
	Impacted   []CLIImpactedTest  `json:"impacted"`
}

// CLIScanStats summarizes a scan command run.
type CLIScanStats struct {
	Entity          string `json:"entity"`
	TestRoot        string `json:"test_root"`
	Candidates      int    `json:"candidates"`
	Relevant        int    `json:"relevant"`
	SkippedFiles    int    `json:"skipped_files,omitempty"`
	TestFunctions   int    `json:"test_functions"`
	HelperFunctions int    `json:"helper_functions"`
	DirectRefs      int    `json:"direct_refs"`
	TemplateCalls   int    `json:"template_calls"`
	SequentialCalls int    `json:"sequential_calls"`
	DurationMS      int64  `json:"duration_ms"`
}
