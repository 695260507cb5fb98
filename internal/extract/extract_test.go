package extract

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/impact/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFile(t *testing.T, s *store.Store, path string) *store.File {
	t.Helper()
	gid, err := s.EnsureGroup("widget")
	require.NoError(t, err)
	f := &store.File{GroupID: gid, Path: path}
	_, err = s.InsertFile(f)
	require.NoError(t, err)
	return f
}

// src builds Go-ish source text; tildes become backticks so fixtures can
// carry raw strings.
func src(s string) string {
	return strings.ReplaceAll(s, "~", "`")
}

func TestApply_StructsAndHelperFilters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := seedFile(t, s, "a/widget_test.go")

	content := src(`package widget_test

type WidgetResource struct{}

type widgetValidator struct{}

func (r WidgetResource) basic(data acceptance.TestData) string {
	return fmt.Sprintf(~
resource "azurerm_widget_container" "test" {
  name = "acctest-%d"
}
~, data.RandomInteger)
}

func (r WidgetResource) ValidateName(data acceptance.TestData) string {
	return ""
}

func (r WidgetResource) widgetSchema(data acceptance.TestData) string {
	return ""
}

func (r WidgetResource) Exists(data acceptance.TestData) string {
	return ""
}

func (v widgetValidator) basic(data acceptance.TestData) string {
	return ""
}
`)

	stats, err := Apply(s, f, content)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Structs)
	assert.Equal(t, 1, stats.HelperFunctions, "deny rules and receiver suffix must filter the rest")

	helpers, err := s.HelperFunctions()
	require.NoError(t, err)
	require.Len(t, helpers, 1)
	assert.Equal(t, "basic", helpers[0].Name)
	assert.Equal(t, "WidgetResource", helpers[0].ReceiverType)
	assert.Equal(t, "r", helpers[0].ReceiverVar)
	assert.Equal(t, 7, helpers[0].Line)
}

func TestApply_DirectReferences(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := seedFile(t, s, "a/widget_test.go")

	content := src(`package widget_test

type WidgetResource struct{}

func (r WidgetResource) complete(data acceptance.TestData) string {
	return fmt.Sprintf(~
resource "azurerm_widget_container" "test" {
  name       = "acctest-%d"
  group_name = azurerm_widget_group.test.name
}

data "azurerm_widget_group" "lookup" {
  name = azurerm_widget_group.test.name
}

resource "azurerm_widget_link" "test" { source_id = azurerm_widget_link.peer.id }
~, data.RandomInteger)
}
`)

	_, err := Apply(s, f, content)
	require.NoError(t, err)

	helpers, err := s.HelperFunctions()
	require.NoError(t, err)
	require.Len(t, helpers, 1)

	refs, err := s.DirectReferencesByHelper(helpers[0].ID)
	require.NoError(t, err)

	type key struct {
		entity string
		kind   string
	}
	counts := map[key]int{}
	for _, r := range refs {
		counts[key{r.EntityName, r.Kind}]++
	}

	assert.Equal(t, 1, counts[key{"azurerm_widget_container", store.KindFullDeclaration}])
	assert.Equal(t, 1, counts[key{"azurerm_widget_group", store.KindFullDeclaration}])
	assert.Equal(t, 2, counts[key{"azurerm_widget_group", store.KindAttributeMention}])
	assert.Equal(t, 1, counts[key{"azurerm_widget_link", store.KindFullDeclaration}])
	// The same-line mention of the declared entity is not double-counted.
	assert.Equal(t, 0, counts[key{"azurerm_widget_link", store.KindAttributeMention}])

	// Absolute line = helper line + body offset.
	for _, r := range refs {
		if r.EntityName == "azurerm_widget_container" {
			assert.Equal(t, 7, helpers[0].Line+r.BodyLine)
			assert.Equal(t, `resource "azurerm_widget_container" "test" {`, r.Context)
		}
	}
}

func TestApply_HelperCallEdges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := seedFile(t, s, "a/widget_test.go")

	content := src(`package widget_test

type WidgetResource struct{}

func (r WidgetResource) requiresImport(data acceptance.TestData) string {
	template := r.basic(data)
	other := OtherResource{}.basic(data)
	dep := ThirdResource{}
	_ = dep
	return template + other + r.basic(data)
}
`)

	_, err := Apply(s, f, content)
	require.NoError(t, err)

	edges, err := s.HelperCallEdges()
	require.NoError(t, err)

	type key struct {
		target, strct, kind string
	}
	got := map[key]bool{}
	for _, e := range edges {
		got[key{e.TargetName, e.StructName, e.Kind}] = true
	}

	assert.True(t, got[key{"basic", "", store.EdgeCall}], "receiver call edge")
	assert.True(t, got[key{"basic", "OtherResource", store.EdgeCall}], "struct call edge")
	assert.True(t, got[key{"ThirdResource", "", store.EdgeInstantiation}], "instantiation edge")
	// OtherResource{}.basic is a call edge, not also an instantiation.
	assert.False(t, got[key{"OtherResource", "", store.EdgeInstantiation}])
	// Duplicate r.basic calls collapse to one edge.
	assert.Len(t, edges, 3)
}

func TestApply_TemplateCalls(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := seedFile(t, s, "a/widget_test.go")

	content := src(`package widget_test

func TestAccWidgetContainer_basic(t *testing.T) {
	data := acceptance.BuildTestData(t, "azurerm_widget_container", "test")
	r := WidgetResource{}
	cfg := r.template(data)

	data.ResourceTest(t, r, []acceptance.TestStep{
		{
			Config: r.basic(data),
		},
		{
			Config: OtherResource{}.complete(data),
		},
		{
			Config: func() string {
				return r.update(data)
			}(),
		},
		{
			Config: cfg,
		},
	})
}
`)

	stats, err := Apply(s, f, content)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TestFunctions)
	assert.Equal(t, 4, stats.TemplateCalls)

	calls, err := s.TemplateCallReferences()
	require.NoError(t, err)
	require.Len(t, calls, 4)

	assert.Equal(t, 1, calls[0].StepIndex)
	assert.Equal(t, "r", calls[0].ReceiverVar)
	assert.Equal(t, "basic", calls[0].MethodName)

	assert.Equal(t, 2, calls[1].StepIndex)
	assert.Equal(t, "OtherResource", calls[1].StructName)
	assert.Equal(t, "complete", calls[1].MethodName)

	assert.Equal(t, 3, calls[2].StepIndex)
	assert.Equal(t, "r", calls[2].ReceiverVar)
	assert.Equal(t, "update", calls[2].MethodName)

	// Config: cfg resolves through the earlier assignment.
	assert.Equal(t, 4, calls[3].StepIndex)
	assert.Equal(t, "r", calls[3].ReceiverVar)
	assert.Equal(t, "template", calls[3].MethodName)

	tests, err := s.TestFunctions()
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "TestAccWidgetContainer_basic", tests[0].Name)
	assert.Equal(t, 3, tests[0].Line)
	// Call line is absolute within the file.
	assert.Equal(t, 10, calls[0].Line)
}

func TestApply_SequentialCalls(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := seedFile(t, s, "a/widget_test.go")

	content := src(`package widget_test

func TestAccWidget_sequential(t *testing.T) {
	acceptance.RunTestsInSequence(t, map[string]map[string]func(t *testing.T){
		"container": {
			"basic":  testAccWidgetContainer_basic,
			"update": testAccWidgetContainer_update,
		},
		"group": {
			"basic": testAccWidgetGroup_basic,
		},
	})
}
`)

	stats, err := Apply(s, f, content)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.SequentialCalls)

	calls, err := s.SequentialCalls()
	require.NoError(t, err)
	require.Len(t, calls, 3)

	assert.Equal(t, "container", calls[0].GroupName)
	assert.Equal(t, "basic", calls[0].KeyName)
	assert.Equal(t, "testAccWidgetContainer_basic", calls[0].ReferencedName)
	assert.Equal(t, 1, calls[0].StepIndex)

	assert.Equal(t, "container", calls[1].GroupName)
	assert.Equal(t, "update", calls[1].KeyName)
	assert.Equal(t, 2, calls[1].StepIndex)

	assert.Equal(t, "group", calls[2].GroupName)
	assert.Equal(t, "testAccWidgetGroup_basic", calls[2].ReferencedName)
	assert.Equal(t, 3, calls[2].StepIndex)
}

func TestApply_TestBodyStored(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := seedFile(t, s, "a/widget_test.go")

	content := src(`package widget_test

func TestAccWidget_basic(t *testing.T) {
	r := WidgetResource{}
	_ = r
}
`)

	_, err := Apply(s, f, content)
	require.NoError(t, err)

	tests, err := s.TestFunctions()
	require.NoError(t, err)
	require.Len(t, tests, 1)
	require.NotNil(t, tests[0].Body)
	assert.Contains(t, *tests[0].Body, "r := WidgetResource{}")
	assert.False(t, tests[0].External)
}
