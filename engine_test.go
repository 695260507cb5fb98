package impact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// src builds fixture source text; tildes become backticks so fixtures can
// carry raw strings.
func src(s string) string {
	return strings.ReplaceAll(s, "~", "`")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeFixtureRepo lays out a small services tree: a widget group that owns
// azurerm_widget_container, a monitor group that reaches across to it, and a
// sequential set with one member that was never extracted.
func writeFixtureRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	services := filepath.Join(root, "internal", "services")

	writeFile(t, filepath.Join(services, "widget", "widget_container_resource_test.go"), src(`package widget_test

type WidgetContainerResource struct{}

func (r WidgetContainerResource) basic(data acceptance.TestData) string {
	return fmt.Sprintf(~
resource "azurerm_widget_container" "test" {
  name = "acctest-%d"
}
~, data.RandomInteger)
}

func (r WidgetContainerResource) complete(data acceptance.TestData) string {
	return r.basic(data) + fmt.Sprintf(~
resource "azurerm_widget_link" "test" {
  container_id = azurerm_widget_container.test.id
}
~)
}

func TestAccWidgetContainer_basic(t *testing.T) {
	data := acceptance.BuildTestData(t, "azurerm_widget_container", "test")
	r := WidgetContainerResource{}

	data.ResourceTest(t, r, []acceptance.TestStep{
		{
			Config: r.basic(data),
		},
	})
}

func TestAccWidgetContainer_complete(t *testing.T) {
	data := acceptance.BuildTestData(t, "azurerm_widget_container", "test")
	r := WidgetContainerResource{}

	data.ResourceTest(t, r, []acceptance.TestStep{
		{
			Config: r.complete(data),
		},
	})
}
`))

	writeFile(t, filepath.Join(services, "monitor", "monitor_rule_resource_test.go"), src(`package monitor_test

type MonitorRuleResource struct{}

func (r MonitorRuleResource) basic(data acceptance.TestData) string {
	return fmt.Sprintf(~
resource "azurerm_monitor_rule" "test" {
  scope = azurerm_widget_container.test.id
}
~)
}

func TestAccMonitorRule_basic(t *testing.T) {
	data := acceptance.BuildTestData(t, "azurerm_monitor_rule", "test")
	r := MonitorRuleResource{}

	data.ResourceTest(t, r, []acceptance.TestStep{
		{
			Config: r.basic(data),
		},
	})
}
`))

	writeFile(t, filepath.Join(services, "widget", "widget_sequential_test.go"), src(`package widget_test

func TestAccWidget_sequential(t *testing.T) {
	acceptance.RunTestsInSequence(t, map[string]map[string]func(t *testing.T){
		"container": {
			"basic":  TestAccWidgetContainer_basic,
			"legacy": testAccWidgetLegacy_basic,
		},
	})
}
`))

	return root
}

func runFixture(t *testing.T) (*Engine, *RunStats, string) {
	t.Helper()
	root := writeFixtureRepo(t)
	dbPath := filepath.Join(t.TempDir(), "index.db")

	eng, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	stats, err := eng.Run(context.Background(), root, "azurerm_widget_container")
	require.NoError(t, err)
	return eng, stats, dbPath
}

func TestRun_Stats(t *testing.T) {
	t.Parallel()
	_, stats, _ := runFixture(t)

	assert.Equal(t, "azurerm_widget_container", stats.Entity)
	assert.Equal(t, 3, stats.Candidates)
	assert.Equal(t, 3, stats.Relevant)
	assert.Equal(t, 0, stats.SkippedFiles)
	assert.Equal(t, 2, stats.Structs)
	assert.Equal(t, 4, stats.TestFunctions)
	assert.Equal(t, 3, stats.HelperFunctions)
	assert.Equal(t, 5, stats.DirectRefs)
	assert.Equal(t, 3, stats.TemplateCalls)
	assert.Equal(t, 2, stats.SequentialCalls)
}

func TestRun_RejectsInvalidEntityName(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	eng, err := New(dbPath)
	require.NoError(t, err)
	defer eng.Close()

	for _, entity := range []string{"AzureRM_Widget", "azurerm-widget", "_widget", "9widget", ""} {
		_, err := eng.Run(context.Background(), t.TempDir(), entity)
		assert.ErrorIs(t, err, ErrEntityName, entity)
	}
}

func TestRun_NoCandidates(t *testing.T) {
	t.Parallel()
	eng, err := New(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Run(context.Background(), t.TempDir(), "azurerm_widget_container")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestRun_NoRelevantFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "other", "other_test.go"), "package other_test\n")

	eng, err := New(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Run(context.Background(), root, "azurerm_widget_container")
	assert.ErrorIs(t, err, ErrNoRelevantFiles)
}

func TestQuery_DirectReferences(t *testing.T) {
	t.Parallel()
	eng, _, _ := runFixture(t)

	refs, err := eng.Query().GetDirectReferences("azurerm_widget_container")
	require.NoError(t, err)
	require.Len(t, refs, 3)

	// Ordered by file path: monitor sorts before widget.
	assert.Equal(t, AttributeMention, refs[0].Kind)
	assert.Equal(t, "basic", refs[0].HelperName)
	assert.Equal(t, "MonitorRuleResource", refs[0].StructName)

	assert.Equal(t, FullDeclaration, refs[1].Kind)
	assert.Equal(t, "basic", refs[1].HelperName)
	assert.Equal(t, "WidgetContainerResource", refs[1].StructName)
	assert.Equal(t, 7, refs[1].Line)
	assert.Equal(t, `resource "azurerm_widget_container" "test" {`, refs[1].Context)

	assert.Equal(t, AttributeMention, refs[2].Kind)
	assert.Equal(t, "complete", refs[2].HelperName)
}

func TestQuery_IndirectReferences(t *testing.T) {
	t.Parallel()
	eng, _, _ := runFixture(t)

	refs, err := eng.Query().GetIndirectReferences("azurerm_widget_container")
	require.NoError(t, err)
	// One row per test step's first hop, plus the hop complete reaches
	// through its call to basic.
	require.Len(t, refs, 4)

	riskByTest := map[string]RiskLevel{}
	for _, r := range refs {
		assert.Equal(t, SameFile, r.Kind)
		if prev, ok := riskByTest[r.TestName]; ok {
			assert.Equal(t, prev, r.Risk)
		}
		riskByTest[r.TestName] = r.Risk
	}

	// The monitor test reaches across groups.
	assert.Equal(t, RiskHigh, riskByTest["TestAccMonitorRule_basic"])
	assert.Equal(t, RiskLow, riskByTest["TestAccWidgetContainer_basic"])
	assert.Equal(t, RiskLow, riskByTest["TestAccWidgetContainer_complete"])
}

func TestQuery_SequentialReferences(t *testing.T) {
	t.Parallel()
	eng, _, _ := runFixture(t)

	refs, err := eng.Query().GetSequentialReferences("azurerm_widget_container")
	require.NoError(t, err)
	// The set is reported whole because one member is impacted.
	require.Len(t, refs, 3)

	assert.Equal(t, SequentialEntry, refs[0].Kind)
	assert.Equal(t, "TestAccWidget_sequential", refs[0].TestName)
	assert.Equal(t, 0, refs[0].StepIndex)

	assert.Equal(t, SequentialMember, refs[1].Kind)
	assert.Equal(t, "TestAccWidgetContainer_basic", refs[1].TestName)
	assert.Equal(t, "container", refs[1].GroupName)
	assert.Equal(t, "basic", refs[1].KeyName)
	assert.False(t, refs[1].External)

	assert.Equal(t, SequentialMember, refs[2].Kind)
	assert.Equal(t, "testAccWidgetLegacy_basic", refs[2].TestName)
	assert.True(t, refs[2].External)

	for _, r := range refs {
		assert.Equal(t, RiskMedium, r.Risk)
	}
}

func TestQuery_SequentialReferencesOrderedByGroupAndKey(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	services := filepath.Join(root, "internal", "services")

	writeFile(t, filepath.Join(services, "widget", "widget_container_resource_test.go"), src(`package widget_test

type WidgetContainerResource struct{}

func (r WidgetContainerResource) basic(data acceptance.TestData) string {
	return fmt.Sprintf(~
resource "azurerm_widget_container" "test" {
  name = "acctest-%d"
}
~, data.RandomInteger)
}

func TestAccWidgetContainer_basic(t *testing.T) {
	data := acceptance.BuildTestData(t, "azurerm_widget_container", "test")
	r := WidgetContainerResource{}

	data.ResourceTest(t, r, []acceptance.TestStep{
		{
			Config: r.basic(data),
		},
	})
}
`))

	// Groups and keys declared out of lexical order.
	writeFile(t, filepath.Join(services, "widget", "widget_sequential_test.go"), src(`package widget_test

func TestAccWidget_sequential(t *testing.T) {
	acceptance.RunTestsInSequence(t, map[string]map[string]func(t *testing.T){
		"zeta": {
			"omega": testAccWidgetZeta_omega,
			"basic": testAccWidgetZeta_basic,
		},
		"alpha": {
			"basic": TestAccWidgetContainer_basic,
		},
	})
}
`))

	eng, err := New(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Run(context.Background(), root, "azurerm_widget_container")
	require.NoError(t, err)

	refs, err := eng.Query().GetSequentialReferences("azurerm_widget_container")
	require.NoError(t, err)
	require.Len(t, refs, 4)

	assert.Equal(t, SequentialEntry, refs[0].Kind)

	// Members sort by group then key, not by declared position.
	want := [][2]string{{"alpha", "basic"}, {"zeta", "basic"}, {"zeta", "omega"}}
	for i, w := range want {
		assert.Equal(t, w[0], refs[i+1].GroupName)
		assert.Equal(t, w[1], refs[i+1].KeyName)
	}
}

func TestQuery_BlastRadius(t *testing.T) {
	t.Parallel()
	eng, _, _ := runFixture(t)

	br, err := eng.Query().GetBlastRadius("azurerm_widget_container")
	require.NoError(t, err)

	assert.Len(t, br.Direct, 3)
	assert.Len(t, br.Indirect, 4)
	assert.Len(t, br.Sequential, 3)
	require.Len(t, br.Impacted, 5)

	riskByName := map[string]RiskLevel{}
	for _, it := range br.Impacted {
		riskByName[it.Name] = it.Risk
	}
	assert.Equal(t, RiskHigh, riskByName["TestAccMonitorRule_basic"])
	// Sequential membership lifts the basic test above its LOW indirect risk.
	assert.Equal(t, RiskMedium, riskByName["TestAccWidgetContainer_basic"])
	assert.Equal(t, RiskMedium, riskByName["TestAccWidget_sequential"])
	assert.Equal(t, RiskMedium, riskByName["testAccWidgetLegacy_basic"])
	assert.Equal(t, RiskLow, riskByName["TestAccWidgetContainer_complete"])

	// Highest risk first, lowest last.
	assert.Equal(t, "TestAccMonitorRule_basic", br.Impacted[0].Name)
	assert.Equal(t, RiskLow, br.Impacted[4].Risk)
}

func TestQuery_BlastRadiusDeterministic(t *testing.T) {
	t.Parallel()
	eng, _, _ := runFixture(t)

	first, err := eng.Query().GetBlastRadius("azurerm_widget_container")
	require.NoError(t, err)
	for range 3 {
		again, err := eng.Query().GetBlastRadius("azurerm_widget_container")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestOpen_QueryOnlyReuse(t *testing.T) {
	t.Parallel()
	eng, _, dbPath := runFixture(t)
	require.NoError(t, eng.Close())

	reopened, err := Open(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	entity, err := reopened.Query().Entity()
	require.NoError(t, err)
	assert.Equal(t, "azurerm_widget_container", entity)

	br, err := reopened.Query().GetBlastRadius(entity)
	require.NoError(t, err)
	assert.Len(t, br.Impacted, 5)
}

func TestOpen_MissingDatabase(t *testing.T) {
	t.Parallel()
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"))
	assert.Error(t, err)
}
