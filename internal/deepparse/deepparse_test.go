package deepparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `package widget_test

type WidgetResource struct{}

func (r WidgetResource) basic(data acceptance.TestData) string {
	return ""
}

func (r *WidgetResource) update(
	data acceptance.TestData,
	extra string,
) string {
	return ""
}

func newWidgetResource() *WidgetResource {
	return &WidgetResource{}
}

func buildWidgetResource() WidgetResource {
	return WidgetResource{}
}

func helperPair() (WidgetResource, error) {
	return WidgetResource{}, nil
}

func TestAccWidget_basic(t *testing.T) {}

func testAccWidget_update(t *testing.T) {}

func plainHelper() {}
`

func parseSample(t *testing.T) *FileFacts {
	t.Helper()
	facts, err := ParseFile(context.Background(), []byte(sample))
	require.NoError(t, err)
	return facts
}

func TestParseFile_Methods(t *testing.T) {
	t.Parallel()
	facts := parseSample(t)

	require.Len(t, facts.Methods, 2)

	assert.Equal(t, "basic", facts.Methods[0].Name)
	assert.Equal(t, "r", facts.Methods[0].ReceiverVar)
	assert.Equal(t, "WidgetResource", facts.Methods[0].ReceiverType)
	assert.Equal(t, 5, facts.Methods[0].Line)

	// Pointer receivers and multi-line parameter lists resolve the same way.
	assert.Equal(t, "update", facts.Methods[1].Name)
	assert.Equal(t, "WidgetResource", facts.Methods[1].ReceiverType)
}

func TestParseFile_Constructors(t *testing.T) {
	t.Parallel()
	facts := parseSample(t)

	byName := map[string]string{}
	for _, c := range facts.Constructors {
		byName[c.Name] = c.ReturnType
	}

	assert.Equal(t, "WidgetResource", byName["newWidgetResource"], "pointer return")
	assert.Equal(t, "WidgetResource", byName["buildWidgetResource"], "value return")

	// Multi-value and void results are not constructors.
	assert.NotContains(t, byName, "helperPair")
	assert.NotContains(t, byName, "plainHelper")
}

func TestParseFile_FuncsAndTestDetection(t *testing.T) {
	t.Parallel()
	facts := parseSample(t)

	isTest := map[string]bool{}
	for _, f := range facts.Funcs {
		isTest[f.Name] = f.IsTest
	}

	assert.True(t, isTest["TestAccWidget_basic"])
	assert.True(t, isTest["testAccWidget_update"])
	assert.False(t, isTest["newWidgetResource"])
	assert.False(t, isTest["plainHelper"])
}

func TestParseFile_EmptySource(t *testing.T) {
	t.Parallel()
	facts, err := ParseFile(context.Background(), []byte("package empty\n"))
	require.NoError(t, err)
	assert.Empty(t, facts.Methods)
	assert.Empty(t, facts.Funcs)
	assert.Empty(t, facts.Constructors)
}
