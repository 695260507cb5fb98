package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockBody_Nested(t *testing.T) {
	t.Parallel()
	src := `func f() { if x { y() } else { z() } }`
	open := 9

	body, next, ok := blockBody(src, open)
	require.True(t, ok)
	assert.Equal(t, ` if x { y() } else { z() } `, body)
	assert.Equal(t, len(src), next)
}

func TestBlockBody_BracesInStrings(t *testing.T) {
	t.Parallel()
	src := "func f() { s := \"}{\"; r := `}}{{`; c := '}' }"
	open := 9

	body, _, ok := blockBody(src, open)
	require.True(t, ok)
	assert.Contains(t, body, "`}}{{`")
}

func TestBlockBody_BracesInComments(t *testing.T) {
	t.Parallel()
	src := "func f() {\n\t// closing } here\n\t/* and } here */\n\tx()\n}"
	open := 9

	body, _, ok := blockBody(src, open)
	require.True(t, ok)
	assert.Contains(t, body, "x()")
}

func TestBlockBody_EscapedQuote(t *testing.T) {
	t.Parallel()
	src := `func f() { s := "a\"}"; x() }`
	open := 9

	body, _, ok := blockBody(src, open)
	require.True(t, ok)
	assert.Contains(t, body, "x()")
}

func TestBlockBody_Unterminated(t *testing.T) {
	t.Parallel()
	src := "func f() { x("
	_, next, ok := blockBody(src, 9)
	assert.False(t, ok)
	assert.Equal(t, len(src), next)
}

func TestBlockBody_NotABrace(t *testing.T) {
	t.Parallel()
	_, _, ok := blockBody("abc", 0)
	assert.False(t, ok)
	_, _, ok = blockBody("abc", -1)
	assert.False(t, ok)
	_, _, ok = blockBody("abc", 10)
	assert.False(t, ok)
}

func TestLineAt(t *testing.T) {
	t.Parallel()
	src := "a\nbb\nccc\n"
	assert.Equal(t, 1, lineAt(src, 0))
	assert.Equal(t, 2, lineAt(src, 2))
	assert.Equal(t, 3, lineAt(src, 5))
	assert.Equal(t, 4, lineAt(src, 100))
}
