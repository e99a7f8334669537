package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelectorPlainCSS(t *testing.T) {
	ps, err := parseSelector(`[aria-label="Search"]`)
	require.NoError(t, err)
	assert.False(t, ps.isRole)
	assert.Equal(t, `[aria-label="Search"]`, ps.css)
	assert.Nil(t, ps.name)
	assert.Equal(t, -1, ps.nth)
}

func TestParseSelectorRole(t *testing.T) {
	ps, err := parseSelector("role=button[name=/Save/i]")
	require.NoError(t, err)
	assert.True(t, ps.isRole)
	assert.Equal(t, "button", ps.role)
	assert.Equal(t, roleCSS["button"], ps.css)
	require.NotNil(t, ps.name)
	assert.True(t, ps.name.MatchString("save changes"), "the i flag makes matching case-insensitive")
	assert.False(t, ps.name.MatchString("Cancel"))
}

func TestParseSelectorRoleWithoutName(t *testing.T) {
	ps, err := parseSelector("role=dialog")
	require.NoError(t, err)
	assert.True(t, ps.isRole)
	assert.Nil(t, ps.name)
	assert.Equal(t, roleCSS["dialog"], ps.css)
}

func TestParseSelectorUnknownRoleFallsBackToRoleAttr(t *testing.T) {
	ps, err := parseSelector("role=treeitem")
	require.NoError(t, err)
	assert.Equal(t, `[role="treeitem"]`, ps.css)
}

func TestParseSelectorNth(t *testing.T) {
	ps, err := parseSelector("role=button[name=/Save/i] >> nth=1")
	require.NoError(t, err)
	assert.True(t, ps.isRole)
	assert.Equal(t, 1, ps.nth)

	ps, err = parseSelector(".item >> nth=3")
	require.NoError(t, err)
	assert.Equal(t, ".item", ps.css)
	assert.Equal(t, 3, ps.nth)
}

func TestParseSelectorBadNth(t *testing.T) {
	_, err := parseSelector(".item >> nth=first")
	assert.Error(t, err)
}

func TestParseNameMatcherLiteral(t *testing.T) {
	re, err := parseNameMatcher(`"Add to cart"`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("add to cart"))

	re, err = parseNameMatcher("Checkout")
	require.NoError(t, err)
	assert.True(t, re.MatchString("CHECKOUT"))
}

func TestParseNameMatcherRegexMetaQuoted(t *testing.T) {
	// A literal matcher must not treat regex metacharacters specially.
	re, err := parseNameMatcher("Save (draft)")
	require.NoError(t, err)
	assert.True(t, re.MatchString("save (draft)"))
	assert.False(t, re.MatchString("save draft"))
}

func TestParseNameMatcherUnterminatedRegex(t *testing.T) {
	_, err := parseNameMatcher("/Save")
	assert.Error(t, err)
}
