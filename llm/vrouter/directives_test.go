package vrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectivesForce(t *testing.T) {
	ds, errs := ParseDirectives("<**!openai.k1.gpt-4**> hello there")
	require.Empty(t, errs)
	require.Len(t, ds, 1)
	assert.Equal(t, VerbForce, ds[0].Verb)
	assert.Equal(t, "openai", ds[0].ProviderID)
	assert.Equal(t, "k1", ds[0].KeyAlias)
	assert.Equal(t, "gpt-4", ds[0].Model)
}

func TestParseDirectivesDisableBareProvider(t *testing.T) {
	ds, errs := ParseDirectives("<**#antigravity**> hello")
	require.Empty(t, errs)
	require.Len(t, ds, 1)
	assert.Equal(t, VerbDisable, ds[0].Verb)
	assert.Equal(t, "antigravity", ds[0].ProviderID)
}

func TestParseDirectivesClear(t *testing.T) {
	ds, errs := ParseDirectives("<**clear**> hi")
	require.Empty(t, errs)
	require.Len(t, ds, 1)
	assert.Equal(t, VerbClear, ds[0].Verb)
}

func TestParseDirectivesUnknownVerbIgnored(t *testing.T) {
	ds, errs := ParseDirectives("<**wat**> hi")
	assert.Empty(t, errs)
	assert.Empty(t, ds)
}

func TestParseDirectivesMalformedReportsErrorWithoutFailing(t *testing.T) {
	ds, errs := ParseDirectives("<**!**> hi")
	assert.Empty(t, ds)
	require.Len(t, errs, 1)
}

func TestStripDirectivesRemovesMarkers(t *testing.T) {
	out := StripDirectives("<**!openai**> hello world")
	assert.Equal(t, "hello world", out)
}
