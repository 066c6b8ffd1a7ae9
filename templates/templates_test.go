package templates

import (
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/aymerick/raymond"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, tmpl string) string {
	t.Helper()
	RegisterHelpers()
	out, err := raymond.Render(tmpl, nil)
	require.NoError(t, err)
	return out
}

func TestRandomValue_DefaultAlphanumeric(t *testing.T) {
	out := render(t, `{{randomValue}}`)
	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{10}$`), out)
}

func TestRandomValue_TypesAndLength(t *testing.T) {
	assert.Regexp(t, `^[a-zA-Z]{5}$`, render(t, `{{randomValue type="ALPHABETIC" length=5}}`))
	assert.Regexp(t, `^[0-9]{8}$`, render(t, `{{randomValue type="NUMERIC" length=8}}`))
	assert.Regexp(t, `^[0-9a-f]{12}$`, render(t, `{{randomValue type="HEXADECIMAL" length=12}}`))
}

func TestRandomValue_UUID(t *testing.T) {
	out := render(t, `{{randomValue type="UUID"}}`)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, out)
}

func TestRandomValue_Uppercase(t *testing.T) {
	out := render(t, `{{randomValue type="HEXADECIMAL" length=6 uppercase=true}}`)
	assert.Regexp(t, `^[0-9A-F]{6}$`, out)
}

func TestRandomInt_Bounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		out := render(t, `{{randomInt lower=5 upper=7}}`)
		n, err := strconv.Atoi(out)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 5)
		assert.LessOrEqual(t, n, 7)
	}
}

func TestNow_DefaultRFC3339(t *testing.T) {
	out := render(t, `{{now}}`)
	_, err := time.Parse(time.RFC3339, out)
	assert.NoError(t, err)
}

func TestNow_Epoch(t *testing.T) {
	out := render(t, `{{now format="epoch"}}`)
	ms, err := strconv.ParseInt(out, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().UnixMilli(), ms, 5000)
}

func TestNow_Offset(t *testing.T) {
	out := render(t, `{{now format="unix" offset="-1 hour"}}`)
	sec, err := strconv.ParseInt(out, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(-time.Hour).Unix(), sec, 5)
}

func TestNow_GoLayout(t *testing.T) {
	out := render(t, `{{now format="2006-01-02"}}`)
	_, err := time.Parse("2006-01-02", out)
	assert.NoError(t, err)
}

func TestFaker(t *testing.T) {
	assert.NotEmpty(t, render(t, `{{faker "Name.first_name"}}`))
	assert.Contains(t, render(t, `{{faker "Internet.email"}}`), "@")
	assert.Empty(t, render(t, `{{faker "Nope.nothing"}}`))
}

func TestReplace(t *testing.T) {
	out := render(t, `{{replace "a-b-c" "-" "_"}}`)
	assert.Equal(t, "a_b_c", out)
}

func TestSubstring(t *testing.T) {
	assert.Equal(t, "bcd", render(t, `{{substring "abcdef" start=1 end=4}}`))
	assert.Equal(t, "abcdef", render(t, `{{substring "abcdef"}}`))
	assert.Equal(t, "", render(t, `{{substring "abc" start=5 end=10}}`))
}

func TestParseOffset(t *testing.T) {
	d, err := ParseOffset("3 days")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	d, err = ParseOffset("-30 minutes")
	require.NoError(t, err)
	assert.Equal(t, -30*time.Minute, d)

	_, err = ParseOffset("soonish")
	assert.Error(t, err)

	_, err = ParseOffset("5 fortnights")
	assert.Error(t, err)
}
