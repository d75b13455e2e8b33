package memtag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSimple(t *testing.T) {
	text := `before <remember scope="global" category="preference">use tabs</remember> after`
	stripped, tags := Extract(text)
	assert.Equal(t, "before  after", stripped)
	require.Len(t, tags, 1)
	assert.Equal(t, "global", tags[0].Scope)
	assert.Equal(t, "preference", tags[0].Category)
	assert.Equal(t, "use tabs", tags[0].Content)
}

func TestExtractFlexibleAttributes(t *testing.T) {
	text := `<remember CATEGORY='decision'   SCOPE=project >keep it</remember>`
	stripped, tags := Extract(text)
	assert.Equal(t, "", stripped)
	require.Len(t, tags, 1)
	assert.Equal(t, "project", tags[0].Scope)
	assert.Equal(t, "decision", tags[0].Category)
	assert.Equal(t, "keep it", tags[0].Content)
}

func TestExtractNoTag(t *testing.T) {
	stripped, tags := Extract("nothing to see here")
	assert.Equal(t, "nothing to see here", stripped)
	assert.Empty(t, tags)
}

func TestExtractMultipleTags(t *testing.T) {
	text := `<remember scope="global" category="preference">a</remember> mid <remember scope="project" category="pattern">b</remember>`
	stripped, tags := Extract(text)
	assert.Equal(t, " mid ", stripped)
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].Content)
	assert.Equal(t, "b", tags[1].Content)
}

// TestStripperNeverEmitsPartialTag feeds a <remember> tag one
// fragment at a time, split mid-attribute and mid-close-tag, and
// checks that no emitted fragment ever contains a dangling "<remember"
// prefix.
func TestStripperNeverEmitsPartialTag(t *testing.T) {
	s := NewStripper()
	var emitted strings.Builder
	var tags []Tag

	chunks := []string{
		"hello <reme",
		"mber scope=\"global\" categ",
		"ory=\"preference\">use ta",
		"bs</remem",
		"ber> world",
	}
	for _, c := range chunks {
		e, ts := s.Feed(c)
		require.False(t, strings.Contains(e, "<reme"), "emitted fragment %q leaked a partial tag", e)
		emitted.WriteString(e)
		tags = append(tags, ts...)
	}
	e, ts := s.Flush()
	emitted.WriteString(e)
	tags = append(tags, ts...)

	assert.Equal(t, "hello  world", emitted.String())
	require.Len(t, tags, 1)
	assert.Equal(t, "global", tags[0].Scope)
	assert.Equal(t, "preference", tags[0].Category)
	assert.Equal(t, "use tabs", tags[0].Content)
}

func TestStripperFlushWithNoTag(t *testing.T) {
	s := NewStripper()
	e1, tags1 := s.Feed("just plain text")
	e2, tags2 := s.Flush()
	assert.Equal(t, "just plain text", e1+e2)
	assert.Empty(t, tags1)
	assert.Empty(t, tags2)
}
