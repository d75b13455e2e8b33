package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserRoundTrip(t *testing.T) {
	input := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\"}\n\n" +
		"data: [DONE]\n\n"

	p := NewParser(strings.NewReader(input))

	var got []Event
	for {
		ev, ok, err := p.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, *ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "message_start", got[0].EventName)
	assert.JSONEq(t, `{"type":"message_start"}`, string(got[0].Data))
	assert.True(t, got[2].Done)

	var out strings.Builder
	for _, ev := range got {
		require.NoError(t, Serialize(&out, ev))
	}

	p2 := NewParser(strings.NewReader(out.String()))
	var got2 []Event
	for {
		ev, ok, err := p2.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got2 = append(got2, *ev)
	}
	require.Len(t, got2, len(got))
	for i := range got {
		assert.Equal(t, got[i].EventName, got2[i].EventName)
		assert.Equal(t, got[i].Done, got2[i].Done)
	}
}

func TestParserFlushesIncompleteTerminalEvent(t *testing.T) {
	input := "event: ping\ndata: {}"
	p := NewParser(strings.NewReader(input))
	ev, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ping", ev.EventName)

	_, ok, err = p.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParserSurfacesRawDataOnParseFailure(t *testing.T) {
	input := "event: content_block_delta\ndata: {not-json\n\n"
	p := NewParser(strings.NewReader(input))
	ev, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ev.Raw)
	assert.Equal(t, "{not-json", ev.RawData)
	assert.Nil(t, ev.Data)
}

func TestParserSkipsLeadingBlankLines(t *testing.T) {
	input := "\n\n\nevent: ping\ndata: {}\n\n"
	p := NewParser(strings.NewReader(input))
	ev, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ping", ev.EventName)
}
