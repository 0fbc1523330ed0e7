package lspclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawLocationReplyAcceptsSingleObject(t *testing.T) {
	var r rawLocationReply
	require.NoError(t, json.Unmarshal([]byte(`{"uri":"file:///a.go","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`), &r))
	locs, err := r.Locations()
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "file:///a.go", string(locs[0].URI))
}

func TestRawLocationReplyAcceptsList(t *testing.T) {
	var r rawLocationReply
	require.NoError(t, json.Unmarshal([]byte(`[{"uri":"file:///a.go","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}]`), &r))
	locs, err := r.Locations()
	require.NoError(t, err)
	require.Len(t, locs, 1)
}

func TestRawLocationReplyAcceptsEmptyListNotError(t *testing.T) {
	var r rawLocationReply
	require.NoError(t, json.Unmarshal([]byte(`[]`), &r))
	locs, err := r.Locations()
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestRawLocationReplyAcceptsNull(t *testing.T) {
	var r rawLocationReply
	require.NoError(t, json.Unmarshal([]byte(`null`), &r))
	locs, err := r.Locations()
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestIsHierarchicalEntryDistinguishesShapes(t *testing.T) {
	hierarchical := json.RawMessage(`{"name":"f","kind":12,"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"selectionRange":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}`)
	flat := json.RawMessage(`{"name":"f","kind":12,"location":{"uri":"file:///a.go","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}}`)

	assert.True(t, isHierarchicalEntry(hierarchical))
	assert.False(t, isHierarchicalEntry(flat))
}
