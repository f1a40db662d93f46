package main

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MereWhiplash/embedsync/internal/types"
)

func TestReadSources_Array(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := `[{"id":"p1","kind":"post","content":"hello","published":true},{"kind":"posts","content":"[]"}]`

	sources, err := readSources(strings.NewReader(in), "", now)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.Equal(t, "p1", sources[0].ID)
	assert.True(t, sources[0].Published)
	assert.Equal(t, types.KindPost, sources[1].Kind)
	_, err = uuid.Parse(sources[1].ID)
	assert.NoError(t, err, "missing ids get a uuid")
	assert.Equal(t, now, sources[1].UpdatedAt)
}

func TestReadSources_Lines(t *testing.T) {
	in := "{\"id\":\"m1\",\"content\":\"hi\"}\n\n{\"id\":\"m2\",\"content\":\"there\"}\n"

	sources, err := readSources(strings.NewReader(in), types.KindMessage, time.Now())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, types.KindMessage, sources[0].Kind)
	assert.Equal(t, "m2", sources[1].ID)
}

func TestReadSources_Errors(t *testing.T) {
	_, err := readSources(strings.NewReader(`{"id":"x","content":"no kind"}`), "", time.Now())
	assert.Error(t, err, "kind is required when no default is given")

	_, err = readSources(strings.NewReader("{\"id\":\"a\"}\nnot json\n"), types.KindPost, time.Now())
	assert.ErrorContains(t, err, "line 2")

	sources, err := readSources(strings.NewReader("  "), types.KindPost, time.Now())
	assert.NoError(t, err)
	assert.Empty(t, sources)
}

func TestRootCommands(t *testing.T) {
	root := rootCMD()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"sync", "search", "count", "import", "migrate"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
