package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPlaceIDs(t *testing.T) {
	in := "p1\n\n# comment\n  p2  \np3\n"
	ids, err := readPlaceIDs(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids)
}

func TestReadPlaceIDs_Empty(t *testing.T) {
	ids, err := readPlaceIDs(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDedupePlaces(t *testing.T) {
	assert.Equal(t, []string{"p1", "p2"}, dedupePlaces([]string{"p1", "", "p2", "p1"}))
}
