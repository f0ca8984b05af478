package vocabulary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesAndDedupes(t *testing.T) {
	v := New([]string{" Scenic", "scenic", "", "lively"})
	assert.Equal(t, []string{"lively", "scenic"}, v.Tags())
	assert.Equal(t, 2, v.Len())
	assert.True(t, v.Contains("SCENIC"))
	assert.False(t, v.Contains("quiet"))
}

func TestFilter(t *testing.T) {
	v := Default()
	got := v.Filter([]string{"Hidden-Gem", "made-up", "scenic", "hidden-gem"})
	assert.Equal(t, []string{"hidden-gem", "scenic"}, got)
	assert.Empty(t, v.Filter(nil))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tags:\n  - quiet\n  - cozy\n"), 0o644))

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cozy", "quiet"}, v.Tags())
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Tags(), v.Tags())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("tags: []\n"), 0o644))
	_, err = Load(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defines no tags")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tags: [unclosed\n"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}
