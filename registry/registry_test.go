package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(Options{Path: path})
	require.NoError(t, err)

	r.Register("scraper", "fetches and parses web pages", []string{"fetch"})
	r.RecordUse("scraper", "fetch", true)
	r.RecordUse("scraper", "parse", false)
	require.NoError(t, r.Flush())

	reopened, err := Open(Options{Path: path})
	require.NoError(t, err)
	tool, ok := reopened.Get("scraper")
	require.True(t, ok)
	assert.Equal(t, "fetches and parses web pages", tool.Purpose)
	assert.Equal(t, 2, tool.UsageCount)
	assert.Equal(t, 1, tool.SuccessCount)
	assert.Equal(t, 1, tool.FailureCount)
	assert.ElementsMatch(t, []string{"fetch", "parse"}, tool.Methods)
	assert.False(t, tool.LastUsedAt.IsZero())
}

func TestRegistryUnknownToolCreatedOnUse(t *testing.T) {
	r, err := Open(Options{Path: filepath.Join(t.TempDir(), "registry.json")})
	require.NoError(t, err)
	r.RecordUse("new-tool", "go", true)
	tool, ok := r.Get("new-tool")
	require.True(t, ok)
	assert.Equal(t, 1, tool.UsageCount)
}

func TestRegistryQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("][garbage"), 0o644))

	r, err := Open(Options{Path: path})
	require.NoError(t, err)
	_, ok := r.Get("anything")
	assert.False(t, ok, "registry starts empty after quarantine")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.Contains(entries[0].Name(), ".corrupt-"))
}

func TestFlushIsNoopWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, r.Flush())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing to write")
}
