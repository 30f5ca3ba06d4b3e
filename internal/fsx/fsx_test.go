package fsx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0o644))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	require.NoError(t, os.WriteFile(path, []byte("broken"), 0o644))

	quarantined, err := Quarantine(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(quarantined, path+".corrupt-"))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(quarantined)
	require.NoError(t, err)
	assert.Equal(t, "broken", string(data), "evidence preserved")
}

func TestQuarantineMissingFile(t *testing.T) {
	_, err := Quarantine(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
