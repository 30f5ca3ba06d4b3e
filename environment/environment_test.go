package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/deepnoodle-ai/forge"
	"github.com/deepnoodle-ai/forge/deps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(t *testing.T, names ...string) deps.Manifest {
	t.Helper()
	reqs := make([]forge.Requirement, len(names))
	for i, name := range names {
		reqs[i] = forge.Requirement{Name: name}
	}
	m, err := deps.Normalize(reqs)
	require.NoError(t, err)
	return m
}

func TestMaterializeCachedByManifest(t *testing.T) {
	installs := 0
	manager, err := NewManager(ManagerOptions{
		Root: t.TempDir(),
		Installer: func(ctx context.Context, dir string, m deps.Manifest) error {
			installs++
			return nil
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := manager.Materialize(ctx, manifest(t, "nokogiri"))
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.NotEmpty(t, first.Dir)

	second, err := manager.Materialize(ctx, manifest(t, "nokogiri"))
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, installs, "an equal manifest never reinstalls")

	third, err := manager.Materialize(ctx, manifest(t, "nokogiri", "httparty"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID, "one handle per distinct manifest")
	assert.Equal(t, 2, installs)
}

func TestMaterializeReusesDiskState(t *testing.T) {
	root := t.TempDir()
	first, err := NewManager(ManagerOptions{Root: root})
	require.NoError(t, err)
	handle, err := first.Materialize(context.Background(), manifest(t, "nokogiri"))
	require.NoError(t, err)

	// A new manager over the same root finds the environment on disk.
	second, err := NewManager(ManagerOptions{Root: root})
	require.NoError(t, err)
	reused, err := second.Materialize(context.Background(), manifest(t, "nokogiri"))
	require.NoError(t, err)
	assert.True(t, reused.CacheHit)
	assert.Equal(t, handle.ID, reused.ID)
}

func TestMaterializeInstallerFailure(t *testing.T) {
	manager, err := NewManager(ManagerOptions{
		Root: t.TempDir(),
		Installer: func(ctx context.Context, dir string, m deps.Manifest) error {
			return errors.New("network unreachable")
		},
	})
	require.NoError(t, err)
	_, err = manager.Materialize(context.Background(), manifest(t, "nokogiri"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install dependencies")
}
