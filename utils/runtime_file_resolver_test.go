package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeFileResolver(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(second, "graphab_wrapper.sh"), []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(first, "graphab.jet"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "graphab.jet"), []byte("y"), 0644))

	r := NewRuntimeFileResolver(first + ": " + second + ":")
	assert.Equal(t, first, r.SearchDirs[0])
	assert.Equal(t, second, r.SearchDirs[1])

	path, err := r.Lookup("graphab_wrapper.sh")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "graphab_wrapper.sh"), path)

	path, err = r.Lookup("graphab.jet")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(first, "graphab.jet"), path)

	_, err = r.Lookup("missing.sh")
	assert.Error(t, err)

	abs := filepath.Join(second, "graphab_wrapper.sh")
	path, err = r.Resolve(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, path)
}

func TestLookupExecutableFallsBackToPath(t *testing.T) {
	r := NewRuntimeFileResolver(t.TempDir())
	path, err := r.LookupExecutable("sh")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))

	_, err = r.LookupExecutable("bioconn-missing-tool")
	assert.Error(t, err)
}
