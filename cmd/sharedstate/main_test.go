package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/sharedstate/internal/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Go version:")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sharedstate.json")

	_, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err, "init must refuse to overwrite without --force")

	_, err = execute(t, "config", "init", path, "--force")
	require.NoError(t, err)

	t.Setenv("SHAREDSTATE_STORAGE_BACKEND", "sqlite")
	out, err := execute(t, "--config", path, "--env-file", filepath.Join(t.TempDir(), "none.env"), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# "+path)

	var backendLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "storage.backend ") {
			backendLine = line
		}
	}
	assert.True(t, strings.HasSuffix(strings.TrimSpace(backendLine), "sqlite"), "line %q", backendLine)
}

func TestConfigShow_InvalidEnv(t *testing.T) {
	t.Setenv("SHAREDSTATE_STORAGE_BACKEND", "etcd")
	_, err := execute(t, "--env-file", filepath.Join(t.TempDir(), "none.env"), "config", "show")
	require.Error(t, err)
}

func TestNoColorFlag(t *testing.T) {
	defer errors.EnableColors()

	_, err := execute(t, "--no-color", "version", "--short")
	require.NoError(t, err)

	var out bytes.Buffer
	errors.PrintError(&out, errors.New("C002"))
	assert.NotContains(t, out.String(), "\033[")
	assert.Contains(t, out.String(), "ERROR C002: ")
}
