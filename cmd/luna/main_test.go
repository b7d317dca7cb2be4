package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootFlags(t *testing.T) {
	cmd := newRootCmd()

	f := cmd.Flags().Lookup("config")
	require.NotNil(t, f)
	assert.Equal(t, "c", f.Shorthand)
	assert.Equal(t, "./config.yaml", f.DefValue)
	assert.NotNil(t, cmd.Flags().Lookup("pidfile"))
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"version"})
	assert.NoError(t, cmd.Execute())
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 0\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"-c", path})
	cmd.SetErr(new(strings.Builder))
	assert.Error(t, cmd.Execute())
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "luna.pid")
	require.NoError(t, writePIDFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))
}
