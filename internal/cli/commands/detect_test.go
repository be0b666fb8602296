package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveserve/liveserve/internal/project"
)

func runDetect(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"detect", "--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestDetectCommand_Static(t *testing.T) {
	dir := writeSite(t)

	out, err := runDetect(t, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Framework:      static")
	assert.Contains(t, out, "Entry:          index.html")
	assert.NotContains(t, out, "Needs install")
}

func TestDetectCommand_NodeJSON(t *testing.T) {
	dir := writeNodeProject(t)

	out, err := runDetect(t, dir, "--json")
	require.NoError(t, err)

	var got detectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "vite", got.Framework)
	assert.Equal(t, 5173, got.Port)
	assert.Equal(t, []string{"npm", "run", "dev"}, got.Command)
	assert.True(t, got.NeedsInstall)
}

func TestDetectCommand_Unknown(t *testing.T) {
	_, err := runDetect(t, t.TempDir())
	assert.True(t, errors.Is(err, project.ErrUnknownProject))
}
