package commands

import (
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveserve/liveserve/internal/watch"
)

func TestServeCommand_ServesAndStops(t *testing.T) {
	opener, _, _ := stubCollaborators(t)
	dir := writeSite(t)

	out, cancel, done := runAsync(t, "serve", dir, "--port", "0", "--open")
	url := waitForServing(t, out, done)

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "Hi")
	assert.Contains(t, string(body), "<script>")

	assert.Eventually(t, func() bool { return len(opener.opened()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{url}, opener.opened())
	assert.Contains(t, out.String(), "Serving: "+dir)

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Contains(t, out.String(), "○ stopped")
}

func TestServeCommand_NoOpenByDefault(t *testing.T) {
	opener, _, _ := stubCollaborators(t)

	out, cancel, done := runAsync(t, "serve", writeSite(t), "--port", "0")
	waitForServing(t, out, done)
	cancel()
	require.NoError(t, waitDone(t, done))

	assert.Empty(t, opener.opened())
}

func TestServeCommand_PortInUse(t *testing.T) {
	stubCollaborators(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := strconv.Itoa(busy.Addr().(*net.TCPAddr).Port)

	out, _, done := runAsync(t, "serve", writeSite(t), "--host", "127.0.0.1", "--port", port)
	err = waitDone(t, done)

	require.Error(t, err)
	assert.True(t, errors.Is(err, watch.ErrBind))

	var de *displayError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.text, "PORT IN USE")
	assert.Contains(t, out.String(), "✗ failed")
}

func TestServeCommand_InvalidFlags(t *testing.T) {
	stubCollaborators(t)

	_, _, done := runAsync(t, "serve", writeSite(t), "--quiet-period", "0s")
	err := waitDone(t, done)

	var de *displayError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.text, "watch.quiet_period")
}

func TestServeCommand_MissingDirectory(t *testing.T) {
	stubCollaborators(t)

	_, _, done := runAsync(t, "serve", "/does/not/exist", "--port", "0")
	err := waitDone(t, done)

	require.Error(t, err)
	assert.True(t, errors.Is(err, watch.ErrInvalidConfig))
}

func TestServeFlags_Apply(t *testing.T) {
	cmd := NewServeCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--port", "8081", "--entry", "app.html", "--no-gitignore"}))

	cfg, err := loadConfig(cmd, t.TempDir())
	require.NoError(t, err)

	flags := serveFlags{port: 8081, entry: "app.html", noGitignore: true}
	flags.apply(cmd, cfg)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "app.html", cfg.Server.Entry)
	assert.False(t, cfg.Watch.Gitignore)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset flags keep config values")
}

func TestTargetDir(t *testing.T) {
	dir, err := targetDir(nil)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))

	dir, err = targetDir([]string{"site"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, "site"))
}
