package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "liveserve.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestLoad(t *testing.T) {
	// No config file, defaults only
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error loading defaults, got %v", err)
	}

	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host 'localhost', got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 5500 {
		t.Errorf("expected default port 5500, got %d", cfg.Server.Port)
	}
	if cfg.Server.Entry != "index.html" {
		t.Errorf("expected default entry 'index.html', got %s", cfg.Server.Entry)
	}
	if cfg.Watch.QuietPeriod != 300*time.Millisecond {
		t.Errorf("expected default quiet period 300ms, got %s", cfg.Watch.QuietPeriod)
	}
	if !cfg.Watch.Gitignore {
		t.Error("expected gitignore enabled by default")
	}
	if cfg.Client.Reconnect {
		t.Error("expected reconnect disabled by default")
	}
	if cfg.Client.MaxRetries != 10 {
		t.Errorf("expected default max retries 10, got %d", cfg.Client.MaxRetries)
	}
	if !cfg.Launch.OpenBrowser {
		t.Error("expected browser opening enabled by default")
	}
	if cfg.Launch.Install != InstallAuto {
		t.Errorf("expected install policy auto, got %s", cfg.Launch.Install)
	}
	if cfg.Launch.PortTimeout != time.Minute {
		t.Errorf("expected port timeout 60s, got %s", cfg.Launch.PortTimeout)
	}
	if cfg.Log.Format != LogFormatConsole {
		t.Errorf("expected console log format, got %s", cfg.Log.Format)
	}
	if cfg.File != "" {
		t.Errorf("expected no config file, got %s", cfg.File)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
server:
  port: 8080
  entry: app.html
  cors: true
watch:
  quiet_period: 100ms
  ignore:
    - "**/*.tmp"
  gitignore: false
client:
  reconnect: true
launch:
  install: never
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Entry != "app.html" {
		t.Errorf("expected entry app.html, got %s", cfg.Server.Entry)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host to survive, got %s", cfg.Server.Host)
	}
	if !cfg.Server.CORS || !cfg.Session(dir).CORS {
		t.Error("expected cors enabled")
	}
	if cfg.Watch.QuietPeriod != 100*time.Millisecond {
		t.Errorf("expected quiet period 100ms, got %s", cfg.Watch.QuietPeriod)
	}
	if len(cfg.Watch.Ignore) != 1 || cfg.Watch.Ignore[0] != "**/*.tmp" {
		t.Errorf("unexpected ignore list %v", cfg.Watch.Ignore)
	}
	if cfg.Watch.Gitignore {
		t.Error("expected gitignore disabled")
	}
	if !cfg.Client.Reconnect {
		t.Error("expected reconnect enabled")
	}
	if cfg.Launch.Install != InstallNever {
		t.Errorf("expected install never, got %s", cfg.Launch.Install)
	}
	if !strings.HasSuffix(cfg.File, "liveserve.yaml") {
		t.Errorf("expected config file to be reported, got %q", cfg.File)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "server:\n  port: 8080\n")

	t.Setenv("LIVESERVE_SERVER_PORT", "9090")
	t.Setenv("LIVESERVE_WATCH_QUIET_PERIOD", "1s")
	t.Setenv("LIVESERVE_CLIENT_RECONNECT", "true")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected env port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Watch.QuietPeriod != time.Second {
		t.Errorf("expected env quiet period 1s, got %s", cfg.Watch.QuietPeriod)
	}
	if !cfg.Client.Reconnect {
		t.Error("expected env reconnect")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "server: [unclosed\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"negative port", "server:\n  port: -1\n", "server.port"},
		{"port too large", "server:\n  port: 70000\n", "server.port"},
		{"empty entry", "server:\n  entry: \"\"\n", "server.entry"},
		{"zero quiet period", "watch:\n  quiet_period: 0s\n", "watch.quiet_period"},
		{"bad install", "launch:\n  install: sometimes\n", "launch.install"},
		{"bad timeout", "launch:\n  port_timeout: -1s\n", "launch.port_timeout"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"negative retries", "client:\n  max_retries: -2\n", "client.max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestSession(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Watch.Gitignore = false

	s := cfg.Session("/site")
	if s.Root != "/site" || s.Port != 5500 || s.EntryFile != "index.html" {
		t.Errorf("unexpected session config %+v", s)
	}
	if !s.DisableGitignore {
		t.Error("expected gitignore disabled in session")
	}
	if s.QuietPeriod != 300*time.Millisecond {
		t.Errorf("expected quiet period 300ms, got %s", s.QuietPeriod)
	}
}
