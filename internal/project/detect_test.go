package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestDetect_Frameworks(t *testing.T) {
	tests := []struct {
		name      string
		pkg       string
		framework Framework
		port      int
		command   []string
	}{
		{
			name:      "vite",
			pkg:       `{"scripts":{"dev":"vite"},"devDependencies":{"vite":"^5"}}`,
			framework: FrameworkVite,
			port:      5173,
			command:   []string{"npm", "run", "dev"},
		},
		{
			name:      "next",
			pkg:       `{"scripts":{"dev":"next dev"},"dependencies":{"next":"14","react":"18"}}`,
			framework: FrameworkNext,
			port:      3000,
			command:   []string{"npm", "run", "dev"},
		},
		{
			name:      "create react app uses start",
			pkg:       `{"scripts":{"start":"react-scripts start"},"dependencies":{"react-scripts":"5"}}`,
			framework: FrameworkCRA,
			port:      3000,
			command:   []string{"npm", "run", "start"},
		},
		{
			name:      "angular",
			pkg:       `{"scripts":{"start":"ng serve"},"dependencies":{"@angular/core":"17"}}`,
			framework: FrameworkAngular,
			port:      4200,
			command:   []string{"npm", "run", "start"},
		},
		{
			name:      "vue cli",
			pkg:       `{"scripts":{"dev":"vue-cli-service serve"},"devDependencies":{"@vue/cli-service":"5"}}`,
			framework: FrameworkVueCLI,
			port:      8080,
			command:   []string{"npm", "run", "dev"},
		},
		{
			name:      "sveltekit wins over vite",
			pkg:       `{"scripts":{"dev":"vite dev"},"devDependencies":{"vite":"5","@sveltejs/kit":"2"}}`,
			framework: FrameworkSvelteKit,
			port:      5173,
			command:   []string{"npm", "run", "dev"},
		},
		{
			name:      "astro",
			pkg:       `{"scripts":{"dev":"astro dev"},"dependencies":{"astro":"4"}}`,
			framework: FrameworkAstro,
			port:      4321,
			command:   []string{"npm", "run", "dev"},
		},
		{
			name:      "gatsby",
			pkg:       `{"scripts":{"develop":"gatsby develop","start":"gatsby develop"},"dependencies":{"gatsby":"5"}}`,
			framework: FrameworkGatsby,
			port:      8000,
			command:   []string{"npm", "run", "start"},
		},
		{
			name:      "nuxt",
			pkg:       `{"scripts":{"dev":"nuxt dev"},"devDependencies":{"nuxt":"3"}}`,
			framework: FrameworkNuxt,
			port:      3000,
			command:   []string{"npm", "run", "dev"},
		},
		{
			name:      "generic node",
			pkg:       `{"scripts":{"dev":"node server.js"}}`,
			framework: FrameworkNode,
			port:      3000,
			command:   []string{"npm", "run", "dev"},
		},
		{
			name:      "explicit port in script",
			pkg:       `{"scripts":{"dev":"vite --port 3001"},"devDependencies":{"vite":"5"}}`,
			framework: FrameworkVite,
			port:      3001,
			command:   []string{"npm", "run", "dev"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, map[string]string{"package.json": tt.pkg})

			project, err := Detect(dir)
			require.NoError(t, err)

			assert.Equal(t, tt.framework, project.Framework)
			assert.Equal(t, tt.port, project.Port)
			assert.Equal(t, tt.command, project.Command)
			assert.False(t, project.IsStatic())
			assert.NotEmpty(t, project.DetectionRule)
		})
	}
}

func TestDetect_Static(t *testing.T) {
	for _, sub := range []string{".", "public", "src", "www"} {
		t.Run(sub, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, map[string]string{filepath.Join(sub, "index.html"): "<html></html>"})

			project, err := Detect(dir)
			require.NoError(t, err)

			assert.True(t, project.IsStatic())
			assert.Equal(t, filepath.Join(dir, sub), project.Root)
			assert.Equal(t, dir, project.Dir)
			assert.Equal(t, "index.html", project.EntryFile)
			assert.Equal(t, 0, project.Port)
			assert.Empty(t, project.Command)
		})
	}
}

func TestDetect_PackageWithoutScriptsFallsBackToStatic(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"package.json": `{"dependencies":{"lodash":"4"}}`,
		"index.html":   "<html></html>",
	})

	project, err := Detect(dir)
	require.NoError(t, err)
	assert.True(t, project.IsStatic())
}

func TestDetect_Unknown(t *testing.T) {
	_, err := Detect(t.TempDir())
	assert.ErrorIs(t, err, ErrUnknownProject)

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"package.json": `{"name":"lib"}`})
	_, err = Detect(dir)
	assert.ErrorIs(t, err, ErrUnknownProject)
}

func TestDetect_Errors(t *testing.T) {
	_, err := Detect(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"package.json": `{not json`})
	_, err = Detect(dir)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownProject)
}

func TestDetect_NeedsInstall(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"package.json": `{"scripts":{"dev":"vite"},"devDependencies":{"vite":"5"}}`,
	})

	project, err := Detect(dir)
	require.NoError(t, err)
	assert.True(t, project.NeedsInstall)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "node_modules"), 0755))
	project, err = Detect(dir)
	require.NoError(t, err)
	assert.False(t, project.NeedsInstall)

	bare := t.TempDir()
	writeFiles(t, bare, map[string]string{"package.json": `{"scripts":{"start":"node index.js"}}`})
	project, err = Detect(bare)
	require.NoError(t, err)
	assert.False(t, project.NeedsInstall, "no dependencies declared")
}

func TestDetect_PackageManagerCommand(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"package.json":   `{"scripts":{"dev":"vite"}}`,
		"pnpm-lock.yaml": "",
	})

	project, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, PackageManagerPnpm, project.PackageManager)
	assert.Equal(t, []string{"pnpm", "run", "dev"}, project.Command)
}

func TestPortFromScript(t *testing.T) {
	tests := map[string]int{
		"vite --port 4000":     4000,
		"next dev -p 3005":     3005,
		"ng serve --port=4300": 4300,
		"vite":                 0,
		"serve --port 99999":   0,
		"npm run --prefer x":   0,
	}
	for script, want := range tests {
		assert.Equal(t, want, portFromScript(script), script)
	}
}
