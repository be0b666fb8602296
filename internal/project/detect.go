package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// ErrUnknownProject is returned when a folder holds nothing that can be served
var ErrUnknownProject = errors.New("unknown project type")

// Framework identifies how a project is developed locally
type Framework string

const (
	FrameworkStatic    Framework = "static"
	FrameworkVite      Framework = "vite"
	FrameworkNext      Framework = "next"
	FrameworkNuxt      Framework = "nuxt"
	FrameworkRemix     Framework = "remix"
	FrameworkCRA       Framework = "create-react-app"
	FrameworkAngular   Framework = "angular"
	FrameworkVueCLI    Framework = "vue-cli"
	FrameworkSvelteKit Framework = "sveltekit"
	FrameworkAstro     Framework = "astro"
	FrameworkGatsby    Framework = "gatsby"
	FrameworkNode      Framework = "node"
)

// Project is the result of detection
type Project struct {
	// Dir is the project folder that was inspected
	Dir string

	// Root is the directory to serve; only differs from Dir for static sites
	Root string

	Framework Framework

	// EntryFile is the page served for "/" (static sites only)
	EntryFile string

	// Port is the port the dev server is expected to use; 0 means use the configured default
	Port int

	PackageManager PackageManager

	// Command is the dev command, empty for static sites
	Command []string

	// NeedsInstall is set when package.json declares dependencies but node_modules is missing
	NeedsInstall bool

	// DetectionRule explains why the framework was chosen
	DetectionRule string
}

// IsStatic reports whether the project is served by the built-in reload server
func (p *Project) IsStatic() bool {
	return p.Framework == FrameworkStatic
}

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

type frameworkRule struct {
	framework Framework
	packages  []string
	port      int
}

// Checked in order: meta-frameworks come before the bundlers they are built on
var frameworkRules = []frameworkRule{
	{FrameworkNext, []string{"next"}, 3000},
	{FrameworkNuxt, []string{"nuxt", "nuxt3"}, 3000},
	{FrameworkRemix, []string{"@remix-run/dev", "@remix-run/react"}, 3000},
	{FrameworkAngular, []string{"@angular/core", "@angular/cli"}, 4200},
	{FrameworkSvelteKit, []string{"@sveltejs/kit"}, 5173},
	{FrameworkAstro, []string{"astro"}, 4321},
	{FrameworkGatsby, []string{"gatsby"}, 8000},
	{FrameworkVueCLI, []string{"@vue/cli-service"}, 8080},
	{FrameworkCRA, []string{"react-scripts"}, 3000},
	{FrameworkVite, []string{"vite"}, 5173},
}

const nodeDefaultPort = 3000

// staticDirs are searched in order for an index.html
var staticDirs = []string{".", "public", "src", "www"}

var scriptPortPattern = regexp.MustCompile(`(?:--port|-p)[= ](\d{2,5})\b`)

// Detect inspects dir and reports how to run it
func Detect(dir string) (*Project, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", absDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absDir)
	}

	pkg, err := readPackageJSON(absDir)
	if err != nil {
		return nil, err
	}
	if pkg != nil {
		if project := detectNode(absDir, pkg); project != nil {
			return project, nil
		}
	}

	if project := detectStatic(absDir); project != nil {
		return project, nil
	}

	if pkg != nil {
		return nil, fmt.Errorf("%w: package.json in %s has no dev or start script", ErrUnknownProject, absDir)
	}
	return nil, fmt.Errorf("%w: no package.json or index.html in %s", ErrUnknownProject, absDir)
}

func readPackageJSON(dir string) (*packageJSON, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	return &pkg, nil
}

func detectNode(dir string, pkg *packageJSON) *Project {
	script := ""
	for _, name := range []string{"dev", "start"} {
		if _, ok := pkg.Scripts[name]; ok {
			script = name
			break
		}
	}
	if script == "" {
		return nil
	}

	pm := DetectPackageManager(dir)
	project := &Project{
		Dir:            dir,
		Root:           dir,
		Framework:      FrameworkNode,
		Port:           nodeDefaultPort,
		PackageManager: pm,
		Command:        []string{string(pm), "run", script},
		NeedsInstall:   needsInstall(dir, pkg),
		DetectionRule:  fmt.Sprintf("package.json script %q", script),
	}

	for _, rule := range frameworkRules {
		if dep, ok := hasAnyDependency(pkg, rule.packages); ok {
			project.Framework = rule.framework
			project.Port = rule.port
			project.DetectionRule = fmt.Sprintf("dependency %q, script %q", dep, script)
			break
		}
	}

	if port := portFromScript(pkg.Scripts[script]); port > 0 {
		project.Port = port
	}

	return project
}

func detectStatic(dir string) *Project {
	for _, sub := range staticDirs {
		root := filepath.Join(dir, sub)
		info, err := os.Stat(filepath.Join(root, "index.html"))
		if err != nil || info.IsDir() {
			continue
		}
		return &Project{
			Dir:           dir,
			Root:          root,
			Framework:     FrameworkStatic,
			EntryFile:     "index.html",
			DetectionRule: fmt.Sprintf("index.html in %s", filepath.ToSlash(sub)),
		}
	}
	return nil
}

func hasAnyDependency(pkg *packageJSON, names []string) (string, bool) {
	for _, name := range names {
		if _, ok := pkg.Dependencies[name]; ok {
			return name, true
		}
		if _, ok := pkg.DevDependencies[name]; ok {
			return name, true
		}
	}
	return "", false
}

func needsInstall(dir string, pkg *packageJSON) bool {
	if len(pkg.Dependencies)+len(pkg.DevDependencies) == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, "node_modules"))
	return err != nil || !info.IsDir()
}

// portFromScript finds an explicit --port/-p flag in a package.json script
func portFromScript(script string) int {
	m := scriptPortPattern.FindStringSubmatch(script)
	if m == nil {
		return 0
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port > 65535 {
		return 0
	}
	return port
}
