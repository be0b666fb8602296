package project

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/logging"
)

// PackageManager is a Node package manager
type PackageManager string

const (
	PackageManagerNpm  PackageManager = "npm"
	PackageManagerPnpm PackageManager = "pnpm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerBun  PackageManager = "bun"
)

// lockfiles map to the manager that wrote them, checked in order
var lockfiles = []struct {
	name string
	pm   PackageManager
}{
	{"pnpm-lock.yaml", PackageManagerPnpm},
	{"yarn.lock", PackageManagerYarn},
	{"bun.lockb", PackageManagerBun},
	{"bun.lock", PackageManagerBun},
}

// DetectPackageManager picks the manager from the lockfile in dir, defaulting to npm
func DetectPackageManager(dir string) PackageManager {
	for _, lf := range lockfiles {
		if _, err := os.Stat(filepath.Join(dir, lf.name)); err == nil {
			return lf.pm
		}
	}
	return PackageManagerNpm
}

// InstallArgs returns the install arguments for pm
func InstallArgs(pm PackageManager) []string {
	switch pm {
	case PackageManagerPnpm:
		return []string{"install", "--prefer-offline"}
	case PackageManagerYarn, PackageManagerBun:
		return []string{"install"}
	default:
		return []string{"install", "--no-audit", "--no-fund", "--prefer-offline"}
	}
}

// InstallURL points at installation instructions for pm
func InstallURL(pm PackageManager) string {
	switch pm {
	case PackageManagerPnpm:
		return "https://pnpm.io/installation"
	case PackageManagerYarn:
		return "https://yarnpkg.com/getting-started/install"
	case PackageManagerBun:
		return "https://bun.sh/docs/installation"
	default:
		return "https://nodejs.org/"
	}
}

// Runner runs a command to completion in dir
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) error
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run implements Runner
func (r ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	return cmd.Run()
}

// Installer installs project dependencies
type Installer struct {
	runner   Runner
	lookPath func(string) (string, error)
	logger   *zap.Logger
}

// NewInstaller creates an installer; a nil runner runs commands with the process's stdio
func NewInstaller(runner Runner, logger *zap.Logger) *Installer {
	if runner == nil {
		runner = ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
	}
	return &Installer{
		runner:   runner,
		lookPath: exec.LookPath,
		logger:   logging.OrNop(logger),
	}
}

// CheckInstalled verifies the project's package manager is on PATH
func (i *Installer) CheckInstalled(p *Project) error {
	pm := p.PackageManager
	if pm == "" {
		pm = PackageManagerNpm
	}
	if _, err := i.lookPath(string(pm)); err != nil {
		return fmt.Errorf("%s is not installed, see %s: %w", pm, InstallURL(pm), err)
	}
	return nil
}

// Install runs the package manager's install command in the project folder
func (i *Installer) Install(ctx context.Context, p *Project) error {
	if p.IsStatic() {
		return nil
	}
	if err := i.CheckInstalled(p); err != nil {
		return err
	}

	pm := p.PackageManager
	if pm == "" {
		pm = PackageManagerNpm
	}
	args := InstallArgs(pm)

	i.logger.Info("installing dependencies", zap.String("dir", p.Dir), zap.String("package_manager", string(pm)))
	if err := i.runner.Run(ctx, p.Dir, string(pm), args...); err != nil {
		return fmt.Errorf("failed to install project %s using %s: %w", p.Dir, pm, err)
	}
	p.NeedsInstall = false
	return nil
}
