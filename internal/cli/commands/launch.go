package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/browser"
	"github.com/liveserve/liveserve/internal/cli/config"
	"github.com/liveserve/liveserve/internal/cli/ui"
	"github.com/liveserve/liveserve/internal/process"
	"github.com/liveserve/liveserve/internal/project"
	"github.com/liveserve/liveserve/internal/watch"
	"github.com/liveserve/liveserve/internal/web/server"
)

// confirmInstall asks before installing; replaced in tests
var confirmInstall = func(message string) (bool, error) {
	ok := true
	prompt := &survey.Confirm{
		Message: message,
		Default: true,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

type dependencyInstaller interface {
	Install(ctx context.Context, p *project.Project) error
}

// newInstaller builds the package manager runner; replaced in tests
var newInstaller = func(stdout, stderr io.Writer, logger *zap.Logger) dependencyInstaller {
	return project.NewInstaller(project.ExecRunner{Stdout: stdout, Stderr: stderr}, logger)
}

type launchFlags struct {
	yes     bool
	install string
	noOpen  bool
	port    int
}

// NewLaunchCommand creates the launch command
func NewLaunchCommand() *cobra.Command {
	var flags launchFlags

	cmd := &cobra.Command{
		Use:   "launch [dir]",
		Short: "Detect, install and run a project, then open it",
		Long: `Detect the kind of project in a folder and run it.

Framework projects (Vite, Next, Nuxt, Angular, SvelteKit, Astro, ...) get
their dependencies installed if node_modules is missing, then their own dev
command is started and its port discovered. Plain folders with an
index.html are served by the built-in live reload server.

Examples:
  # Launch the project in the current directory
  liveserve launch

  # Install without asking and keep the browser closed
  liveserve launch ./app --yes --no-open

  # Never run the package manager
  liveserve launch --install never
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := targetDir(args)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, dir)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("install") {
				cfg.Launch.Install = flags.install
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = flags.port
			}
			if flags.noOpen {
				cfg.Launch.OpenBrowser = false
			}
			if err := cfg.Validate(); err != nil {
				return &displayError{text: ui.ConfigError(err.Error(), noColor(cmd)), err: err}
			}

			logger := newLogger(cmd, cfg)
			defer logger.Sync()

			return runLaunch(cmd, cfg, dir, flags.yes, logger)
		},
	}

	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Install dependencies without asking")
	cmd.Flags().StringVar(&flags.install, "install", config.InstallAuto, "Dependency install policy: auto, always or never")
	cmd.Flags().BoolVar(&flags.noOpen, "no-open", false, "Do not open the browser")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 5500, "Port for static folders (0 picks a free port)")

	return cmd
}

func runLaunch(cmd *cobra.Command, cfg *config.Config, dir string, yes bool, logger *zap.Logger) error {
	nc := noColor(cmd)
	out := cmd.OutOrStdout()

	proj, err := project.Detect(dir)
	if err != nil {
		if errors.Is(err, project.ErrUnknownProject) {
			return &displayError{text: ui.UnknownProjectError(dir, nc), err: err}
		}
		return err
	}
	ui.WriteSuccess(out, fmt.Sprintf("Detected %s project (%s)", proj.Framework, proj.DetectionRule), nc)

	if err := installDependencies(cmd, cfg, proj, yes, logger); err != nil {
		return err
	}

	if proj.IsStatic() {
		cfg.Server.Entry = proj.EntryFile
		return runServe(cmd, cfg, proj.Root, cfg.Launch.OpenBrowser, logger)
	}
	return runDevCommand(cmd, cfg, proj, logger)
}

// installDependencies applies the install policy to a Node project
func installDependencies(cmd *cobra.Command, cfg *config.Config, proj *project.Project, yes bool, logger *zap.Logger) error {
	if proj.IsStatic() {
		return nil
	}

	nc := noColor(cmd)
	switch cfg.Launch.Install {
	case config.InstallNever:
		if proj.NeedsInstall {
			fmt.Fprint(cmd.ErrOrStderr(), ui.Warning("node_modules is missing and installs are disabled", nc))
		}
		return nil
	case config.InstallAuto:
		if !proj.NeedsInstall {
			return nil
		}
		if !yes {
			ok, err := confirmInstall(fmt.Sprintf("Install dependencies with %s?", proj.PackageManager))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
	}

	message := fmt.Sprintf("Installing dependencies with %s", proj.PackageManager)
	if verbose(cmd) {
		installer := newInstaller(cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
		return installer.Install(cmd.Context(), proj)
	}

	// Keep package manager output for the failure case only
	var captured bytes.Buffer
	installer := newInstaller(&captured, &captured, logger)
	err := ui.WithSpinner(cmd.ErrOrStderr(), message, nc, func() error {
		return installer.Install(cmd.Context(), proj)
	})
	if err != nil {
		cmd.ErrOrStderr().Write(captured.Bytes())
	}
	return err
}

// runDevCommand starts the framework's dev server and waits for it to listen
func runDevCommand(cmd *cobra.Command, cfg *config.Config, proj *project.Project, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	launcher := process.NewLauncher(logger.Named("process"))
	proc, err := launcher.Start(ctx, process.Spec{
		Dir:     proj.Dir,
		Command: proj.Command,
		Stdout:  cmd.OutOrStdout(),
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	port, err := proc.WaitForPort(ctx, process.PortOptions{
		Preferred: proj.Port,
		Timeout:   cfg.Launch.PortTimeout,
	})
	if err != nil {
		proc.Stop(process.DefaultStopTimeout)
		return fmt.Errorf("failed to find dev server port: %w", err)
	}

	url := browser.URLForPort(port)
	reporter := ui.NewStatusLine(cmd.OutOrStdout(), "localhost", noColor(cmd))
	reporter.ReportStatus(watch.StatusEvent{State: watch.Running, Port: port})
	printBanner(cmd, string(proj.Framework), url, "")

	if cfg.Launch.OpenBrowser {
		if err := newOpener(logger).Open(ctx, url); err != nil {
			fmt.Fprint(cmd.ErrOrStderr(), ui.Warning(err.Error(), noColor(cmd)))
		}
	}

	// An exiting dev server ends the session
	var stopping, exitedEarly atomic.Bool
	go func() {
		select {
		case <-proc.Done():
			if !stopping.Load() {
				exitedEarly.Store(true)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdown := server.NewGracefulShutdown(nil, &server.ShutdownConfig{Logger: logger})
	shutdown.RegisterHook(func(ctx context.Context) error {
		stopping.Store(true)
		reporter.ReportStatus(watch.StatusEvent{State: watch.Stopping})
		err := proc.Stop(process.DefaultStopTimeout)
		reporter.ReportStatus(watch.StatusEvent{State: watch.Idle})
		return err
	})

	if err := shutdown.WaitForSignal(ctx); err != nil {
		return err
	}
	if exitedEarly.Load() && proc.Err() != nil && cmd.Context().Err() == nil {
		return fmt.Errorf("dev server exited: %w", proc.Err())
	}
	return nil
}
