package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/browser"
	"github.com/liveserve/liveserve/internal/cli/config"
	"github.com/liveserve/liveserve/internal/cli/ui"
	"github.com/liveserve/liveserve/internal/watch"
	"github.com/liveserve/liveserve/internal/web/server"
)

// urlOpener opens the served site; replaced in tests
type urlOpener interface {
	Open(ctx context.Context, url string) error
}

var newOpener = func(logger *zap.Logger) urlOpener {
	return browser.NewOpener(nil, logger)
}

type serveFlags struct {
	port        int
	host        string
	entry       string
	open        bool
	reconnect   bool
	quietPeriod time.Duration
	ignore      []string
	noGitignore bool
	cors        bool
}

// apply copies explicitly set flags over the loaded config
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Server.Port = f.port
	}
	if changed("host") {
		cfg.Server.Host = f.host
	}
	if changed("entry") {
		cfg.Server.Entry = f.entry
	}
	if changed("open") {
		cfg.Launch.OpenBrowser = f.open
	}
	if changed("reconnect") {
		cfg.Client.Reconnect = f.reconnect
	}
	if changed("quiet-period") {
		cfg.Watch.QuietPeriod = f.quietPeriod
	}
	if changed("ignore") {
		cfg.Watch.Ignore = append(cfg.Watch.Ignore, f.ignore...)
	}
	if changed("no-gitignore") {
		cfg.Watch.Gitignore = !f.noGitignore
	}
	if changed("cors") {
		cfg.Server.CORS = f.cors
	}
}

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Serve a folder and reload browsers on change",
		Long: `Serve a static folder with live reload.

Every HTML page gets a small script that connects back over a WebSocket.
When a file under the folder changes, every connected tab reloads.
Unknown paths fall back to the entry page, so client-side routers work.

Examples:
  # Serve the current directory on http://localhost:5500/
  liveserve serve

  # Serve ./site on a free port and open the browser
  liveserve serve site --port 0 --open

  # Keep reconnecting after the server restarts
  liveserve serve --reconnect
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
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return &displayError{text: ui.ConfigError(err.Error(), noColor(cmd)), err: err}
			}

			logger := newLogger(cmd, cfg)
			defer logger.Sync()

			return runServe(cmd, cfg, dir, flags.open, logger)
		},
	}

	cmd.Flags().IntVarP(&flags.port, "port", "p", 5500, "Port to listen on (0 picks a free port)")
	cmd.Flags().StringVar(&flags.host, "host", watch.DefaultHost, "Interface to bind")
	cmd.Flags().StringVar(&flags.entry, "entry", "index.html", "Page served for / and unknown paths")
	cmd.Flags().BoolVar(&flags.open, "open", false, "Open the browser once serving")
	cmd.Flags().BoolVar(&flags.reconnect, "reconnect", false, "Let browsers reconnect after the server restarts")
	cmd.Flags().DurationVar(&flags.quietPeriod, "quiet-period", watch.DefaultQuietPeriod, "Wait this long after the last change before reloading")
	cmd.Flags().StringSliceVar(&flags.ignore, "ignore", nil, "Extra glob patterns to ignore")
	cmd.Flags().BoolVar(&flags.noGitignore, "no-gitignore", false, "Watch files listed in .gitignore")
	cmd.Flags().BoolVar(&flags.cors, "cors", false, "Allow other origins to fetch served files")

	return cmd
}

// runServe runs the reload server on dir until interrupted
func runServe(cmd *cobra.Command, cfg *config.Config, dir string, open bool, logger *zap.Logger) error {
	ctx := cmd.Context()
	nc := noColor(cmd)

	controller := watch.NewController(
		watch.WithReporter(ui.NewStatusLine(cmd.OutOrStdout(), cfg.Server.Host, nc)),
		watch.WithControllerLogger(logger),
	)

	session, err := controller.Start(ctx, cfg.Session(dir))
	if err != nil {
		return startError(cmd, cfg, err)
	}

	printBanner(cmd, "liveserve", session.URL(), session.Root)

	if open {
		if err := newOpener(logger).Open(ctx, session.URL()); err != nil {
			ui.WriteMessage(cmd.ErrOrStderr(), ui.MessageOptions{Level: ui.LevelWarning, Problem: err.Error(), NoColor: nc})
		}
	}

	shutdown := server.NewGracefulShutdown(nil, &server.ShutdownConfig{Logger: logger})
	shutdown.RegisterHook(controller.Stop)

	return shutdown.WaitForSignal(ctx)
}

// startError renders controller start failures
func startError(cmd *cobra.Command, cfg *config.Config, err error) error {
	if errors.Is(err, watch.ErrBind) {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		return &displayError{text: ui.PortInUseError(addr, cfg.Server.Port, noColor(cmd)), err: err}
	}
	if errors.Is(err, watch.ErrInvalidConfig) {
		return &displayError{text: ui.ConfigError(err.Error(), noColor(cmd)), err: err}
	}
	return fmt.Errorf("failed to start live server: %w", err)
}

func printBanner(cmd *cobra.Command, title, url, root string) {
	out := cmd.OutOrStdout()
	banner := color.New(color.FgCyan, color.Bold)
	info := color.New(color.FgWhite)
	if noColor(cmd) {
		banner.DisableColor()
		info.DisableColor()
	}

	fmt.Fprintln(out)
	banner.Fprintf(out, "📦 %s\n", title)
	info.Fprintf(out, "   Local:   %s\n", url)
	if root != "" {
		info.Fprintf(out, "   Serving: %s\n", root)
	}
	fmt.Fprintln(out)
	hint := color.New(color.FgYellow)
	if noColor(cmd) {
		hint.DisableColor()
	}
	hint.Fprintln(out, "⌨️  Press Ctrl+C to stop")
	fmt.Fprintln(out)
}

// targetDir resolves the optional directory argument
func targetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	return abs, nil
}
