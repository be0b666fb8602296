package commands

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/cli/config"
	"github.com/liveserve/liveserve/internal/cli/ui"
	"github.com/liveserve/liveserve/internal/logging"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "liveserve",
		Short: "Development server with live reload",
		Long: color.CyanString(`liveserve - live reload for local web projects

Serves a static folder and reloads every open browser tab when a file
changes, or detects a framework project, installs it and starts its own
dev server.

Features:
  • WebSocket reload with per-file debouncing
  • SPA fallback to the entry page
  • .gitignore aware watching
  • Vite, Next, Nuxt, Angular, SvelteKit, Astro and more`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("verbose", false, "Show debug logs")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable coloured output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if noColor(cmd) {
			color.NoColor = true
		}
	}

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewLaunchCommand())
	rootCmd.AddCommand(NewDetectCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the liveserve version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			// Set GoVersion to actual runtime if not set at build time
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)

			for _, row := range [][2]string{
				{"liveserve version: ", Version},
				{"Git commit: ", GitCommit},
				{"Build date: ", BuildDate},
				{"Go version: ", goVer},
			} {
				titleColor.Fprint(out, row[0])
				valueColor.Fprintln(out, row[1])
			}
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd.ErrOrStderr(), err)
		return err
	}
	return nil
}

// displayError carries a pre-rendered message for the terminal
type displayError struct {
	text string
	err  error
}

func (e *displayError) Error() string { return e.err.Error() }
func (e *displayError) Unwrap() error { return e.err }

func printError(w io.Writer, err error) {
	var de *displayError
	if errors.As(err, &de) {
		fmt.Fprint(w, de.text)
		return
	}
	errorColor := color.New(color.FgRed, color.Bold)
	errorColor.Fprintf(w, "Error: %v\n", err)
}

func verbose(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("verbose")
	return v
}

func noColor(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("no-color")
	return v || color.NoColor
}

// loadConfig reads the project's config and renders validation failures
func loadConfig(cmd *cobra.Command, dir string) (*config.Config, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, &displayError{text: ui.ConfigError(err.Error(), noColor(cmd)), err: err}
	}
	return cfg, nil
}

// newLogger builds the command's logger; --verbose switches to debug console output
func newLogger(cmd *cobra.Command, cfg *config.Config) *zap.Logger {
	return logging.MustNew(loggerOptions(cmd, cfg))
}

func loggerOptions(cmd *cobra.Command, cfg *config.Config) logging.Options {
	opts := logging.Options{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Format != config.LogFormatJSON,
	}
	if verbose(cmd) {
		opts.Level = "debug"
		opts.Development = true
	}
	return opts
}
