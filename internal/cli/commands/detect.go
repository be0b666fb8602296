package commands

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liveserve/liveserve/internal/cli/ui"
	"github.com/liveserve/liveserve/internal/project"
)

// detectOutput is the JSON form of a detected project
type detectOutput struct {
	Dir            string   `json:"dir"`
	Root           string   `json:"root"`
	Framework      string   `json:"framework"`
	EntryFile      string   `json:"entryFile,omitempty"`
	Port           int      `json:"port,omitempty"`
	PackageManager string   `json:"packageManager,omitempty"`
	Command        []string `json:"command,omitempty"`
	NeedsInstall   bool     `json:"needsInstall"`
	Rule           string   `json:"rule"`
}

// NewDetectCommand creates the detect command
func NewDetectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "detect [dir]",
		Short: "Show what launch would run for a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := targetDir(args)
			if err != nil {
				return err
			}

			proj, err := project.Detect(dir)
			if err != nil {
				if errors.Is(err, project.ErrUnknownProject) {
					return &displayError{text: ui.UnknownProjectError(dir, noColor(cmd)), err: err}
				}
				return err
			}

			out := detectOutput{
				Dir:            proj.Dir,
				Root:           proj.Root,
				Framework:      string(proj.Framework),
				EntryFile:      proj.EntryFile,
				Port:           proj.Port,
				PackageManager: string(proj.PackageManager),
				Command:        proj.Command,
				NeedsInstall:   proj.NeedsInstall,
				Rule:           proj.DetectionRule,
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := cmd.OutOrStdout()
			key := color.New(color.FgCyan, color.Bold)
			if noColor(cmd) {
				key.DisableColor()
			}
			row := func(name, value string) {
				if value == "" {
					return
				}
				key.Fprintf(w, "%-16s", name+":")
				w.Write([]byte(value + "\n"))
			}

			row("Framework", out.Framework)
			row("Root", out.Root)
			row("Entry", out.EntryFile)
			if out.Port > 0 {
				row("Port", strconv.Itoa(out.Port))
			}
			row("Package manager", out.PackageManager)
			row("Command", strings.Join(out.Command, " "))
			if !proj.IsStatic() {
				row("Needs install", strconv.FormatBool(out.NeedsInstall))
			}
			row("Rule", out.Rule)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}
