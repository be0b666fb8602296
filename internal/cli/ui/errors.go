package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// MessageOptions configures FormatMessage
type MessageOptions struct {
	Level       Level
	Context     string
	Problem     string
	Consequence string
	Hints       []string
	NoColor     bool
}

// FormatMessage renders a message with an optional context header and hints
//
// Example output:
//
//	❌ PORT IN USE: Cannot listen on localhost:5500.
//	   Port 5500 is already taken by another program.
//
//	   → Pick another port: liveserve serve --port 5501
func FormatMessage(opts MessageOptions) string {
	var b strings.Builder

	var headerColor, bodyColor *color.Color
	var symbol string

	switch opts.Level {
	case LevelWarning:
		headerColor = color.New(color.FgYellow, color.Bold)
		bodyColor = color.New(color.FgYellow)
		symbol = "⚠️"
	case LevelInfo:
		headerColor = color.New(color.FgCyan, color.Bold)
		bodyColor = color.New(color.FgCyan)
		symbol = "ℹ️"
	default:
		headerColor = color.New(color.FgRed, color.Bold)
		bodyColor = color.New(color.FgRed)
		symbol = "❌"
	}

	if opts.NoColor {
		headerColor.DisableColor()
		bodyColor.DisableColor()
	}

	if opts.Context != "" {
		headerColor.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if opts.Consequence != "" {
		bodyColor.Fprintf(&b, "   %s\n", opts.Consequence)
	}

	if len(opts.Hints) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, hint := range opts.Hints {
			cyan.Fprintf(&b, "   → %s\n", hint)
		}
	}

	return b.String()
}

// WriteMessage writes a formatted message to w
func WriteMessage(w io.Writer, opts MessageOptions) {
	fmt.Fprint(w, FormatMessage(opts))
}

// FormatSuccess creates a success line
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success line to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// PortInUseError explains a bind failure
func PortInUseError(addr string, port int, noColor bool) string {
	next := "0"
	if port > 0 && port < 65535 {
		next = strconv.Itoa(port + 1)
	}
	return FormatMessage(MessageOptions{
		Level:       LevelError,
		Context:     "PORT IN USE",
		Problem:     fmt.Sprintf("Cannot listen on %s.", addr),
		Consequence: "Another program is probably using this port.",
		Hints: []string{
			"Pick another port: liveserve serve --port " + next,
			"Let the system choose: liveserve serve --port 0",
		},
		NoColor: noColor,
	})
}

// ConfigError explains an invalid setting
func ConfigError(message string, noColor bool) string {
	return FormatMessage(MessageOptions{
		Level:   LevelError,
		Context: "CONFIGURATION ERROR",
		Problem: message,
		Hints: []string{
			"View config: cat liveserve.yaml",
			"Get help: liveserve --help",
		},
		NoColor: noColor,
	})
}

// UnknownProjectError explains a failed detection
func UnknownProjectError(dir string, noColor bool) string {
	return FormatMessage(MessageOptions{
		Level:       LevelError,
		Context:     "UNKNOWN PROJECT",
		Problem:     fmt.Sprintf("Nothing to serve in %s.", dir),
		Consequence: "No package.json with a dev or start script and no index.html were found.",
		Hints: []string{
			"Serve a folder directly: liveserve serve <dir>",
			"See what was detected: liveserve detect " + dir,
		},
		NoColor: noColor,
	})
}

// Warning creates a warning message
func Warning(message string, noColor bool) string {
	return FormatMessage(MessageOptions{Level: LevelWarning, Problem: message, NoColor: noColor})
}

// Info creates an info message
func Info(message string, noColor bool) string {
	return FormatMessage(MessageOptions{Level: LevelInfo, Problem: message, NoColor: noColor})
}
