package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/liveserve/liveserve/internal/watch"
)

// StatusLine prints controller lifecycle transitions, one line each
type StatusLine struct {
	mu      sync.Mutex
	w       io.Writer
	host    string
	noColor bool
}

// NewStatusLine creates a reporter writing to w. Host is used in the
// "serving" line and defaults to localhost.
func NewStatusLine(w io.Writer, host string, noColor bool) *StatusLine {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return &StatusLine{w: w, host: host, noColor: noColor}
}

// ReportStatus implements watch.StatusReporter
func (s *StatusLine) ReportStatus(ev watch.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.State {
	case watch.Starting:
		s.line(color.FgHiBlack, "○", "starting live server")
	case watch.Running:
		s.line(color.FgGreen, "●", fmt.Sprintf("serving on http://%s:%d/", s.host, ev.Port))
	case watch.Stopping:
		s.line(color.FgHiBlack, "○", "stopping")
	case watch.Idle:
		s.line(color.FgHiBlack, "○", "stopped")
	case watch.Error:
		msg := "failed"
		if ev.Err != nil {
			msg = "failed: " + ev.Err.Error()
		}
		s.line(color.FgRed, "✗", msg)
	}
}

func (s *StatusLine) line(attr color.Attribute, symbol, msg string) {
	c := color.New(attr)
	if s.noColor {
		c.DisableColor()
	}
	c.Fprintf(s.w, "%s %s\n", symbol, msg)
}

var _ watch.StatusReporter = (*StatusLine)(nil)
