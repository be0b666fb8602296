// Package browser opens the served site in the user's browser.
package browser

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	clibrowser "github.com/cli/browser"
	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/logging"
	"github.com/liveserve/liveserve/internal/project"
)

// EnvVar names the executable that devcontainers and Codespaces provide
// for launching the host browser as "$BROWSER <url>"
const EnvVar = "BROWSER"

// Opener launches URLs
type Opener struct {
	runner  project.Runner
	getenv  func(string) string
	openURL func(string) error
	logger  *zap.Logger
}

// NewOpener creates an opener. A nil runner uses project.ExecRunner.
func NewOpener(runner project.Runner, logger *zap.Logger) *Opener {
	if runner == nil {
		runner = &project.ExecRunner{}
	}
	return &Opener{
		runner:  runner,
		getenv:  os.Getenv,
		openURL: clibrowser.OpenURL,
		logger:  logging.OrNop(logger),
	}
}

// Open launches url with $BROWSER when set, else the system default browser
func (o *Opener) Open(ctx context.Context, url string) error {
	if env := strings.TrimSpace(o.getenv(EnvVar)); env != "" && env != "none" {
		err := o.runner.Run(ctx, "", env, url)
		if err == nil {
			return nil
		}
		o.logger.Warn("failed to open browser configured by $BROWSER, trying default browser",
			zap.String("browser", env), zap.Error(err))
	}

	if err := o.openURL(url); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	o.logger.Debug("opened browser", zap.String("url", url))
	return nil
}

// URLForPort is the address a browser should use for a local port
func URLForPort(port int) string {
	return "http://localhost:" + strconv.Itoa(port) + "/"
}
