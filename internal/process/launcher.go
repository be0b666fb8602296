package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/logging"
)

// DefaultStopTimeout is how long Stop waits after SIGTERM before killing
const DefaultStopTimeout = 5 * time.Second

// Spec describes a dev command to launch
type Spec struct {
	// Dir is the working directory; its .env file is merged into the environment
	Dir string

	// Command is the program and its arguments
	Command []string

	// Env holds extra KEY=VALUE pairs; they override both the parent environment and .env
	Env []string

	// Stdout and Stderr receive the child's output (default: os.Stdout, os.Stderr)
	Stdout io.Writer
	Stderr io.Writer
}

// Launcher starts dev commands in their own process group
type Launcher struct {
	logger *zap.Logger
}

// NewLauncher creates a launcher
func NewLauncher(logger *zap.Logger) *Launcher {
	return &Launcher{logger: logging.OrNop(logger)}
}

// Process is a running dev command
type Process struct {
	cmd    *exec.Cmd
	logger *zap.Logger

	ports     chan int
	portOnce  sync.Once
	done      chan struct{}
	waitErr   error
	stopOnce  sync.Once
	stopErr   error
	listeners ListenerFinder
}

// Start launches spec. Cancelling ctx stops the process.
func (l *Launcher) Start(ctx context.Context, spec Spec) (*Process, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("no command to launch")
	}

	env, err := buildEnv(os.Environ(), spec.Dir, spec.Env)
	if err != nil {
		return nil, err
	}

	stdout, stderr := spec.Stdout, spec.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	p := &Process{
		logger:    l.logger,
		ports:     make(chan int, 1),
		done:      make(chan struct{}),
		listeners: processTreeListeners,
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = env
	cmd.Stdout = newLineWriter(stdout, p.scanLine)
	cmd.Stderr = newLineWriter(stderr, p.scanLine)
	setProcessGroup(cmd)
	// Grandchildren can hold the output pipes open after the group is gone
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command[0], err)
	}
	p.cmd = cmd

	l.logger.Info("dev server started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("command", strings.Join(spec.Command, " ")),
		zap.String("dir", spec.Dir),
	)

	go func() {
		p.waitErr = cmd.Wait()
		l.logger.Debug("dev server exited", zap.Int("pid", cmd.Process.Pid), zap.Error(p.waitErr))
		close(p.done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			p.Stop(DefaultStopTimeout)
		case <-p.done:
		}
	}()

	return p, nil
}

// Pid returns the process id of the dev command
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error after Done is closed
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Exited reports whether the process has finished
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop sends SIGTERM to the process group and kills it if it is still alive
// after timeout. It returns once the process has exited.
func (p *Process) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(timeout)
	})
	<-p.done
	return p.stopErr
}

func (p *Process) stop(timeout time.Duration) error {
	if p.Exited() {
		return nil
	}

	pid := p.cmd.Process.Pid
	p.logger.Info("stopping dev server", zap.Int("pid", pid))

	if err := terminate(p.cmd.Process); err != nil {
		// Process might already be dead
		if p.Exited() {
			return nil
		}
		p.logger.Debug("terminate failed, killing", zap.Error(err))
		return kill(p.cmd.Process)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		p.logger.Warn("timeout waiting for graceful shutdown, forcing kill", zap.Int("pid", pid))
		return kill(p.cmd.Process)
	}
}

// scanLine records the first local server URL seen in the output
func (p *Process) scanLine(line string) {
	port, ok := PortFromLine(line)
	if !ok {
		return
	}
	p.portOnce.Do(func() {
		p.ports <- port
	})
}

// buildEnv layers the project's .env under the parent environment, then extra and BROWSER=none
func buildEnv(parent []string, dir string, extra []string) ([]string, error) {
	env := append([]string(nil), parent...)

	if dir != "" {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			values, err := godotenv.Read(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}

			set := make(map[string]bool, len(parent))
			for _, kv := range parent {
				if i := strings.IndexByte(kv, '='); i > 0 {
					set[kv[:i]] = true
				}
			}

			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if !set[k] {
					env = append(env, k+"="+values[k])
				}
			}
		}
	}

	env = append(env, extra...)
	// Keep frameworks from opening a second browser tab
	env = append(env, "BROWSER=none")
	return env, nil
}

// lineWriter passes output through and reports each complete line
type lineWriter struct {
	mu     sync.Mutex
	out    io.Writer
	buf    []byte
	onLine func(string)
}

func newLineWriter(out io.Writer, onLine func(string)) *lineWriter {
	return &lineWriter{out: out, onLine: onLine}
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.out.Write(b)

	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.onLine(strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	// A server banner never needs more than this; drop runaway partial lines
	if len(w.buf) > 64*1024 {
		w.buf = w.buf[:0]
	}

	if err != nil {
		return n, err
	}
	return len(b), nil
}
