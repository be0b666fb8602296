package process

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPortNotFound is returned when no port could be determined before the timeout
var ErrPortNotFound = errors.New("dev server port not found")

// DefaultPortTimeout bounds WaitForPort when no timeout is given
const DefaultPortTimeout = 60 * time.Second

const (
	pollInterval = 250 * time.Millisecond
	probeTimeout = 500 * time.Millisecond
	maxTreeDepth = 8
)

var (
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	urlPattern  = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]):(\d{2,5})`)
)

// ListenerFinder returns the TCP ports on which pid or any of its descendants listen
type ListenerFinder func(ctx context.Context, pid int32) ([]int, error)

// PortOptions controls WaitForPort
type PortOptions struct {
	// Preferred is the port the framework normally uses; it wins when several
	// sockets are listening and is probed as a last resort
	Preferred int

	// Timeout bounds the search (default: 60s)
	Timeout time.Duration
}

// PortFromLine extracts the port of the first local URL in a line of output
func PortFromLine(line string) (int, bool) {
	m := urlPattern.FindStringSubmatch(ansiPattern.ReplaceAllString(line, ""))
	if m == nil {
		return 0, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// errFound stops the sibling search once one of them has an answer
var errFound = errors.New("port found")

// WaitForPort determines the dev server's port. The output scan and the
// listening socket poll run in parallel and the first answer wins; when both
// give up the preferred port is probed.
func (p *Process) WaitForPort(ctx context.Context, opts PortOptions) (int, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultPortTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan int, 2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case port := <-p.ports:
			p.logger.Debug("port found in output", zap.Int("port", port))
			found <- port
			return errFound
		case <-p.done:
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		port, err := p.pollListeners(gctx, opts.Preferred)
		if err != nil {
			return nil
		}
		p.logger.Debug("port found from listening socket", zap.Int("port", port))
		found <- port
		return errFound
	})

	_ = g.Wait()

	select {
	case port := <-found:
		return port, nil
	default:
	}

	if p.Exited() {
		return 0, fmt.Errorf("dev server exited before listening: %v", p.waitErr)
	}
	if err := parentErr(ctx); err != nil {
		return 0, err
	}
	if opts.Preferred > 0 && probe(opts.Preferred) {
		p.logger.Debug("falling back to preferred port", zap.Int("port", opts.Preferred))
		return opts.Preferred, nil
	}
	return 0, fmt.Errorf("%w after %s", ErrPortNotFound, timeout)
}

// parentErr reports cancellation of the caller's context, as opposed to our own timeout
func parentErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}

// pollListeners polls the process tree until it has a listening socket
func (p *Process) pollListeners(ctx context.Context, preferred int) (int, error) {
	pid := int32(p.Pid())
	var port int

	err := retry.Do(ctx, retry.NewConstant(pollInterval), func(ctx context.Context) error {
		if p.Exited() {
			return errors.New("process exited")
		}
		ports, err := p.listeners(ctx, pid)
		if err != nil || len(ports) == 0 {
			return retry.RetryableError(ErrPortNotFound)
		}
		port = choosePort(ports, preferred)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return port, nil
}

// choosePort picks preferred when it is listening, else the lowest port
func choosePort(ports []int, preferred int) int {
	for _, port := range ports {
		if port == preferred {
			return port
		}
	}
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)
	return sorted[0]
}

// processTreeListeners lists LISTEN sockets of pid and its descendants
func processTreeListeners(ctx context.Context, pid int32) ([]int, error) {
	root, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}

	pids := append([]int32{pid}, descendants(ctx, root, 0)...)
	seen := make(map[int]bool)
	var ports []int
	for _, id := range pids {
		conns, err := gnet.ConnectionsPidWithContext(ctx, "tcp", id)
		if err != nil {
			continue
		}
		for _, conn := range conns {
			port := int(conn.Laddr.Port)
			if conn.Status == "LISTEN" && port > 0 && !seen[port] {
				seen[port] = true
				ports = append(ports, port)
			}
		}
	}
	return ports, nil
}

func descendants(ctx context.Context, proc *process.Process, depth int) []int32 {
	if depth >= maxTreeDepth {
		return nil
	}
	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		return nil
	}
	var pids []int32
	for _, child := range children {
		pids = append(pids, child.Pid)
		pids = append(pids, descendants(ctx, child, depth+1)...)
	}
	return pids
}

// probe reports whether something accepts connections on localhost:port
func probe(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
