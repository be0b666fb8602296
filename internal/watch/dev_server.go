package watch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/logging"
	"github.com/liveserve/liveserve/internal/web/middleware"
	"github.com/liveserve/liveserve/internal/web/server"
	"github.com/liveserve/liveserve/internal/web/static"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is starting or running
	ErrAlreadyRunning = errors.New("server already running")
	// ErrInvalidConfig wraps every session config validation failure
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrBind wraps a failure to bind the listen address
	ErrBind = errors.New("failed to bind")
	// ErrWatcher wraps a failure to set up directory watching
	ErrWatcher = errors.New("failed to start watcher")
)

// DefaultHost is the interface the server binds to when none is configured
const DefaultHost = "localhost"

// stopTimeout bounds the graceful part of Stop before connections are cut
const stopTimeout = 2 * time.Second

// SessionConfig holds everything needed to start a session
type SessionConfig struct {
	// Root is the directory to serve and watch
	Root string

	// Host is the bind host (default: localhost)
	Host string

	// Port is the bind port; 0 asks the OS for a free one
	Port int

	// EntryFile is served for "/" and unknown paths (default: index.html)
	EntryFile string

	// QuietPeriod is the watcher's coalescing window (default: 300ms)
	QuietPeriod time.Duration

	// Ignore adds doublestar patterns to the default ignore set
	Ignore []string

	// DisableGitignore stops the watcher from honouring <root>/.gitignore
	DisableGitignore bool

	// Reconnect enables client reconnection with bounded backoff
	Reconnect bool

	// MaxRetries bounds client reconnection attempts (default: 10)
	MaxRetries int

	// CORS lets pages on other origins fetch served files
	CORS bool
}

// Session is the handle of one running server
type Session struct {
	Root      string
	Host      string
	Port      int
	EntryFile string
	StartedAt time.Time
}

// Addr returns host:port of the session
func (s *Session) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the address a browser should open
func (s *Session) URL() string {
	host := s.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = DefaultHost
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + "/"
}

// Controller owns at most one session and moves it through
// Idle, Starting, Running, Stopping and back to Idle
type Controller struct {
	opMu  sync.Mutex
	state atomic.Int32

	mu          sync.RWMutex
	session     *Session
	server      *server.Server
	watcher     *Watcher
	channel     *ReloadChannel
	handlerDone chan struct{}

	reporter StatusReporter
	logger   *zap.Logger
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithReporter sets where lifecycle transitions are reported
func WithReporter(reporter StatusReporter) ControllerOption {
	return func(c *Controller) {
		if reporter != nil {
			c.reporter = reporter
		}
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logging.OrNop(logger)
	}
}

// NewController creates an idle controller
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		reporter: NopReporter{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Session returns a copy of the running session, or nil
func (c *Controller) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Port returns the bound port of the running session, or 0
func (c *Controller) Port() int {
	if s := c.Session(); s != nil {
		return s.Port
	}
	return 0
}

// Addr returns host:port of the running session, or ""
func (c *Controller) Addr() string {
	if s := c.Session(); s != nil {
		return s.Addr()
	}
	return ""
}

// ConnectionCount returns the number of connected clients
func (c *Controller) ConnectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil {
		return 0
	}
	return c.channel.ConnectionCount()
}

// Start binds, serves and watches according to cfg. On failure everything
// already started is torn down, the state becomes Error and the error is returned.
func (c *Controller) Start(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if st := c.State(); st == Starting || st == Running {
		return nil, ErrAlreadyRunning
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if st := c.State(); st == Starting || st == Running {
		return nil, ErrAlreadyRunning
	}

	c.setState(Starting)
	c.reporter.ReportStatus(StatusEvent{State: Starting})

	session, err := c.start(ctx, cfg)
	if err != nil {
		c.setState(Error)
		c.logger.Error("failed to start server", zap.Error(err))
		c.reporter.ReportStatus(StatusEvent{State: Error, Err: err})
		return nil, err
	}

	c.setState(Running)
	c.logger.Info("server running",
		zap.String("root", session.Root),
		zap.String("addr", session.Addr()),
	)
	c.reporter.ReportStatus(StatusEvent{State: Running, Port: session.Port})

	s := *session
	return &s, nil
}

func (c *Controller) start(ctx context.Context, cfg SessionConfig) (*Session, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	channel := NewReloadChannel(c.logger.Named("reload"), cfg.Host)

	router := chi.NewRouter()
	serverConfig := server.DefaultConfig(router)
	serverConfig.Address = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv, err := server.New(serverConfig)
	if err != nil {
		return nil, err
	}

	if err := srv.Listen(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}
	port := srv.Port()

	// From here on every failure must release the listener
	rollback := func() {
		srv.Close()
		channel.Close()
	}

	injector, err := NewScriptInjector(ScriptOptions{
		Port:       port,
		Path:       SocketPath,
		Reconnect:  cfg.Reconnect,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		rollback()
		return nil, err
	}

	responder, err := static.NewResponder(static.Config{
		Root:      cfg.Root,
		EntryFile: cfg.EntryFile,
		Injector:  injector,
		Logger:    c.logger.Named("static"),
	})
	if err != nil {
		rollback()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	httpLogger := c.logger.Named("http")
	router.Use(upgradeTo(channel))
	chain := middleware.NewChain(
		middleware.RequestID(),
		middleware.Recovery(httpLogger),
		middleware.Logging(httpLogger),
	)
	if cfg.CORS {
		chain = chain.Append(middleware.CORS())
	}
	router.Handle("/*", chain.Then(responder))

	watcher, err := NewWatcher(cfg.Root,
		WithQuietPeriod(cfg.QuietPeriod),
		WithIgnore(cfg.Ignore...),
		WithGitignore(!cfg.DisableGitignore),
		WithLogger(c.logger.Named("watch")),
	)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("%w: %w", ErrWatcher, err)
	}
	// The watch outlives ctx, which only bounds Start itself
	if err := watcher.Start(context.Background()); err != nil {
		watcher.Close()
		rollback()
		return nil, fmt.Errorf("%w: %w", ErrWatcher, err)
	}

	events, _ := watcher.Subscribe()
	handlerDone := make(chan struct{})
	go c.handleChanges(events, channel, handlerDone)

	go func() {
		if err := srv.Serve(); err != nil {
			c.logger.Error("http server stopped", zap.Error(err))
		}
	}()

	session := &Session{
		Root:      cfg.Root,
		Host:      cfg.Host,
		Port:      port,
		EntryFile: cfg.EntryFile,
		StartedAt: time.Now(),
	}

	c.mu.Lock()
	c.session = session
	c.server = srv
	c.watcher = watcher
	c.channel = channel
	c.handlerDone = handlerDone
	c.mu.Unlock()

	return session, nil
}

// Stop tears down the running session. It is a no-op when nothing runs;
// an Error state is cleared back to Idle.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.State() {
	case Idle:
		return nil
	case Error:
		c.setState(Idle)
		return nil
	}

	c.setState(Stopping)
	c.reporter.ReportStatus(StatusEvent{State: Stopping})

	c.mu.Lock()
	srv, watcher, channel, handlerDone := c.server, c.watcher, c.channel, c.handlerDone
	c.session, c.server, c.watcher, c.channel, c.handlerDone = nil, nil, nil, nil, nil
	c.mu.Unlock()

	// Closing the watcher closes the subscription, which ends the change handler
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			c.logger.Warn("failed to close watcher", zap.Error(err))
		}
	}
	if handlerDone != nil {
		<-handlerDone
	}
	if channel != nil {
		channel.Close()
	}

	var err error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			c.logger.Debug("graceful shutdown incomplete, closing", zap.Error(shutdownErr))
			err = srv.Close()
		}
		cancel()
	}

	c.setState(Idle)
	c.logger.Info("server stopped")
	c.reporter.ReportStatus(StatusEvent{State: Idle})
	return err
}

// handleChanges turns every watch event into a reload broadcast
func (c *Controller) handleChanges(events <-chan WatchEvent, channel *ReloadChannel, done chan struct{}) {
	defer close(done)
	for event := range events {
		c.dispatch(event, channel)
	}
}

func (c *Controller) dispatch(event WatchEvent, channel *ReloadChannel) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("change handler panicked", zap.Any("panic", r), zap.String("path", event.Rel))
		}
	}()

	clients := channel.Broadcast()
	c.logger.Info("file changed, reloading",
		zap.String("path", event.Rel),
		zap.Stringer("kind", event.Kind),
		zap.Int("clients", clients),
	)
}

// upgradeTo sends WebSocket upgrade requests on any path to channel
func upgradeTo(channel http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				channel.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizeConfig fills defaults and validates cfg
func normalizeConfig(cfg SessionConfig) (SessionConfig, error) {
	if cfg.Root == "" {
		return cfg, fmt.Errorf("%w: root directory is required", ErrInvalidConfig)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !info.IsDir() {
		return cfg, fmt.Errorf("%w: %s is not a directory", ErrInvalidConfig, root)
	}
	cfg.Root = root

	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.EntryFile == "" {
		cfg.EntryFile = static.DefaultEntryFile
	}
	if cfg.QuietPeriod < 0 {
		return cfg, fmt.Errorf("%w: negative quiet period", ErrInvalidConfig)
	}
	if cfg.QuietPeriod == 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return cfg, nil
}
