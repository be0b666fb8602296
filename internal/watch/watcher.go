package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/logging"
)

// DefaultQuietPeriod is how long a file must stay unmodified before its change is reported
const DefaultQuietPeriod = 300 * time.Millisecond

// subscriberBuffer is the number of events a slow subscriber may fall behind by
const subscriberBuffer = 16

// defaultIgnores are always excluded, relative to the watched root
var defaultIgnores = []string{
	"**/.git", "**/.git/**",
	"**/.svn", "**/.svn/**",
	"**/.hg", "**/.hg/**",
	"**/node_modules", "**/node_modules/**",
	"**/bower_components", "**/bower_components/**",
	"**/.DS_Store",
	"**/Thumbs.db",
	"**/desktop.ini",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
}

// ErrWatcherClosed is returned when starting a watcher after Close
var ErrWatcherClosed = errors.New("watcher closed")

// EventKind classifies a file change
type EventKind int

const (
	// Create reports a new file
	Create EventKind = iota + 1
	// Modify reports a content or metadata change
	Modify
	// Remove reports a deleted or renamed-away file
	Remove
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// WatchEvent is a single, already coalesced file change
type WatchEvent struct {
	// Path is the absolute path of the changed file
	Path string
	// Rel is Path relative to the watched root, slash separated
	Rel  string
	Kind EventKind
	Time time.Time
}

// Watcher monitors a directory tree and publishes coalesced WatchEvents
type Watcher struct {
	root         string
	quiet        time.Duration
	ignored      []string
	useGitignore bool
	logger       *zap.Logger

	mu        sync.Mutex
	gitignore gitignore.GitIgnore
	debouncer *Debouncer
	stopChan  chan struct{}
	done      chan struct{}
	running   bool
	wg        sync.WaitGroup

	subsMu sync.RWMutex
	subs   map[int]chan WatchEvent
	nextID int
	closed bool
}

// Option configures a Watcher
type Option func(*Watcher)

// WithQuietPeriod sets the stability window used to coalesce rapid writes
func WithQuietPeriod(d time.Duration) Option {
	return func(fw *Watcher) {
		if d > 0 {
			fw.quiet = d
		}
	}
}

// WithIgnore adds doublestar patterns (relative to the root) to the ignore set
func WithIgnore(patterns ...string) Option {
	return func(fw *Watcher) {
		fw.ignored = append(fw.ignored, patterns...)
	}
}

// WithGitignore toggles honouring the root's .gitignore file
func WithGitignore(enabled bool) Option {
	return func(fw *Watcher) {
		fw.useGitignore = enabled
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(fw *Watcher) {
		fw.logger = logging.OrNop(logger)
	}
}

// NewWatcher creates a watcher for root. Watching begins with Start.
func NewWatcher(root string, opts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", absRoot)
	}

	fw := &Watcher{
		root:         absRoot,
		quiet:        DefaultQuietPeriod,
		ignored:      append([]string(nil), defaultIgnores...),
		useGitignore: true,
		logger:       zap.NewNop(),
		subs:         make(map[int]chan WatchEvent),
	}
	for _, opt := range opts {
		opt(fw)
	}

	for _, pattern := range fw.ignored {
		if _, err := doublestar.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
	}

	return fw, nil
}

// Root returns the absolute watched directory
func (fw *Watcher) Root() string {
	return fw.root
}

// QuietPeriod returns the stability window
func (fw *Watcher) QuietPeriod() time.Duration {
	return fw.quiet
}

// Start begins watching. Calling Start on a running watcher is a no-op;
// a watcher that was stopped (or whose loop ended on error) starts afresh.
func (fw *Watcher) Start(ctx context.Context) error {
	if fw.isClosed() {
		return ErrWatcherClosed
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		select {
		case <-fw.done:
			// Loop exited on its own; fall through and restart
			fw.running = false
			fw.debouncer.Stop()
		default:
			return nil
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	fw.gitignore = nil
	if fw.useGitignore {
		fw.gitignore = fw.loadGitignore()
	}

	if err := fw.addTree(fsw, fw.root); err != nil {
		fsw.Close()
		return err
	}

	fw.debouncer = NewDebouncer(fw.quiet)
	fw.debouncer.SetCallback(fw.publish)
	fw.stopChan = make(chan struct{})
	fw.done = make(chan struct{})
	fw.running = true

	fw.wg.Add(1)
	go fw.watch(ctx, fsw, fw.debouncer, fw.stopChan, fw.done)

	fw.logger.Info("watching directory", zap.String("root", fw.root), zap.Duration("quiet_period", fw.quiet))
	return nil
}

// Stop stops watching; pending coalesced events are dropped. Subscriptions stay open.
func (fw *Watcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	stop := fw.stopChan
	debouncer := fw.debouncer
	fw.running = false
	fw.mu.Unlock()

	close(stop)
	fw.wg.Wait()
	debouncer.Stop()
	return nil
}

// Close stops watching and closes every subscription channel
func (fw *Watcher) Close() error {
	err := fw.Stop()

	fw.subsMu.Lock()
	defer fw.subsMu.Unlock()
	if fw.closed {
		return err
	}
	fw.closed = true
	for id, ch := range fw.subs {
		close(ch)
		delete(fw.subs, id)
	}
	return err
}

// Subscribe registers a listener. The returned function unsubscribes and closes the channel.
func (fw *Watcher) Subscribe() (<-chan WatchEvent, func()) {
	fw.subsMu.Lock()
	defer fw.subsMu.Unlock()

	if fw.closed {
		ch := make(chan WatchEvent)
		close(ch)
		return ch, func() {}
	}

	id := fw.nextID
	fw.nextID++
	ch := make(chan WatchEvent, subscriberBuffer)
	fw.subs[id] = ch

	return ch, func() { fw.unsubscribe(id) }
}

func (fw *Watcher) unsubscribe(id int) {
	fw.subsMu.Lock()
	defer fw.subsMu.Unlock()

	if ch, ok := fw.subs[id]; ok {
		close(ch)
		delete(fw.subs, id)
	}
}

// publish fans an event out without blocking on slow subscribers
func (fw *Watcher) publish(event WatchEvent) {
	fw.subsMu.RLock()
	defer fw.subsMu.RUnlock()

	if fw.closed {
		return
	}

	fw.logger.Debug("file changed", zap.String("path", event.Rel), zap.Stringer("kind", event.Kind))
	for id, ch := range fw.subs {
		select {
		case ch <- event:
		default:
			fw.logger.Warn("subscriber lagging, event dropped", zap.Int("subscriber", id), zap.String("path", event.Rel))
		}
	}
}

func (fw *Watcher) isClosed() bool {
	fw.subsMu.RLock()
	defer fw.subsMu.RUnlock()
	return fw.closed
}

// watch is the main event loop. It owns fsw and closes it on exit.
func (fw *Watcher) watch(ctx context.Context, fsw *fsnotify.Watcher, debouncer *Debouncer, stop, done chan struct{}) {
	defer fw.wg.Done()
	defer close(done)
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case <-stop:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !fw.handleEvent(fsw, debouncer, event) {
				return
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			fw.logger.Error("file watcher failed, watching stopped", zap.String("root", fw.root), zap.Error(err))
			return
		}
	}
}

// handleEvent filters and queues one raw event. It returns false when watching must stop.
func (fw *Watcher) handleEvent(fsw *fsnotify.Watcher, debouncer *Debouncer, event fsnotify.Event) bool {
	if filepath.Clean(event.Name) == fw.root && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
		fw.logger.Error("watch root removed, watching stopped", zap.String("root", fw.root))
		return false
	}

	kind, ok := kindOf(event.Op)
	if !ok {
		return true
	}

	rel := fw.relative(event.Name)
	isDir := false
	if kind != Remove {
		if info, err := os.Stat(event.Name); err == nil {
			isDir = info.IsDir()
		}
	}

	if fw.shouldIgnore(rel, isDir) {
		return true
	}

	if isDir {
		// Directories are not reported; newly created ones extend the watch
		if kind == Create {
			if err := fw.addTree(fsw, event.Name); err != nil {
				fw.logger.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
		}
		return true
	}

	debouncer.Add(WatchEvent{
		Path: event.Name,
		Rel:  rel,
		Kind: kind,
		Time: time.Now(),
	})
	return true
}

// addTree adds dir and every non-ignored directory below it
func (fw *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to walk %s: %w", dir, err)
			}
			fw.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		rel := fw.relative(path)
		if rel != "." && fw.shouldIgnore(rel, true) {
			return filepath.SkipDir
		}

		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		fw.logger.Debug("watching directory", zap.String("dir", rel))
		return nil
	})
}

// shouldIgnore checks a root-relative, slash separated path against the ignore set
func (fw *Watcher) shouldIgnore(rel string, isDir bool) bool {
	if rel == "" || rel == "." {
		return false
	}

	for _, pattern := range fw.ignored {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}

	if fw.gitignore != nil {
		if match := fw.gitignore.Relative(rel, isDir); match != nil && match.Ignore() {
			return true
		}
	}

	return false
}

func (fw *Watcher) relative(path string) string {
	rel, err := filepath.Rel(fw.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (fw *Watcher) loadGitignore() gitignore.GitIgnore {
	data, err := os.ReadFile(filepath.Join(fw.root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gitignore.New(strings.NewReader(string(data)), fw.root, nil)
}

// kindOf maps fsnotify operations onto event kinds; remove wins over create over write
func kindOf(op fsnotify.Op) (EventKind, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Remove, true
	case op.Has(fsnotify.Create):
		return Create, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		// touch(1) on an existing file only changes attributes
		return Modify, true
	default:
		return 0, false
	}
}

// Debouncer holds back events for each path until that path has been quiet for duration
type Debouncer struct {
	duration time.Duration
	mutex    sync.Mutex
	timers   map[string]*time.Timer
	pending  map[string]WatchEvent
	gens     map[string]uint64
	callback func(WatchEvent)
	stopped  bool
}

// NewDebouncer creates a new debouncer instance
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]WatchEvent),
		gens:     make(map[string]uint64),
	}
}

// Add queues an event, restarting the quiet period for its path
func (d *Debouncer) Add(event WatchEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}

	if timer, ok := d.timers[event.Path]; ok {
		timer.Stop()
	}

	if prev, ok := d.pending[event.Path]; ok {
		// A file created and removed within one quiet period never existed for a reader
		if prev.Kind == Create && event.Kind == Remove {
			delete(d.pending, event.Path)
			delete(d.timers, event.Path)
			delete(d.gens, event.Path)
			return
		}
		event.Kind = mergeKinds(prev.Kind, event.Kind)
	}
	d.pending[event.Path] = event

	d.gens[event.Path]++
	path, gen := event.Path, d.gens[event.Path]
	d.timers[path] = time.AfterFunc(d.duration, func() {
		d.flush(path, gen)
	})
}

// flush emits the pending event for path unless a newer Add superseded it
func (d *Debouncer) flush(path string, gen uint64) {
	d.mutex.Lock()
	if d.stopped || d.gens[path] != gen {
		d.mutex.Unlock()
		return
	}
	event, ok := d.pending[path]
	delete(d.pending, path)
	delete(d.timers, path)
	delete(d.gens, path)
	callback := d.callback
	d.mutex.Unlock()

	if ok && callback != nil {
		callback(event)
	}
}

// SetCallback sets the callback function
func (d *Debouncer) SetCallback(callback func(WatchEvent)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.callback = callback
}

// Pending returns the number of paths waiting for their quiet period to end
func (d *Debouncer) Pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.pending)
}

// Stop cancels every pending event
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	for path, timer := range d.timers {
		timer.Stop()
		delete(d.timers, path)
	}
	d.pending = make(map[string]WatchEvent)
}

// mergeKinds folds a new event kind into one already pending for the same path
func mergeKinds(prev, next EventKind) EventKind {
	switch {
	case next == Remove:
		return Remove
	case prev == Create && next == Modify:
		return Create
	case prev == Remove && next == Create:
		// delete-then-create is how many editors save
		return Modify
	default:
		return next
	}
}
