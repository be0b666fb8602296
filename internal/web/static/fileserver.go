package static

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/logging"
)

// DefaultEntryFile is served for "/" and as the fallback for unknown paths
const DefaultEntryFile = "index.html"

// contentTypes maps lower-case extensions to Content-Type values
var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".mjs":   "application/javascript; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".map":   "application/json; charset=utf-8",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".txt":   "text/plain; charset=utf-8",
	".xml":   "application/xml; charset=utf-8",
	".wasm":  "application/wasm",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".pdf":   "application/pdf",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
}

// Injector rewrites HTML documents before they are sent
type Injector interface {
	Inject(html []byte) []byte
}

// Config holds configuration for the static responder
type Config struct {
	// Root is the directory to serve files from
	Root string

	// EntryFile is served for "/" and for paths that do not exist (default: "index.html")
	EntryFile string

	// Injector, when set, rewrites every HTML response
	Injector Injector

	Logger *zap.Logger
}

// Responder serves files below a root directory with single-page-app fallback
type Responder struct {
	root     string
	realRoot string
	entry    string
	injector Injector
	logger   *zap.Logger
}

// NewResponder validates the config and creates a responder
func NewResponder(cfg Config) (*Responder, error) {
	if cfg.Root == "" {
		return nil, errors.New("static root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve static root: %w", err)
	}

	entry := cfg.EntryFile
	if entry == "" {
		entry = DefaultEntryFile
	}
	entryPath := filepath.Join(root, filepath.FromSlash(entry))
	if !within(root, entryPath) || entryPath == root {
		return nil, fmt.Errorf("entry file %q must be inside the root", entry)
	}

	// Symlinks are checked against the root's real location
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve static root: %w", err)
	}

	return &Responder{
		root:     root,
		realRoot: realRoot,
		entry:    entryPath,
		injector: cfg.Injector,
		logger:   logging.OrNop(cfg.Logger),
	}, nil
}

// Root returns the absolute directory being served
func (rs *Responder) Root() string {
	return rs.root
}

// ServeHTTP implements http.Handler
func (rs *Responder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only allow GET and HEAD requests
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filePath, status := rs.resolve(r.URL.Path)
	switch status {
	case http.StatusForbidden:
		rs.logger.Warn("path escapes root", zap.String("path", r.URL.Path))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case http.StatusNotFound:
		rs.logger.Debug("not found", zap.String("path", r.URL.Path))
		http.NotFound(w, r)
		return
	case http.StatusInternalServerError:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		rs.logger.Error("failed to read file", zap.String("file", filePath), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	contentType := ContentType(filePath)
	if rs.injector != nil && isHTML(filePath) {
		body = rs.injector.Inject(body)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		rs.logger.Debug("write aborted", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// resolve maps a request path onto a file. The status is 200 when a file was found.
func (rs *Responder) resolve(urlPath string) (string, int) {
	if urlPath == "" || urlPath == "/" {
		return rs.fallback()
	}

	// Join cleans the path, so ".." segments are resolved before the containment check
	filePath := filepath.Join(rs.root, filepath.FromSlash(urlPath))
	if !within(rs.root, filePath) {
		return "", http.StatusForbidden
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if isMissing(err) {
			return rs.fallback()
		}
		rs.logger.Error("failed to stat file", zap.String("file", filePath), zap.Error(err))
		return "", http.StatusInternalServerError
	}

	if info.IsDir() {
		index := filepath.Join(filePath, filepath.Base(rs.entry))
		if indexInfo, err := os.Stat(index); err == nil && !indexInfo.IsDir() {
			return rs.confine(index)
		}
		return rs.fallback()
	}

	return rs.confine(filePath)
}

// fallback serves the root entry file when it exists
func (rs *Responder) fallback() (string, int) {
	info, err := os.Stat(rs.entry)
	if err != nil || info.IsDir() {
		return "", http.StatusNotFound
	}
	return rs.confine(rs.entry)
}

// confine rejects an existing path whose symlinks lead outside the root
func (rs *Responder) confine(path string) (string, int) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if isMissing(err) {
			return "", http.StatusNotFound
		}
		rs.logger.Error("failed to resolve file", zap.String("file", path), zap.Error(err))
		return "", http.StatusInternalServerError
	}
	if !within(rs.realRoot, resolved) {
		return "", http.StatusForbidden
	}
	return path, http.StatusOK
}

// ContentType returns the Content-Type for a file name. Unknown extensions are binary.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func isHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}

// within reports whether path is root or below it
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isMissing treats "not a directory" (a file used as a path segment) like a missing file
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
