package watch

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

// SocketPath is where the client script opens its WebSocket
const SocketPath = "/__liveserve/ws"

// DefaultMaxRetries bounds client reconnection attempts when reconnection is enabled
const DefaultMaxRetries = 10

//go:embed assets/reload.js
var reloadScript string

var reloadTemplate = template.Must(template.New("reload.js").Parse(reloadScript))

// ScriptOptions parameterises the client bootstrap script
type ScriptOptions struct {
	Port       int
	Path       string
	Reconnect  bool
	MaxRetries int
}

// RenderClientScript returns the bootstrap JavaScript for one session
func RenderClientScript(opts ScriptOptions) (string, error) {
	if opts.Port <= 0 || opts.Port > 65535 {
		return "", fmt.Errorf("invalid client port %d", opts.Port)
	}
	if opts.Path == "" {
		opts.Path = SocketPath
	}
	if !strings.HasPrefix(opts.Path, "/") {
		opts.Path = "/" + opts.Path
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	var buf bytes.Buffer
	if err := reloadTemplate.Execute(&buf, opts); err != nil {
		return "", fmt.Errorf("failed to render client script: %w", err)
	}
	return buf.String(), nil
}

// ScriptInjector inserts a rendered script tag into HTML documents
type ScriptInjector struct {
	tag []byte
}

// NewScriptInjector renders the client script and wraps it in a script tag
func NewScriptInjector(opts ScriptOptions) (*ScriptInjector, error) {
	script, err := RenderClientScript(opts)
	if err != nil {
		return nil, err
	}
	return &ScriptInjector{tag: []byte("<script>\n" + script + "</script>\n")}, nil
}

// Tag returns the script element that Inject inserts
func (si *ScriptInjector) Tag() string {
	return string(si.tag)
}

// Inject places the script just before the last </body>, else before the last
// </html>, else at the end of the document. Tag matching ignores case.
func (si *ScriptInjector) Inject(html []byte) []byte {
	at := lastIndexFold(html, []byte("</body>"))
	if at < 0 {
		at = lastIndexFold(html, []byte("</html>"))
	}
	if at < 0 {
		at = len(html)
	}

	out := make([]byte, 0, len(html)+len(si.tag))
	out = append(out, html[:at]...)
	out = append(out, si.tag...)
	out = append(out, html[at:]...)
	return out
}

// lastIndexFold is bytes.LastIndex with ASCII case folding
func lastIndexFold(s, sub []byte) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if bytes.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
