package downloader

import (
	"context"
	"net/url"
	"strings"

	"rigcount/pkg/common"
	"rigcount/pkg/display"
)

// SourceSetting is the setting name reported when the source location is invalid.
const SourceSetting = "SourceFileLocation"

// Redact returns uri with any password replaced by "xxxxx". Strings that do
// not parse as a URL are returned unchanged.
func Redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.Redacted()
}

// Mutable during setup, read-only once loads start.
type manager struct {
	handlers map[string]SchemeHandler
	disp     display.Display
}

// NewDefaultLoader returns a Loader for http and https backed by a shared client.
func NewDefaultLoader(disp display.Display) Loader {
	return NewLoader(disp, NewHTTPHandler())
}

// NewLoader returns a Loader dispatching on the handlers' schemes.
func NewLoader(disp display.Display, handlers ...SchemeHandler) Loader {
	if disp == nil {
		disp = display.Discard()
	}
	m := &manager{
		handlers: make(map[string]SchemeHandler),
		disp:     disp,
	}
	for _, h := range handlers {
		m.Register(h)
	}
	return m
}

func (m *manager) Register(h SchemeHandler) {
	for _, scheme := range h.Schemes() {
		m.handlers[scheme] = h
	}
}

func (m *manager) Load(ctx context.Context, uri string) (*DataStream, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, common.NewConfigError(SourceSetting, "missing source file location")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, common.NewConfigError(SourceSetting, "invalid uri %q: %v", uri, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, common.NewConfigError(SourceSetting, "uri %q is not absolute", uri)
	}

	scheme := strings.ToLower(u.Scheme)
	handler, ok := m.handlers[scheme]
	if !ok {
		return nil, common.NewConfigError(SourceSetting, "unsupported scheme: %s", scheme)
	}

	task := m.disp.StartTask(u.Host)
	defer task.Done()
	task.SetStage("Fetch", u.Redacted())

	return handler.Load(ctx, u, task)
}
