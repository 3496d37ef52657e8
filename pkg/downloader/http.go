package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"rigcount/pkg/common"
	"rigcount/pkg/display"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/publicsuffix"
)

// DefaultTimeout bounds a whole fetch, from request to the last body byte.
const DefaultTimeout = 2 * time.Minute

// browserHeaders mimic a desktop browser navigation. Some servers reject
// requests that do not look like one.
var browserHeaders = [][2]string{
	{"User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
	{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"},
	{"Accept-Language", "en-US,en;q=0.9"},
	{"Accept-Encoding", "gzip, deflate, br"},
	{"Sec-Fetch-Dest", "document"},
	{"Sec-Fetch-Mode", "navigate"},
	{"Sec-Fetch-Site", "none"},
	{"Sec-Fetch-User", "?1"},
	{"Upgrade-Insecure-Requests", "1"},
	{"Cache-Control", "max-age=0"},
}

// BrowserHeader returns a fresh copy of the header set sent with every request.
func BrowserHeader() http.Header {
	h := make(http.Header, len(browserHeaders))
	for _, kv := range browserHeaders {
		h.Set(kv[0], kv[1])
	}
	return h
}

// NewClient returns the long-lived client shared by HTTP handlers. It keeps
// cookies across redirects the way a browser would.
func NewClient() *http.Client {
	// cookiejar.New never fails.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Jar:     jar,
		Timeout: 0, // Handled by context
	}
}

// HTTPOption configures an HTTP handler at construction.
type HTTPOption func(*httpHandler)

// WithClient makes the handler issue requests through client.
func WithClient(client *http.Client) HTTPOption {
	return func(h *httpHandler) {
		h.client = client
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *httpHandler) {
		h.timeout = d
	}
}

// Immutable
type httpHandler struct {
	client  *http.Client
	header  http.Header
	timeout time.Duration
}

func NewHTTPHandler(opts ...HTTPOption) SchemeHandler {
	h := &httpHandler{
		header:  BrowserHeader(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = NewClient()
	}
	return h
}

func (h *httpHandler) Schemes() []string {
	return []string{"http", "https"}
}

func (h *httpHandler) Load(ctx context.Context, u *url.URL, task display.Task) (*DataStream, error) {
	// Only the request sees the password; errors and logs get the redacted form.
	uri := u.Redacted()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, classify(ctx, uri, err)
	}
	// Replaces every default header; Go only adds Host and connection framing.
	req.Header = h.header.Clone()

	// Do returns once the headers are in; the body is streamed below.
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classify(ctx, uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &common.TransferError{
			URI:     uri,
			Message: fmt.Sprintf("HTTP request error when downloading from %s", uri),
			Err:     fmt.Errorf("bad status: %s", resp.Status),
		}
	}

	pw := &progressWriter{
		task:  task,
		total: resp.ContentLength,
		start: time.Now(),
	}

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), io.TeeReader(resp.Body, pw))
	if errors.Is(err, io.EOF) {
		return nil, emptyResponse(uri)
	}
	if err != nil {
		return nil, classify(ctx, uri, err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, classify(ctx, uri, err)
	}

	if buf.Len() == 0 {
		return nil, emptyResponse(uri)
	}

	task.Log(fmt.Sprintf("fetched %s from %s", humanize.Bytes(uint64(buf.Len())), uri))

	return &DataStream{
		URI:       uri,
		MediaType: mediaType(resp.Header.Get("Content-Type")),
		Size:      int64(buf.Len()),
		Content:   bytes.NewReader(buf.Bytes()),
	}, nil
}

func emptyResponse(uri string) error {
	return &common.TransferError{
		URI:     uri,
		Message: fmt.Sprintf("empty response when downloading from %s", uri),
	}
}

// classify maps a fetch failure to a TransferError. The request context is
// consulted first: once it is done, whatever the transport returned is a
// consequence of the timeout or the cancellation.
func classify(ctx context.Context, uri string, err error) error {
	var msg string
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		msg = "request timed out when downloading from %s"
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		msg = "request cancelled when downloading from %s"
	case isTransportError(err):
		msg = "HTTP request error when downloading from %s"
	default:
		msg = "unexpected error when downloading from %s"
	}
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		err = fmt.Errorf("%w: %v", cerr, err)
	}
	return &common.TransferError{
		URI:     uri,
		Message: fmt.Sprintf(msg, uri),
		Err:     err,
	}
}

func isTransportError(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// mediaType extracts the media-type token from a Content-Type value.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		return strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

// Mutable
type progressWriter struct {
	task    display.Task
	total   int64
	written int64
	start   time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += int64(n)

	if pw.total > 0 {
		percent := int((float64(pw.written) / float64(pw.total)) * 100)
		elapsed := time.Since(pw.start).Seconds()
		speed := float64(pw.written) / elapsed
		msg := fmt.Sprintf("%s / %s (%s/s)",
			humanize.Bytes(uint64(pw.written)),
			humanize.Bytes(uint64(pw.total)),
			humanize.Bytes(uint64(speed)))
		pw.task.Progress(percent, msg)
	} else {
		pw.task.Progress(0, fmt.Sprintf("%s downloaded", humanize.Bytes(uint64(pw.written))))
	}

	return n, nil
}
