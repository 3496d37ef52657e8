// Package downloader retrieves remote resources into memory.
// It supports multiple schemes through handlers (HTTP and HTTPS by default) and
// reports progress via the display package.
package downloader

import (
	"bytes"
	"context"
	"net/url"

	"rigcount/pkg/display"
)

// DataStream is the result of a successful fetch. The content is fully
// buffered and positioned at offset 0, so it stays valid after the underlying
// connection is gone. The caller owns it exclusively.
type DataStream struct {
	// URI is the location the stream was fetched from, password redacted.
	URI string
	// MediaType is the media-type token of the Content-Type header, lowercased
	// and without parameters. Empty if the source did not declare one.
	MediaType string
	// Size is the number of decoded bytes in Content.
	Size    int64
	Content *bytes.Reader
}

// Loader manages the retrieval of resources from various URIs.
type Loader interface {
	// Load fetches the resource at uri. A missing or malformed uri fails with a
	// *common.ConfigError before any network call; every failure during the
	// fetch is a *common.TransferError. A failed fetch never yields a DataStream.
	Load(ctx context.Context, uri string) (*DataStream, error)
}

// SchemeHandler defines the interface for handling specific URI schemes.
type SchemeHandler interface {
	// Load executes the fetch for a URI supported by this handler.
	Load(ctx context.Context, u *url.URL, task display.Task) (*DataStream, error)
	// Schemes returns the list of URI schemes (e.g., ["http", "https"]) this handler can process.
	Schemes() []string
}
