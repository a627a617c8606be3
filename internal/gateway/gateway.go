// Package gateway abstracts the page automation surface the orchestration
// engine drives: opening pages, waiting for them to load, injecting a
// collector and exchanging requests with it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrConnection means no collector answered on the page. Injecting the
	// collector and retrying is the expected remedy.
	ErrConnection = errors.New("gateway: collector not reachable")
	// ErrLoadTimeout is informational: the load wait hit its bound and the
	// caller may proceed with whatever content is present.
	ErrLoadTimeout = errors.New("gateway: page load wait timed out")
	// ErrUnknownPage is returned for handles this gateway did not open.
	ErrUnknownPage = errors.New("gateway: unknown page handle")
)

// Page is an opaque handle to an open page.
type Page interface {
	ID() string
	URL() string
}

// Request is delivered to the collector named in Collector.
type Request struct {
	Collector string         `json:"collector"`
	Action    string         `json:"action"`
	Options   map[string]any `json:"options,omitempty"`
}

// Response is the raw collector reply.
type Response = json.RawMessage

// Document is what a native collector sees of a page.
type Document struct {
	URL  string
	Body []byte
}

// NativeFunc is a collector implemented in Go for gateways that cannot run
// page scripts.
type NativeFunc func(ctx context.Context, doc Document, req Request) (Response, error)

// Collector references the in-page logic able to answer requests. Script is
// a JS function expression that installs window[Name]; Native serves the
// same protocol without a browser.
type Collector struct {
	Name   string
	Script string
	Native NativeFunc
}

// Gateway is the page automation capability.
type Gateway interface {
	Open(ctx context.Context, address string) (Page, error)
	Activate(ctx context.Context, page Page) error
	// WaitForLoad never fails hard: a timeout is reported as ErrLoadTimeout
	// and the page stays usable.
	WaitForLoad(ctx context.Context, page Page, timeout time.Duration) error
	Inject(ctx context.Context, page Page, collector Collector) error
	Send(ctx context.Context, page Page, req Request) (Response, error)
	Close(ctx context.Context, page Page) error
}
