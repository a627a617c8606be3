package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxBody = 8 << 20

// HTTPOptions parameterise the plain HTTP gateway.
type HTTPOptions struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

// HTTP is a browserless gateway: pages are fetched with a single GET and
// only native collectors can be injected. Useful for static shop pages and
// for tests.
type HTTP struct {
	opts   HTTPOptions
	client *http.Client
	logger zerolog.Logger
	seq    atomic.Int64
}

type httpPage struct {
	id     string
	url    string
	status int
	body   []byte

	mu         sync.Mutex
	collectors map[string]NativeFunc
	closed     bool
}

func (p *httpPage) ID() string  { return p.id }
func (p *httpPage) URL() string { return p.url }

// NewHTTP constructs an HTTP gateway.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &HTTP{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "gateway_http").Logger(),
	}
}

// Open fetches the page body.
func (g *HTTP) Open(ctx context.Context, address string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", address, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", address, resp.StatusCode)
	}

	page := &httpPage{
		id:         fmt.Sprintf("http-%d", g.seq.Add(1)),
		url:        address,
		status:     resp.StatusCode,
		body:       body,
		collectors: make(map[string]NativeFunc),
	}
	g.logger.Debug().Str("page", page.id).Str("url", address).Int("bytes", len(body)).Msg("page fetched")
	return page, nil
}

// Activate is a no-op; there is no tab to focus.
func (g *HTTP) Activate(ctx context.Context, page Page) error {
	_, err := g.page(page)
	return err
}

// WaitForLoad returns immediately since Open already read the whole body.
func (g *HTTP) WaitForLoad(ctx context.Context, page Page, timeout time.Duration) error {
	_, err := g.page(page)
	return err
}

// Inject registers the native side of the collector on the page.
func (g *HTTP) Inject(ctx context.Context, page Page, c Collector) error {
	p, err := g.page(page)
	if err != nil {
		return err
	}
	if c.Native == nil {
		return fmt.Errorf("collector %q has no native implementation", c.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("inject into closed page %s", p.id)
	}
	p.collectors[c.Name] = c.Native
	return nil
}

// Send invokes the injected native collector, or reports ErrConnection.
func (g *HTTP) Send(ctx context.Context, page Page, req Request) (Response, error) {
	p, err := g.page(page)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	fn, ok := p.collectors[req.Collector]
	closed := p.closed
	p.mu.Unlock()
	if closed || !ok {
		return nil, fmt.Errorf("%w: %q on %s", ErrConnection, req.Collector, p.id)
	}
	return fn(ctx, Document{URL: p.url, Body: p.body}, req)
}

// Close drops the page body.
func (g *HTTP) Close(ctx context.Context, page Page) error {
	p, err := g.page(page)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.closed = true
	p.body = nil
	p.mu.Unlock()
	return nil
}

func (g *HTTP) page(page Page) (*httpPage, error) {
	p, ok := page.(*httpPage)
	if !ok || p == nil {
		return nil, ErrUnknownPage
	}
	return p, nil
}

var _ Gateway = (*HTTP)(nil)
