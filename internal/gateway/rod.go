package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
)

// sendJS calls the installed collector. A missing collector yields null so
// the caller can tell "nobody listening" apart from a collector error.
const sendJS = `async (name, raw) => {
	const c = window[name];
	if (typeof c !== 'function') { return null; }
	const reply = await c(JSON.parse(raw));
	return JSON.stringify(reply);
}`

// RodOptions configure the Chrome-backed gateway.
type RodOptions struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome. Empty
	// launches a local one.
	RemoteURL string
	Headless  bool
	// Stealth patches the usual automation fingerprints on every new page.
	Stealth bool
	// ResourceBlocking lists resource classes to drop: images, fonts, media, stylesheets.
	ResourceBlocking []string
	NavigateTimeout  time.Duration
}

// Rod drives pages in a real browser through go-rod.
type Rod struct {
	opts   RodOptions
	logger zerolog.Logger
	seq    atomic.Int64

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

type rodPage struct {
	id     string
	url    string
	page   *rod.Page
	router *rod.HijackRouter
}

func (p *rodPage) ID() string  { return p.id }
func (p *rodPage) URL() string { return p.url }

// NewRod creates the gateway; call Start before use.
func NewRod(opts RodOptions, logger zerolog.Logger) *Rod {
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 45 * time.Second
	}
	return &Rod{opts: opts, logger: logger.With().Str("component", "gateway_rod").Logger()}
}

// Start launches Chrome (or connects to RemoteURL).
func (g *Rod) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errors.New("gateway: rod gateway is closed")
	}
	if g.browser != nil {
		return nil
	}

	wsURL := g.opts.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(g.opts.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		wsURL = u
		g.lnch = l
		g.logger.Info().Str("url", wsURL).Bool("headless", g.opts.Headless).Msg("launched local chrome")
	} else {
		g.logger.Info().Str("url", wsURL).Msg("connecting to remote chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		g.cleanupLocked()
		return fmt.Errorf("connect chrome: %w", err)
	}
	g.browser = b
	return nil
}

// Shutdown closes the browser and any launched Chrome process.
func (g *Rod) Shutdown() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.cleanupLocked()
	return nil
}

func (g *Rod) cleanupLocked() {
	if g.browser != nil {
		if err := g.browser.Close(); err != nil {
			g.logger.Warn().Err(err).Msg("close browser")
		}
		g.browser = nil
	}
	if g.lnch != nil {
		g.lnch.Cleanup()
		g.lnch = nil
	}
}

func (g *Rod) handle() (*rod.Browser, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.browser == nil {
		return nil, errors.New("gateway: browser not started")
	}
	return g.browser, nil
}

// Open creates a background tab and navigates it to address.
func (g *Rod) Open(ctx context.Context, address string) (Page, error) {
	b, err := g.handle()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if g.opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}

	p := &rodPage{id: fmt.Sprintf("tab-%d", g.seq.Add(1)), url: address, page: page}
	if len(g.opts.ResourceBlocking) > 0 {
		p.router = blockResources(page, g.opts.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, g.opts.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(address); err != nil {
		g.closePage(p)
		return nil, fmt.Errorf("navigate %s: %w", address, err)
	}
	return p, nil
}

// Activate brings the tab to the foreground.
func (g *Rod) Activate(ctx context.Context, page Page) error {
	p, err := g.page(page)
	if err != nil {
		return err
	}
	if _, err := p.page.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("activate %s: %w", p.id, err)
	}
	return nil
}

// WaitForLoad waits for the load event for at most timeout.
func (g *Rod) WaitForLoad(ctx context.Context, page Page, timeout time.Duration) error {
	p, err := g.page(page)
	if err != nil {
		return err
	}
	if err := p.page.Context(ctx).Timeout(timeout).WaitLoad(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLoadTimeout, p.id, err)
	}
	return nil
}

// Inject evaluates the collector script in the page.
func (g *Rod) Inject(ctx context.Context, page Page, c Collector) error {
	p, err := g.page(page)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Script) == "" {
		return fmt.Errorf("collector %q has no page script", c.Name)
	}
	if _, err := p.page.Context(ctx).Eval(c.Script); err != nil {
		return fmt.Errorf("inject %q into %s: %w", c.Name, p.id, err)
	}
	return nil
}

// Send calls the page collector and returns its JSON reply.
func (g *Rod) Send(ctx context.Context, page Page, req Request) (Response, error) {
	p, err := g.page(page)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	res, err := p.page.Context(ctx).Eval(sendJS, req.Collector, string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, p.id, err)
	}
	if res.Value.Nil() {
		return nil, fmt.Errorf("%w: %q on %s", ErrConnection, req.Collector, p.id)
	}
	return Response(res.Value.Str()), nil
}

// Close closes the tab.
func (g *Rod) Close(ctx context.Context, page Page) error {
	p, err := g.page(page)
	if err != nil {
		return err
	}
	return g.closePage(p)
}

func (g *Rod) closePage(p *rodPage) error {
	if p.router != nil {
		_ = p.router.Stop()
	}
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("close %s: %w", p.id, err)
	}
	return nil
}

func (g *Rod) page(page Page) (*rodPage, error) {
	p, ok := page.(*rodPage)
	if !ok || p == nil || p.page == nil {
		return nil, ErrUnknownPage
	}
	return p, nil
}

// blockResources hijacks requests on page and fails the configured classes.
func blockResources(page *rod.Page, classes []string) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]bool, len(classes))
	for _, c := range classes {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "images", "image":
			blocked[proto.NetworkResourceTypeImage] = true
		case "fonts", "font":
			blocked[proto.NetworkResourceTypeFont] = true
		case "media":
			blocked[proto.NetworkResourceTypeMedia] = true
		case "stylesheets", "stylesheet":
			blocked[proto.NetworkResourceTypeStylesheet] = true
		}
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

var _ Gateway = (*Rod)(nil)
