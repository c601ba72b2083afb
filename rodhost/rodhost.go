// Package rodhost drives a live Chrome page through go-rod and exposes it
// to parsed documents as a layout metrics and environment provider.
//
// A plain parsed document has no layout, so size locking and skeleton box
// matching stay dormant. A rodhost Page bridges that gap: Box measurements
// run getComputedStyle and getBoundingClientRect inside the real page, and
// ReducedMotion reflects the browser's prefers-reduced-motion media query.
//
//	host, err := rodhost.Connect(ctx, rodhost.Config{})
//	page, err := host.OpenPage(ctx, "https://shop.example/cart")
//	doc, err := page.Document(ctx) // metrics and environment pre-wired
package rodhost

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// StealthLevel controls how pages are opened.
type StealthLevel int

const (
	LevelPlain    StealthLevel = iota // headless, no stealth patches
	LevelHeadless                     // headless with stealth patches
	LevelHeadful                      // headful under Xvfb with stealth patches
)

// Config configures the browser host.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Stealth sets how pages are opened. The zero value is a plain
	// headless page.
	Stealth StealthLevel

	// BlockResources lists resource types to drop on every page
	// (images, fonts, media, stylesheets). Measurement only needs
	// layout, so blocking heavy resources speeds navigation up.
	BlockResources []string

	// NavigateTimeout bounds Navigate plus the load wait. Default: 30s.
	NavigateTimeout time.Duration

	// EvalTimeout bounds each measurement script. Default: 5s.
	EvalTimeout time.Duration

	// PollInterval is the resize observation cadence. Default: 250ms.
	PollInterval time.Duration

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Host owns one Chrome instance, launched locally or attached remotely.
type Host struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

// Connect launches a local Chrome (or attaches to cfg.RemoteURL) and
// returns a Host ready to open pages.
func Connect(ctx context.Context, cfg Config) (*Host, error) {
	cfg.defaults()
	h := &Host{cfg: cfg}
	if err := h.launch(ctx); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Host) launch(ctx context.Context) error {
	log := h.cfg.Logger

	if h.cfg.Stealth == LevelHeadful {
		if err := h.startXvfb(); err != nil {
			return err
		}
	}

	var wsURL string
	if h.cfg.RemoteURL != "" {
		wsURL = h.cfg.RemoteURL
		log.Info("rodhost: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New()
		if h.cfg.Stealth == LevelHeadful {
			l = l.Headless(false).Env("DISPLAY", h.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodhost: launch: %w", err)
		}
		wsURL = u
		h.lnch = l
		log.Info("rodhost: launched local chrome", "url", wsURL, "stealth", h.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("rodhost: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("rodhost: ignore cert errors failed", "error", err)
	}
	h.browser = b
	return nil
}

// Browser returns the underlying Rod handle, nil after Close.
func (h *Host) Browser() *rod.Browser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.browser
}

// OpenPage opens a tab, navigates it to pageURL, and waits for the load
// event. A load wait timeout is logged, not fatal; layout is usually
// stable well before slow subresources finish.
func (h *Host) OpenPage(ctx context.Context, pageURL string) (*Page, error) {
	h.mu.Lock()
	b := h.browser
	closed := h.closed
	h.mu.Unlock()
	if closed || b == nil {
		return nil, fmt.Errorf("rodhost: host is closed")
	}

	var page *rod.Page
	var err error
	if h.cfg.Stealth >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("rodhost: create page: %w", err)
	}

	if len(h.cfg.BlockResources) > 0 {
		blockResources(page, h.cfg.BlockResources)
	}

	navCtx, cancel := context.WithTimeout(ctx, h.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("rodhost: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		h.cfg.Logger.Warn("rodhost: wait load timeout", "url", pageURL, "error", err)
	}

	pctx, pcancel := context.WithCancel(context.Background())
	return &Page{
		page:         page,
		url:          pageURL,
		log:          h.cfg.Logger,
		evalTimeout:  h.cfg.EvalTimeout,
		pollInterval: h.cfg.PollInterval,
		ctx:          pctx,
		cancel:       pcancel,
	}, nil
}

// Close shuts down Chrome and Xvfb. Pages opened from this host stop
// working; close them first.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.browser != nil {
		h.browser.Close()
		h.browser = nil
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
		h.lnch = nil
	}
	h.stopXvfb()
	return nil
}
