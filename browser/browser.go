// Package browser drives a Chrome session for pages that only render their
// images with JavaScript.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"comicvault/config"
	"comicvault/scrapeerr"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Element is a handle to a rendered DOM node. Handles go stale when the page
// replaces the node; operations then fail with scrapeerr.ErrStaleReference.
type Element interface {
	Attribute(ctx context.Context, name string) (string, error)
	Click(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Page is an open browser session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	SimulateHumanInteraction(ctx context.Context) error
	FindFirst(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	WaitAll(ctx context.Context, selector string, timeout time.Duration) ([]Element, error)
	Close() error
}

// Opener starts browser sessions. Every opened Page must be closed by the caller.
type Opener interface {
	Open(ctx context.Context) (Page, error)
}

// Launcher opens local Chrome sessions.
type Launcher struct {
	cfg config.BrowserConfig
}

func NewLauncher(cfg config.BrowserConfig) *Launcher {
	return &Launcher{cfg: cfg}
}

// Open starts Chrome with the anti automation flags and returns the session.
func (l *Launcher) Open(ctx context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("incognito", true),
		chromedp.UserAgent(l.cfg.UserAgent),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:    browserCtx,
		cancel: func() { cancelBrowser(); cancelAlloc() },
		cfg:    l.cfg,
		sleep:  sleepCtx,
	}
	// a cancelled caller tears the browser down with it
	s.stop = context.AfterFunc(ctx, s.cancel)

	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	log.Printf("[BROWSER] Session started (headless: %v)", l.cfg.Headless)
	return s, nil
}

// Session is a chromedp backed Page.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool
	once   sync.Once
	cfg    config.BrowserConfig
	sleep  func(context.Context, time.Duration) error
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := chromedp.Run(s.ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// SimulateHumanInteraction pauses, scrolls to the bottom, pauses, scrolls back
// up and pauses again, with each pause drawn from the configured ranges.
func (s *Session) SimulateHumanInteraction(ctx context.Context) error {
	steps := []struct {
		pause  config.Range
		script string
	}{
		{s.cfg.PauseBefore, `window.scrollTo(0, document.body.scrollHeight)`},
		{s.cfg.PauseScroll, `window.scrollTo(0, 0)`},
		{s.cfg.PauseAfter, ""},
	}

	for _, step := range steps {
		if err := s.sleep(ctx, randomPause(step.pause)); err != nil {
			return err
		}
		if step.script == "" {
			continue
		}
		if err := chromedp.Run(s.ctx, chromedp.Evaluate(step.script, nil)); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
	}
	return nil
}

func (s *Session) FindFirst(ctx context.Context, selector string) (Element, error) {
	all, err := s.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%s: %w", selector, scrapeerr.ErrNotFound)
	}
	return all[0], nil
}

func (s *Session) FindAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := chromedp.Run(s.ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	return s.wrap(nodes), nil
}

// WaitAll blocks until at least one node matches selector or timeout elapses.
func (s *Session) WaitAll(ctx context.Context, selector string, timeout time.Duration) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(tctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll))
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s after %v: %w", selector, timeout, scrapeerr.ErrTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("wait %s: %w", selector, err)
	}
	return s.wrap(nodes), nil
}

// Close stops Chrome. It is safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.cancel()
		log.Printf("[BROWSER] Session closed")
	})
	return nil
}

func (s *Session) wrap(nodes []*cdp.Node) []Element {
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &node{session: s, id: n.NodeID})
	}
	return out
}

type node struct {
	session *Session
	id      cdp.NodeID
}

func (n *node) Attribute(ctx context.Context, name string) (string, error) {
	var value string
	err := n.run(ctx, func(ctx context.Context) error {
		attrs, err := dom.GetAttributes(n.id).Do(ctx)
		if err != nil {
			return err
		}
		for i := 0; i+1 < len(attrs); i += 2 {
			if attrs[i] == name {
				value = attrs[i+1]
				return nil
			}
		}
		return fmt.Errorf("attribute %q: %w", name, scrapeerr.ErrNotFound)
	})
	return value, err
}

func (n *node) Click(ctx context.Context) error {
	return n.run(ctx, func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithNodeID(n.id).Do(ctx); err != nil {
			return err
		}
		box, err := dom.GetBoxModel().WithNodeID(n.id).Do(ctx)
		if err != nil {
			return err
		}
		x, y, w, h := quadBounds(box.Border)
		return chromedp.MouseClickXY(x+w/2, y+h/2).Do(ctx)
	})
}

// Screenshot captures the node's border box as PNG.
func (n *node) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := n.run(ctx, func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(n.id).Do(ctx)
		if err != nil {
			return err
		}
		_, _, _, _, visual, _, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		clip, ok := documentClip(box.Border, visual)
		if !ok {
			return fmt.Errorf("element has no visible area: %w", scrapeerr.ErrNotFound)
		}
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithClip(clip).
			Do(ctx)
		return err
	})
	return buf, err
}

func (n *node) run(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := chromedp.Run(n.session.ctx, chromedp.ActionFunc(fn))
	if isStale(err) {
		return fmt.Errorf("node %d: %w", n.id, scrapeerr.ErrStaleReference)
	}
	return err
}

func isStale(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"Could not find node with given id", "No node with given id", "Node is detached", "does not belong to the document"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func quadBounds(q dom.Quad) (x, y, w, h float64) {
	if len(q) < 8 {
		return 0, 0, 0, 0
	}
	minX, maxX, minY, maxY := q[0], q[0], q[1], q[1]
	for i := 2; i < len(q); i += 2 {
		minX, maxX = min(minX, q[i]), max(maxX, q[i])
		minY, maxY = min(minY, q[i+1]), max(maxY, q[i+1])
	}
	return minX, minY, maxX - minX, maxY - minY
}

// documentClip converts a viewport relative border quad into the document
// coordinates CaptureScreenshot clips with.
func documentClip(q dom.Quad, visual *page.VisualViewport) (*page.Viewport, bool) {
	x, y, w, h := quadBounds(q)
	if w == 0 || h == 0 {
		return nil, false
	}
	if visual != nil {
		x += visual.PageX
		y += visual.PageY
	}
	return &page.Viewport{X: x, Y: y, Width: w, Height: h, Scale: 1}, true
}

func randomPause(r config.Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int64N(int64(r.Max-r.Min)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
