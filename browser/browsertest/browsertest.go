// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"comicvault/browser"
	"comicvault/scrapeerr"
)

// Element is a scripted element. Fields are read on every call, so tests can
// mutate them between attempts.
type Element struct {
	Attrs      map[string]string
	Stale      bool
	Image      []byte
	OnClick    func()
	ClickError error
}

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	if e.Stale {
		return "", scrapeerr.ErrStaleReference
	}
	v, ok := e.Attrs[name]
	if !ok {
		return "", fmt.Errorf("attribute %q: %w", name, scrapeerr.ErrNotFound)
	}
	return v, nil
}

func (e *Element) Click(ctx context.Context) error {
	if e.Stale {
		return scrapeerr.ErrStaleReference
	}
	if e.ClickError != nil {
		return e.ClickError
	}
	if e.OnClick != nil {
		e.OnClick()
	}
	return nil
}

func (e *Element) Screenshot(ctx context.Context) ([]byte, error) {
	if e.Stale {
		return nil, scrapeerr.ErrStaleReference
	}
	if e.Image == nil {
		return nil, scrapeerr.ErrNotFound
	}
	return e.Image, nil
}

// Page serves elements per URL and selector. Dynamic lookups go through
// Resolve when set, which lets a test change the DOM after a click.
type Page struct {
	mu       sync.Mutex
	Browser  *Browser
	Current  string
	Elements map[string]map[string][]*Element
	Resolve  func(url, selector string) []*Element
	closed   bool
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Browser != nil && p.Browser.NavigateError != nil {
		return p.Browser.NavigateError(url)
	}
	p.Current = url
	if p.Browser != nil {
		p.Browser.record(url)
	}
	return nil
}

func (p *Page) SimulateHumanInteraction(ctx context.Context) error { return ctx.Err() }

func (p *Page) lookup(selector string) []*Element {
	if p.Resolve != nil {
		return p.Resolve(p.Current, selector)
	}
	return p.Elements[p.Current][selector]
}

func (p *Page) FindFirst(ctx context.Context, selector string) (browser.Element, error) {
	els := p.lookup(selector)
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", selector, scrapeerr.ErrNotFound)
	}
	return els[0], nil
}

func (p *Page) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	return toElements(p.lookup(selector)), nil
}

func (p *Page) WaitAll(ctx context.Context, selector string, timeout time.Duration) ([]browser.Element, error) {
	els := p.lookup(selector)
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", selector, scrapeerr.ErrTimeout)
	}
	return toElements(els), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed && p.Browser != nil {
		p.Browser.mu.Lock()
		p.Browser.Closed++
		p.Browser.mu.Unlock()
	}
	p.closed = true
	return nil
}

func toElements(els []*Element) []browser.Element {
	out := make([]browser.Element, len(els))
	for i, e := range els {
		out[i] = e
	}
	return out
}

// Browser is a browser.Opener handing out Pages built by NewPage.
type Browser struct {
	mu            sync.Mutex
	NewPage       func() *Page
	OpenError     error
	NavigateError func(url string) error
	Opened        int
	Closed        int
	Visited       []string
}

func (b *Browser) Open(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenError != nil {
		return nil, b.OpenError
	}
	b.Opened++
	p := &Page{}
	if b.NewPage != nil {
		p = b.NewPage()
	}
	p.Browser = b
	return p, nil
}

func (b *Browser) record(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Visited = append(b.Visited, url)
}

// VisitedURLs returns a copy of every URL navigated to, in order.
func (b *Browser) VisitedURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Visited...)
}
