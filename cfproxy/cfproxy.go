package cfproxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/elazarl/goproxy"
	"golang.org/x/net/publicsuffix"
)

const DefaultPort = 23181

// Config holds settings for the proxy
type Config struct {
	Port         int
	Debug        bool
	Headless     bool
	ChromePath   string
	UserAgent    string
	SolveTimeout time.Duration
	CacheTimeout time.Duration
	// Domains lists host fragments whose requests need a clearance cookie.
	Domains []string
}

// ClearanceToken is a solved challenge for one registrable domain.
type ClearanceToken struct {
	Cookie    string
	UserAgent string
	Timestamp time.Time
	Domain    string
}

type clearanceCache struct {
	mu     sync.RWMutex
	tokens map[string]*ClearanceToken
}

func (c *clearanceCache) get(domain string) *ClearanceToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[domain]
}

func (c *clearanceCache) set(domain string, token *ClearanceToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[domain] = token
}

func (c *clearanceCache) invalidate(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, domain)
}

// ProxyServer is a MITM proxy that attaches Cloudflare clearance cookies to
// requests for the configured domains, solving the challenge in Chrome when needed.
type ProxyServer struct {
	config   Config
	server   *http.Server
	listener net.Listener
	cache    *clearanceCache
	solve    func(ctx context.Context, targetURL string) (*ClearanceToken, error)
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewProxyServer creates a new Cloudflare-bypassing proxy server
func NewProxyServer(cfg Config) *ProxyServer {
	if cfg.SolveTimeout == 0 {
		cfg.SolveTimeout = 60 * time.Second
	}
	if cfg.CacheTimeout == 0 {
		cfg.CacheTimeout = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ProxyServer{
		config: cfg,
		cache:  &clearanceCache{tokens: make(map[string]*ClearanceToken)},
		ctx:    ctx,
		cancel: cancel,
	}
	p.solve = p.solveWithChrome
	return p
}

// Addr is the listening address once Start has returned.
func (p *ProxyServer) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Start launches the proxy server. Port 0 picks a free port.
func (p *ProxyServer) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", p.config.Port, err)
	}
	p.listener = ln

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = p.config.Debug
	proxy.OnRequest(goproxy.ReqHostMatches(regexp.MustCompile(".*"))).HandleConnect(goproxy.AlwaysMitm)
	proxy.OnRequest().DoFunc(p.onRequest)
	proxy.OnResponse().DoFunc(p.onResponse)

	p.server = &http.Server{Handler: proxy}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[PROXY] Clearance proxy listening on %s", ln.Addr())
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] Proxy server: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the proxy
func (p *ProxyServer) Stop() error {
	if p.server == nil {
		return nil
	}

	log.Printf("[PROXY] Shutting down")
	p.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.server.Shutdown(ctx)
	p.wg.Wait()
	return err
}

func (p *ProxyServer) onRequest(r *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if p.config.Debug {
		log.Printf("[PROXY] %s %s", r.Method, r.URL)
	}
	if !p.shouldBypass(r.URL.Host) {
		return r, nil
	}

	domain := extractDomain(r.URL.Host)
	token := p.cache.get(domain)
	if token == nil || p.isTokenExpired(token) {
		solved, err := p.solve(p.ctx, r.URL.String())
		if err != nil {
			log.Printf("[ERROR] Failed to solve challenge for %s: %v", domain, err)
			return r, nil
		}
		p.cache.set(domain, solved)
		token = solved
	}

	r.Header.Set("User-Agent", token.UserAgent)
	r.Header.Set("Cookie", token.Cookie)
	return r, nil
}

func (p *ProxyServer) onResponse(resp *http.Response, _ *goproxy.ProxyCtx) *http.Response {
	if resp == nil || resp.Request == nil {
		return resp
	}
	if (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable) && isCloudflarePage(resp) {
		domain := extractDomain(resp.Request.URL.Host)
		p.cache.invalidate(domain)
		log.Printf("[PROXY] Invalidated clearance for %s", domain)
	}
	return resp
}

// solveWithChrome loads targetURL in Chrome until a cf_clearance cookie appears.
func (p *ProxyServer) solveWithChrome(parent context.Context, targetURL string) (*ClearanceToken, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(p.config.UserAgent),
	)
	if p.config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(p.config.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	defer cancelAlloc()
	ctx, cancelCtx := chromedp.NewContext(allocCtx)
	defer cancelCtx()
	ctx, cancel := context.WithTimeout(ctx, p.config.SolveTimeout)
	defer cancel()

	log.Printf("[PROXY] Solving challenge for %s", targetURL)

	var cookies []*network.Cookie
	err := chromedp.Run(ctx,
		chromedp.Navigate(targetURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for {
				found, err := network.GetCookies().Do(ctx)
				if err != nil {
					return err
				}
				if clearance(found) != "" {
					cookies = found
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
				}
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("no cf_clearance for %s: %w", targetURL, err)
	}

	u, _ := url.Parse(targetURL)
	return &ClearanceToken{
		Cookie:    cookieHeader(cookies),
		UserAgent: p.config.UserAgent,
		Timestamp: time.Now(),
		Domain:    extractDomain(u.Host),
	}, nil
}

func clearance(cookies []*network.Cookie) string {
	for _, c := range cookies {
		if c.Name == "cf_clearance" && len(c.Value) > 10 {
			return c.Value
		}
	}
	return ""
}

func cookieHeader(cookies []*network.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (p *ProxyServer) shouldBypass(host string) bool {
	host = strings.ToLower(host)
	for _, d := range p.config.Domains {
		if d != "" && strings.Contains(host, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

func (p *ProxyServer) isTokenExpired(token *ClearanceToken) bool {
	return time.Since(token.Timestamp) > p.config.CacheTimeout
}

// extractDomain returns the registrable domain of host, which keys the clearance cache.
func extractDomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

func isCloudflarePage(resp *http.Response) bool {
	return strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare") || resp.Header.Get("CF-RAY") != ""
}

// Transport routes requests through a proxy on localhost:port. The proxy
// re-signs TLS, so certificate checks are disabled.
func Transport(port int) *http.Transport {
	if port == 0 {
		port = DefaultPort
	}
	proxyURL := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}

	return &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   20 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
	}
}
