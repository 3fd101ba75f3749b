package webClient

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"comicvault/scrapeerr"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly"
)

// Fetcher retrieves HTML documents. It never retries; callers own the retry policy.
type Fetcher struct {
	userAgent string
	timeout   time.Duration
	transport http.RoundTripper
}

// NewFetcher returns a Fetcher sending the given User-Agent.
func NewFetcher(userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{userAgent: userAgent, timeout: timeout}
}

// WithTransport routes every request through rt, typically the clearance proxy transport.
func (f *Fetcher) WithTransport(rt http.RoundTripper) *Fetcher {
	f.transport = rt
	return f
}

// Fetch downloads url with Referer set to referer and returns the decoded body.
func (f *Fetcher) Fetch(ctx context.Context, url, referer string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &scrapeerr.FetchError{URL: url, Err: err}
	}

	c := colly.NewCollector(colly.AllowURLRevisit(), colly.ParseHTTPErrorResponse())
	if f.timeout > 0 {
		c.SetRequestTimeout(f.timeout)
	}
	if f.transport != nil {
		c.WithTransport(f.transport)
	}

	var (
		body      []byte
		status    int
		fetchFail error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", f.userAgent)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, br")
		if referer != "" {
			r.Headers.Set("Referer", referer)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		decoded, err := Decompress(r.Body, r.Headers.Get("Content-Encoding"))
		if err != nil {
			fetchFail = err
			return
		}
		body = decoded
	})

	c.OnError(func(r *colly.Response, err error) {
		status = r.StatusCode
		fetchFail = err
	})

	err := c.Visit(url)
	if err == nil {
		err = fetchFail
	}
	if err != nil {
		log.Printf("[ERROR] Fetching %s: %v", url, err)
		return nil, &scrapeerr.FetchError{URL: url, StatusCode: status, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &scrapeerr.FetchError{URL: url, StatusCode: status, Err: errors.New(http.StatusText(status))}
	}

	log.Printf("[INFO] Fetched %s (%d bytes)", url, len(body))
	return body, nil
}

// Decompress decodes a gzip or Brotli body according to its Content-Encoding.
// Bodies that already arrive decoded are returned unchanged.
func Decompress(body []byte, contentEncoding string) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch {
	case len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b:
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case enc == "br":
		decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			// Go's transport may already have stripped the encoding
			return body, nil
		}
		return decoded, nil
	}

	return body, nil
}
