// Package images downloads chapter pages and covers and normalizes them to JPEG.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"comicvault/scrapeerr"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"
)

const jpegQuality = 90

// Options configures a Pipeline.
type Options struct {
	UserAgent string
	// Attempts is the total number of tries DownloadRaw makes on transport failure.
	Attempts   int
	RetryDelay time.Duration
	Timeout    time.Duration
	// RateLimit caps requests per second; zero disables pacing.
	RateLimit float64
	Transport http.RoundTripper
}

// Pipeline fetches images over HTTP.
type Pipeline struct {
	retrying *resty.Client
	single   *resty.Client
	limiter  *rate.Limiter
	referer  string
}

func New(opts Options) *Pipeline {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}

	p := &Pipeline{
		retrying: newClient(opts).
			SetRetryCount(opts.Attempts - 1).
			SetRetryWaitTime(opts.RetryDelay).
			SetRetryMaxWaitTime(opts.RetryDelay).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil
			}),
		single: newClient(opts),
	}
	if opts.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return p
}

func newClient(opts Options) *resty.Client {
	c := resty.New().
		SetLogger(quietLogger{}).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9")
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	if opts.Transport != nil {
		c.SetTransport(opts.Transport)
	}
	return c
}

// WithReferer returns a Pipeline sharing the same clients that sends referer on every request.
func (p *Pipeline) WithReferer(referer string) *Pipeline {
	cp := *p
	cp.referer = referer
	return &cp
}

func (p *Pipeline) request(ctx context.Context, c *resty.Client) (*resty.Request, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	r := c.R().SetContext(ctx)
	if p.referer != "" {
		r.SetHeader("Referer", p.referer)
	}
	return r, nil
}

// DownloadRaw streams url to dest as is. Transport failures are retried with a
// fixed delay; a failed download leaves nothing at dest.
func (p *Pipeline) DownloadRaw(ctx context.Context, url, dest string) (int64, error) {
	req, err := p.request(ctx, p.retrying)
	if err != nil {
		return 0, err
	}

	resp, err := req.SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return 0, &scrapeerr.FetchError{URL: url, Err: err}
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() || resp.StatusCode() < 200 {
		return 0, &scrapeerr.FetchError{URL: url, StatusCode: resp.StatusCode(), Err: errors.New(resp.Status())}
	}
	if ct := resp.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return 0, fmt.Errorf("%s returned %s: %w", url, ct, scrapeerr.ErrImageFormat)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, &scrapeerr.FetchError{URL: url, StatusCode: resp.StatusCode(), Err: err}
	}

	log.Printf("[INFO] Saved %s (%d bytes)", dest, n)
	return n, nil
}

// Fetch downloads url once and returns its JPEG re-encoding plus the number of
// bytes transferred.
func (p *Pipeline) Fetch(ctx context.Context, url string) ([]byte, int64, error) {
	req, err := p.request(ctx, p.single)
	if err != nil {
		return nil, 0, err
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, 0, &scrapeerr.FetchError{URL: url, Err: err}
	}
	if resp.IsError() || resp.StatusCode() < 200 {
		return nil, 0, &scrapeerr.FetchError{URL: url, StatusCode: resp.StatusCode(), Err: errors.New(resp.Status())}
	}

	body := resp.Body()
	out, err := Normalize(body, resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", url, err)
	}
	return out, int64(len(body)), nil
}

// DownloadAndNormalize fetches url once and writes it to dest as JPEG.
func (p *Pipeline) DownloadAndNormalize(ctx context.Context, url, dest string) (int64, error) {
	data, n, err := p.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	return n, nil
}

// WriteNormalized re-encodes already fetched data, such as a screenshot, to JPEG at dest.
func WriteNormalized(data []byte, contentType, dest string) error {
	out, err := Normalize(data, contentType)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, out, 0644)
}

// Normalize decodes data and re-encodes it as JPEG. Palette and alpha images
// are flattened to RGB first.
func Normalize(data []byte, contentType string) ([]byte, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return nil, fmt.Errorf("content type %q: %w", contentType, scrapeerr.ErrImageFormat)
	}

	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	if NeedsFlatten(img) {
		img = flatten(img)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (image.Image, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, scrapeerr.ErrImageFormat)
	}

	var img image.Image
	if format == "webp" {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", format, err, scrapeerr.ErrImageFormat)
	}
	return img, nil
}

// DetectFormat reads the magic bytes and returns the image format name.
func DetectFormat(data []byte) (string, error) {
	if len(data) < 12 {
		return "", errors.New("data too short to determine format")
	}

	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "jpeg", nil
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "png", nil
	case string(data[0:6]) == "GIF87a" || string(data[0:6]) == "GIF89a":
		return "gif", nil
	case string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "webp", nil
	}
	return "", errors.New("unknown image format")
}

// NeedsFlatten reports whether img is paletted or carries an alpha channel.
func NeedsFlatten(img image.Image) bool {
	if _, ok := img.(*image.Paletted); ok {
		return true
	}
	switch img.ColorModel() {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model:
		return true
	}
	return false
}

// flatten drops the alpha channel and keeps each pixel's colour.
func flatten(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// Validate fully decodes the image at path. A file that does not decode is
// deleted and false is returned.
func Validate(path string) bool {
	if _, err := imaging.Open(path); err != nil {
		log.Printf("[WARN] Invalid image %s: %v", path, err)
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Printf("[ERROR] Could not remove invalid image %s: %v", path, rmErr)
		}
		return false
	}
	return true
}

type quietLogger struct{}

func (quietLogger) Errorf(string, ...interface{}) {}
func (quietLogger) Warnf(string, ...interface{})  {}
func (quietLogger) Debugf(string, ...interface{}) {}
