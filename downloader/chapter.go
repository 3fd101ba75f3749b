package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"comicvault/browser"
	"comicvault/cbz"
	"comicvault/config"
	"comicvault/images"
	"comicvault/ledger"
	"comicvault/library"
	"comicvault/scrapeerr"
	"comicvault/sites"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sethvargo/go-retry"
)

var (
	// errFirstImage abandons a strategy or server when page one cannot be fetched.
	errFirstImage        = errors.New("first image failed")
	errBothServersFailed = errors.New("both servers failed")
	errNotEnoughServers  = errors.New("server button missing")
)

// Fetcher retrieves HTML documents.
type Fetcher interface {
	Fetch(ctx context.Context, url, referer string) ([]byte, error)
}

// Job is one chapter to download.
type Job struct {
	Title   *library.Title
	Chapter sites.Chapter
	// Label is the canonical archive label, e.g. "Chapter 07".
	Label string
	// Referer is the title's listing URL.
	Referer string
	Ledger  *ledger.Ledger
}

// Result is a finished chapter.
type Result struct {
	Path     string
	Strategy string
	Pages    int
	Summary  RunSummary
}

// ChapterPipeline downloads a chapter, first from the static reader document
// and then through the browser on each image server, with a final recovery pass.
type ChapterPipeline struct {
	site     sites.Adapter
	fetcher  Fetcher
	opener   browser.Opener
	images   *images.Pipeline
	scrape   config.ScrapeConfig
	wait     time.Duration
	poll     time.Duration
	validate func(path string) bool
	progress io.Writer
	now      func() time.Time
}

func NewChapterPipeline(site sites.Adapter, fetcher Fetcher, opener browser.Opener, pipeline *images.Pipeline, cfg *config.Config, progress io.Writer) *ChapterPipeline {
	if progress == nil {
		progress = io.Discard
	}
	return &ChapterPipeline{
		site:     site,
		fetcher:  fetcher,
		opener:   opener,
		images:   pipeline,
		scrape:   cfg.Scrape,
		wait:     cfg.Browser.ElementWait,
		poll:     250 * time.Millisecond,
		validate: images.Validate,
		progress: progress,
		now:      time.Now,
	}
}

// Download runs the strategies in order until one produces an archive.
func (p *ChapterPipeline) Download(ctx context.Context, job Job) (Result, error) {
	var summary RunSummary

	res, err := p.downloadStatic(ctx, job)
	summary.Merge(res.Summary)
	if err == nil {
		res.Summary = summary
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{Summary: summary}, ctx.Err()
	}
	job.Title.LogError("Static reader failed for %s (%s), switching to browser: %v", job.Label, job.Chapter.URL, err)

	res, err = p.downloadRendered(ctx, job)
	summary.Merge(res.Summary)
	if err == nil {
		res.Summary = summary
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{Summary: summary}, ctx.Err()
	}

	fmt.Printf("Both servers failed for %s. Switching to recovery.\n", job.Label)
	res, err = p.recover(ctx, job)
	summary.Merge(res.Summary)
	res.Summary = summary
	return res, err
}

// downloadStatic parses the reader document and builds the archive in memory.
func (p *ChapterPipeline) downloadStatic(ctx context.Context, job Job) (Result, error) {
	doc, err := p.fetcher.Fetch(ctx, job.Chapter.URL, job.Referer)
	if err != nil {
		return Result{}, err
	}
	urls, err := p.site.ReaderImageURLs(doc, job.Chapter.URL)
	if err != nil {
		return Result{}, err
	}
	if len(urls) == 0 {
		return Result{}, fmt.Errorf("no images on %s: %w", job.Chapter.URL, errFirstImage)
	}

	imgs := p.images.WithReferer(job.Referer)
	buf := cbz.NewBuffer()
	bar := p.bar(len(urls), job.Label)
	var summary RunSummary

	for i, u := range urls {
		data, n, err := imgs.Fetch(ctx, u)
		bar.Add(1)
		if err != nil {
			if i == 0 {
				return Result{Summary: summary}, fmt.Errorf("%s: %w: %v", u, errFirstImage, err)
			}
			job.Title.LogError("Failed to download image %d of %s: %v", i+1, job.Label, err)
			continue
		}
		summary.BufferedBytes += n
		if err := buf.Add(i+1, data); err != nil {
			return Result{Summary: summary}, err
		}
	}

	path, err := buf.WriteFile(job.Title.Name, job.Label, job.Title.Dir)
	if err != nil {
		return Result{Summary: summary}, err
	}
	return Result{Path: path, Strategy: "static", Pages: buf.Pages(), Summary: summary}, nil
}

// downloadRendered opens one browser session and tries each image server in turn.
func (p *ChapterPipeline) downloadRendered(ctx context.Context, job Job) (Result, error) {
	page, err := p.opener.Open(ctx)
	if err != nil {
		return Result{}, err
	}
	defer page.Close()

	if err := page.Navigate(ctx, job.Chapter.URL); err != nil {
		return Result{}, err
	}
	if err := page.SimulateHumanInteraction(ctx); err != nil {
		return Result{}, err
	}

	var summary RunSummary
	for server := 1; server <= 2; server++ {
		fmt.Printf("Trying server %d for %s...\n", server, job.Label)

		var els []browser.Element
		if server == 1 {
			els, err = p.site.LocateReaderImages(ctx, page, p.wait)
		} else {
			els, err = p.switchServer(ctx, page, server)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{Summary: summary}, ctx.Err()
			}
			job.Title.LogError("Server %d unavailable for %s: %v", server, job.Label, err)
			continue
		}

		res, err := p.tryServer(ctx, page, job, els)
		summary.Merge(res.Summary)
		if err == nil {
			res.Summary = summary
			res.Strategy = fmt.Sprintf("server %d", server)
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{Summary: summary}, ctx.Err()
		}
		job.Title.LogError("Server %d failed for %s: %v", server, job.Label, err)
	}
	return Result{Summary: summary}, errBothServersFailed
}

// switchServer clicks the button for server and waits until the reader shows
// a different first image than before the click, for at most the element wait.
func (p *ChapterPipeline) switchServer(ctx context.Context, page browser.Page, server int) ([]browser.Element, error) {
	before := p.firstSource(ctx, page)

	buttons, err := p.site.LocateServerButtons(ctx, page)
	if err != nil {
		return nil, err
	}
	if len(buttons) < server {
		return nil, fmt.Errorf("%w: want %d, have %d", errNotEnoughServers, server, len(buttons))
	}
	if err := buttons[server-1].Click(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(p.wait)
	for {
		els, err := p.site.LocateReaderImages(ctx, page, p.wait)
		if err == nil && len(els) > 0 {
			src, serr := p.site.ImageSource(ctx, els[0])
			if serr == nil && src != before {
				return els, nil
			}
		}
		if !time.Now().Before(deadline) {
			if err != nil {
				return nil, err
			}
			log.Printf("[WARN] Reader images unchanged after switching to server %d", server)
			return els, nil
		}
		if err := pause(ctx, p.poll); err != nil {
			return nil, err
		}
	}
}

// firstSource is the source of the first reader image, or "" when there is none.
func (p *ChapterPipeline) firstSource(ctx context.Context, page browser.Page) string {
	els, err := p.site.LocateReaderImages(ctx, page, p.wait)
	if err != nil || len(els) == 0 {
		return ""
	}
	src, err := p.site.ImageSource(ctx, els[0])
	if err != nil {
		return ""
	}
	return src
}

// tryServer downloads every rendered page image into a staging directory and archives them.
func (p *ChapterPipeline) tryServer(ctx context.Context, page browser.Page, job Job, els []browser.Element) (Result, error) {
	staging := filepath.Join(job.Title.Dir, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(staging)

	imgs := p.images.WithReferer(job.Chapter.URL)
	bar := p.bar(len(els), job.Label)
	var (
		summary RunSummary
		paths   []string
	)

	for i := range els {
		dest := filepath.Join(staging, cbz.EntryName(i+1, ".jpg"))
		n, err := p.fetchPage(ctx, page, imgs, els, i, dest)
		bar.Add(1)
		if err != nil {
			if i == 0 {
				return Result{Summary: summary}, fmt.Errorf("%w: %v", errFirstImage, err)
			}
			job.Title.LogError("Failed to download image %d of %s after retries: %v", i+1, job.Label, err)
			continue
		}
		summary.StagedBytes += n
		paths = append(paths, dest)
	}

	path, err := cbz.CreateArchive(job.Title.Name, job.Label, job.Title.Dir, paths)
	if err != nil {
		return Result{Summary: summary}, err
	}
	return Result{Path: path, Pages: len(paths), Summary: summary}, nil
}

// fetchPage downloads image i into dest. After any failed try the reader
// images are located again and element i is taken from the fresh set, since
// the page may have replaced its nodes or their sources.
func (p *ChapterPipeline) fetchPage(ctx context.Context, page browser.Page, imgs *images.Pipeline, els []browser.Element, i int, dest string) (int64, error) {
	el := els[i]
	var n int64

	relocate := func() {
		if fresh, err := p.site.LocateReaderImages(ctx, page, p.wait); err == nil && i < len(fresh) {
			el = fresh[i]
		}
	}

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		src, err := p.site.ImageSource(ctx, el)
		if err != nil {
			relocate()
			return retry.RetryableError(err)
		}

		n, err = imgs.DownloadAndNormalize(ctx, src, dest)
		if err == nil && !p.validate(dest) {
			err = fmt.Errorf("page %d from %s did not decode: %w", i+1, src, scrapeerr.ErrImageFormat)
		}
		if err != nil {
			log.Printf("[WARN] Page %d: %v", i+1, err)
			relocate()
			return retry.RetryableError(err)
		}
		return nil
	})
	return n, err
}

func (p *ChapterPipeline) backoff() retry.Backoff {
	attempts := p.scrape.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.scrape.RetryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
}

func (p *ChapterPipeline) bar(total int, label string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.progress),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
