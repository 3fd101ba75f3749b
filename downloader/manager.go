package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"comicvault/cover"
	"comicvault/ledger"
	"comicvault/library"
	"comicvault/parser"
	"comicvault/sites"
)

// CoverResolver stores a title's cover. It never fails the title.
type CoverResolver interface {
	Resolve(ctx context.Context, title *library.Title, listingURL string, listing []byte) (cover.Result, bool)
}

// Manager runs whole titles: listing, cover, then every chapter the ledger
// does not already account for.
type Manager struct {
	lib      *library.Library
	site     sites.Adapter
	fetcher  Fetcher
	covers   CoverResolver
	chapters *ChapterPipeline
	now      func() time.Time
}

func NewManager(lib *library.Library, site sites.Adapter, fetcher Fetcher, covers CoverResolver, chapters *ChapterPipeline) *Manager {
	return &Manager{
		lib:      lib,
		site:     site,
		fetcher:  fetcher,
		covers:   covers,
		chapters: chapters,
		now:      time.Now,
	}
}

// ProcessTitle downloads a title from its listing URL. titleOverride replaces
// the listing heading as the directory name when set.
func (m *Manager) ProcessTitle(ctx context.Context, url, titleOverride string) (RunSummary, error) {
	if url == "" {
		return RunSummary{}, errors.New("no listing URL given")
	}
	return m.run(ctx, url, titleOverride)
}

// UpdateTitle re-checks a title already in the library. An empty url is read
// back from the title's url.txt.
func (m *Manager) UpdateTitle(ctx context.Context, url, titleOverride string) (RunSummary, error) {
	if url == "" {
		if titleOverride == "" {
			return RunSummary{}, errors.New("update needs a URL or a title")
		}
		t, err := m.lib.Open(titleOverride)
		if err != nil {
			return RunSummary{}, err
		}
		if url, err = t.ReadURL(); err != nil {
			return RunSummary{}, err
		}
	}
	return m.run(ctx, url, titleOverride)
}

func (m *Manager) run(ctx context.Context, url, titleOverride string) (RunSummary, error) {
	var summary RunSummary

	listing, err := m.fetcher.Fetch(ctx, url, url)
	if err != nil {
		return summary, fmt.Errorf("fetching listing %s: %w", url, err)
	}

	name := titleOverride
	if name == "" {
		if name, err = m.site.ListingTitle(listing); err != nil {
			return summary, fmt.Errorf("listing %s: %w", url, err)
		}
	}

	title, err := m.lib.Create(name)
	if err != nil {
		return summary, err
	}
	fmt.Printf("Processing %s\n", title.Name)

	if err := title.SaveURL(url); err != nil {
		return summary, err
	}
	if err := title.SaveListing(listing); err != nil {
		log.Printf("[WARN] Could not cache listing for %s: %v", title.Name, err)
	}

	if m.covers != nil {
		if res, ok := m.covers.Resolve(ctx, title, url, listing); ok {
			summary.StagedBytes += res.Bytes
			log.Printf("[INFO] Cover for %s via %s", title.Name, res.Strategy)
		}
	}

	chapters, err := m.site.Chapters(listing, url)
	if err != nil {
		title.LogError("No chapters found on %s: %v", url, err)
		return summary, err
	}

	led, err := title.Ledger()
	if err != nil {
		return summary, err
	}

	// Listings are newest first.
	for i := len(chapters) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Merge(m.chapter(ctx, title, led, chapters[i], url))
	}

	if path, err := ledger.WriteCombined(m.lib.Dir); err != nil {
		log.Printf("[ERROR] Writing combined summary: %v", err)
	} else {
		log.Printf("[INFO] Summary written to %s", path)
	}

	fmt.Printf("%s: %s\n", title.Name, summary)
	return summary, nil
}

func (m *Manager) chapter(ctx context.Context, title *library.Title, led *ledger.Ledger, ch sites.Chapter, referer string) RunSummary {
	var summary RunSummary

	label, ok := parser.ChapterLabel(ch.Title)
	if !ok {
		log.Printf("[WARN] Skipping %q: no chapter number", ch.Title)
		summary.Skipped++
		return summary
	}

	if title.HasArchive(label) {
		if e, ok := led.Get(ch.URL); ok {
			log.Printf("[INFO] %s already downloaded on %s", label, e.CompletedAt.Format(ledger.TimeLayout))
		} else if _, err := led.Append(ch.URL, ch.Title, m.now()); err != nil {
			title.LogError("Could not record existing %s: %v", label, err)
		}
		summary.Skipped++
		return summary
	}

	// HasArchive is false, so whatever sits at the path is empty
	if err := os.Remove(title.ArchivePath(label)); err == nil {
		log.Printf("[INFO] Removed empty archive for %s", label)
	} else if !errors.Is(err, os.ErrNotExist) {
		title.LogError("Could not remove empty archive for %s: %v", label, err)
	}

	fmt.Printf("Downloading %s\n", ch.Title)
	res, err := m.chapters.Download(ctx, Job{
		Title:   title,
		Chapter: ch,
		Label:   label,
		Referer: referer,
		Ledger:  led,
	})
	summary.Merge(res.Summary)
	if err != nil {
		title.LogError("Failed to download %s (%s): %v", ch.Title, ch.URL, err)
		summary.Failed++
		return summary
	}

	if _, err := led.Append(ch.URL, ch.Title, m.now()); err != nil {
		title.LogError("Could not record %s: %v", label, err)
	}
	fmt.Printf("Saved %s (%d pages, %s)\n", res.Path, res.Pages, res.Strategy)
	summary.Downloaded++
	return summary
}
