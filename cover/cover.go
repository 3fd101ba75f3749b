// Package cover finds a cover image for a title.
package cover

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"comicvault/browser"
	"comicvault/config"
	"comicvault/images"
	"comicvault/library"
	"comicvault/sites"
)

// Fetcher retrieves HTML documents.
type Fetcher interface {
	Fetch(ctx context.Context, url, referer string) ([]byte, error)
}

// Resolver tries, in order: a browser search for the title, the same search
// for each alternative title (from the live secondary site, then from the
// cached listing), and finally the listing page's own cover tag.
type Resolver struct {
	site    sites.Adapter
	opener  browser.Opener
	images  *images.Pipeline
	fetcher Fetcher
	cfg     config.CoverConfig
}

func NewResolver(site sites.Adapter, opener browser.Opener, pipeline *images.Pipeline, fetcher Fetcher, cfg config.CoverConfig) *Resolver {
	return &Resolver{site: site, opener: opener, images: pipeline, fetcher: fetcher, cfg: cfg}
}

// Result describes a resolved cover.
type Result struct {
	Path     string
	Strategy string
	Bytes    int64
}

// Resolve stores a cover in the title directory. Failures are written to the
// title's error log and never returned; ok is false when no strategy worked.
func (r *Resolver) Resolve(ctx context.Context, title *library.Title, listingURL string, listing []byte) (res Result, ok bool) {
	dest := title.FilePath(r.fileName())
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		log.Printf("[INFO] Cover already present at %s", dest)
		return Result{Path: dest, Strategy: "existing"}, true
	}

	fmt.Printf("Searching cover for %s\n", title.Name)
	n, err := r.search(ctx, title.Name, dest)
	if err == nil {
		return Result{Path: dest, Strategy: "search", Bytes: n}, true
	}
	title.LogError("Error searching or downloading cover for %q: %v", title.Name, err)

	tried := map[string]bool{title.Name: true}
	for _, alt := range r.altTitles(ctx, title, listingURL) {
		if tried[alt] {
			continue
		}
		tried[alt] = true

		fmt.Printf("Trying alternative title: %s\n", alt)
		n, err := r.search(ctx, alt, dest)
		if err == nil {
			return Result{Path: dest, Strategy: "alternative", Bytes: n}, true
		}
		title.LogError("Cover search for alternative title %q failed: %v", alt, err)
	}
	if len(tried) > 1 {
		title.LogError("Failed to download cover image using alternative titles for %q", title.Name)
	}

	fmt.Println("Falling back to listing cover image.")
	n, err = r.native(ctx, listing, listingURL, dest)
	if err == nil {
		return Result{Path: dest, Strategy: "native", Bytes: n}, true
	}
	title.LogError("Error downloading listing cover for %q: %v", title.Name, err)
	return Result{}, false
}

func (r *Resolver) fileName() string {
	if r.cfg.FileName == "" {
		return "cover.jpg"
	}
	return r.cfg.FileName
}

// search runs one browser search; the session is closed on every path.
func (r *Resolver) search(ctx context.Context, query, dest string) (int64, error) {
	page, err := r.opener.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer page.Close()

	searchURL := r.site.CoverSearchURL(query)
	log.Printf("[INFO] Cover search: %s", searchURL)
	if err := page.Navigate(ctx, searchURL); err != nil {
		return 0, err
	}
	if err := page.SimulateHumanInteraction(ctx); err != nil {
		return 0, err
	}

	thumb, err := r.site.LocateCoverThumbnail(ctx, page)
	if err != nil {
		return 0, fmt.Errorf("no search result for %q: %w", query, err)
	}
	src, err := r.site.ImageSource(ctx, thumb)
	if err != nil {
		return 0, err
	}
	log.Printf("[INFO] Found cover image: %s", src)

	if r.cfg.Screenshot {
		return r.screenshot(ctx, page, src, dest)
	}

	n, err := r.images.DownloadRaw(ctx, src, dest)
	if err != nil {
		return 0, err
	}
	if !images.Validate(dest) {
		return 0, fmt.Errorf("cover from %s is not a valid image", src)
	}
	return n, nil
}

// screenshot opens the image itself and captures the rendered element.
func (r *Resolver) screenshot(ctx context.Context, page browser.Page, src, dest string) (int64, error) {
	if err := page.Navigate(ctx, src); err != nil {
		return 0, err
	}
	img, err := page.FindFirst(ctx, "img")
	if err != nil {
		return 0, err
	}
	shot, err := img.Screenshot(ctx)
	if err != nil {
		return 0, err
	}
	if err := images.WriteNormalized(shot, "image/png", dest); err != nil {
		return 0, err
	}
	return int64(len(shot)), nil
}

// altTitles reads the live secondary site first and the cached listing when
// that yields nothing.
func (r *Resolver) altTitles(ctx context.Context, title *library.Title, listingURL string) []string {
	if r.cfg.AltSiteURL != "" && r.fetcher != nil {
		doc, err := r.fetcher.Fetch(ctx, r.cfg.AltSiteURL, listingURL)
		if err != nil {
			title.LogError("Secondary site %s unreachable: %v", r.cfg.AltSiteURL, err)
		} else if alts := r.site.AltTitles(doc); len(alts) > 0 {
			return alts
		}
	}

	cached, err := title.ReadListing()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] Reading cached listing: %v", err)
		}
		return nil
	}
	return r.site.AltTitles(cached)
}

func (r *Resolver) native(ctx context.Context, listing []byte, listingURL, dest string) (int64, error) {
	src, err := r.site.NativeCover(listing, listingURL)
	if err != nil {
		return 0, err
	}
	n, err := r.images.WithReferer(listingURL).DownloadRaw(ctx, src, dest)
	if err != nil {
		return 0, err
	}
	if !images.Validate(dest) {
		return 0, fmt.Errorf("cover from %s is not a valid image", src)
	}
	return n, nil
}
