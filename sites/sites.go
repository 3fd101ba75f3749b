// Package sites holds the per-site adapters. An adapter is the only place that
// knows a site's markup; the download pipeline talks to it through Adapter.
package sites

import (
	"context"
	"time"

	"comicvault/browser"
)

// Chapter is one entry of a title's chapter listing.
type Chapter struct {
	Title string
	URL   string
}

// Adapter exposes a site's listing, reader and cover markup.
type Adapter interface {
	// ListingTitle returns the title heading of a listing document.
	ListingTitle(doc []byte) (string, error)
	// Chapters returns the chapter links of a listing document in page order.
	Chapters(doc []byte, baseURL string) ([]Chapter, error)
	// ReaderImageURLs returns the page image URLs of a static chapter document.
	ReaderImageURLs(doc []byte, baseURL string) ([]string, error)
	// AltTitles returns the alternative names listed in a document, if any.
	AltTitles(doc []byte) []string
	// NativeCover returns the absolute URL of the listing's own cover image.
	NativeCover(doc []byte, baseURL string) (string, error)
	// CoverSearchURL is the cover search page for title.
	CoverSearchURL(title string) string

	LocateCoverThumbnail(ctx context.Context, page browser.Page) (browser.Element, error)
	LocateReaderImages(ctx context.Context, page browser.Page, wait time.Duration) ([]browser.Element, error)
	LocateServerButtons(ctx context.Context, page browser.Page) ([]browser.Element, error)
	// ImageSource reads the image URL of a rendered img element.
	ImageSource(ctx context.Context, el browser.Element) (string, error)
}
