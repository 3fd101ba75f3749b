package sites

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"comicvault/browser"
	"comicvault/config"
	"comicvault/parser"
	"comicvault/scrapeerr"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Manganelo reads manganelo style listing and reader pages and searches
// covers on the configured cover site.
type Manganelo struct {
	site  config.SiteConfig
	cover config.CoverConfig
}

func NewManganelo(site config.SiteConfig, cover config.CoverConfig) *Manganelo {
	return &Manganelo{site: site, cover: cover}
}

func document(doc []byte) (*goquery.Document, error) {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return d, nil
}

func (m *Manganelo) ListingTitle(doc []byte) (string, error) {
	d, err := document(doc)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(d.Find(m.site.TitleSelector).First().Text())
	if title == "" {
		return "", &scrapeerr.ParseError{What: "title heading " + m.site.TitleSelector}
	}
	return title, nil
}

func (m *Manganelo) Chapters(doc []byte, baseURL string) ([]Chapter, error) {
	d, err := document(doc)
	if err != nil {
		return nil, err
	}

	links := d.Find(m.site.ChapterLinkSelector)
	if links.Length() == 0 {
		return nil, &scrapeerr.ParseError{What: "chapter list " + m.site.ChapterLinkSelector, URL: baseURL}
	}

	var chapters []Chapter
	links.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		chapters = append(chapters, Chapter{
			Title: strings.Join(strings.Fields(a.Text()), " "),
			URL:   resolve(baseURL, href),
		})
	})
	return chapters, nil
}

// ReaderImageURLs walks the reader container and collects page images.
func (m *Manganelo) ReaderImageURLs(doc []byte, baseURL string) ([]string, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	container := findFirst(root, func(n *html.Node) bool {
		return n.Data == "div" && hasClass(n, m.site.ReaderContainer)
	})
	if container == nil {
		return nil, &scrapeerr.ParseError{What: "reader container " + m.site.ReaderContainer, URL: baseURL}
	}

	var imageURLs []string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" && m.isReaderImage(n) {
			if src := imageAttr(n); src != "" {
				imageURLs = append(imageURLs, resolve(baseURL, src))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(container)

	return imageURLs, nil
}

func (m *Manganelo) isReaderImage(n *html.Node) bool {
	if len(m.site.ReaderImageClasses) == 0 {
		return true
	}
	for _, c := range m.site.ReaderImageClasses {
		if hasClass(n, c) {
			return true
		}
	}
	return false
}

// AltTitles reads the value cell next to the "Alternative" label cell.
func (m *Manganelo) AltTitles(doc []byte) []string {
	d, err := document(doc)
	if err != nil {
		return nil
	}

	var titles []string
	d.Find(m.site.AltTitleLabelSelector).EachWithBreak(func(_ int, label *goquery.Selection) bool {
		if !strings.Contains(label.Text(), m.site.AltTitleLabelText) {
			return true
		}
		value := label.NextAllFiltered(m.site.AltTitleValueSelector).First()
		titles = parser.SplitAltTitles(value.Text())
		return false
	})
	return titles
}

func (m *Manganelo) NativeCover(doc []byte, baseURL string) (string, error) {
	d, err := document(doc)
	if err != nil {
		return "", err
	}
	src, ok := d.Find(m.site.NativeCoverSelector).First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", &scrapeerr.ParseError{What: "cover image " + m.site.NativeCoverSelector, URL: baseURL}
	}
	return resolve(baseURL, src), nil
}

func (m *Manganelo) CoverSearchURL(title string) string {
	return fmt.Sprintf(m.cover.SearchURL, url.QueryEscape(parser.CleanSearchTitle(title)))
}

func (m *Manganelo) LocateCoverThumbnail(ctx context.Context, page browser.Page) (browser.Element, error) {
	return page.FindFirst(ctx, m.cover.ThumbnailSelector)
}

func (m *Manganelo) LocateReaderImages(ctx context.Context, page browser.Page, wait time.Duration) ([]browser.Element, error) {
	return page.WaitAll(ctx, m.site.ReaderImageSelector, wait)
}

func (m *Manganelo) LocateServerButtons(ctx context.Context, page browser.Page) ([]browser.Element, error) {
	return page.FindAll(ctx, m.site.ServerButtonSelector)
}

func (m *Manganelo) ImageSource(ctx context.Context, el browser.Element) (string, error) {
	for _, attr := range []string{"src", "data-src"} {
		v, err := el.Attribute(ctx, attr)
		if errors.Is(err, scrapeerr.ErrStaleReference) {
			return "", err
		}
		if err == nil && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", fmt.Errorf("image source: %w", scrapeerr.ErrNotFound)
}

func resolve(baseURL, ref string) string {
	ref = strings.TrimSpace(ref)
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, className string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			for _, c := range strings.Fields(attr.Val) {
				if c == className {
					return true
				}
			}
		}
	}
	return false
}

func imageAttr(n *html.Node) string {
	var src, dataSrc string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "src":
			src = strings.TrimSpace(attr.Val)
		case "data-src":
			dataSrc = strings.TrimSpace(attr.Val)
		}
	}
	if src == "" || strings.HasPrefix(src, "data:") {
		return dataSrc
	}
	return src
}
