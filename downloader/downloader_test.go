package downloader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"comicvault/browser/browsertest"
	"comicvault/config"
	"comicvault/cover"
	"comicvault/images"
	"comicvault/ledger"
	"comicvault/library"
	"comicvault/sites"
	"comicvault/webClient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	titleName   = "Hero X Demon Queen"
	readerSel   = "div.container-chapter-reader img"
	serverSel   = ".server-image-btn"
	pagesPerChp = 3
)

type chapterDef struct {
	slug  string
	title string
}

// server is a fake manga site: one listing, static reader pages and images.
type server struct {
	srv      *httptest.Server
	mu       sync.Mutex
	chapters []chapterDef // newest first, as listed
	broken   map[string]bool
	noStatic bool
	hits     map[string]int
	png      []byte
}

func newServer(t *testing.T, chapters ...chapterDef) *server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 2, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	s := &server{
		chapters: chapters,
		broken:   map[string]bool{},
		hits:     map[string]int{},
		png:      buf.Bytes(),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	broken := s.broken[r.URL.Path]
	noStatic := s.noStatic
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/manga/hero":
		var b strings.Builder
		fmt.Fprintf(&b, `<html><body><div class="story-info-right"><h1>%s</h1></div><ul class="row-content-chapter">`, titleName)
		for _, c := range s.chapters {
			fmt.Fprintf(&b, `<li class="a-h"><a class="chapter-name" href="/chapter/%s">%s</a></li>`, c.slug, c.title)
		}
		b.WriteString(`</ul></body></html>`)
		w.Write([]byte(b.String()))
	case strings.HasPrefix(r.URL.Path, "/chapter/"):
		if noStatic {
			w.Write([]byte(`<html><body><p>loading</p></body></html>`))
			return
		}
		slug := strings.TrimPrefix(r.URL.Path, "/chapter/")
		var b strings.Builder
		b.WriteString(`<html><body><div class="container-chapter-reader">`)
		for i := 1; i <= pagesPerChp; i++ {
			fmt.Fprintf(&b, `<img class="img-content" src="/img/%s-%d.png">`, slug, i)
		}
		b.WriteString(`</div></body></html>`)
		w.Write([]byte(b.String()))
	case strings.HasPrefix(r.URL.Path, "/img/") && !broken:
		w.Header().Set("Content-Type", "image/png")
		w.Write(s.png)
	default:
		http.NotFound(w, r)
	}
}

func (s *server) listingURL() string { return s.srv.URL + "/manga/hero" }

func (s *server) chapterURL(slug string) string { return s.srv.URL + "/chapter/" + slug }

func (s *server) imageURL(name string) string { return s.srv.URL + "/img/" + name }

func (s *server) breakImage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken["/img/"+name] = true
}

func (s *server) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// rendered returns reader elements whose sources use prefix.
func rendered(s *server, prefix string) []*browsertest.Element {
	els := make([]*browsertest.Element, pagesPerChp)
	for i := range els {
		els[i] = &browsertest.Element{Attrs: map[string]string{"src": s.imageURL(fmt.Sprintf("%s-%d.png", prefix, i+1))}}
	}
	return els
}

type noCover struct{ calls int }

func (c *noCover) Resolve(ctx context.Context, title *library.Title, listingURL string, listing []byte) (cover.Result, bool) {
	c.calls++
	return cover.Result{}, false
}

type fixture struct {
	srv      *server
	dir      string
	browser  *browsertest.Browser
	covers   *noCover
	chapters *ChapterPipeline
	manager  *Manager
}

func newFixture(t *testing.T, s *server, b *browsertest.Browser) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Scrape.RetryDelay = time.Millisecond
	cfg.Scrape.Timeout = 5 * time.Second
	cfg.Browser.ElementWait = 500 * time.Millisecond

	if b == nil {
		b = &browsertest.Browser{}
	}
	site := sites.NewManganelo(cfg.Site, cfg.Cover)
	fetcher := webClient.NewFetcher(cfg.Browser.UserAgent, cfg.Scrape.Timeout)
	pipeline := images.New(images.Options{
		UserAgent:  cfg.Browser.UserAgent,
		Attempts:   cfg.Scrape.Attempts,
		RetryDelay: cfg.Scrape.RetryDelay,
		Timeout:    cfg.Scrape.Timeout,
	})

	f := &fixture{srv: s, dir: t.TempDir(), browser: b, covers: &noCover{}}
	f.chapters = NewChapterPipeline(site, fetcher, b, pipeline, cfg, nil)
	f.chapters.poll = 5 * time.Millisecond
	f.manager = NewManager(library.New(f.dir), site, fetcher, f.covers, f.chapters)
	return f
}

func (f *fixture) titleDir() string { return filepath.Join(f.dir, titleName) }

func (f *fixture) archive(label string) string {
	return filepath.Join(f.titleDir(), titleName+" "+label+".cbz")
}

func (f *fixture) ledger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(f.titleDir())
	require.NoError(t, err)
	return l
}

func nonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err, path)
	assert.Greater(t, info.Size(), int64(0), path)
}

func twoChapters() []chapterDef {
	return []chapterDef{
		{slug: "2", title: "Chapter 2"},
		{slug: "1", title: "Chapter 1"},
	}
}

func TestProcessTitleStatic(t *testing.T) {
	s := newServer(t, twoChapters()...)
	f := newFixture(t, s, nil)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Downloaded)
	assert.Greater(t, sum.BufferedBytes, int64(0))
	assert.Zero(t, sum.StagedBytes)
	assert.Zero(t, f.browser.Opened)
	assert.Equal(t, 1, f.covers.calls)

	nonEmpty(t, f.archive("Chapter 01"))
	nonEmpty(t, f.archive("Chapter 02"))

	l := f.ledger(t)
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Contains(s.chapterURL("1")))
	assert.True(t, l.Contains(s.chapterURL("2")))

	url, err := os.ReadFile(filepath.Join(f.titleDir(), library.URLFile))
	require.NoError(t, err)
	assert.Equal(t, s.listingURL(), strings.TrimSpace(string(url)))
	nonEmpty(t, filepath.Join(f.titleDir(), library.ListingFile))

	rows, err := ledger.Summarize(f.dir)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, titleName, rows[0].Title)
	assert.Equal(t, 2, rows[0].Chapters)
	nonEmpty(t, filepath.Join(f.dir, ledger.CombinedFileName))
}

func TestChaptersRunOldestFirst(t *testing.T) {
	s := newServer(t, twoChapters()...)
	f := newFixture(t, s, nil)

	_, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)

	entries, err := ledger.ReadEntries(filepath.Join(f.titleDir(), ledger.FileName))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, s.chapterURL("1"), entries[0].URL)
	assert.Equal(t, s.chapterURL("2"), entries[1].URL)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	s := newServer(t, twoChapters()...)
	f := newFixture(t, s, nil)
	ctx := context.Background()

	_, err := f.manager.ProcessTitle(ctx, s.listingURL(), "")
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(f.titleDir(), ledger.FileName))
	require.NoError(t, err)
	chapterHits := s.hitCount("/chapter/1")

	sum, err := f.manager.ProcessTitle(ctx, s.listingURL(), "")
	require.NoError(t, err)
	assert.Zero(t, sum.Downloaded)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, chapterHits, s.hitCount("/chapter/1"))

	after, err := os.ReadFile(filepath.Join(f.titleDir(), ledger.FileName))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestZeroByteArchiveIsDownloadedAgain(t *testing.T) {
	s := newServer(t, twoChapters()...)
	f := newFixture(t, s, nil)
	ctx := context.Background()

	_, err := f.manager.ProcessTitle(ctx, s.listingURL(), "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.archive("Chapter 01"), nil, 0644))

	sum, err := f.manager.ProcessTitle(ctx, s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	nonEmpty(t, f.archive("Chapter 01"))
	assert.Equal(t, 2, f.ledger(t).Len())
}

func TestExistingArchiveIsReconciled(t *testing.T) {
	s := newServer(t, twoChapters()...)
	f := newFixture(t, s, nil)
	ctx := context.Background()

	_, err := f.manager.ProcessTitle(ctx, s.listingURL(), "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.titleDir(), ledger.FileName)))
	hits := s.hitCount("/chapter/2")

	sum, err := f.manager.ProcessTitle(ctx, s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, hits, s.hitCount("/chapter/2"))
	assert.Equal(t, 2, f.ledger(t).Len())
}

func TestChapterWithoutNumberIsSkipped(t *testing.T) {
	s := newServer(t, chapterDef{slug: "notice", title: "Hiatus Notice"}, chapterDef{slug: "1", title: "Chapter 1"})
	f := newFixture(t, s, nil)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, s.hitCount("/chapter/notice"))

	l := f.ledger(t)
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.Contains(s.chapterURL("notice")))
}

func TestDecimalChapterLabel(t *testing.T) {
	s := newServer(t, chapterDef{slug: "12-5", title: "Chapter 12.5: Interlude"})
	f := newFixture(t, s, nil)

	_, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	nonEmpty(t, f.archive("Chapter 12p5"))
}

func TestTitleOverride(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	f := newFixture(t, s, nil)

	_, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "My: Title?")
	require.NoError(t, err)
	nonEmpty(t, filepath.Join(f.dir, "My Title", "My Title Chapter 01.cbz"))
}

func TestLaterStaticPageFailureSkipsPage(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.breakImage("1-2.png")
	f := newFixture(t, s, nil)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Zero(t, f.browser.Opened)
	nonEmpty(t, f.archive("Chapter 01"))

	log, err := os.ReadFile(filepath.Join(f.titleDir(), library.ErrorFile))
	require.NoError(t, err)
	assert.Contains(t, string(log), "image 2")
}

func TestBrowserServerOne(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.noStatic = true
	b := &browsertest.Browser{NewPage: func() *browsertest.Page {
		return &browsertest.Page{Elements: map[string]map[string][]*browsertest.Element{
			s.chapterURL("1"): {readerSel: rendered(s, "r1")},
		}}
	}}
	f := newFixture(t, s, b)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Greater(t, sum.StagedBytes, int64(0))
	assert.Equal(t, 1, b.Opened)
	assert.Equal(t, 1, b.Closed)
	nonEmpty(t, f.archive("Chapter 01"))

	for i := 1; i <= pagesPerChp; i++ {
		assert.Equal(t, 1, s.hitCount(fmt.Sprintf("/img/r1-%d.png", i)))
	}
	leftovers, err := filepath.Glob(filepath.Join(f.titleDir(), ".staging-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBrowserServerTwo(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.noStatic = true
	s.breakImage("s1-1.png")
	b := &browsertest.Browser{}
	b.NewPage = func() *browsertest.Page {
		server := 1
		buttons := []*browsertest.Element{
			{OnClick: func() { server = 1 }},
			{OnClick: func() { server = 2 }},
		}
		return &browsertest.Page{Resolve: func(url, selector string) []*browsertest.Element {
			switch selector {
			case serverSel:
				return buttons
			case readerSel:
				return rendered(s, fmt.Sprintf("s%d", server))
			}
			return nil
		}}
	}
	f := newFixture(t, s, b)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, 1, b.Opened)
	nonEmpty(t, f.archive("Chapter 01"))

	// The first page is retried, then the server is abandoned.
	assert.Equal(t, 3, s.hitCount("/img/s1-1.png"))
	assert.Zero(t, s.hitCount("/img/s1-2.png"))
	assert.Equal(t, 1, s.hitCount("/img/s2-2.png"))
}

func TestServerSwitchWaitsForReaderToChange(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.noStatic = true
	s.breakImage("s1-1.png")
	b := &browsertest.Browser{}
	b.NewPage = func() *browsertest.Page {
		clicked := false
		lookupsAfterClick := 0
		buttons := []*browsertest.Element{
			{},
			{OnClick: func() { clicked = true }},
		}
		return &browsertest.Page{Resolve: func(url, selector string) []*browsertest.Element {
			switch selector {
			case serverSel:
				return buttons
			case readerSel:
				if clicked {
					lookupsAfterClick++
					// the old images stay in the DOM for one lookup after the click
					if lookupsAfterClick > 1 {
						return rendered(s, "s2")
					}
				}
				return rendered(s, "s1")
			}
			return nil
		}}
	}
	f := newFixture(t, s, b)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, 1, b.Opened)
	assert.Equal(t, 3, s.hitCount("/img/s1-1.png"))
	for i := 1; i <= pagesPerChp; i++ {
		assert.Equal(t, 1, s.hitCount(fmt.Sprintf("/img/s2-%d.png", i)))
	}
	nonEmpty(t, f.archive("Chapter 01"))
}

func TestRecoveredFailuresAreLogged(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.breakImage("1-1.png")
	s.breakImage("s1-1.png")
	b := &browsertest.Browser{}
	b.NewPage = func() *browsertest.Page {
		server := 1
		buttons := []*browsertest.Element{
			{OnClick: func() { server = 1 }},
			{OnClick: func() { server = 2 }},
		}
		return &browsertest.Page{Resolve: func(url, selector string) []*browsertest.Element {
			switch selector {
			case serverSel:
				return buttons
			case readerSel:
				return rendered(s, fmt.Sprintf("s%d", server))
			}
			return nil
		}}
	}
	f := newFixture(t, s, b)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)

	logged, err := os.ReadFile(filepath.Join(f.titleDir(), library.ErrorFile))
	require.NoError(t, err)
	assert.Contains(t, string(logged), "Static reader failed for Chapter 01")
	assert.Contains(t, string(logged), "Server 1 failed for Chapter 01")
	assert.NotContains(t, string(logged), "Server 2")
}

func TestUndecodablePageIsRetried(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.noStatic = true
	b := &browsertest.Browser{NewPage: func() *browsertest.Page {
		return &browsertest.Page{Elements: map[string]map[string][]*browsertest.Element{
			s.chapterURL("1"): {readerSel: rendered(s, "r1")},
		}}
	}}
	f := newFixture(t, s, b)
	checks := 0
	f.chapters.validate = func(path string) bool {
		checks++
		if checks == 1 {
			os.Remove(path)
			return false
		}
		return images.Validate(path)
	}

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, 2, s.hitCount("/img/r1-1.png"))
	assert.Equal(t, pagesPerChp+1, checks)
}

func TestEmptyArchiveRemovedEvenWhenDownloadFails(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.breakImage("1-1.png")
	b := &browsertest.Browser{OpenError: fmt.Errorf("no chrome")}
	f := newFixture(t, s, b)

	require.NoError(t, os.MkdirAll(f.titleDir(), 0755))
	require.NoError(t, os.WriteFile(f.archive("Chapter 01"), nil, 0644))

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.NoFileExists(t, f.archive("Chapter 01"))
}

func TestDownloadReportsPages(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	f := newFixture(t, s, nil)
	title, err := library.New(f.dir).Create(titleName)
	require.NoError(t, err)

	res, err := f.chapters.Download(context.Background(), Job{
		Title:   title,
		Chapter: sites.Chapter{Title: "Chapter 1", URL: s.chapterURL("1")},
		Label:   "Chapter 01",
		Referer: s.listingURL(),
	})
	require.NoError(t, err)
	assert.Equal(t, "static", res.Strategy)
	assert.Equal(t, pagesPerChp, res.Pages)
	assert.Equal(t, f.archive("Chapter 01"), res.Path)
}

func TestRecoveryAfterBothServersFail(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.breakImage("1-1.png")
	s.breakImage("s1-1.png")
	s.breakImage("s2-1.png")
	b := &browsertest.Browser{}
	b.NewPage = func() *browsertest.Page {
		opened := b.Opened
		server := 1
		buttons := []*browsertest.Element{
			{OnClick: func() { server = 1 }},
			{OnClick: func() { server = 2 }},
		}
		return &browsertest.Page{Resolve: func(url, selector string) []*browsertest.Element {
			switch selector {
			case serverSel:
				return buttons
			case readerSel:
				if opened > 1 {
					return rendered(s, "ok")
				}
				return rendered(s, fmt.Sprintf("s%d", server))
			}
			return nil
		}}
	}
	f := newFixture(t, s, b)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, 2, b.Opened)
	assert.Equal(t, 2, b.Closed)
	nonEmpty(t, f.archive("Chapter 01"))

	entries, err := ledger.ReadEntries(filepath.Join(f.titleDir(), ledger.FileName))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecoveryFailureIsLoggedAndRunContinues(t *testing.T) {
	s := newServer(t, twoChapters()...)
	s.breakImage("1-1.png")
	b := &browsertest.Browser{OpenError: fmt.Errorf("no chrome")}
	f := newFixture(t, s, b)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Downloaded)

	l := f.ledger(t)
	assert.False(t, l.Contains(s.chapterURL("1")))
	assert.True(t, l.Contains(s.chapterURL("2")))
	_, err = os.Stat(f.archive("Chapter 01"))
	assert.True(t, os.IsNotExist(err))

	log, err := os.ReadFile(filepath.Join(f.titleDir(), library.ErrorFile))
	require.NoError(t, err)
	assert.Contains(t, string(log), s.chapterURL("1"))
}

func TestStaleElementIsRelocated(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	s.noStatic = true
	lookups := 0
	b := &browsertest.Browser{NewPage: func() *browsertest.Page {
		return &browsertest.Page{Resolve: func(url, selector string) []*browsertest.Element {
			if selector != readerSel {
				return nil
			}
			lookups++
			els := rendered(s, "r1")
			if lookups == 1 {
				els[1].Stale = true
			}
			return els
		}}
	}}
	f := newFixture(t, s, b)

	sum, err := f.manager.ProcessTitle(context.Background(), s.listingURL(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, 2, lookups)
	assert.Equal(t, 1, s.hitCount("/img/r1-2.png"))
	nonEmpty(t, f.archive("Chapter 01"))
}

func TestListingFailureIsFatal(t *testing.T) {
	s := newServer(t)
	f := newFixture(t, s, nil)

	_, err := f.manager.ProcessTitle(context.Background(), s.srv.URL+"/missing", "")
	require.Error(t, err)
	assert.Zero(t, f.covers.calls)

	titles, err := library.New(f.dir).Titles()
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestUpdateTitleReadsSavedURL(t *testing.T) {
	s := newServer(t, chapterDef{slug: "1", title: "Chapter 1"})
	f := newFixture(t, s, nil)
	ctx := context.Background()

	title, err := library.New(f.dir).Create(titleName)
	require.NoError(t, err)
	require.NoError(t, title.SaveURL(s.listingURL()))

	sum, err := f.manager.UpdateTitle(ctx, "", titleName)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Downloaded)
	nonEmpty(t, f.archive("Chapter 01"))
}

func TestUpdateTitleWithoutURL(t *testing.T) {
	s := newServer(t)
	f := newFixture(t, s, nil)

	_, err := library.New(f.dir).Create(titleName)
	require.NoError(t, err)

	_, err = f.manager.UpdateTitle(context.Background(), "", titleName)
	require.Error(t, err)
	assert.Zero(t, s.hitCount("/manga/hero"))
}

func TestCancelledContextStopsRun(t *testing.T) {
	s := newServer(t, twoChapters()...)
	f := newFixture(t, s, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.manager.ProcessTitle(ctx, s.listingURL(), "")
	require.Error(t, err)
	assert.Zero(t, s.hitCount("/chapter/1"))
}

func TestRunSummary(t *testing.T) {
	var s RunSummary
	s.Merge(RunSummary{BufferedBytes: 1 << 20, Downloaded: 1})
	s.Merge(RunSummary{StagedBytes: 1 << 20, Skipped: 2})
	assert.Equal(t, int64(2<<20), s.TotalBytes())
	assert.Equal(t, "1 downloaded, 2 skipped, 0 failed, 2.00 MB transferred", s.String())
}
