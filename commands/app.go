package commands

import (
	"io"
	"log"
	"net/http"

	"comicvault/browser"
	"comicvault/cfproxy"
	"comicvault/config"
	"comicvault/cover"
	"comicvault/downloader"
	"comicvault/images"
	"comicvault/library"
	"comicvault/sites"
	"comicvault/webClient"
)

// newManager wires the download stack for cfg. The returned stop func shuts
// down the clearance proxy when one was started.
func newManager(cfg *config.Config, progress io.Writer) (*downloader.Manager, func(), error) {
	stop := func() {}

	var transport http.RoundTripper
	if cfg.Proxy.Enabled {
		proxy := cfproxy.NewProxyServer(proxyConfig(cfg, cfg.Proxy.Port))
		if err := proxy.Start(); err != nil {
			return nil, stop, err
		}
		stop = func() {
			if err := proxy.Stop(); err != nil {
				log.Printf("[WARN] Stopping proxy: %v", err)
			}
		}
		transport = cfproxy.Transport(cfg.Proxy.Port)
	}

	fetcher := webClient.NewFetcher(cfg.Browser.UserAgent, cfg.Scrape.Timeout)
	if transport != nil {
		fetcher = fetcher.WithTransport(transport)
	}
	pipeline := images.New(images.Options{
		UserAgent:  cfg.Browser.UserAgent,
		Attempts:   cfg.Scrape.Attempts,
		RetryDelay: cfg.Scrape.RetryDelay,
		Timeout:    cfg.Scrape.Timeout,
		RateLimit:  cfg.Scrape.RateLimit,
		Transport:  transport,
	})

	site := sites.NewManganelo(cfg.Site, cfg.Cover)
	launcher := browser.NewLauncher(cfg.Browser)
	covers := cover.NewResolver(site, launcher, pipeline, fetcher, cfg.Cover)
	chapters := downloader.NewChapterPipeline(site, fetcher, launcher, pipeline, cfg, progress)

	return downloader.NewManager(library.New(cfg.Library.Dir), site, fetcher, covers, chapters), stop, nil
}

func proxyConfig(cfg *config.Config, port int) cfproxy.Config {
	return cfproxy.Config{
		Port:       port,
		Headless:   cfg.Browser.Headless,
		ChromePath: cfg.Browser.ExecPath,
		UserAgent:  cfg.Browser.UserAgent,
		Domains:    cfg.Proxy.Domains,
	}
}
