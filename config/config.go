package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, Gecko) Chrome/104.0.5112.102 Safari/537.36"

// Config holds every tunable of a run. The site and cover sections are the
// adapter configuration for the source site; nothing in the pipeline hardcodes selectors.
type Config struct {
	Library LibraryConfig `toml:"library"`
	Site    SiteConfig    `toml:"site"`
	Cover   CoverConfig   `toml:"cover"`
	Browser BrowserConfig `toml:"browser"`
	Scrape  ScrapeConfig  `toml:"scrape"`
	Proxy   ProxyConfig   `toml:"proxy"`
}

type LibraryConfig struct {
	Dir string `toml:"dir"`
}

type SiteConfig struct {
	TitleSelector         string   `toml:"title_selector"`
	ChapterLinkSelector   string   `toml:"chapter_link_selector"`
	ReaderContainer       string   `toml:"reader_container"`
	ReaderImageClasses    []string `toml:"reader_image_classes"`
	ReaderImageSelector   string   `toml:"reader_image_selector"`
	ServerButtonSelector  string   `toml:"server_button_selector"`
	NativeCoverSelector   string   `toml:"native_cover_selector"`
	AltTitleLabelSelector string   `toml:"alt_title_label_selector"`
	AltTitleValueSelector string   `toml:"alt_title_value_selector"`
	AltTitleLabelText     string   `toml:"alt_title_label_text"`
}

type CoverConfig struct {
	SearchURL         string `toml:"search_url"`
	ThumbnailSelector string `toml:"thumbnail_selector"`
	AltSiteURL        string `toml:"alt_site_url"`
	Screenshot        bool   `toml:"screenshot"`
	FileName          string `toml:"file_name"`
}

type BrowserConfig struct {
	Headless    bool          `toml:"headless"`
	UserAgent   string        `toml:"user_agent"`
	ExecPath    string        `toml:"exec_path"`
	ElementWait time.Duration `toml:"element_wait"`
	// Ranges for the human interaction pauses: before scrolling down,
	// between scrolls and after scrolling back up.
	PauseBefore Range `toml:"pause_before"`
	PauseScroll Range `toml:"pause_scroll"`
	PauseAfter  Range `toml:"pause_after"`
}

// Range is a closed duration interval a random pause is drawn from.
type Range struct {
	Min time.Duration `toml:"min"`
	Max time.Duration `toml:"max"`
}

type ScrapeConfig struct {
	Attempts         int           `toml:"attempts"`
	RetryDelay       time.Duration `toml:"retry_delay"`
	Timeout          time.Duration `toml:"timeout"`
	RateLimit        float64       `toml:"rate_limit"`
	RecoveryAttempts int           `toml:"recovery_attempts"`
}

type ProxyConfig struct {
	Enabled bool     `toml:"enabled"`
	Port    int      `toml:"port"`
	Domains []string `toml:"domains"`
}

// Defaults returns a Config populated with the built-in values for manganelo style sites.
func Defaults() *Config {
	return &Config{
		Library: LibraryConfig{Dir: "."},
		Site: SiteConfig{
			TitleSelector:         "div.story-info-right h1",
			ChapterLinkSelector:   "ul.row-content-chapter li.a-h a.chapter-name",
			ReaderContainer:       "container-chapter-reader",
			ReaderImageClasses:    []string{"reader-content", "img-content"},
			ReaderImageSelector:   "div.container-chapter-reader img",
			ServerButtonSelector:  ".server-image-btn",
			NativeCoverSelector:   "div.panel-story-info div.story-info-left img.img-loading",
			AltTitleLabelSelector: "td.table-label",
			AltTitleValueSelector: "td.table-value",
			AltTitleLabelText:     "Alternative",
		},
		Cover: CoverConfig{
			SearchURL:         "https://mangadex.org/search?q=%s",
			ThumbnailSelector: "div.grid.gap-2 img.rounded.shadow-md",
			AltSiteURL:        "",
			FileName:          "cover.jpg",
		},
		Browser: BrowserConfig{
			Headless:    true,
			UserAgent:   DefaultUserAgent,
			ElementWait: 10 * time.Second,
			PauseBefore: Range{Min: 2 * time.Second, Max: 5 * time.Second},
			PauseScroll: Range{Min: 1 * time.Second, Max: 3 * time.Second},
			PauseAfter:  Range{Min: 2 * time.Second, Max: 5 * time.Second},
		},
		Scrape: ScrapeConfig{
			Attempts:         3,
			RetryDelay:       2 * time.Second,
			Timeout:          10 * time.Second,
			RateLimit:        0,
			RecoveryAttempts: 1,
		},
		Proxy: ProxyConfig{
			Port:    23181,
			Domains: []string{"manganelo", "chapmanganelo", "mangakakalot"},
		},
	}
}

// DefaultPath is ~/.config/comicvault/config.toml, or config.toml when no home dir is known.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, "comicvault", "config.toml")
}

// Load reads a TOML config file. If the file does not exist, built-in
// defaults are returned without error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
