// Package library manages the on-disk title directories under the base dir.
package library

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"comicvault/cbz"
	"comicvault/ledger"
	"comicvault/parser"
	"comicvault/scrapeerr"
)

const (
	URLFile     = "url.txt"
	ListingFile = "page_content.txt"
	ErrorFile   = "error_log.txt"
)

// Library is the base directory holding one sub directory per title.
type Library struct {
	Dir string
}

func New(dir string) *Library {
	return &Library{Dir: dir}
}

// Titles lists the title directory names.
func (lib *Library) Titles() ([]string, error) {
	return parser.DirList(lib.Dir)
}

// Create makes (or reopens) the directory for the sanitized title name.
func (lib *Library) Create(name string) (*Title, error) {
	clean := parser.SanitizeFilename(name)
	if clean == "" {
		return nil, fmt.Errorf("title %q is empty after sanitizing", name)
	}
	dir := filepath.Join(lib.Dir, clean)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create title dir: %w", err)
	}
	return &Title{Name: clean, Dir: dir}, nil
}

// Open returns an existing title directory.
func (lib *Library) Open(name string) (*Title, error) {
	dir := filepath.Join(lib.Dir, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("title %q: %w", name, scrapeerr.ErrFileState)
	}
	return &Title{Name: name, Dir: dir}, nil
}

// Title is one title directory.
type Title struct {
	Name string
	Dir  string
}

func (t *Title) path(name string) string { return filepath.Join(t.Dir, name) }

func (t *Title) SaveURL(url string) error {
	return os.WriteFile(t.path(URLFile), []byte(strings.TrimSpace(url)+"\n"), 0644)
}

// ReadURL returns the persisted listing URL, or an ErrFileState error when none was saved.
func (t *Title) ReadURL() (string, error) {
	data, err := os.ReadFile(t.path(URLFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", t.path(URLFile), scrapeerr.ErrFileState)
	}
	if err != nil {
		return "", err
	}
	url := strings.TrimSpace(string(data))
	if url == "" {
		return "", fmt.Errorf("%s is empty: %w", t.path(URLFile), scrapeerr.ErrFileState)
	}
	return url, nil
}

func (t *Title) SaveListing(body []byte) error {
	return os.WriteFile(t.path(ListingFile), body, 0644)
}

func (t *Title) ReadListing() ([]byte, error) {
	return os.ReadFile(t.path(ListingFile))
}

// ArchivePath is the canonical archive location for a chapter label.
func (t *Title) ArchivePath(label string) string {
	return t.path(cbz.FileName(t.Name, label))
}

// HasArchive reports whether the chapter archive exists and is non-empty.
func (t *Title) HasArchive(label string) bool {
	info, err := os.Stat(t.ArchivePath(label))
	return err == nil && info.Size() > 0
}

// FilePath joins name onto the title directory.
func (t *Title) FilePath(name string) string { return t.path(name) }

func (t *Title) Ledger() (*ledger.Ledger, error) {
	return ledger.Open(t.Dir)
}

// LogError appends "<timestamp> - <message>" to the title's error log.
func (t *Title) LogError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	path := t.path(ErrorFile)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[ERROR] Could not open %s: %v (message: %s)", path, err, msg)
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s - %s\n", time.Now().Format(ledger.TimeLayout), strings.ReplaceAll(msg, "\n", " "))
	if _, err := f.WriteString(line); err != nil {
		log.Printf("[ERROR] Could not write %s: %v", path, err)
		return
	}
	log.Printf("[ERROR] %s", msg)
	fmt.Printf("Error logged to %s\n", path)
}
