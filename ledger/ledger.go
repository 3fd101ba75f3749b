// Package ledger records which chapters of a title have been archived.
//
// The ledger is download_log.txt inside the title directory: one
// "url<TAB>label<TAB>timestamp" line per completed chapter. Lines are only
// ever appended. On read the chapter URL is the key and the last line wins.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	FileName = "download_log.txt"
	// TimeLayout is ISO-8601 local time with microseconds.
	TimeLayout = "2006-01-02T15:04:05.000000"
)

// Entry is one completed chapter.
type Entry struct {
	URL         string
	Label       string
	CompletedAt time.Time
}

// Ledger is the in-memory view of a title's download_log.txt.
// It is not safe for concurrent use.
type Ledger struct {
	path    string
	entries map[string]Entry
	last    Entry
}

// Open loads dir/download_log.txt. A missing file is an empty ledger.
func Open(dir string) (*Ledger, error) {
	path := filepath.Join(dir, FileName)
	entries, err := ReadEntries(path)
	if err != nil {
		return nil, err
	}

	l := &Ledger{path: path, entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		l.entries[e.URL] = e
		l.last = e
	}
	return l, nil
}

// ReadEntries returns every well formed line of a ledger file in file order.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, ok := parseLine(line)
		if !ok {
			log.Printf("[WARN] %s:%d: malformed ledger line skipped", path, n)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return entries, nil
}

func parseLine(line string) (Entry, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) < 3 || parts[0] == "" {
		return Entry{}, false
	}
	e := Entry{URL: parts[0], Label: parts[1]}
	stamp := parts[len(parts)-1]
	// the seconds-only layout also accepts any fractional part when parsing
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", stamp, time.Local); err == nil {
		e.CompletedAt = t
	} else if t, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
		e.CompletedAt = t
	}
	return e, true
}

func (l *Ledger) Contains(url string) bool {
	_, ok := l.entries[url]
	return ok
}

func (l *Ledger) Len() int { return len(l.entries) }

// Get returns the entry recorded for url.
func (l *Ledger) Get(url string) (Entry, bool) {
	e, ok := l.entries[url]
	return e, ok
}

// LastUpdated is the timestamp of the most recently appended line.
func (l *Ledger) LastUpdated() (time.Time, bool) {
	return l.last.CompletedAt, l.last.URL != ""
}

// Append records url as completed. A URL already present is not written
// again and appended is false.
func (l *Ledger) Append(url, label string, at time.Time) (appended bool, err error) {
	if l.Contains(url) {
		return false, nil
	}
	if strings.ContainsAny(url+label, "\t\n") {
		return false, fmt.Errorf("ledger fields must not contain tabs or newlines: %q %q", url, label)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("open ledger for append: %w", err)
	}
	line := fmt.Sprintf("%s\t%s\t%s\n", url, label, at.Format(TimeLayout))
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return false, fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close ledger: %w", err)
	}

	e := Entry{URL: url, Label: label, CompletedAt: at}
	l.entries[url] = e
	l.last = e
	log.Printf("[INFO] Ledger: recorded %s (%s)", label, url)
	return true, nil
}
