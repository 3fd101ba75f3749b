package ledger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"comicvault/parser"
)

const CombinedFileName = "combined_download_log.txt"

// SummaryRow is one title in the combined summary.
type SummaryRow struct {
	Title       string
	Chapters    int
	LastUpdated string
}

// Summarize builds one row per sub directory of baseDir whose ledger has entries.
// The chapter count is the number of distinct chapter URLs and the last updated
// value is the timestamp of the ledger's last line.
func Summarize(baseDir string) ([]SummaryRow, error) {
	dirs, err := parser.DirList(baseDir)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}

	var rows []SummaryRow
	for _, dir := range dirs {
		l, err := Open(filepath.Join(baseDir, dir))
		if err != nil {
			return nil, err
		}
		if l.Len() == 0 {
			continue
		}

		var updated string
		if at, ok := l.LastUpdated(); ok && !at.IsZero() {
			updated = at.Format(TimeLayout)
		}
		rows = append(rows, SummaryRow{
			Title:       dir,
			Chapters:    l.Len(),
			LastUpdated: updated,
		})
	}
	return rows, nil
}

// FormatSummary renders rows as the fixed width table.
func FormatSummary(rows []SummaryRow) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%-30s %-15s %-25s\n", "Manga Title", "Total Chapters", "Last Updated")
	b.WriteString(strings.Repeat("=", 70) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-30s %-15d %-25s\n", r.Title, r.Chapters, r.LastUpdated)
	}
	return b.String()
}

// WriteCombined regenerates baseDir/combined_download_log.txt in full.
func WriteCombined(baseDir string) (string, error) {
	rows, err := Summarize(baseDir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, CombinedFileName)
	if err := os.WriteFile(path, []byte(FormatSummary(rows)), 0644); err != nil {
		return "", fmt.Errorf("write combined summary: %w", err)
	}
	return path, nil
}
