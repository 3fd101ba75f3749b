package parser

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

var (
	unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	nonWordChars    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	chapterNumber   = regexp.MustCompile(`Chapter (\d+(\.\d+)?)`)
)

// DirList returns the sorted names of the sub directories of rootDir.
func DirList(rootDir string) ([]string, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// SanitizeFilename strips the characters Windows and most file systems refuse in names.
func SanitizeFilename(name string) string {
	return strings.TrimSpace(unsafeFileChars.ReplaceAllString(name, ""))
}

// CleanSearchTitle drops punctuation so the title can be used as a search query.
func CleanSearchTitle(title string) string {
	return strings.TrimSpace(nonWordChars.ReplaceAllString(title, ""))
}

// ChapterLabel turns a display label such as "Chapter 12.5: The Return" into the
// canonical archive label "Chapter 12p5". Whole numbers are padded to two digits.
// ok is false when the label carries no chapter numeral.
func ChapterLabel(display string) (label string, ok bool) {
	m := chapterNumber.FindStringSubmatch(display)
	if m == nil {
		return "", false
	}

	num := m[1]
	if m[2] != "" {
		return "Chapter " + strings.Replace(num, ".", "p", 1), true
	}

	num = strings.TrimLeft(num, "0")
	if len(num) < 2 {
		num = strings.Repeat("0", 2-len(num)) + num
	}
	return "Chapter " + num, true
}

// SplitAltTitles splits a semicolon separated list of alternative names.
func SplitAltTitles(raw string) []string {
	var titles []string
	for _, t := range strings.Split(raw, ";") {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	return titles
}
