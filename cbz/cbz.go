// Package cbz packs chapter pages into comic book zip archives.
package cbz

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"comicvault/scrapeerr"
)

// FileName is the canonical archive name for a chapter of a title.
func FileName(title, label string) string {
	return fmt.Sprintf("%s %s.cbz", title, label)
}

// EntryName names the page at 1-based position pos.
func EntryName(pos int, ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%03d%s", pos, strings.ToLower(ext))
}

// CreateArchive writes imagePaths, in order, to dir/"{title} {label}.cbz" and
// then deletes the source images. A zero-byte archive left by an interrupted
// run is removed first; a non-empty one is replaced.
func CreateArchive(title, label, dir string, imagePaths []string) (string, error) {
	if len(imagePaths) == 0 {
		return "", fmt.Errorf("no images for %s %s: %w", title, label, scrapeerr.ErrFileState)
	}

	cbzPath := filepath.Join(dir, FileName(title, label))
	if err := removeEmpty(cbzPath); err != nil {
		return "", err
	}

	err := writeAtomic(cbzPath, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		for i, src := range imagePaths {
			if err := addFile(zw, EntryName(i+1, filepath.Ext(src)), src); err != nil {
				zw.Close()
				return err
			}
		}
		return zw.Close()
	})
	if err != nil {
		return "", err
	}
	log.Printf("[INFO] Created CBZ archive %s (%d pages)", cbzPath, len(imagePaths))

	for _, src := range imagePaths {
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cbzPath, fmt.Errorf("remove source image %s: %w", src, err)
		}
	}
	return cbzPath, nil
}

func addFile(zw *zip.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open file for zipping: %w", err)
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}
	return nil
}

// removeEmpty deletes path when it is a zero-byte file.
func removeEmpty(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		log.Printf("[WARN] Removing empty archive %s", path)
		return os.Remove(path)
	}
	return nil
}

// writeAtomic writes through a temp file in the same directory and renames it into place.
func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cbz-*")
	if err != nil {
		return fmt.Errorf("failed to create CBZ file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Buffer assembles an archive in memory so pages never touch the disk.
type Buffer struct {
	buf   bytes.Buffer
	zw    *zip.Writer
	pages int
}

func NewBuffer() *Buffer {
	b := &Buffer{}
	b.zw = zip.NewWriter(&b.buf)
	return b
}

// Add stores a JPEG page at 1-based position pos.
func (b *Buffer) Add(pos int, data []byte) error {
	w, err := b.zw.CreateHeader(&zip.FileHeader{Name: EntryName(pos, ".jpg"), Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	b.pages++
	return nil
}

// Pages is the number of entries added so far.
func (b *Buffer) Pages() int { return b.pages }

// WriteFile finishes the archive and writes it to dir/"{title} {label}.cbz".
func (b *Buffer) WriteFile(title, label, dir string) (string, error) {
	if b.pages == 0 {
		return "", fmt.Errorf("no pages for %s %s: %w", title, label, scrapeerr.ErrFileState)
	}
	if err := b.zw.Close(); err != nil {
		return "", err
	}

	cbzPath := filepath.Join(dir, FileName(title, label))
	if err := removeEmpty(cbzPath); err != nil {
		return "", err
	}
	err := writeAtomic(cbzPath, func(w io.Writer) error {
		_, err := w.Write(b.buf.Bytes())
		return err
	})
	if err != nil {
		return "", err
	}
	log.Printf("[INFO] Created CBZ archive %s (%d pages)", cbzPath, b.pages)
	return cbzPath, nil
}
