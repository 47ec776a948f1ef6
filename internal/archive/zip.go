package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrInvalidArchive is returned for buffers that are not zip archives or
// contain entries escaping the destination.
var ErrInvalidArchive = errors.New("invalid archive")

var zipSignatures = [][]byte{
	{'P', 'K', 0x03, 0x04}, // local file header
	{'P', 'K', 0x01, 0x02}, // central directory
	{'P', 'K', 0x05, 0x06}, // end of central directory (empty archive)
	{'P', 'K', 0x07, 0x08}, // spanned archive marker
}

// IsZip reports whether data starts with a zip signature.
func IsZip(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	for _, sig := range zipSignatures {
		if bytes.Equal(data[:4], sig) {
			return true
		}
	}
	return false
}

// ExtractZip validates data and extracts it into destDir. The destination
// is wiped and recreated before any entry is written; an invalid buffer
// leaves destDir untouched.
func ExtractZip(data []byte, destDir string) error {
	if !IsZip(data) {
		return fmt.Errorf("%w: missing zip signature", ErrInvalidArchive)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	base := filepath.Clean(destDir) + string(os.PathSeparator)
	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, base) && target != filepath.Clean(destDir) {
			return fmt.Errorf("%w: illegal file path in archive: %s", ErrInvalidArchive, f.Name)
		}
		targets[i] = target
	}

	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("wipe %s: %w", destDir, err)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}

	for i, f := range zr.File {
		if err := extractZipEntry(f, targets[i]); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, target string) error {
	mode := f.Mode()
	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", target, err)
		}
		return nil
	}
	if mode&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: symlink entries are not supported: %s", ErrInvalidArchive, f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, f.Name, err)
	}
	defer rc.Close()

	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("%w: write %s: %v", ErrInvalidArchive, f.Name, err)
	}
	return out.Close()
}

// noiseEntries are created by archivers and file browsers, never by mod
// authors.
var noiseEntries = map[string]bool{
	"__MACOSX":  true,
	".DS_Store": true,
}

// ResolveExtractedRoot returns the directory holding the real payload. If
// extractDir contains exactly one directory named like targetPath's base
// (noise entries ignored), that wrapper directory is the root.
func ResolveExtractedRoot(extractDir, targetPath string) (string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", fmt.Errorf("read extract dir: %w", err)
	}

	var kept []os.DirEntry
	for _, e := range entries {
		if !noiseEntries[e.Name()] {
			kept = append(kept, e)
		}
	}
	if len(kept) == 1 && kept[0].IsDir() && kept[0].Name() == filepath.Base(targetPath) {
		return filepath.Join(extractDir, kept[0].Name()), nil
	}
	return extractDir, nil
}
