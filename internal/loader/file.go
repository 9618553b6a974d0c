// Package loader fetches procedure source and table metadata from the
// outside world: .prc files on disk and MySQL/PostgreSQL/SQLite catalogs.
package loader

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"
)

// ProcFile is one procedure source file found on disk.
type ProcFile struct {
	Name   string // file stem, upper-cased
	Path   string
	Code   string
	Digest uint64 // xxh3 of the source, used to skip unchanged files
}

// FileLoader reads procedure bodies from a directory of .prc files.
type FileLoader struct {
	dir string
}

// NewFileLoader creates a loader rooted at dir. The directory does not have
// to exist yet; lookups against a missing directory just find nothing.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

// Dir reports the configured directory.
func (l *FileLoader) Dir() string { return l.dir }

// Load finds one procedure by name: first an exact <name>.prc in the root,
// then a case-insensitive recursive search on the file stem. A missing
// procedure is ("", nil), not an error.
func (l *FileLoader) Load(procName string) (string, error) {
	exact := filepath.Join(l.dir, procName+".prc")
	if data, err := os.ReadFile(exact); err == nil {
		if code := strings.TrimSpace(string(data)); code != "" {
			slog.Info("loader.file", "procedure", procName, "path", exact)
			return code, nil
		}
	}

	var found string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".prc") {
			return nil
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if strings.EqualFold(stem, procName) {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", l.dir, err)
	}
	if found == "" {
		slog.Debug("loader.file_miss", "procedure", procName, "dir", l.dir)
		return "", nil
	}

	data, err := os.ReadFile(found)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", found, err)
	}
	code := strings.TrimSpace(string(data))
	if code == "" {
		return "", nil
	}
	slog.Info("loader.file", "procedure", procName, "path", found)
	return code, nil
}

// LoadAll collects every non-empty .prc file under the directory. Unreadable
// files are logged and skipped.
func (l *FileLoader) LoadAll() ([]ProcFile, error) {
	var files []ProcFile
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".prc") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			slog.Warn("loader.skip_unreadable", "path", path, "error", readErr)
			return nil
		}
		code := strings.TrimSpace(string(data))
		if code == "" {
			slog.Warn("loader.skip_empty", "path", path)
			return nil
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		files = append(files, ProcFile{
			Name:   strings.ToUpper(stem),
			Path:   path,
			Code:   code,
			Digest: xxh3.HashString(code),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.dir, err)
	}
	slog.Info("loader.scan", "dir", l.dir, "files", len(files))
	return files, nil
}
