package flatfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eaglebank/core-banking/internal/repository"
)

const headerLines = 2

// table is one pipe- or comma-delimited text file with a two-line header.
type table struct {
	path   string
	sep    string
	header [2]string
}

func newTable(dir, name, sep string) *table {
	return &table{
		path:   filepath.Join(dir, name),
		sep:    sep,
		header: repository.FileHeaders[name],
	}
}

func (t *table) format(fields []string) string {
	if t.sep == "," {
		return strings.Join(fields, ",")
	}
	return strings.Join(fields, " "+t.sep+" ")
}

func (t *table) parse(line string) []string {
	parts := strings.Split(line, t.sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ensure creates the file with its header when it does not exist yet.
func (t *table) ensure() error {
	if _, err := os.Stat(t.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w: %v", t.path, repository.ErrStorageUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w: %v", repository.ErrStorageUnavailable, err)
	}
	content := t.header[0] + "\n" + t.header[1] + "\n"
	if err := os.WriteFile(t.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to create %s: %w: %v", t.path, repository.ErrStorageUnavailable, err)
	}
	return nil
}

// scan calls fn for every record line, header lines skipped verbatim.
// Returning false from fn stops the scan.
func (t *table) scan(fn func(fields []string) bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if line <= headerLines {
			continue
		}
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if !fn(t.parse(text)) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	return nil
}

// find returns the first record for which match is true, or nil.
func (t *table) find(match func(fields []string) bool) ([]string, error) {
	var found []string
	err := t.scan(func(fields []string) bool {
		if match(fields) {
			found = fields
			return false
		}
		return true
	})
	return found, err
}

// appendRecord appends one record line, creating the file if needed.
func (t *table) appendRecord(fields []string) error {
	if err := t.ensure(); err != nil {
		return err
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s for append: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	if _, err := io.WriteString(f, t.format(fields)+"\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	return nil
}

// rewrite streams the table into a sibling temporary file, replacing every
// record for which edit returns a non-nil slice, then swaps the files. It
// reports whether any record matched. The temporary is synced before the
// swap; a failed rename after the original was unlinked is corruption.
func (t *table) rewrite(edit func(fields []string) []string) (bool, error) {
	src, err := os.Open(t.path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	defer src.Close()

	tmpPath := t.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to create temp for %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	abort := func(cause error) (bool, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return false, fmt.Errorf("failed to rewrite %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, cause)
	}

	w := bufio.NewWriter(tmp)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	line := 0
	matched := false
	for sc.Scan() {
		line++
		text := sc.Text()
		if line > headerLines && strings.TrimSpace(text) != "" {
			if replaced := edit(t.parse(text)); replaced != nil {
				text = t.format(replaced)
				matched = true
			}
		}
		if _, err := w.WriteString(text + "\n"); err != nil {
			return abort(err)
		}
	}
	if err := sc.Err(); err != nil {
		return abort(err)
	}
	if !matched {
		tmp.Close()
		os.Remove(tmpPath)
		return false, nil
	}
	if err := w.Flush(); err != nil {
		return abort(err)
	}
	if err := tmp.Sync(); err != nil {
		return abort(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("failed to close temp for %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	src.Close()

	if err := os.Remove(t.path); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("failed to unlink %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		return false, fmt.Errorf("failed to rename temp over %s: %w: %v", filepath.Base(t.path), repository.ErrStorageCorrupted, err)
	}
	return true, nil
}
