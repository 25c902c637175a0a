package flatfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/eaglebank/core-banking/internal/repository"
)

// backup is a sibling copy of the tables an atomic envelope may touch.
type backup struct {
	dir     string
	entries []backupEntry
}

type backupEntry struct {
	original string
	copy     string
	absent   bool
}

func (b *Backend) snapshot(tables ...*table) (*backup, error) {
	dir := filepath.Join(b.tempDir, fmt.Sprintf("backup-%d", b.now().UnixNano()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w: %v", repository.ErrStorageUnavailable, err)
	}
	bk := &backup{dir: dir}
	for _, t := range tables {
		entry := backupEntry{original: t.path, copy: filepath.Join(dir, filepath.Base(t.path))}
		if err := copyFile(t.path, entry.copy); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				bk.discard()
				return nil, fmt.Errorf("failed to back up %s: %w: %v", filepath.Base(t.path), repository.ErrStorageUnavailable, err)
			}
			entry.absent = true
		}
		bk.entries = append(bk.entries, entry)
	}
	return bk, nil
}

// restore puts every backed-up table back in place. It is attempted once;
// the caller treats its failure as corruption.
func (bk *backup) restore() error {
	var errs []error
	for _, e := range bk.entries {
		if e.absent {
			if err := os.Remove(e.original); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		tmp := e.original + ".restore"
		if err := copyFile(e.copy, tmp); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Rename(tmp, e.original); err != nil {
			os.Remove(tmp)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (bk *backup) discard() {
	os.RemoveAll(bk.dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
