// Package persistance owns every file the bridge writes: extraction
// checkpoints, finished extraction artifacts and the data directory layout.
package persistance

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("log")

// Timestamps are written as RFC 3339 in UTC. Naive ISO values (no zone) are
// also accepted on read and taken as UTC.
const naiveISOLayout = "2006-01-02T15:04:05"

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidID reports whether id is safe to use as a file name component.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// WriteFileAtomic writes a temporary file, then renames it over path. Renaming
// makes the write "atomic", in the sense that either all the content is
// written or none of it is.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	// best-effort directory fsync
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(naiveISOLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
