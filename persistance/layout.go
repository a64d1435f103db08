package persistance

import (
	"os"
	"path/filepath"
)

// Layout is the on-disk structure rooted at the data directory.
type Layout struct {
	Root        string
	Extractions string
	Backtests   string
	Adherence   string
	Backups     string
	Checkpoints string
	// Logs sits next to the data directory, not inside it.
	Logs string
}

func NewLayout(root string) Layout {
	return Layout{
		Root:        root,
		Extractions: filepath.Join(root, "raw", "extractions"),
		Backtests:   filepath.Join(root, "raw", "backtests"),
		Adherence:   filepath.Join(root, "processed", "adherence"),
		Backups:     filepath.Join(root, "backups"),
		Checkpoints: filepath.Join(root, "checkpoints"),
		Logs:        filepath.Join(filepath.Dir(filepath.Clean(root)), "logs"),
	}
}

// Ensure creates every directory of the layout. It must run before any
// component writes to disk.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Extractions, l.Backtests, l.Adherence, l.Backups, l.Checkpoints, l.Logs} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	log.Debugf("Data layout ready under %s", l.Root)
	return nil
}
