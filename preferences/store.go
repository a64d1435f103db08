// Package preferences remembers the last account the operator used, so the
// bridge can reselect it at startup.
package preferences

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/persistance"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("log")

const (
	defaultDirName  = ".mt5adherence"
	defaultFileName = "account_preference.json"
)

type Preference struct {
	Login    int64  `json:"login"`
	Server   string `json:"server,omitempty"`
	LastUsed string `json:"last_used"`
}

// Store reads and writes the preference file. Every call may override the
// path; an empty override uses the store default.
type Store struct {
	path string
	now  func() time.Time
}

func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: expandHome(path), now: time.Now}
}

// DefaultPath is ~/.mt5adherence/account_preference.json, falling back to the
// working directory when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(defaultDirName, defaultFileName)
	}
	return filepath.Join(home, defaultDirName, defaultFileName)
}

func (s *Store) Path() string { return s.path }

func (s *Store) resolve(override string) string {
	if override == "" {
		return s.path
	}
	return expandHome(override)
}

func (s *Store) Save(login int64, server, override string) (*Preference, error) {
	pref := &Preference{
		Login:    login,
		Server:   server,
		LastUsed: persistance.FormatTime(s.now()),
	}
	data, err := json.MarshalIndent(pref, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.PreferenceIOError, "encode preference", err)
	}
	path := s.resolve(override)
	if err := persistance.WriteFileAtomic(path, data, 0600); err != nil {
		return nil, apperrors.Wrap(apperrors.PreferenceIOError, "write "+path, err)
	}
	log.Infof("Saved account preference %d (%s) to %s", login, server, path)
	return pref, nil
}

// Load returns the saved preference, or nil with a nil error when none exists.
func (s *Store) Load(override string) (*Preference, error) {
	path := s.resolve(override)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.PreferenceIOError, "read "+path, err)
	}
	var pref Preference
	if err := json.Unmarshal(data, &pref); err != nil {
		return nil, apperrors.Wrap(apperrors.PreferenceIOError, "decode "+path, err)
	}
	if pref.Login == 0 {
		return nil, nil
	}
	return &pref, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
