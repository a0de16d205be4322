package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileStore persists the supervisor snapshot as a single JSON document.
// Save is atomic: the document is written to a temp file in the same
// directory, fsynced, then renamed over the target, so a reader (or a
// daemon killed mid-write) only ever observes a complete old or new
// snapshot. Operators may hand-edit the file between daemon runs.
type FileStore struct {
	path   string
	logger *slog.Logger
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Path() string { return s.path }

// Load reads the snapshot. A missing or unreadable file is not an error:
// the supervisor starts from a fresh zero-value document with a warning,
// losing at most the previous rate-limit history.
func (s *FileStore) Load(now time.Time) *Document {
	doc := NewDocument(now)
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state file unreadable, starting from empty state", "path", s.path, "error", err)
		}
		return doc
	}
	var loaded Document
	if err := json.Unmarshal(b, &loaded); err != nil {
		s.logger.Warn("state file corrupt, starting from empty state", "path", s.path, "error", err)
		return doc
	}
	if loaded.Services == nil {
		loaded.Services = make(map[string]*ServiceState)
	}
	for name, st := range loaded.Services {
		if st == nil {
			loaded.Services[name] = &ServiceState{LastStatus: StatusUnknown}
			continue
		}
		if st.LastStatus == "" {
			st.LastStatus = StatusUnknown
		}
	}
	// StartedAt tracks this daemon run, not the previous one.
	loaded.StartedAt = now
	return &loaded
}

// Save writes the full snapshot atomically.
func (s *FileStore) Save(doc *Document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
