package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// StateFileName is the notification state file inside the data directory.
const StateFileName = "notifications.json"

// State is what survives a restart: the browser permission and the push
// device tokens.
type State struct {
	Permission Permission `json:"permission"`
	Devices    []string   `json:"devices"`
}

// StateStore keeps State in a JSON file next to the todo collection.
type StateStore struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger

	saving sync.Mutex

	mu sync.Mutex
	// Devices restored while push is off are kept for a later run.
	devices []string
}

func NewStateStore(fs afero.Fs, dataDir string, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{fs: fs, path: filepath.Join(dataDir, StateFileName), logger: logger}
}

func (s *StateStore) Path() string {
	return s.path
}

// Load reads the state file. A missing file is the default state.
func (s *StateStore) Load() (State, error) {
	st := State{Permission: PermissionDefault, Devices: []string{}}
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return st, fmt.Errorf("checking %s: %w", s.path, err)
	}
	if !exists {
		return st, nil
	}
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return st, fmt.Errorf("reading %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	if _, err := ParsePermission(string(st.Permission)); err != nil {
		return st, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	if st.Devices == nil {
		st.Devices = []string{}
	}
	return st, nil
}

// Save writes to a sibling temp file and renames it over the state file.
func (s *StateStore) Save(st State) error {
	if st.Devices == nil {
		st.Devices = []string{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding notification state: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(s.path), err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// Track restores the saved state into hub and push, then saves again after
// every later change. push may be nil. Call it before the scheduler's first
// reconcile so reminders due at startup see the restored permission.
func (s *StateStore) Track(hub *Hub, push *Push) error {
	st, err := s.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.devices = st.Devices
	s.mu.Unlock()

	hub.SetPermission(st.Permission)
	if push != nil {
		for _, token := range st.Devices {
			push.Register(token)
		}
	}

	save := func() {
		s.saving.Lock()
		defer s.saving.Unlock()
		if err := s.Save(s.snapshot(hub, push)); err != nil {
			s.logger.Error("saving notification state", "path", s.path, "error", err)
		}
	}
	hub.OnChange(save)
	if push != nil {
		push.OnChange(save)
	}
	s.logger.Info("notification state restored",
		"permission", st.Permission, "devices", len(st.Devices), "push_enabled", push != nil)
	return nil
}

func (s *StateStore) snapshot(hub *Hub, push *Push) State {
	st := State{Permission: hub.Permission()}
	if push != nil {
		st.Devices = push.Devices()
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Devices = append([]string(nil), s.devices...)
	sort.Strings(st.Devices)
	return st
}
