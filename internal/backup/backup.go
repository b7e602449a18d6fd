// Package backup manages timestamped snapshot files of the todo collection
// and the versioned export document.
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

const (
	filePrefix = "todos-backup-"
	fileSuffix = ".json"

	// DocumentVersion is written into every export document.
	DocumentVersion = "1.0"
)

// Info describes one snapshot file.
type Info struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is the export format. Restore and import accept it as well as a
// plain array of todos.
type Document struct {
	Version    string        `json:"version"`
	ExportDate time.Time     `json:"exportDate"`
	TotalTodos int           `json:"totalTodos"`
	Todos      []domain.Todo `json:"todos"`
}

// NewDocument wraps todos in an export document stamped with now.
func NewDocument(todos []domain.Todo, now time.Time) Document {
	if todos == nil {
		todos = []domain.Todo{}
	}
	return Document{
		Version:    DocumentVersion,
		ExportDate: now.UTC(),
		TotalTodos: len(todos),
		Todos:      todos,
	}
}

// Manager reads and writes snapshots in a single directory.
type Manager struct {
	fs  afero.Fs
	dir string
}

func NewManager(fs afero.Fs, dir string) *Manager {
	return &Manager{fs: fs, dir: dir}
}

// FileName is the snapshot name for an instant: the UTC ISO timestamp with
// ':' and '.' replaced by '-'.
func FileName(now time.Time) string {
	stamp := now.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return filePrefix + stamp + fileSuffix
}

// Create writes todos as a plain JSON array to a new snapshot file.
func (m *Manager) Create(todos []domain.Todo, now time.Time) (Info, error) {
	if todos == nil {
		todos = []domain.Todo{}
	}
	data, err := json.MarshalIndent(todos, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("encoding backup: %w", err)
	}
	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("creating backup directory %s: %w", m.dir, err)
	}

	name := FileName(now)
	path := filepath.Join(m.dir, name)
	if err := afero.WriteFile(m.fs, path, data, 0o644); err != nil {
		return Info{}, fmt.Errorf("writing %s: %w", path, err)
	}
	return Info{Filename: name, Path: path, CreatedAt: now}, nil
}

// List returns every snapshot in the directory, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("listing %s: %w", m.dir, err)
	}

	infos := []Info{}
	for _, e := range entries {
		if e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		infos = append(infos, Info{
			Filename:  e.Name(),
			Path:      filepath.Join(m.dir, e.Name()),
			CreatedAt: e.ModTime(),
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].Filename > infos[j].Filename
	})
	return infos, nil
}

// Read loads and validates a snapshot. Names that are not plain snapshot
// file names are reported as domain.ErrNotFound.
func (m *Manager) Read(filename string) ([]domain.Todo, error) {
	if filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) || !isBackupName(filename) {
		return nil, fmt.Errorf("backup %q: %w", filename, domain.ErrNotFound)
	}

	path := filepath.Join(m.dir, filename)
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("backup %q: %w", filename, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses either a plain array of todos or an export document and
// validates the whole batch.
func Decode(data []byte) ([]domain.Todo, error) {
	trimmed := bytes.TrimSpace(data)
	var todos []domain.Todo
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &todos); err != nil {
			return nil, &domain.ValidationError{Index: -1, Reason: "malformed todo list: " + err.Error()}
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var doc Document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, &domain.ValidationError{Index: -1, Reason: "malformed export document: " + err.Error()}
		}
		if doc.Todos == nil {
			return nil, &domain.ValidationError{Index: -1, Field: "todos", Reason: "is required"}
		}
		todos = doc.Todos
	default:
		return nil, &domain.ValidationError{Index: -1, Reason: "expected a todo list or an export document"}
	}

	domain.AdoptLegacyIDs(todos)
	if err := domain.ValidateBatch(todos); err != nil {
		return nil, err
	}
	if todos == nil {
		todos = []domain.Todo{}
	}
	return todos, nil
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}
