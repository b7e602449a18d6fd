package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

// TodosFileName is the collection file inside the data directory.
const TodosFileName = "todos.json"

// FileTodoRepository stores the collection as a pretty-printed JSON array.
type FileTodoRepository struct {
	fs   afero.Fs
	dir  string
	path string
}

// NewFileTodoRepository creates the data directory if needed.
func NewFileTodoRepository(fs afero.Fs, dataDir string) (*FileTodoRepository, error) {
	if err := ensureDir(fs, dataDir); err != nil {
		return nil, err
	}
	return &FileTodoRepository{
		fs:   fs,
		dir:  dataDir,
		path: filepath.Join(dataDir, TodosFileName),
	}, nil
}

// Path is the location of the collection file.
func (r *FileTodoRepository) Path() string {
	return r.path
}

func (r *FileTodoRepository) Load(ctx context.Context) ([]domain.Todo, error) {
	exists, err := afero.Exists(r.fs, r.path)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", r.path, err)
	}
	if !exists {
		return []domain.Todo{}, nil
	}

	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.path, err)
	}

	var todos []domain.Todo
	if err := json.Unmarshal(data, &todos); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", r.path, err)
	}
	if todos == nil {
		todos = []domain.Todo{}
	}
	domain.AdoptLegacyIDs(todos)
	return todos, nil
}

// Save writes to a sibling temp file and renames it over the collection file.
func (r *FileTodoRepository) Save(ctx context.Context, todos []domain.Todo) error {
	if todos == nil {
		todos = []domain.Todo{}
	}
	data, err := json.MarshalIndent(todos, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding todos: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		_ = r.fs.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := r.fs.Rename(tmp, r.path); err != nil {
		_ = r.fs.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", r.path, err)
	}
	return nil
}

func ensureDir(fs afero.Fs, dir string) error {
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return fmt.Errorf("checking data directory %s: %w", dir, err)
	}
	if exists {
		return nil
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dir, err)
	}
	return nil
}

func (r *FileTodoRepository) Health() map[string]string {
	stats := map[string]string{
		"storage": "file",
		"path":    r.path,
	}
	info, err := r.fs.Stat(r.dir)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("data directory unavailable: %v", err)
		return stats
	}
	if !info.IsDir() {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("%s is not a directory", r.dir)
		return stats
	}
	stats["status"] = "up"
	stats["message"] = "It's healthy"
	return stats
}
