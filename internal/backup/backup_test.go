package backup_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tomlord1122/calendar-todo/internal/backup"
	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

func todos() []domain.Todo {
	return []domain.Todo{
		{ID: 1, Date: domain.Date{Year: 2024, Month: time.March, Day: 15}, Time: domain.MustClockTime(9, 0), Title: "A", EnableNotification: true, NotificationMinutes: 15},
		{ID: 2, Date: domain.Date{Year: 2024, Month: time.March, Day: 16}, Title: "B"},
	}
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 4, 5, 123_000_000, time.UTC)
	assert.Equal(t, "todos-backup-2024-03-15T10-04-05-123Z.json", backup.FileName(at))
}

func TestManager_CreateListRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := backup.NewManager(fs, "data")

	first, err := m.Create(todos(), time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "data/todos-backup-2024-03-15T10-00-00-000Z.json", first.Path)

	second, err := m.Create(todos()[:1], time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, fs.Chtimes(first.Path, first.CreatedAt, first.CreatedAt))
	require.NoError(t, fs.Chtimes(second.Path, second.CreatedAt, second.CreatedAt))

	// Unrelated files are ignored.
	require.NoError(t, afero.WriteFile(fs, "data/todos.json", []byte("[]"), 0o644))

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Filename, list[0].Filename)
	assert.Equal(t, first.Filename, list[1].Filename)

	got, err := m.Read(first.Filename)
	require.NoError(t, err)
	assert.Equal(t, todos(), got)
}

func TestManager_ListMissingDir(t *testing.T) {
	list, err := backup.NewManager(afero.NewMemMapFs(), "nowhere").List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManager_ReadNotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "secret.json", []byte("[]"), 0o644))
	m := backup.NewManager(fs, "data")

	for _, name := range []string{
		"todos-backup-2024-01-01T00-00-00-000Z.json",
		"../secret.json",
		"todos-backup-../../secret.json",
		"todos.json",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Read(name)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrNotFound))
		})
	}
}

func TestDecode(t *testing.T) {
	doc, err := json.Marshal(backup.NewDocument(todos(), time.Now()))
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{name: "plain array", input: `[{"id":1,"date":"2024-03-15","title":"A"}]`, wantLen: 1},
		{name: "empty array", input: `[]`, wantLen: 0},
		{name: "export document", input: string(doc), wantLen: 2},
		{name: "missing title", input: `[{"id":1,"date":"2024-03-15","title":"A"},{"id":2,"date":"2024-03-15"}]`, wantErr: true},
		{name: "missing id", input: `[{"date":"2024-03-15","title":"A"}]`, wantErr: true},
		{name: "string ids", input: `[{"id":1,"date":"2024-03-15","title":"A"},{"id":"abc123googleevent","date":"2024-03-15","title":"B"}]`, wantLen: 2},
		{name: "fractional id", input: `[{"id":1.5,"date":"2024-03-15","title":"A"}]`, wantErr: true},
		{name: "missing date", input: `[{"id":1,"title":"A"}]`, wantErr: true},
		{name: "document without todos", input: `{"version":"1.0"}`, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "truncated", input: `[{"id":1,`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := backup.Decode([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestNewDocument(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	doc := backup.NewDocument(nil, now)
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, 0, doc.TotalTodos)
	assert.NotNil(t, doc.Todos)
	assert.Equal(t, now, doc.ExportDate)
}
