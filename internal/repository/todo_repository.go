package repository

import (
	"context"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

// TodoRepository persists the todo collection as a whole. The store keeps the
// authoritative ordered copy in memory and writes it back after every
// mutation, so the repository only needs whole-collection reads and writes.
type TodoRepository interface {
	// Load returns every persisted todo in stored order. A store that has
	// never been written returns an empty slice.
	Load(ctx context.Context) ([]domain.Todo, error)

	// Save replaces the persisted collection with todos, keeping their order.
	// A failed Save must leave the previous contents readable.
	Save(ctx context.Context, todos []domain.Todo) error

	// Health reports backend status for the health endpoint.
	Health() map[string]string
}
