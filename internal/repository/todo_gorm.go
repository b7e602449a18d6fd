package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

// todoRecord is the table row for a todo. Position keeps the collection's
// insertion order, which the JSON file gets for free.
type todoRecord struct {
	ID                  int64            `gorm:"primaryKey;autoIncrement:false"`
	Position            int              `gorm:"not null;index"`
	Date                domain.Date      `gorm:"type:varchar(10);not null;index"`
	Time                domain.ClockTime `gorm:"type:varchar(5)"`
	Title               string           `gorm:"not null"`
	Description         string
	Link                string
	EnableNotification  bool `gorm:"not null"`
	NotificationMinutes int  `gorm:"not null"`
	Completed           bool `gorm:"not null"`
	Source              string
	ExternalEventID     string    `gorm:"index"`
	CreatedAt           time.Time `gorm:"autoCreateTime:false"`
}

func (todoRecord) TableName() string {
	return "todos"
}

func toRecord(t domain.Todo, position int) todoRecord {
	return todoRecord{
		ID:                  t.ID,
		Position:            position,
		Date:                t.Date,
		Time:                t.Time,
		Title:               t.Title,
		Description:         t.Description,
		Link:                t.Link,
		EnableNotification:  t.EnableNotification,
		NotificationMinutes: t.NotificationMinutes,
		Completed:           t.Completed,
		Source:              string(t.Source),
		ExternalEventID:     t.ExternalEventID,
		CreatedAt:           t.CreatedAt,
	}
}

func (r todoRecord) toDomain() domain.Todo {
	return domain.Todo{
		ID:                  r.ID,
		Date:                r.Date,
		Time:                r.Time,
		Title:               r.Title,
		Description:         r.Description,
		Link:                r.Link,
		EnableNotification:  r.EnableNotification,
		NotificationMinutes: r.NotificationMinutes,
		Completed:           r.Completed,
		Source:              domain.Source(r.Source),
		ExternalEventID:     r.ExternalEventID,
		CreatedAt:           r.CreatedAt,
	}
}

// Migrate creates or updates the todos table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&todoRecord{})
}

// GormTodoRepository implements TodoRepository on a SQL database through GORM.
type GormTodoRepository struct {
	db     *gorm.DB
	health func() map[string]string
}

// NewGormTodoRepository creates a new GORM todo repository. health may be nil.
func NewGormTodoRepository(db *gorm.DB, health func() map[string]string) *GormTodoRepository {
	return &GormTodoRepository{db: db, health: health}
}

func (r *GormTodoRepository) Load(ctx context.Context) ([]domain.Todo, error) {
	var rows []todoRecord
	if err := r.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying todos: %w", err)
	}
	todos := make([]domain.Todo, 0, len(rows))
	for _, row := range rows {
		todos = append(todos, row.toDomain())
	}
	return todos, nil
}

// Save replaces the table contents in a single transaction, so a failure
// rolls back to the previous collection.
func (r *GormTodoRepository) Save(ctx context.Context, todos []domain.Todo) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&todoRecord{}).Error; err != nil {
			return fmt.Errorf("clearing todos: %w", err)
		}
		if len(todos) == 0 {
			return nil
		}
		rows := make([]todoRecord, 0, len(todos))
		for i, t := range todos {
			rows = append(rows, toRecord(t, i))
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("inserting todos: %w", err)
		}
		return nil
	})
}

func (r *GormTodoRepository) Health() map[string]string {
	if r.health == nil {
		return map[string]string{"status": "up", "storage": "postgres"}
	}
	stats := r.health()
	stats["storage"] = "postgres"
	return stats
}
