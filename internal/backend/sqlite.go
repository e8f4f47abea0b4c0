// Embedded SQLite implementation of the durable backend, for single-node
// deployments and tests where no hosted chats API exists. Uses the pure-Go
// driver so builds stay CGO-free.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quantumsenses/go-deploy-cache/internal/domain"
)

// ChatTurn is one persisted utterance. Turns are ordered by Position within
// an (owner, topic) conversation; a user/assistant exchange occupies two
// consecutive positions.
type ChatTurn struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Owner     string    `gorm:"type:varchar(64);not null;index:idx_owner_topic,priority:1"`
	Topic     string    `gorm:"type:varchar(255);not null;index:idx_owner_topic,priority:2"`
	Position  int       `gorm:"not null"`
	Role      string    `gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// TableName returns the database table name for ChatTurn.
func (ChatTurn) TableName() string { return "chat_turns" }

// ContainerRow records a provisioned container.
type ContainerRow struct {
	ID        string `gorm:"type:char(36);primaryKey"`
	Owner     string `gorm:"type:varchar(64);not null;index"`
	Name      string `gorm:"type:varchar(255);not null"`
	URL       string `gorm:"type:text"`
	Host      string `gorm:"type:varchar(255)"`
	CreatedAt time.Time
}

// TableName returns the database table name for ContainerRow.
func (ContainerRow) TableName() string { return "containers" }

// ContainerSpecRow records the confirmed stack and resources of a container,
// stored as the same display strings the hosted API keeps.
type ContainerSpecRow struct {
	ID            string `gorm:"type:char(36);primaryKey"`
	ContainerName string `gorm:"type:varchar(255);not null;index"`
	Stack         string `gorm:"type:text;not null"`
	Resources     string `gorm:"type:text;not null"`
	CreatedAt     time.Time
}

// TableName returns the database table name for ContainerSpecRow.
func (ContainerSpecRow) TableName() string { return "container_specs" }

// OpenSQLite opens (or creates) the embedded database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the embedded schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ChatTurn{},
		&ContainerRow{},
		&ContainerSpecRow{},
	)
}

// SQLiteBackend implements DurableBackend, SpecsWriter, and ContainerWriter
// over the embedded database. Credentials are accepted and ignored so the
// reconciler code path stays identical across backend modes.
type SQLiteBackend struct {
	DB *gorm.DB
}

// NewSQLiteBackend wraps an opened gorm handle.
func NewSQLiteBackend(db *gorm.DB) *SQLiteBackend {
	return &SQLiteBackend{DB: db}
}

// PersistBatch appends turns to (owner, topic), continuing the position
// sequence from the existing tail. All turns land in one transaction.
func (b *SQLiteBackend) PersistBatch(ctx context.Context, owner, topic string, turns []domain.Turn, _ Credential) error {
	if len(turns) == 0 {
		return nil
	}
	err := b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var max int
		row := tx.Model(&ChatTurn{}).
			Where("owner = ? AND topic = ?", owner, topic).
			Select("COALESCE(MAX(position), -1)").
			Row()
		if err := row.Scan(&max); err != nil {
			return err
		}

		now := time.Now().UTC()
		rows := make([]ChatTurn, len(turns))
		for i, t := range turns {
			rows[i] = ChatTurn{
				ID:        uuid.NewString(),
				Owner:     owner,
				Topic:     topic,
				Position:  max + 1 + i,
				Role:      t.Role,
				Content:   t.Content,
				CreatedAt: now,
			}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("%w: sqlite dump: %v", ErrBackendFailure, err)
	}
	return nil
}

// FetchMessages reads the conversation back in position order and folds the
// user/assistant turn pairs into messages. A dangling user turn at the tail
// (assistant reply never persisted) is folded into a message with an empty
// assistant side rather than dropped.
func (b *SQLiteBackend) FetchMessages(ctx context.Context, owner, topic string, _ Credential) ([]domain.ChatMessage, error) {
	var rows []ChatTurn
	err := b.DB.WithContext(ctx).
		Where("owner = ? AND topic = ?", owner, topic).
		Order("position asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite fetch: %v", ErrBackendFailure, err)
	}

	out := make([]domain.ChatMessage, 0, (len(rows)+1)/2)
	var pending *domain.ChatMessage
	for _, r := range rows {
		switch r.Role {
		case domain.RoleUser:
			if pending != nil {
				out = append(out, *pending)
			}
			pending = &domain.ChatMessage{User: r.Content}
		case domain.RoleAssistant:
			if pending != nil {
				pending.Assistant = r.Content
				out = append(out, *pending)
				pending = nil
			} else {
				out = append(out, domain.ChatMessage{Assistant: r.Content})
			}
		}
	}
	if pending != nil {
		out = append(out, *pending)
	}
	return out, nil
}

// CreateContainer records a provisioned container.
func (b *SQLiteBackend) CreateContainer(ctx context.Context, owner, name, url, host string, _ Credential) error {
	row := ContainerRow{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      name,
		URL:       url,
		Host:      host,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: sqlite create container: %v", ErrBackendFailure, err)
	}
	return nil
}

// WriteSpecs records a container's confirmed stack and resources.
func (b *SQLiteBackend) WriteSpecs(ctx context.Context, containerName string, rec domain.StagingRecord, _ Credential) error {
	row := ContainerSpecRow{
		ID:            uuid.NewString(),
		ContainerName: containerName,
		Stack:         fmt.Sprintf("frontend: %s, backend: %s, database: %s", rec.Frontend, rec.Backend, rec.DB),
		Resources:     fmt.Sprintf("ram: %sGB, mem: %sGB, cpu: %s", rec.RAM, rec.Mem, rec.CPU),
		CreatedAt:     time.Now().UTC(),
	}
	if err := b.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: sqlite write specs: %v", ErrBackendFailure, err)
	}
	return nil
}

// StaticCredentialProvider returns a fixed credential. The embedded backend
// ignores credentials entirely; this keeps the reconciler's
// credential-per-owner flow intact in sqlite mode.
type StaticCredentialProvider struct {
	Cred Credential
}

// Obtain returns the fixed credential.
func (p StaticCredentialProvider) Obtain(ctx context.Context) (Credential, error) {
	return p.Cred, nil
}
