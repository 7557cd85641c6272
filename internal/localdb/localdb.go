// Package localdb is the SQLite store behind the simulated identity provider:
// local accounts, profiles and the user's reports, dashboards and activity.
package localdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound  = errors.New("localdb: not found")
	ErrDuplicate = errors.New("localdb: already exists")
)

// Account is a local credential record.
type Account struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type profileRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Email     string `gorm:"size:255;not null"`
	Name      string `gorm:"size:255"`
	Company   string `gorm:"size:255"`
	Role      string `gorm:"size:32;not null;default:standard"`
	Plan      string `gorm:"size:32;not null;default:free"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (profileRow) TableName() string { return "profiles" }

type reportRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"index;size:36;not null"`
	Title       string `gorm:"not null"`
	Description string
	Type        string `gorm:"size:32;not null"`
	Period      string `gorm:"size:32;not null"`
	Indicators  datatypes.JSON
	CreatedAt   time.Time  `gorm:"index"`
	Modified    *time.Time `gorm:"column:updated_at"`
}

func (reportRow) TableName() string { return "reports" }

type dashboardRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"index;size:36;not null"`
	Title       string `gorm:"not null"`
	Description string
	VisualType  string `gorm:"size:32;not null"`
	Widgets     datatypes.JSON
	CreatedAt   time.Time  `gorm:"index"`
	Modified    *time.Time `gorm:"column:updated_at"`
}

func (dashboardRow) TableName() string { return "dashboards" }

type activityRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"index;size:36;not null"`
	Action    string `gorm:"size:32;not null"`
	Details   string
	CreatedAt time.Time `gorm:"index"`
}

func (activityRow) TableName() string { return "user_activities" }

type DB struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at dsn and migrates it.
// ":memory:" gives a private in-memory database.
func Open(dsn string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	// one connection: sqlite has a single writer and :memory: is per connection
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&Account{}, &profileRow{}, &reportRow{}, &dashboardRow{}, &activityRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate local database: %w", err)
	}
	return &DB{db: gdb}, nil
}

func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---------------- accounts ----------------

func (d *DB) CreateAccount(ctx context.Context, a Account) error {
	err := d.db.WithContext(ctx).Create(&a).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// UpsertAccount inserts a or overwrites the row with the same ID.
func (d *DB) UpsertAccount(ctx context.Context, a Account) error {
	if err := d.db.WithContext(ctx).Save(&a).Error; err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (d *DB) AccountByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	if err := d.db.WithContext(ctx).Where("email = ?", email).First(&a).Error; err != nil {
		return Account{}, notFound(err)
	}
	return a, nil
}

func (d *DB) AccountByID(ctx context.Context, id string) (Account, error) {
	var a Account
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return Account{}, notFound(err)
	}
	return a, nil
}
