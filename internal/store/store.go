// Package store persists projects, occurrences and error groups with gorm.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tiny-errors/internal/model"
)

// Supported drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = model.ErrNotFound

// Store bundles the repositories over one connection.
type Store struct {
	DB          *gorm.DB
	Projects    *ProjectRepository
	Occurrences *OccurrenceRepository
	Groups      *GroupRepository
	*Recorder
}

// New wires the repositories over db.
func New(db *gorm.DB) *Store {
	return &Store{
		DB:          db,
		Projects:    NewProjectRepository(db),
		Occurrences: NewOccurrenceRepository(db),
		Groups:      NewGroupRepository(db),
		Recorder:    NewRecorder(db),
	}
}

// Bootstrap opens the database, migrates it and upserts the given projects.
// It also returns the API keys whose cached credentials may be stale: the
// current key of every seeded project and any key a seed replaced.
func Bootstrap(ctx context.Context, driver, dsn string, projects []model.Project) (*Store, []string, error) {
	db, err := Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = Close(db)
		return nil, nil, fmt.Errorf("store: migrate: %w", err)
	}
	s := New(db)
	var stale []string
	for i := range projects {
		replaced, err := s.Projects.Seed(ctx, &projects[i])
		if err != nil {
			_ = Close(db)
			return nil, nil, fmt.Errorf("store: seed project %s: %w", projects[i].ID, err)
		}
		stale = append(stale, projects[i].APIKey)
		if replaced != "" {
			stale = append(stale, replaced)
		}
	}
	return s, stale, nil
}

// Open connects to the database for driver and applies pool settings.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection serializes transactions.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}
	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&model.Project{}, &model.ErrorData{}, &model.ErrorGroup{})
}

// Ping ensures the database is reachable.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// excluded references the value proposed for insertion inside an upsert's
// update clause.
func excluded(db *gorm.DB, column string) string {
	if db.Dialector.Name() == DriverMySQL {
		return "VALUES(" + column + ")"
	}
	return "excluded." + column
}

func greatest(db *gorm.DB, a, b string) string {
	if db.Dialector.Name() == DriverSQLite {
		return "max(" + a + ", " + b + ")"
	}
	return "GREATEST(" + a + ", " + b + ")"
}

func least(db *gorm.DB, a, b string) string {
	if db.Dialector.Name() == DriverSQLite {
		return "min(" + a + ", " + b + ")"
	}
	return "LEAST(" + a + ", " + b + ")"
}
