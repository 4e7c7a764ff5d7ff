package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/podsight/backend/internal/pkg/envutil"
	"github.com/podsight/backend/internal/pkg/logger"
)

// Service owns the gorm handle. Driver is selected by DB_DRIVER: "postgres"
// (default) or "sqlite" for local development.
type Service struct {
	db     *gorm.DB
	driver string
	log    *logger.Logger
}

func New(logg *logger.Logger) (*Service, error) {
	serviceLog := logg.With("service", "DBService")
	driver := envutil.String("DB_DRIVER", "postgres")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	}

	var (
		handle *gorm.DB
		err    error
	)
	switch driver {
	case "sqlite":
		path := envutil.String("SQLITE_PATH", "podsight.db")
		handle, err = gorm.Open(sqlite.Open(path), cfg)
		if err == nil {
			// Readers must never block on an in-progress write.
			err = handle.Exec(`PRAGMA journal_mode = WAL;`).Error
		}
	default:
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			envutil.String("POSTGRES_USER", "postgres"),
			envutil.String("POSTGRES_PASSWORD", ""),
			envutil.String("POSTGRES_HOST", "localhost"),
			envutil.String("POSTGRES_PORT", "5432"),
			envutil.String("POSTGRES_NAME", "podsight"),
			envutil.String("POSTGRES_SSLMODE", "disable"),
		)
		handle, err = gorm.Open(postgres.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	// The persistence layer is single-writer with many concurrent readers.
	sqlDB, err := handle.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(envutil.Int("DB_MAX_OPEN_CONNS", 10))
	sqlDB.SetMaxIdleConns(envutil.Int("DB_MAX_IDLE_CONNS", 5))

	return &Service{db: handle, driver: driver, log: serviceLog}, nil
}

func (s *Service) DB() *gorm.DB   { return s.db }
func (s *Service) Driver() string { return s.driver }
func (s *Service) Postgres() bool { return s.driver != "sqlite" }

// Migrate runs schema migration plus the derived full-text structures.
func (s *Service) Migrate() error {
	if err := AutoMigrateAll(s.db); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	if s.Postgres() {
		if err := EnsureSearchIndexes(s.db); err != nil {
			return fmt.Errorf("search indexes: %w", err)
		}
	}
	return nil
}
