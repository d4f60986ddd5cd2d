package db

import (
	"fmt"
	"strconv"
	"time"

	"github.com/smith3v/family-reminders/pkg/config"
	"github.com/smith3v/family-reminders/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB(cfg config.DatabaseConfig) error {
	gormLogger, gormErr := newGormLogger(config.AppConfig.Logging.GormLevel)
	if gormErr != nil {
		logger.Error("invalid gorm log level", "value", config.AppConfig.Logging.GormLevel, "error", gormErr)
	}

	dialector, err := openDialector(cfg)
	if err != nil {
		return err
	}

	DB, err = gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}

	if cfg.Driver == "postgres" {
		sqlDB, err := DB.DB()
		if err != nil {
			return fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return Migrate(DB)
}

func openDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Path + "?_foreign_keys=on"), nil
	case "postgres", "":
		dsn := cfg.URL
		if dsn == "" {
			dsn = "host=" + cfg.Host +
				" user=" + cfg.User +
				" password=" + cfg.Password +
				" dbname=" + cfg.DBName +
				" port=" + strconv.Itoa(cfg.Port) +
				" sslmode=" + cfg.SSLMode +
				" TimeZone=UTC"
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate creates or updates every table the engine uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		logger.Error("failed to auto-migrate database", "error", err)
		return err
	}
	if err := migrateNextDueAt(db); err != nil {
		logger.Error("failed to backfill next_due_at", "error", err)
		return err
	}
	return nil
}

// migrateNextDueAt fills next_due_at for reminders created before the column
// existed, using the earliest alert that has not fired yet.
func migrateNextDueAt(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if !db.Migrator().HasColumn(&Reminder{}, "next_due_at") {
		return nil
	}
	return db.Exec(`
UPDATE reminders
SET next_due_at = (
  SELECT MIN(alerts.due_at)
  FROM alerts
  WHERE alerts.reminder_id = reminders.id
    AND alerts.due_at > ?
)
WHERE next_due_at IS NULL
  AND completed = ?
`, time.Now().UTC(), false).Error
}
