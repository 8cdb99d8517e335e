package db

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/clinicpay/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect returns the gorm dialector for cfg.DBType.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.DBType {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// DSN builds the connection string. Every dialect is pinned to UTC so
// payment timestamps and due dates compare the same way everywhere.
func DSN(cfg config.Config) (string, error) {
	switch cfg.DBType {
	case "postgres":
		app := strings.TrimSpace(cfg.AppName)
		if app == "" {
			app = "clinicpay"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC application_name=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode, app,
		), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName,
		), nil
	case "sqlite":
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			return "", fmt.Errorf("sqlite requires DATABASE_PATH")
		}
		return path + "?_busy_timeout=5000&_foreign_keys=on", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}
