package db

import (
	"time"

	"github.com/smallbiznis/clinicpay/internal/config"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func poolConfig(cfg config.Config) PoolConfig {
	pool := PoolConfig{
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
	}
	if cfg.DBType == "sqlite" {
		// one writer; concurrent connections would just fight over the file lock
		pool.MaxOpenConn = 1
		pool.MaxIdleConn = 1
	}
	return pool
}
