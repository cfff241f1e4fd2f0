package db

import (
	"time"

	"github.com/smallbiznis/paymail/internal/config"
)

type Config struct {
	Type            string
	Path            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// FromAppConfig maps the ledger settings onto a database config.
func FromAppConfig(cfg config.Config) Config {
	return Config{
		Type:            cfg.LedgerDriver,
		Path:            cfg.LedgerPath,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     2,
		MaxOpenConn:     4,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}
