// Package db manages GORM connections and schema migration for the queue
// and budget store.
package db

import (
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/courier/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from database config. parseTime is always on so
// scheduled_for and sent_at scan into time.Time.
func DSN(dc config.DatabaseConfig) string {
	mc := gomysql.NewConfig()
	mc.User = dc.User
	mc.Passwd = dc.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", dc.Host, dc.Port)
	mc.DBName = dc.Name
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Connect opens a GORM connection per the configured driver. MySQL is the
// multi-instance production store; SQLite serves single-node deployments.
func Connect(dc config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch dc.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dc.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect sqlite %s: %w", dc.Path, err)
		}
		return db, nil
	case "mysql":
		db, err := gorm.Open(mysql.Open(DSN(dc)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", dc.Host, dc.Port, dc.Name, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", dc.Driver)
	}
}
