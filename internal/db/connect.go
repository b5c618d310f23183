// Package db provides the shared persistent store: connection management,
// migrations, and the query/update API the scheduler core is built on.
package db

import (
	"fmt"

	sqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectOpts holds MySQL connection settings.
type ConnectOpts struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// DSN builds the MySQL DSN for the given settings.
func DSN(opts ConnectOpts) string {
	cfg := sqldriver.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Connect opens a GORM connection to the shared MySQL store.
func Connect(opts ConnectOpts) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(DSN(opts)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", opts.Host, opts.Port, opts.Database, err)
	}
	return db, nil
}

// ConnectAdmin opens a connection without selecting a database, used for
// CREATE DATABASE during setup.
func ConnectAdmin(opts ConnectOpts) (*gorm.DB, error) {
	admin := opts
	admin.Database = ""
	db, err := gorm.Open(mysql.Open(DSN(admin)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", opts.Host, opts.Port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}
