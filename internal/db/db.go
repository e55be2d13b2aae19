package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Driver names the gorm dialect picked for a DSN.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

// DetectDriver picks a dialect from the DSN shape:
// postgres URLs, mysql "user:pass@tcp(host)/db" DSNs, anything else is a sqlite path.
func DetectDriver(dsn string) Driver {
	d := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return DriverPostgres
	case strings.Contains(d, "@tcp("), strings.HasPrefix(d, "mysql://"):
		return DriverMySQL
	default:
		return DriverSQLite
	}
}

func Open(dsn string) (*gorm.DB, error) {
	return openWith(dsn, log.New(os.Stderr, "\r\n", log.LstdFlags))
}

// openWith logs slow queries and errors to w. Lookups that find no row are a
// normal cache miss and stay quiet.
func openWith(dsn string, w gormlogger.Writer) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.New(w, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})}
	switch DetectDriver(dsn) {
	case DriverPostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	case DriverMySQL:
		return gorm.Open(mysql.Open(strings.TrimPrefix(dsn, "mysql://")), cfg)
	default:
		if !strings.HasPrefix(dsn, "file:") {
			if dir := filepath.Dir(dsn); dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create db dir: %w", err)
				}
			}
		}
		return gorm.Open(gormsqlite.Open(dsn), cfg)
	}
}
