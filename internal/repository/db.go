package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/capreport/capacityreport/internal/domain"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PoolConfig holds connection pool limits for the target database.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ServerInfo describes the target MySQL server's capabilities.
type ServerInfo struct {
	Version         string `json:"version"`
	LoadDataSupport bool   `json:"load_data_support"`
}

// DSN builds a go-sql-driver DSN from the configured connection info.
// LOCAL INFILE staging is gated per-file by mysql.RegisterLocalFile, so
// AllowAllFiles stays off.
func DSN(info domain.MySQLInfo) string {
	cfg := mysql.NewConfig()
	cfg.User = info.User
	cfg.Passwd = info.Passwd
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", info.Host, info.Port)
	cfg.DBName = info.DBName
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Connect opens a GORM handle over the MySQL target described by the
// report configuration. The connection is opened fresh per call because
// the connection parameters are user-editable at runtime.
// Parameters:
//   - info: connection parameters from Configure.json.
//   - pool: pool limits; zero values fall back to driver defaults.
// Returns:
//   - *gorm.DB: database handle.
//   - error: non-nil if the connection cannot be established.
func Connect(info domain.MySQLInfo, pool PoolConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(DSN(info)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return db, nil
}

// Ping verifies connectivity with a trivial round trip.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// GetServerInfo reports the server version and whether the server side
// of LOAD DATA LOCAL INFILE is enabled.
func GetServerInfo(ctx context.Context, db *gorm.DB) (ServerInfo, error) {
	var info ServerInfo
	if err := db.WithContext(ctx).Raw("SELECT VERSION()").Scan(&info.Version).Error; err != nil {
		return info, err
	}

	var row struct {
		VariableName string `gorm:"column:Variable_name"`
		Value        string `gorm:"column:Value"`
	}
	err := db.WithContext(ctx).Raw("SHOW VARIABLES LIKE 'local_infile'").Scan(&row).Error
	if err == nil && strings.EqualFold(row.Value, "ON") {
		info.LoadDataSupport = true
	}
	return info, nil
}

// quoteIdent wraps an identifier in backticks, stripping any embedded
// backticks so user-supplied table/column names cannot break out.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}
