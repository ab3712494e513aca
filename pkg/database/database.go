// Package database 负责关系型数据库与 Redis 的连接。
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kbqa-go/internal/config"
	"kbqa-go/internal/model"
	"kbqa-go/pkg/log"
)

// Open 根据 driver 连接 MySQL 或 SQLite，并自动迁移表结构。
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
	case "mysql", "":
		db, err = gorm.Open(mysql.Open(cfg.MySQL.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		// 配置连接池
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	log.Infof("数据库连接成功, driver: %s", cfg.Driver)
	return db, nil
}

// OpenSQLite 打开 SQLite 数据库，path 为 ":memory:" 时使用内存库。
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// 内存库每个连接都是独立的数据库，只保留一个连接
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
