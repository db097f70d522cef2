package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tduarte/cs2server/internal/config"
	"github.com/tduarte/cs2server/internal/model"
)

var (
	// DB 全局数据库连接实例
	DB *gorm.DB
)

// InitDB 初始化数据库连接并迁移表结构
func InitDB(cfg *config.Config) error {
	var dialector gorm.Dialector
	switch cfg.DBType {
	case "mysql":
		dialector = mysql.Open(cfg.GetDBConnString())
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDBConnString())
	default:
		return fmt.Errorf("不支持的数据库类型: %s", cfg.DBType)
	}

	// debug 模式下输出全部SQL
	level := logger.Warn
	if cfg.Mode == "debug" {
		level = logger.Info
	}
	gormLogger := logger.New(log.Default(), logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})

	conn, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}
	DB = conn

	log.Printf("成功连接到数据库: %s", cfg.DBType)
	return Migrate()
}

// Migrate 迁移全部模型
func Migrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}
	if err := DB.AutoMigrate(&model.Role{}, &model.User{}, &model.CommandLog{}); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// CloseDB 关闭数据库连接
func CloseDB() {
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("获取原生数据库连接失败: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("关闭数据库连接失败: %v", err)
	}
}
