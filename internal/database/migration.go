package database

import (
	"fmt"

	"github.com/wfunc/tabletop-client/internal/config"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrate 自动迁移本地存储表结构
func AutoMigrate(db *gorm.DB, cfg *config.DatabaseConfig) error {
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 多个客户端进程共用同一个sqlite文件时串行迁移
	if lockPath := sqliteLockPath(cfg); lockPath != "" {
		CleanupStaleLocks(lockPath)
		lockFile, err := acquireMigrationLock(lockPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	migrationModels := []interface{}{
		&models.LocalEntry{},
	}

	for _, model := range migrationModels {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	return nil
}

// sqliteLockPath 仅对sqlite文件库返回锁文件路径
func sqliteLockPath(cfg *config.DatabaseConfig) string {
	if cfg == nil {
		return ""
	}
	switch cfg.Driver {
	case "sqlite", "sqlite3":
	default:
		return ""
	}
	if cfg.DSN == "" || cfg.DSN[0] == ':' || hasScheme(cfg.DSN) {
		return ""
	}
	return cfg.DSN + ".migration.lock"
}
