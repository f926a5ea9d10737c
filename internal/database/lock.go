package database

import (
	"fmt"
	"os"
	"time"

	"github.com/wfunc/tabletop-client/internal/logger"
	"go.uber.org/zap"
)

const (
	lockAttempts = 30
	lockRetry    = 200 * time.Millisecond
	lockStale    = 5 * time.Minute
)

// acquireMigrationLock 获取迁移锁
func acquireMigrationLock(lockPath string) (*os.File, error) {
	for i := 0; i < lockAttempts; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			logger.Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return lockFile, nil
		}

		// 检查锁文件是否太旧
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStale {
			logger.Warn("迁移锁文件过期，尝试删除", zap.String("lock", lockPath))
			os.Remove(lockPath)
			continue
		}

		logger.Debug("等待迁移锁...", zap.Int("attempt", i+1))
		time.Sleep(lockRetry)
	}

	return nil, fmt.Errorf("无法获取迁移锁，可能有其他进程正在执行迁移")
}

// releaseMigrationLock 释放迁移锁
func releaseMigrationLock(lockFile *os.File) {
	if lockFile == nil {
		return
	}

	lockPath := lockFile.Name()
	lockFile.Close()
	os.Remove(lockPath)
	logger.Debug("释放迁移锁", zap.String("lock", lockPath))
}

// CleanupStaleLocks 清理过期的锁文件
func CleanupStaleLocks(lockPath string) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > 2*lockStale {
		logger.Info("清理过期锁文件", zap.String("file", lockPath))
		os.Remove(lockPath)
	}
}
