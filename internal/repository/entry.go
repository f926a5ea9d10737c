package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEntryNotFound 键不存在
var ErrEntryNotFound = errors.New("entry not found")

// EntryRepository 本地键值仓储接口
type EntryRepository interface {
	BaseRepository
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) ([]*models.LocalEntry, error)
}

// entryRepo 键值仓储实现
type entryRepo struct {
	*BaseRepo
}

// NewEntryRepository 创建键值仓储
func NewEntryRepository(db *gorm.DB) EntryRepository {
	return &entryRepo{BaseRepo: NewBaseRepo(db)}
}

// Get 读取键值，不存在时返回 ErrEntryNotFound
func (r *entryRepo) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	var entry models.LocalEntry
	err := r.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrEntryNotFound
	}
	logger.LogDatabaseOperation("get", entry.TableName(), time.Since(start), err)
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// Set 写入键值（存在则覆盖）
func (r *entryRepo) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	entry := &models.LocalEntry{Key: key, Value: value}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(entry).Error
	logger.LogDatabaseOperation("set", entry.TableName(), time.Since(start), err)
	return err
}

// Delete 删除键，键不存在不视为错误
func (r *entryRepo) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := r.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).
		Delete(&models.LocalEntry{}).Error
	logger.LogDatabaseOperation("delete", models.LocalEntry{}.TableName(), time.Since(start), err)
	return err
}

// ListByPrefix 按前缀列出键值
func (r *entryRepo) ListByPrefix(ctx context.Context, prefix string) ([]*models.LocalEntry, error) {
	var entries []*models.LocalEntry
	err := r.db.WithContext(ctx).
		Where(clause.Like{Column: clause.Column{Name: "key"}, Value: likePrefix(prefix) + "%"}).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	// LIKE 只做粗筛，这里精确过滤
	filtered := entries[:0]
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// likePrefix 截断到第一个通配符，得到的匹配集合是原前缀的超集
func likePrefix(s string) string {
	if i := strings.IndexAny(s, "%_\\"); i >= 0 {
		return s[:i]
	}
	return s
}
