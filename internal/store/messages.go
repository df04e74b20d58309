// Package store 用 gorm 实现聊天核心依赖的外部协作者接口。
package store

import (
	"context"
	"errors"
	"fmt"

	"homechat/internal/chat"
	"homechat/internal/models"

	"gorm.io/gorm"
)

var ErrNotFound = chat.ErrNotFound

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Messages 是 chat.MessageStore 的 gorm 实现。
type Messages struct {
	db *gorm.DB
}

func NewMessages(db *gorm.DB) *Messages {
	return &Messages{db: db}
}

// Create 写入消息并回填 ID 与 CreatedAt；项目必须存在。
func (s *Messages) Create(ctx context.Context, msg *models.Message) error {
	if msg.MessageType == "" {
		msg.MessageType = models.MessageText
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Project{}).Where("id = ?", msg.ProjectID).Count(&n).Error; err != nil {
			return fmt.Errorf("check project: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("project %d: %w", msg.ProjectID, ErrNotFound)
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return nil
	})
}

// ListByProject 按 id 升序返回项目消息；beforeID 非零时只取更早的一页。
func (s *Messages) ListByProject(ctx context.Context, projectID uint, limit int, beforeID uint) ([]models.Message, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead 把消息标记为已读，返回是否真的发生了状态变化。重复标记是空操作。
func (s *Messages) MarkRead(ctx context.Context, projectID, messageID uint) (bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&models.Message{}).
		Where(map[string]any{"id": messageID, "project_id": projectID, "read": false}).
		Update("read", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark read: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	var msg models.Message
	if err := db.Select("id").Where("id = ? AND project_id = ?", messageID, projectID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("mark read lookup: %w", err)
	}
	return false, nil
}
