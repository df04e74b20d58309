package store

import (
	"context"
	"fmt"

	"homechat/internal/models"

	"gorm.io/gorm"
)

// Quotes 负责报价记录。报价记录与对应的聊天通知在同一个事务内写入，
// 不会出现只有一边落库的情况。
type Quotes struct {
	db *gorm.DB
}

func NewQuotes(db *gorm.DB) *Quotes {
	return &Quotes{db: db}
}

// Submit 写入报价及其 quote 类型的聊天消息，并把两者关联起来。
// 只有事务提交后调用方才应广播该消息。
func (s *Quotes) Submit(ctx context.Context, q *models.Quote, content string) (*models.Message, error) {
	var msg *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(q).Error; err != nil {
			return fmt.Errorf("create quote: %w", err)
		}
		m := &models.Message{
			ProjectID:   q.ProjectID,
			SenderID:    q.ContractorID,
			Content:     content,
			MessageType: models.MessageQuote,
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("create quote message: %w", err)
		}
		if err := tx.Model(q).Update("message_id", m.ID).Error; err != nil {
			return fmt.Errorf("link quote message: %w", err)
		}
		q.MessageID = &m.ID
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListByProject 返回项目的全部报价，最新的在前。
func (s *Quotes) ListByProject(ctx context.Context, projectID uint) ([]models.Quote, error) {
	var quotes []models.Quote
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("id desc").Find(&quotes).Error; err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	return quotes, nil
}
