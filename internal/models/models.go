package models

import (
	"encoding/json"
	"time"
)

// Role 区分房主（发布项目）与承包商（购买线索并报价）。
type Role string

const (
	RoleHomeowner  Role = "homeowner"
	RoleContractor Role = "contractor"
)

// MessageType 标记聊天消息的种类。
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageQuote  MessageType = "quote"
	MessageSystem MessageType = "system"
)

// Valid 判断是否为已知的消息类型。
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageQuote, MessageSystem:
		return true
	}
	return false
}

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	DisplayName  string `gorm:"size:128;not null"`
	Role         Role   `gorm:"size:16;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Project struct {
	ID          uint   `gorm:"primaryKey"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"type:text"`
	OwnerID     uint   `gorm:"index;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectParticipant 记录购买了项目线索、可以进入聊天的承包商。
type ProjectParticipant struct {
	ID        uint `gorm:"primaryKey"`
	ProjectID uint `gorm:"uniqueIndex:idx_participant;not null"`
	UserID    uint `gorm:"uniqueIndex:idx_participant;not null"`
	CreatedAt time.Time
}

// Message 为持久化的聊天消息；ReceiverID 为空表示发给项目内所有参与者。
type Message struct {
	ID          uint            `gorm:"primaryKey"`
	ProjectID   uint            `gorm:"index:idx_msg_project_id;not null"`
	SenderID    uint            `gorm:"index;not null"`
	ReceiverID  *uint           `gorm:"index"`
	Content     string          `gorm:"type:text;not null"`
	MessageType MessageType     `gorm:"size:16;not null;default:text"`
	Attachments json.RawMessage `gorm:"serializer:json;type:text"`
	Read        bool            `gorm:"not null;default:false"`
	CreatedAt   time.Time
}

// Quote 是报价的权威记录，聊天中的报价消息只是通知。
type Quote struct {
	ID           uint   `gorm:"primaryKey"`
	ProjectID    uint   `gorm:"index;not null"`
	ContractorID uint   `gorm:"index;not null"`
	AmountCents  int64  `gorm:"not null"`
	Description  string `gorm:"type:text;not null"`
	Timeline     string `gorm:"size:128"`
	MessageID    *uint
	CreatedAt    time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
