// Package protocol 定义 WebSocket 上的 JSON 帧。入站与出站帧都是封闭的变体集合，
// 每一帧都带有 type 字段作为判别符。
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FrameType 是帧的 type 判别符。
type FrameType string

const (
	TypeAuthenticate FrameType = "authenticate"
	TypeJoinProject  FrameType = "join_project"
	TypeLeaveProject FrameType = "leave_project"
	TypeSendMessage  FrameType = "send_message"
	TypeTyping       FrameType = "typing"
	TypeMarkRead     FrameType = "mark_read"

	TypeAuthenticated FrameType = "authenticated"
	TypeNewMessage    FrameType = "new_message"
	TypeUserTyping    FrameType = "user_typing"
	TypeMessageRead   FrameType = "message_read"
	TypeError         FrameType = "error"
)

// ErrorCode 标识发给单个连接的错误类别。
type ErrorCode string

const (
	CodeUnauthenticated    ErrorCode = "unauthenticated"
	CodeNotInRoom          ErrorCode = "not_in_room"
	CodeValidation         ErrorCode = "validation_error"
	CodePersistenceFailure ErrorCode = "persistence_failure"
	CodeForbidden          ErrorCode = "forbidden"
	CodeNotFound           ErrorCode = "not_found"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// MessageView 是 new_message 中携带的完整消息记录。
type MessageView struct {
	ID          uint            `json:"id"`
	ProjectID   uint            `json:"projectId"`
	SenderID    uint            `json:"senderId"`
	SenderName  string          `json:"senderName,omitempty"`
	ReceiverID  *uint           `json:"receiverId"`
	Content     string          `json:"content"`
	MessageType string          `json:"messageType"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	Read        bool            `json:"read"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type envelope struct {
	Type FrameType `json:"type"`
}

func peekType(data []byte) (FrameType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env.Type, nil
}

// decodeAs 把 data 解析进 v，解析失败统一包装为 ErrMalformedFrame。
func decodeAs[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return v, nil
}
