package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound 是客户端发往服务端的帧。只有本包内定义的类型实现该接口。
type Inbound interface {
	Type() FrameType
	// Validate 检查必填字段，缺失时返回描述性错误。
	Validate() error
	inbound()
}

type Authenticate struct {
	UserID    uint `json:"userId"`
	ProjectID uint `json:"projectId,omitempty"`
}

type JoinProject struct {
	ProjectID uint `json:"projectId"`
}

type LeaveProject struct {
	ProjectID uint `json:"projectId"`
}

type SendMessage struct {
	ProjectID   uint            `json:"projectId"`
	SenderID    uint            `json:"senderId,omitempty"`
	ReceiverID  *uint           `json:"receiverId"`
	Content     string          `json:"content"`
	MessageType string          `json:"messageType,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

// Typing 的 IsTyping 使用指针以区分 false 与缺失。
type Typing struct {
	UserID    uint  `json:"userId"`
	ProjectID uint  `json:"projectId"`
	IsTyping  *bool `json:"isTyping"`
}

type MarkRead struct {
	MessageID uint `json:"messageId"`
	UserID    uint `json:"userId,omitempty"`
	ProjectID uint `json:"projectId"`
}

func (Authenticate) Type() FrameType { return TypeAuthenticate }
func (JoinProject) Type() FrameType  { return TypeJoinProject }
func (LeaveProject) Type() FrameType { return TypeLeaveProject }
func (SendMessage) Type() FrameType  { return TypeSendMessage }
func (Typing) Type() FrameType       { return TypeTyping }
func (MarkRead) Type() FrameType     { return TypeMarkRead }

func (Authenticate) inbound() {}
func (JoinProject) inbound()  {}
func (LeaveProject) inbound() {}
func (SendMessage) inbound()  {}
func (Typing) inbound()       {}
func (MarkRead) inbound()     {}

func missing(t FrameType, field string) error {
	return fmt.Errorf("%s: %s is required", t, field)
}

func (f Authenticate) Validate() error {
	if f.UserID == 0 {
		return missing(f.Type(), "userId")
	}
	return nil
}

func (f JoinProject) Validate() error {
	if f.ProjectID == 0 {
		return missing(f.Type(), "projectId")
	}
	return nil
}

func (f LeaveProject) Validate() error {
	if f.ProjectID == 0 {
		return missing(f.Type(), "projectId")
	}
	return nil
}

// Validate 不检查 content 是否为空白，那属于会话层的业务校验。
func (f SendMessage) Validate() error {
	if f.ProjectID == 0 {
		return missing(f.Type(), "projectId")
	}
	if f.ReceiverID != nil && *f.ReceiverID == 0 {
		return errors.New("send_message: receiverId must be null or a user id")
	}
	return nil
}

func (f Typing) Validate() error {
	if f.ProjectID == 0 {
		return missing(f.Type(), "projectId")
	}
	if f.IsTyping == nil {
		return missing(f.Type(), "isTyping")
	}
	return nil
}

func (f MarkRead) Validate() error {
	if f.MessageID == 0 {
		return missing(f.Type(), "messageId")
	}
	if f.ProjectID == 0 {
		return missing(f.Type(), "projectId")
	}
	return nil
}

// DecodeInbound 根据 type 字段把原始 JSON 解析为具体的入站帧。
// 未知类型返回 ErrUnknownFrame，无法解析的 JSON 返回 ErrMalformedFrame。
// 必填字段的校验交给调用方通过 Validate 完成。
func DecodeInbound(data []byte) (Inbound, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAuthenticate:
		return decodeAs[Authenticate](data)
	case TypeJoinProject:
		return decodeAs[JoinProject](data)
	case TypeLeaveProject:
		return decodeAs[LeaveProject](data)
	case TypeSendMessage:
		return decodeAs[SendMessage](data)
	case TypeTyping:
		return decodeAs[Typing](data)
	case TypeMarkRead:
		return decodeAs[MarkRead](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, t)
	}
}

// EncodeInbound 序列化入站帧，供 Go 客户端使用。
func EncodeInbound(f Inbound) ([]byte, error) {
	switch v := f.(type) {
	case Authenticate:
		type alias Authenticate
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case JoinProject:
		type alias JoinProject
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case LeaveProject:
		type alias LeaveProject
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case SendMessage:
		type alias SendMessage
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case Typing:
		type alias Typing
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case MarkRead:
		type alias MarkRead
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, f)
	}
}
