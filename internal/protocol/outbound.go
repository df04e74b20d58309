package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound 是服务端发往客户端的帧。
type Outbound interface {
	Type() FrameType
	outbound()
}

type Authenticated struct {
	UserID uint `json:"userId"`
}

type NewMessage struct {
	Message MessageView `json:"message"`
}

type UserTyping struct {
	ProjectID uint `json:"projectId"`
	UserID    uint `json:"userId"`
	IsTyping  bool `json:"isTyping"`
}

type MessageRead struct {
	ProjectID uint `json:"projectId"`
	MessageID uint `json:"messageId"`
}

// Error 只发给出错的连接，绝不广播。
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

func (Authenticated) Type() FrameType { return TypeAuthenticated }
func (NewMessage) Type() FrameType    { return TypeNewMessage }
func (UserTyping) Type() FrameType    { return TypeUserTyping }
func (MessageRead) Type() FrameType   { return TypeMessageRead }
func (Error) Type() FrameType         { return TypeError }

func (Authenticated) outbound() {}
func (NewMessage) outbound()    {}
func (UserTyping) outbound()    {}
func (MessageRead) outbound()   {}
func (Error) outbound()         {}

// Encode 序列化出站帧并写入 type 判别符。
func Encode(f Outbound) ([]byte, error) {
	switch v := f.(type) {
	case Authenticated:
		type alias Authenticated
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case NewMessage:
		type alias NewMessage
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case UserTyping:
		type alias UserTyping
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case MessageRead:
		type alias MessageRead
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	case Error:
		type alias Error
		return json.Marshal(struct {
			Type FrameType `json:"type"`
			alias
		}{v.Type(), alias(v)})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, f)
	}
}

// DecodeOutbound 解析服务端下发的帧，供 Go 客户端使用。
func DecodeOutbound(data []byte) (Outbound, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAuthenticated:
		return decodeAs[Authenticated](data)
	case TypeNewMessage:
		return decodeAs[NewMessage](data)
	case TypeUserTyping:
		return decodeAs[UserTyping](data)
	case TypeMessageRead:
		return decodeAs[MessageRead](data)
	case TypeError:
		return decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, t)
	}
}
