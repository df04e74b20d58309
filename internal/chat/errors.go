package chat

import (
	"errors"

	"homechat/internal/protocol"
)

// 会话层错误，统一映射为发给当前连接的 error 帧。
var (
	ErrUnauthenticated    = errors.New("connection is not authenticated")
	ErrNotInRoom          = errors.New("connection has not joined the project")
	ErrValidation         = errors.New("invalid frame")
	ErrPersistence        = errors.New("message store failure")
	ErrForbidden          = errors.New("user cannot access project")
	ErrNotFound           = errors.New("not found")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrSessionClosed      = errors.New("session closed")
	ErrAlreadyBoundToUser = errors.New("connection already bound to another user")
)

// codeFor 把错误映射为协议错误码。
func codeFor(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return protocol.CodeUnauthenticated
	case errors.Is(err, ErrNotInRoom):
		return protocol.CodeNotInRoom
	case errors.Is(err, ErrPersistence):
		return protocol.CodePersistenceFailure
	case errors.Is(err, ErrForbidden):
		return protocol.CodeForbidden
	case errors.Is(err, ErrNotFound):
		return protocol.CodeNotFound
	default:
		return protocol.CodeValidation
	}
}
