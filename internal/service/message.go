package service

import (
	"context"
	"errors"

	"homechat/internal/chat"
	"homechat/internal/protocol"
)

// NameResolver 批量解析用户展示名。
type NameResolver interface {
	Names(ctx context.Context, userIDs []uint) (map[uint]string, error)
}

// MessageService 提供项目聊天历史的分页查询。
type MessageService struct {
	messages chat.MessageStore
	names    NameResolver
	access   chat.ProjectAccess
}

func NewMessageService(messages chat.MessageStore, names NameResolver, access chat.ProjectAccess) *MessageService {
	return &MessageService{messages: messages, names: names, access: access}
}

// History 分页查询项目消息，按 id 升序返回，格式与推送的 new_message 一致。
func (s *MessageService) History(ctx context.Context, userID, projectID uint, limit int, beforeID uint) ([]protocol.MessageView, error) {
	if err := s.access.CanAccess(ctx, projectID, userID); err != nil {
		return nil, accessError(err)
	}
	msgs, err := s.messages.ListByProject(ctx, projectID, limit, beforeID)
	if err != nil {
		return nil, err
	}

	// 批量获取展示名
	seen := make(map[uint]struct{}, len(msgs))
	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	names, err := s.names.Names(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]protocol.MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, chat.ToView(&msgs[i], names[msgs[i].SenderID]))
	}
	return out, nil
}

func accessError(err error) error {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return ErrProjectNotFound
	case errors.Is(err, chat.ErrForbidden):
		return ErrForbidden
	}
	return err
}
