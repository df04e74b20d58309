package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"homechat/internal/chat"
	"homechat/internal/models"

	"gorm.io/gorm"
)

// Directory 是 chat.UserDirectory 的 gorm 实现。
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Get(ctx context.Context, userID uint) (chat.Profile, error) {
	var u models.User
	err := d.db.WithContext(ctx).Select("id", "username", "display_name").First(&u, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Profile{}, ErrNotFound
		}
		return chat.Profile{}, fmt.Errorf("get user: %w", err)
	}
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return chat.Profile{ID: u.ID, DisplayName: name, Initials: Initials(name)}, nil
}

// Names 批量解析展示名，供历史消息列表使用。
func (d *Directory) Names(ctx context.Context, userIDs []uint) (map[uint]string, error) {
	out := make(map[uint]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var users []models.User
	if err := d.db.WithContext(ctx).Select("id", "username", "display_name").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.DisplayName != "" {
			out[u.ID] = u.DisplayName
		} else {
			out[u.ID] = u.Username
		}
	}
	return out, nil
}

// Initials 取前两个单词的首字母，例如 "Bob Builder" -> "BB"。
func Initials(name string) string {
	var out []rune
	for _, w := range strings.Fields(name) {
		out = append(out, unicode.ToUpper([]rune(w)[0]))
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}

// Access 是 chat.ProjectAccess 的 gorm 实现：房主或参与的承包商可以进入。
type Access struct {
	db *gorm.DB
}

func NewAccess(db *gorm.DB) *Access {
	return &Access{db: db}
}

func (a *Access) CanAccess(ctx context.Context, projectID, userID uint) error {
	db := a.db.WithContext(ctx)
	var p models.Project
	if err := db.Select("id", "owner_id").First(&p, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get project: %w", err)
	}
	if p.OwnerID == userID {
		return nil
	}
	var n int64
	if err := db.Model(&models.ProjectParticipant{}).Where("project_id = ? AND user_id = ?", projectID, userID).Count(&n).Error; err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if n == 0 {
		return chat.ErrForbidden
	}
	return nil
}
