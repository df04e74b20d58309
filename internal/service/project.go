package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"homechat/internal/models"

	"gorm.io/gorm"
)

// OnlineCounter 报告项目房间内的在线连接数，由 chat.Hub 实现。
type OnlineCounter interface {
	Online(projectID uint) int
}

// ProjectService 封装项目及其参与者的业务逻辑。
type ProjectService struct {
	db     *gorm.DB
	online OnlineCounter
}

func NewProjectService(db *gorm.DB, online OnlineCounter) *ProjectService {
	return &ProjectService{db: db, online: online}
}

// ProjectDTO 是对外输出的项目数据。
type ProjectDTO struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OwnerID     uint      `json:"owner_id"`
	Online      int       `json:"online"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *ProjectService) dto(p models.Project) ProjectDTO {
	online := 0
	if s.online != nil {
		online = s.online.Online(p.ID)
	}
	return ProjectDTO{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		OwnerID:     p.OwnerID,
		Online:      online,
		CreatedAt:   p.CreatedAt,
	}
}

// Create 由房主发布新项目。
func (s *ProjectService) Create(ctx context.Context, ownerID uint, title, description string) (*ProjectDTO, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 200 {
		return nil, ErrInvalidInput
	}
	owner, err := s.user(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner.Role != models.RoleHomeowner {
		return nil, ErrForbidden
	}
	p := models.Project{Title: title, Description: strings.TrimSpace(description), OwnerID: ownerID}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, err
	}
	out := s.dto(p)
	return &out, nil
}

// List 返回用户可见的项目：自己发布的以及作为承包商参与的，附带在线人数。
func (s *ProjectService) List(ctx context.Context, userID uint, limit int) ([]ProjectDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	joined := s.db.Model(&models.ProjectParticipant{}).Select("project_id").Where("user_id = ?", userID)
	var projects []models.Project
	err := s.db.WithContext(ctx).
		Where("owner_id = ? OR id IN (?)", userID, joined).
		Order("id desc").Limit(limit).Find(&projects).Error
	if err != nil {
		return nil, err
	}
	out := make([]ProjectDTO, 0, len(projects))
	for _, p := range projects {
		out = append(out, s.dto(p))
	}
	return out, nil
}

// AddParticipant 把承包商加入项目，只有项目房主可以操作。重复加入是空操作。
func (s *ProjectService) AddParticipant(ctx context.Context, ownerID, projectID, contractorID uint) error {
	var p models.Project
	if err := s.db.WithContext(ctx).First(&p, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return err
	}
	if p.OwnerID != ownerID {
		return ErrForbidden
	}
	c, err := s.user(ctx, contractorID)
	if err != nil {
		return err
	}
	if c.Role != models.RoleContractor {
		return ErrInvalidRole
	}
	pp := models.ProjectParticipant{ProjectID: projectID, UserID: contractorID}
	return s.db.WithContext(ctx).
		Where(models.ProjectParticipant{ProjectID: projectID, UserID: contractorID}).
		FirstOrCreate(&pp).Error
}

func (s *ProjectService) user(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Select("id", "role").First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
