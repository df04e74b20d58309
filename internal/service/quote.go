package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homechat/internal/chat"
	"homechat/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// QuoteWriter 原子地写入报价及其聊天消息，由 store.Quotes 实现。
type QuoteWriter interface {
	Submit(ctx context.Context, q *models.Quote, content string) (*models.Message, error)
	ListByProject(ctx context.Context, projectID uint) ([]models.Quote, error)
}

// Publisher 把已提交的消息推送给项目房间，由 chat.Hub 实现。
type Publisher interface {
	PublishMessage(ctx context.Context, msg *models.Message) int
}

// QuoteService 处理承包商报价：先落库再通知聊天室。
type QuoteService struct {
	db     *gorm.DB
	quotes QuoteWriter
	access chat.ProjectAccess
	pub    Publisher
}

func NewQuoteService(db *gorm.DB, quotes QuoteWriter, access chat.ProjectAccess, pub Publisher) *QuoteService {
	return &QuoteService{db: db, quotes: quotes, access: access, pub: pub}
}

// QuoteInput 是提交报价所需的字段。
type QuoteInput struct {
	ProjectID   uint
	AmountCents int64
	Description string
	Timeline    string
}

// QuoteDTO 是对外输出的报价数据。
type QuoteDTO struct {
	ID           uint      `json:"id"`
	ProjectID    uint      `json:"project_id"`
	ContractorID uint      `json:"contractor_id"`
	AmountCents  int64     `json:"amount_cents"`
	Description  string    `json:"description"`
	Timeline     string    `json:"timeline,omitempty"`
	MessageID    *uint     `json:"message_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func quoteDTO(q models.Quote) QuoteDTO {
	return QuoteDTO{
		ID:           q.ID,
		ProjectID:    q.ProjectID,
		ContractorID: q.ContractorID,
		AmountCents:  q.AmountCents,
		Description:  q.Description,
		Timeline:     q.Timeline,
		MessageID:    q.MessageID,
		CreatedAt:    q.CreatedAt,
	}
}

// Submit 校验并提交报价。报价与聊天消息在同一事务中写入，提交成功后才广播。
func (s *QuoteService) Submit(ctx context.Context, contractorID uint, in QuoteInput) (*QuoteDTO, error) {
	in.Description = strings.TrimSpace(in.Description)
	in.Timeline = strings.TrimSpace(in.Timeline)
	if in.AmountCents <= 0 || in.Description == "" {
		return nil, ErrInvalidQuote
	}
	var u models.User
	if err := s.db.WithContext(ctx).Select("id", "role").First(&u, contractorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if u.Role != models.RoleContractor {
		return nil, ErrForbidden
	}
	if err := s.access.CanAccess(ctx, in.ProjectID, contractorID); err != nil {
		return nil, accessError(err)
	}

	q := models.Quote{
		ProjectID:    in.ProjectID,
		ContractorID: contractorID,
		AmountCents:  in.AmountCents,
		Description:  in.Description,
		Timeline:     in.Timeline,
	}
	msg, err := s.quotes.Submit(ctx, &q, FormatQuoteMessage(q.AmountCents, q.Description, q.Timeline))
	if err != nil {
		return nil, err
	}
	if s.pub != nil {
		n := s.pub.PublishMessage(ctx, msg)
		log.Info().Uint("project_id", q.ProjectID).Uint("quote_id", q.ID).Int("delivered", n).Msg("quote submitted")
	}
	out := quoteDTO(q)
	return &out, nil
}

// List 返回项目的报价，调用者必须能进入该项目。
func (s *QuoteService) List(ctx context.Context, userID, projectID uint) ([]QuoteDTO, error) {
	if err := s.access.CanAccess(ctx, projectID, userID); err != nil {
		return nil, accessError(err)
	}
	quotes, err := s.quotes.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]QuoteDTO, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, quoteDTO(q))
	}
	return out, nil
}

// FormatQuoteMessage 生成报价通知的聊天文本，例如
// New quote: $150 for "Fix sink" (timeline: 2 days)
func FormatQuoteMessage(amountCents int64, description, timeline string) string {
	s := fmt.Sprintf("New quote: %s for %q", FormatAmount(amountCents), description)
	if timeline != "" {
		s += fmt.Sprintf(" (timeline: %s)", timeline)
	}
	return s
}

// FormatAmount 把美分格式化为美元，整数金额不带小数部分。
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	if cents%100 == 0 {
		return fmt.Sprintf("%s$%d", sign, cents/100)
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
