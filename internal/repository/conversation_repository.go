package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"kbqa-go/internal/model"
)

// ConversationRepository 定义了对话消息的操作接口。
type ConversationRepository interface {
	// AppendRound 在一个事务中写入一问一答两条消息。
	AppendRound(ctx context.Context, sessionID uint, question, answer string) error
	// GetRecentMessages 返回最近的 count 条消息，按时间倒序。
	GetRecentMessages(ctx context.Context, sessionID uint, count int) ([]model.ChatMessage, error)
	// ListMessages 返回会话的全部消息，按时间正序。
	ListMessages(ctx context.Context, sessionID uint) ([]model.ChatMessage, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) AppendRound(ctx context.Context, sessionID uint, question, answer string) error {
	now := time.Now()
	msgs := []model.ChatMessage{
		{SessionID: sessionID, Role: "user", Content: question, CreatedAt: now},
		{SessionID: sessionID, Role: "assistant", Content: answer, CreatedAt: now},
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range msgs {
			if err := tx.Create(&msgs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *conversationRepository) GetRecentMessages(ctx context.Context, sessionID uint, count int) ([]model.ChatMessage, error) {
	if count <= 0 {
		return []model.ChatMessage{}, nil
	}
	var msgs []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(count).
		Find(&msgs).Error
	return msgs, err
}

func (r *conversationRepository) ListMessages(ctx context.Context, sessionID uint) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at, id").
		Find(&msgs).Error
	return msgs, err
}
