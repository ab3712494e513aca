package repository

import (
	"context"

	"gorm.io/gorm"

	"kbqa-go/internal/model"
)

// ChatSessionRepository 定义了会话的持久化操作。
type ChatSessionRepository interface {
	Create(ctx context.Context, session *model.ChatSession) error
	FindByID(ctx context.Context, id uint) (*model.ChatSession, error)
	ListByUser(ctx context.Context, userID uint) ([]model.ChatSession, error)
	// Delete 在一个事务中删除会话及其全部消息。
	Delete(ctx context.Context, id uint) error
}

type chatSessionRepository struct {
	db *gorm.DB
}

func NewChatSessionRepository(db *gorm.DB) ChatSessionRepository {
	return &chatSessionRepository{db: db}
}

func (r *chatSessionRepository) Create(ctx context.Context, session *model.ChatSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *chatSessionRepository) FindByID(ctx context.Context, id uint) (*model.ChatSession, error) {
	var s model.ChatSession
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, notFound(err, "session %d", id)
	}
	return &s, nil
}

func (r *chatSessionRepository) ListByUser(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&sessions).Error
	return sessions, err
}

func (r *chatSessionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ChatSession{}, id).Error
	})
}
