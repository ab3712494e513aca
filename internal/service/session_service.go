package service

import (
	"context"
	"fmt"
	"strings"

	"kbqa-go/internal/model"
	"kbqa-go/internal/repository"
	"kbqa-go/pkg/errs"
)

// SessionService 管理用户的对话会话。会话不属于当前用户时一律按不存在处理。
type SessionService interface {
	Create(ctx context.Context, userID uint, name string) (*model.ChatSession, error)
	Get(ctx context.Context, userID, sessionID uint) (*model.ChatSession, error)
	List(ctx context.Context, userID uint) ([]model.ChatSession, error)
	Delete(ctx context.Context, userID, sessionID uint) error
	Messages(ctx context.Context, userID, sessionID uint) ([]model.ChatMessage, error)
}

type sessionService struct {
	sessionRepo repository.ChatSessionRepository
	convRepo    repository.ConversationRepository
}

func NewSessionService(sessionRepo repository.ChatSessionRepository, convRepo repository.ConversationRepository) SessionService {
	return &sessionService{sessionRepo: sessionRepo, convRepo: convRepo}
}

func (s *sessionService) Create(ctx context.Context, userID uint, name string) (*model.ChatSession, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "新对话"
	}
	session := &model.ChatSession{UserID: userID, Name: name}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, userID, sessionID uint) (*model.ChatSession, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("session %d: %w", sessionID, errs.ErrNotFound)
	}
	return session, nil
}

func (s *sessionService) List(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	return s.sessionRepo.ListByUser(ctx, userID)
}

func (s *sessionService) Delete(ctx context.Context, userID, sessionID uint) error {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.sessionRepo.Delete(ctx, sessionID)
}

// Messages 返回会话的全部消息，按时间正序。
func (s *sessionService) Messages(ctx context.Context, userID, sessionID uint) ([]model.ChatMessage, error) {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.convRepo.ListMessages(ctx, sessionID)
}
