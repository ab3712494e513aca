package service

import (
	"context"

	"kbqa-go/internal/config"
	"kbqa-go/internal/repository"
	"kbqa-go/pkg/llm"
)

// HistoryService 读取会话最近若干轮的消息。
type HistoryService interface {
	// GetHistory 返回最近 limitRounds 轮（2*limitRounds 条）消息，按时间正序。
	// limitRounds 为负数时使用配置的默认轮数，为 0 时返回空。
	GetHistory(ctx context.Context, sessionID uint, limitRounds int) ([]llm.Message, error)
}

type historyService struct {
	convRepo repository.ConversationRepository
	ragCfg   config.RAGConfig
}

func NewHistoryService(convRepo repository.ConversationRepository, ragCfg config.RAGConfig) HistoryService {
	return &historyService{convRepo: convRepo, ragCfg: ragCfg}
}

func (s *historyService) GetHistory(ctx context.Context, sessionID uint, limitRounds int) ([]llm.Message, error) {
	if limitRounds < 0 {
		limitRounds = s.ragCfg.HistoryRounds
	}
	if limitRounds <= 0 {
		return []llm.Message{}, nil
	}

	recent, err := s.convRepo.GetRecentMessages(ctx, sessionID, limitRounds*2)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, len(recent))
	for i, m := range recent {
		history[len(recent)-1-i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return history, nil
}
