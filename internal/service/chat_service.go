package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kbqa-go/internal/config"
	"kbqa-go/internal/metrics"
	"kbqa-go/internal/model"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/llm"
	"kbqa-go/pkg/log"
	"kbqa-go/pkg/vector"
)

const (
	// FallbackAnswer 在模型调用失败且尚未输出任何内容时返回。
	FallbackAnswer = "对话服务暂时不可用，请稍后重试。"
	// EmptyAnswer 在模型未产出任何内容时返回。
	EmptyAnswer = "暂无可用回答。"

	persistTimeout = 10 * time.Second
)

// ChatRequest 是一次对话请求。指针字段为 nil 时使用配置中的默认值。
type ChatRequest struct {
	SessionID      uint     `json:"session_id"`
	KBIDs          []uint   `json:"kb_ids"`
	Question       string   `json:"question"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	HistoryRounds  *int     `json:"history_rounds,omitempty"`
	TopK           *int     `json:"top_k,omitempty"`
	IncludeSources bool     `json:"include_sources,omitempty"`
}

// FragmentWriter 接收流式回答。WriteFragment 返回错误表示客户端已断开或请求停止。
type FragmentWriter interface {
	WriteFragment(fragment string) error
	// Done 发送结束标记。
	Done() error
}

// SourcesWriter 是可选接口，实现它的 writer 会在回答开始前收到检索命中。
type SourcesWriter interface {
	WriteSources(hits []vector.Hit) error
}

// ChatService 处理一轮问答：检索、拼装提示词、流式输出并持久化。
type ChatService interface {
	Stream(ctx context.Context, user *model.User, req ChatRequest, w FragmentWriter) error
}

type chatService struct {
	sessions     SessionService
	contexts     ContextService
	history      HistoryService
	convRepo     conversationAppender
	llmClient    llm.Client
	systemPrompt string
}

type conversationAppender interface {
	AppendRound(ctx context.Context, sessionID uint, question, answer string) error
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	sessions SessionService,
	contexts ContextService,
	history HistoryService,
	convRepo conversationAppender,
	llmClient llm.Client,
	llmCfg config.LLMConfig,
) ChatService {
	return &chatService{
		sessions:     sessions,
		contexts:     contexts,
		history:      history,
		convRepo:     convRepo,
		llmClient:    llmClient,
		systemPrompt: llmCfg.Prompt.System,
	}
}

// Stream 依次完成 会话校验 → 历史 → 检索 → 生成 → 持久化 → 结束标记。
// 检索与历史失败时降级为空继续回答；会话不存在或不属于当前用户时返回 ErrNotFound，不输出任何内容。
func (s *chatService) Stream(ctx context.Context, user *model.User, req ChatRequest, w FragmentWriter) error {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return fmt.Errorf("question 不能为空: %w", errs.ErrValidation)
	}
	if _, err := s.sessions.Get(ctx, user.ID, req.SessionID); err != nil {
		return err
	}
	log.Infof("[ChatService] 开始处理问答, user: %s, session: %d, kbs: %v", user.Username, req.SessionID, req.KBIDs)

	rounds := -1
	if req.HistoryRounds != nil {
		rounds = *req.HistoryRounds
	}
	history, err := s.history.GetHistory(ctx, req.SessionID, rounds)
	if err != nil {
		log.Warnf("[ChatService] 读取历史失败，按无历史继续, session: %d, error: %v", req.SessionID, err)
		history = nil
	}

	topK := 0
	if req.TopK != nil {
		topK = *req.TopK
	}
	contextText, hits, err := s.contexts.Assemble(ctx, req.KBIDs, question, topK)
	if err != nil {
		log.Warnf("[ChatService] 检索失败，按无上下文继续, session: %d, error: %v", req.SessionID, err)
		contextText, hits = "", nil
	}
	if sw, ok := w.(SourcesWriter); ok && req.IncludeSources {
		if hits == nil {
			hits = []vector.Hit{}
		}
		if err := sw.WriteSources(hits); err != nil {
			log.Warnf("[ChatService] 发送引用来源失败: %v", err)
		}
	}

	messages := llm.BuildMessages(s.systemPrompt, contextText, history, question)
	gen := llm.GenerationParams{Temperature: req.Temperature, TopP: req.TopP, MaxTokens: req.MaxTokens}

	var answer strings.Builder
	emitted := 0
	outcome := "ok"
	stopped := false
	for fragment, err := range llm.Fragments(ctx, s.llmClient, messages, gen) {
		if err != nil {
			switch {
			case ctx.Err() != nil:
				stopped = true
			case emitted == 0:
				log.Error("[ChatService] 大模型调用失败，返回兜底回答", err)
				outcome = "fallback"
				answer.WriteString(FallbackAnswer)
				if werr := w.WriteFragment(FallbackAnswer); werr == nil {
					emitted++
				}
			default:
				log.Error("[ChatService] 回答中途中断", fmt.Errorf("%w: %v", errs.ErrPartialStream, err))
				outcome = "partial"
			}
			break
		}
		if werr := w.WriteFragment(fragment); werr != nil {
			stopped = true
			break
		}
		answer.WriteString(fragment)
		emitted++
	}
	metrics.ChatFragments.Add(float64(emitted))

	if stopped {
		outcome = "cancelled"
	} else if answer.Len() == 0 {
		outcome = "empty"
		answer.WriteString(EmptyAnswer)
		if werr := w.WriteFragment(EmptyAnswer); werr != nil {
			stopped = true
		}
	}
	if answer.Len() == 0 {
		answer.WriteString(EmptyAnswer)
	}

	persistErr := s.persist(ctx, req.SessionID, question, answer.String())

	if ctx.Err() == nil {
		if err := w.Done(); err != nil && !stopped {
			log.Warnf("[ChatService] 发送结束标记失败: %v", err)
		}
	}
	metrics.ChatRequests.WithLabelValues(outcome).Inc()
	log.Infof("[ChatService] 问答结束, session: %d, outcome: %s, fragments: %d", req.SessionID, outcome, emitted)
	return persistErr
}

// persist 使用脱离请求取消的 ctx 写入本轮问答，客户端断开后仍会保存已生成的部分。
func (s *chatService) persist(ctx context.Context, sessionID uint, question, answer string) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.convRepo.AppendRound(pctx, sessionID, question, answer); err != nil {
		log.Error("[ChatService] 保存对话失败", err)
		return fmt.Errorf("保存对话失败: %w", err)
	}
	return nil
}
