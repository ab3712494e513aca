package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"kbqa-go/internal/config"
	"kbqa-go/internal/metrics"
	"kbqa-go/internal/model"
	"kbqa-go/internal/repository"
	"kbqa-go/pkg/embedding"
	"kbqa-go/pkg/vector"
)

// ContextSeparator 分隔上下文中的相邻分块。
const ContextSeparator = "\n\n"

// RetrievedChunk 是一次命中及其对应的分块文本。
type RetrievedChunk struct {
	vector.Hit
	ChunkID uint   `json:"chunkId"`
	Content string `json:"content"`
}

// ContextService 把问题转换为检索结果，并拼装成上下文文本。
type ContextService interface {
	// BuildContext 返回按 (doc_id, chunk_index) 升序拼接的上下文，无命中时返回空字符串。
	BuildContext(ctx context.Context, kbIDs []uint, question string, topK int) (string, error)
	// Assemble 与 BuildContext 相同，同时返回原始命中。
	Assemble(ctx context.Context, kbIDs []uint, question string, topK int) (string, []vector.Hit, error)
	// Retrieve 返回按分数降序排列的命中及其文本，已删除的分块被忽略。
	Retrieve(ctx context.Context, kbIDs []uint, question string, topK int) ([]RetrievedChunk, error)
}

type contextService struct {
	embedder  embedding.Embedder
	index     vector.Index
	chunkRepo repository.ChunkRepository
	ragCfg    config.RAGConfig
	backend   string
}

// NewContextService 创建 ContextService。backend 仅用作指标标签。
func NewContextService(embedder embedding.Embedder, index vector.Index, chunkRepo repository.ChunkRepository, ragCfg config.RAGConfig, backend string) ContextService {
	if backend == "" {
		backend = "memory"
	}
	return &contextService{
		embedder:  embedder,
		index:     index,
		chunkRepo: chunkRepo,
		ragCfg:    ragCfg,
		backend:   backend,
	}
}

func (s *contextService) search(ctx context.Context, kbIDs []uint, question string, topK int) ([]vector.Hit, error) {
	if topK <= 0 {
		topK = s.ragCfg.TopK
	}
	if topK <= 0 {
		topK = 5
	}
	query := s.embedder.Embed(question)

	start := time.Now()
	hits, err := s.index.Search(ctx, kbIDs, query, topK)
	metrics.VectorSearchDuration.WithLabelValues(s.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.RetrievalHits.Observe(float64(len(hits)))
	return hits, nil
}

func (s *contextService) fetch(ctx context.Context, hits []vector.Hit) (map[repository.ChunkKey]model.DocumentChunk, error) {
	keys := make([]repository.ChunkKey, 0, len(hits))
	seen := make(map[repository.ChunkKey]struct{}, len(hits))
	for _, h := range hits {
		k := repository.ChunkKey{DocID: h.DocID, ChunkIndex: h.ChunkIndex}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	chunks, err := s.chunkRepo.FindByPairs(ctx, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[repository.ChunkKey]model.DocumentChunk, len(chunks))
	for _, c := range chunks {
		byKey[repository.ChunkKey{DocID: c.DocID, ChunkIndex: c.ChunkIndex}] = c
	}
	return byKey, nil
}

func (s *contextService) BuildContext(ctx context.Context, kbIDs []uint, question string, topK int) (string, error) {
	text, _, err := s.Assemble(ctx, kbIDs, question, topK)
	return text, err
}

func (s *contextService) Assemble(ctx context.Context, kbIDs []uint, question string, topK int) (string, []vector.Hit, error) {
	hits, err := s.search(ctx, kbIDs, question, topK)
	if err != nil {
		return "", nil, err
	}
	if len(hits) == 0 {
		return "", hits, nil
	}
	byKey, err := s.fetch(ctx, hits)
	if err != nil {
		return "", hits, err
	}

	chunks := make([]model.DocumentChunk, 0, len(byKey))
	for _, c := range byKey {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocID != chunks[j].DocID {
			return chunks[i].DocID < chunks[j].DocID
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, ContextSeparator), hits, nil
}

func (s *contextService) Retrieve(ctx context.Context, kbIDs []uint, question string, topK int) ([]RetrievedChunk, error) {
	hits, err := s.search(ctx, kbIDs, question, topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []RetrievedChunk{}, nil
	}
	byKey, err := s.fetch(ctx, hits)
	if err != nil {
		return nil, err
	}
	out := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := byKey[repository.ChunkKey{DocID: h.DocID, ChunkIndex: h.ChunkIndex}]
		if !ok {
			continue
		}
		out = append(out, RetrievedChunk{Hit: h, ChunkID: c.ID, Content: c.Content})
	}
	return out, nil
}
