package vector

import (
	"context"
	"sync"
)

// MemoryIndex 是进程内的精确向量索引，线性扫描全部记录。
// 用于 testing 模式、CLI 与单元测试。
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	entries []Entry
}

// NewMemoryIndex 创建一个维度为 dim 的空索引。
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{dim: dim}
}

func (m *MemoryIndex) Insert(ctx context.Context, kbID, docID uint, chunkIndices []int, embeddings [][]float32) error {
	if err := validateBatch(m.dim, chunkIndices, embeddings); err != nil {
		return err
	}
	batch := make([]Entry, len(chunkIndices))
	for i, idx := range chunkIndices {
		emb := make([]float32, len(embeddings[i]))
		copy(emb, embeddings[i])
		batch[i] = Entry{KBID: kbID, DocID: docID, ChunkIndex: idx, Embedding: emb}
	}

	m.mu.Lock()
	m.entries = append(m.entries, batch...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, kbIDs []uint, query []float32, topK int) ([]Hit, error) {
	if err := validateQuery(m.dim, query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Hit{}, nil
	}
	allowed := make(map[uint]struct{}, len(kbIDs))
	for _, id := range kbIDs {
		allowed[id] = struct{}{}
	}

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if len(allowed) > 0 {
			if _, ok := allowed[e.KBID]; !ok {
				continue
			}
		}
		hits = append(hits, Hit{
			Score:      dot(query, e.Embedding),
			KBID:       e.KBID,
			DocID:      e.DocID,
			ChunkIndex: e.ChunkIndex,
		})
	}
	m.mu.RUnlock()

	return rankHits(hits, topK), nil
}

func (m *MemoryIndex) DeleteByKnowledgeBase(ctx context.Context, kbID uint) error {
	m.removeWhere(func(e Entry) bool { return e.KBID == kbID })
	return nil
}

func (m *MemoryIndex) DeleteByDocument(ctx context.Context, kbID, docID uint) error {
	m.removeWhere(func(e Entry) bool { return e.KBID == kbID && e.DocID == docID })
	return nil
}

func (m *MemoryIndex) removeWhere(match func(Entry) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	// 释放被删除记录的引用
	for i := len(kept); i < len(m.entries); i++ {
		m.entries[i] = Entry{}
	}
	m.entries = kept
}

// Len 返回当前记录数。
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Reset 清空全部记录。
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
}

func (m *MemoryIndex) Close() error {
	return nil
}
