// Package vector 定义向量索引接口，并提供内存、Milvus、Elasticsearch 与 Qdrant 四种实现。
package vector

import (
	"context"
	"fmt"
	"sort"

	"kbqa-go/pkg/errs"
)

// Entry 是一条向量记录，对应知识库中某个文档的一个分块。
type Entry struct {
	KBID       uint
	DocID      uint
	ChunkIndex int
	Embedding  []float32
}

// Hit 是一次检索命中，Score 为查询向量与记录向量的点积。
type Hit struct {
	Score      float32 `json:"score"`
	KBID       uint    `json:"kbId"`
	DocID      uint    `json:"docId"`
	ChunkIndex int     `json:"chunkIndex"`
}

// Index 定义了向量索引的操作。
type Index interface {
	// Insert 原子地写入同一文档的一批向量，chunkIndices 与 embeddings 一一对应。
	Insert(ctx context.Context, kbID, docID uint, chunkIndices []int, embeddings [][]float32) error
	// Search 返回按点积降序排列的前 topK 个命中，kbIDs 为空时不做知识库过滤。
	Search(ctx context.Context, kbIDs []uint, query []float32, topK int) ([]Hit, error)
	DeleteByKnowledgeBase(ctx context.Context, kbID uint) error
	DeleteByDocument(ctx context.Context, kbID, docID uint) error
	Close() error
}

// validateBatch 校验一批待写入的向量，任何不一致都返回 ErrValidation。
func validateBatch(dim int, chunkIndices []int, embeddings [][]float32) error {
	if len(chunkIndices) != len(embeddings) {
		return fmt.Errorf("chunk indices (%d) and embeddings (%d) differ in length: %w",
			len(chunkIndices), len(embeddings), errs.ErrValidation)
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return fmt.Errorf("embedding %d has dimension %d, want %d: %w", i, len(e), dim, errs.ErrValidation)
		}
	}
	return nil
}

// validateQuery 拒绝与索引维度不一致的查询向量。
func validateQuery(dim int, query []float32) error {
	if len(query) != dim {
		return fmt.Errorf("query has dimension %d, want %d: %w", len(query), dim, errs.ErrValidation)
	}
	return nil
}

// dot 要求 a、b 等长，由 validateBatch 与 validateQuery 保证。
func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// rankHits 按分数降序稳定排序并截断到 topK，同分时保留输入顺序。
func rankHits(hits []Hit, topK int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
