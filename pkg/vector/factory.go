package vector

import (
	"fmt"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/errs"
)

// New 根据配置选择向量库实现，dim 为向量维度。
func New(cfg config.VectorConfig, dim int) (Index, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryIndex(dim), nil
	case "milvus":
		return NewMilvusIndex(cfg.Milvus, dim), nil
	case "elasticsearch":
		return NewESIndex(cfg.Elasticsearch, dim)
	case "qdrant":
		return NewQdrantIndex(cfg.Qdrant, dim)
	default:
		return nil, fmt.Errorf("unknown vector backend %q: %w", cfg.Backend, errs.ErrValidation)
	}
}
