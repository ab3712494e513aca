package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
)

const (
	fieldID         = "id"
	fieldKBID       = "kb_id"
	fieldDocID      = "doc_id"
	fieldChunkIndex = "chunk_index"
	fieldEmbedding  = "embedding"
)

// MilvusIndex 基于 Milvus 的向量索引。连接与集合都在首次使用时创建。
type MilvusIndex struct {
	cfg config.MilvusConfig
	dim int

	mu     sync.Mutex
	client client.Client
}

// NewMilvusIndex 创建 Milvus 索引，此时不会建立连接。
func NewMilvusIndex(cfg config.MilvusConfig, dim int) *MilvusIndex {
	if cfg.NList <= 0 {
		cfg.NList = 1024
	}
	if cfg.NProbe <= 0 {
		cfg.NProbe = 16
	}
	return &MilvusIndex{cfg: cfg, dim: dim}
}

// ensure 返回可用的客户端，必要时连接并创建、加载集合。
func (m *MilvusIndex) ensure(ctx context.Context) (client.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}

	c, err := client.NewGrpcClient(ctx, m.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("connect milvus %s: %v: %w", m.cfg.Address, err, errs.ErrBackendUnavailable)
	}
	if err := m.createCollection(ctx, c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("prepare milvus collection %s: %v: %w", m.cfg.Collection, err, errs.ErrBackendUnavailable)
	}
	log.Infof("[MilvusIndex] 已连接 %s, 集合: %s", m.cfg.Address, m.cfg.Collection)
	m.client = c
	return c, nil
}

func (m *MilvusIndex) createCollection(ctx context.Context, c client.Client) error {
	has, err := c.HasCollection(ctx, m.cfg.Collection)
	if err != nil {
		return err
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: m.cfg.Collection,
			Description:    "knowledge base chunk embeddings",
			Fields: []*entity.Field{
				{Name: fieldID, DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: true},
				{Name: fieldKBID, DataType: entity.FieldTypeInt64},
				{Name: fieldDocID, DataType: entity.FieldTypeInt64},
				{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
				{
					Name:     fieldEmbedding,
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": strconv.Itoa(m.dim),
					},
				},
			},
		}
		if err := c.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return err
		}
		idx, err := entity.NewIndexIvfFlat(entity.IP, m.cfg.NList)
		if err != nil {
			return err
		}
		if err := c.CreateIndex(ctx, m.cfg.Collection, fieldEmbedding, idx, false); err != nil {
			return err
		}
		log.Infof("[MilvusIndex] 集合 '%s' 创建成功, 维度: %d", m.cfg.Collection, m.dim)
	}
	return c.LoadCollection(ctx, m.cfg.Collection, false)
}

func (m *MilvusIndex) Insert(ctx context.Context, kbID, docID uint, chunkIndices []int, embeddings [][]float32) error {
	if err := validateBatch(m.dim, chunkIndices, embeddings); err != nil {
		return err
	}
	if len(chunkIndices) == 0 {
		return nil
	}
	c, err := m.ensure(ctx)
	if err != nil {
		return err
	}

	n := len(chunkIndices)
	kbIDs := make([]int64, n)
	docIDs := make([]int64, n)
	indices := make([]int64, n)
	for i, idx := range chunkIndices {
		kbIDs[i] = int64(kbID)
		docIDs[i] = int64(docID)
		indices[i] = int64(idx)
	}

	_, err = c.Insert(ctx, m.cfg.Collection, "",
		entity.NewColumnInt64(fieldKBID, kbIDs),
		entity.NewColumnInt64(fieldDocID, docIDs),
		entity.NewColumnInt64(fieldChunkIndex, indices),
		entity.NewColumnFloatVector(fieldEmbedding, m.dim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("milvus insert: %v: %w", err, errs.ErrBackendUnavailable)
	}
	if err := c.Flush(ctx, m.cfg.Collection, false); err != nil {
		return fmt.Errorf("milvus flush: %v: %w", err, errs.ErrBackendUnavailable)
	}
	return nil
}

func (m *MilvusIndex) Search(ctx context.Context, kbIDs []uint, query []float32, topK int) ([]Hit, error) {
	if err := validateQuery(m.dim, query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Hit{}, nil
	}
	c, err := m.ensure(ctx)
	if err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(m.cfg.NProbe)
	if err != nil {
		return nil, err
	}
	results, err := c.Search(ctx, m.cfg.Collection, []string{}, kbFilterExpr(kbIDs),
		[]string{fieldKBID, fieldDocID, fieldChunkIndex},
		[]entity.Vector{entity.FloatVector(query)},
		fieldEmbedding, entity.IP, topK, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %v: %w", err, errs.ErrBackendUnavailable)
	}

	hits := make([]Hit, 0, topK)
	for _, sr := range results {
		kbCol := sr.Fields.GetColumn(fieldKBID)
		docCol := sr.Fields.GetColumn(fieldDocID)
		idxCol := sr.Fields.GetColumn(fieldChunkIndex)
		if kbCol == nil || docCol == nil || idxCol == nil {
			continue
		}
		for i := 0; i < sr.ResultCount; i++ {
			kb, _ := kbCol.Get(i)
			doc, _ := docCol.Get(i)
			idx, _ := idxCol.Get(i)
			hits = append(hits, Hit{
				Score:      sr.Scores[i],
				KBID:       uint(asInt64(kb)),
				DocID:      uint(asInt64(doc)),
				ChunkIndex: int(asInt64(idx)),
			})
		}
	}
	return rankHits(hits, topK), nil
}

func (m *MilvusIndex) DeleteByKnowledgeBase(ctx context.Context, kbID uint) error {
	return m.deleteExpr(ctx, fmt.Sprintf("%s == %d", fieldKBID, kbID))
}

func (m *MilvusIndex) DeleteByDocument(ctx context.Context, kbID, docID uint) error {
	return m.deleteExpr(ctx, fmt.Sprintf("%s == %d && %s == %d", fieldKBID, kbID, fieldDocID, docID))
}

func (m *MilvusIndex) deleteExpr(ctx context.Context, expr string) error {
	c, err := m.ensure(ctx)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, m.cfg.Collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete %q: %v: %w", expr, err, errs.ErrBackendUnavailable)
	}
	return nil
}

func (m *MilvusIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

// kbFilterExpr 生成 "kb_id in [1,2]" 形式的过滤表达式，kbIDs 为空时不过滤。
func kbFilterExpr(kbIDs []uint) string {
	if len(kbIDs) == 0 {
		return ""
	}
	parts := make([]string, len(kbIDs))
	for i, id := range kbIDs {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return fmt.Sprintf("%s in [%s]", fieldKBID, strings.Join(parts, ","))
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
