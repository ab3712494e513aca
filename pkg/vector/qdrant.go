package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
)

// QdrantIndex 基于 Qdrant 的向量索引，集合使用 Dot 距离。
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dim        int

	mu    sync.Mutex
	ready bool
}

// NewQdrantIndex 创建 Qdrant 客户端，集合在首次使用时创建。
func NewQdrantIndex(cfg config.QdrantConfig, dim int) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, collection: cfg.Collection, dim: dim}, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection: %v: %w", err, errs.ErrBackendUnavailable)
	}
	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dim),
				Distance: qdrant.Distance_Dot,
			}),
		})
		if err != nil {
			return fmt.Errorf("create qdrant collection: %v: %w", err, errs.ErrBackendUnavailable)
		}
		log.Infof("[QdrantIndex] 集合 '%s' 创建成功, 维度: %d", q.collection, q.dim)
	}
	q.ready = true
	return nil
}

// pointID 由 (kb, doc, chunk) 派生，重复写入同一分块会覆盖旧记录。
func pointID(kbID, docID uint, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d/%d/%d", kbID, docID, chunkIndex))).String()
}

func (q *QdrantIndex) Insert(ctx context.Context, kbID, docID uint, chunkIndices []int, embeddings [][]float32) error {
	if err := validateBatch(q.dim, chunkIndices, embeddings); err != nil {
		return err
	}
	if len(chunkIndices) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunkIndices))
	for i, idx := range chunkIndices {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(kbID, docID, idx)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: map[string]*qdrant.Value{
				"kb_id":       qdrant.NewValueInt(int64(kbID)),
				"doc_id":      qdrant.NewValueInt(int64(docID)),
				"chunk_index": qdrant.NewValueInt(int64(idx)),
			},
		}
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
		Wait:           &wait,
	}); err != nil {
		return fmt.Errorf("qdrant upsert: %v: %w", err, errs.ErrBackendUnavailable)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, kbIDs []uint, query []float32, topK int) ([]Hit, error) {
	if err := validateQuery(q.dim, query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Hit{}, nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}

	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(kbIDs) > 0 {
		ids := make([]int64, len(kbIDs))
		for i, id := range kbIDs {
			ids[i] = int64(id)
		}
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInts("kb_id", ids...)},
		}
	}

	res, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %v: %w", err, errs.ErrBackendUnavailable)
	}

	hits := make([]Hit, 0, len(res))
	for _, p := range res {
		hits = append(hits, Hit{
			Score:      p.Score,
			KBID:       uint(p.Payload["kb_id"].GetIntegerValue()),
			DocID:      uint(p.Payload["doc_id"].GetIntegerValue()),
			ChunkIndex: int(p.Payload["chunk_index"].GetIntegerValue()),
		})
	}
	return rankHits(hits, topK), nil
}

func (q *QdrantIndex) DeleteByKnowledgeBase(ctx context.Context, kbID uint) error {
	return q.deleteWhere(ctx, qdrant.NewMatchInt("kb_id", int64(kbID)))
}

func (q *QdrantIndex) DeleteByDocument(ctx context.Context, kbID, docID uint) error {
	return q.deleteWhere(ctx,
		qdrant.NewMatchInt("kb_id", int64(kbID)),
		qdrant.NewMatchInt("doc_id", int64(docID)),
	)
}

func (q *QdrantIndex) deleteWhere(ctx context.Context, conds ...*qdrant.Condition) error {
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: conds}),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %v: %w", err, errs.ErrBackendUnavailable)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
