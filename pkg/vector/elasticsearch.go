package vector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
)

// ESIndex 使用 Elasticsearch 的 dense_vector 字段存储分块向量。
// 索引在首次使用时创建，相似度为 dot_product。
type ESIndex struct {
	client    *elasticsearch.Client
	indexName string
	dim       int

	mu    sync.Mutex
	ready bool
}

// esVectorDoc 是写入 Elasticsearch 的文档结构。
type esVectorDoc struct {
	KBID       uint      `json:"kb_id"`
	DocID      uint      `json:"doc_id"`
	ChunkIndex int       `json:"chunk_index"`
	Embedding  []float32 `json:"embedding"`
}

// NewESIndex 创建 Elasticsearch 客户端，此时不会发起请求。
func NewESIndex(esCfg config.ElasticsearchConfig, dim int) (*ESIndex, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ESIndex{client: client, indexName: esCfg.IndexName, dim: dim}, nil
}

// ensureIndex 检查索引是否存在，如果不存在则创建它
func (e *ESIndex) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}

	res, err := e.client.Indices.Exists([]string{e.indexName}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %v: %w", e.indexName, err, errs.ErrBackendUnavailable)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		e.ready = true
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: unexpected status %d: %w", e.indexName, res.StatusCode, errs.ErrBackendUnavailable)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"kb_id": { "type": "long" },
				"doc_id": { "type": "long" },
				"chunk_index": { "type": "integer" },
				"embedding": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "dot_product"
				}
			}
		}
	}`, e.dim)

	res, err = e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithBody(strings.NewReader(mapping)),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %v: %w", e.indexName, err, errs.ErrBackendUnavailable)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ESIndex] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", e.indexName, res.String())
		return fmt.Errorf("create index %s: %s: %w", e.indexName, res.Status(), errs.ErrBackendUnavailable)
	}
	log.Infof("[ESIndex] 索引 '%s' 创建成功", e.indexName)
	e.ready = true
	return nil
}

// Insert 通过一次 _bulk 请求写入整批向量，部分失败时回滚该文档已写入的记录。
func (e *ESIndex) Insert(ctx context.Context, kbID, docID uint, chunkIndices []int, embeddings [][]float32) error {
	if err := validateBatch(e.dim, chunkIndices, embeddings); err != nil {
		return err
	}
	if len(chunkIndices) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, idx := range chunkIndices {
		meta := map[string]map[string]string{
			"index": {"_index": e.indexName, "_id": fmt.Sprintf("%d_%d_%d", kbID, docID, idx)},
		}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(esVectorDoc{KBID: kbID, DocID: docID, ChunkIndex: idx, Embedding: embeddings[i]}); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   e.indexName,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("bulk index: %v: %w", err, errs.ErrBackendUnavailable)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index: %s: %w", res.Status(), errs.ErrBackendUnavailable)
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		log.Warnf("[ESIndex] 批量写入部分失败, kb_id: %d, doc_id: %d, 正在回滚", kbID, docID)
		_ = e.DeleteByDocument(ctx, kbID, docID)
		return fmt.Errorf("bulk index reported item errors: %w", errs.ErrBackendUnavailable)
	}
	return nil
}

func (e *ESIndex) Search(ctx context.Context, kbIDs []uint, query []float32, topK int) ([]Hit, error) {
	if err := validateQuery(e.dim, query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Hit{}, nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}

	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	knn := map[string]interface{}{
		"field":          "embedding",
		"query_vector":   query,
		"k":              topK,
		"num_candidates": numCandidates,
	}
	if len(kbIDs) > 0 {
		knn["filter"] = map[string]interface{}{
			"terms": map[string]interface{}{"kb_id": kbIDs},
		}
	}
	body := map[string]interface{}{
		"knn":     knn,
		"size":    topK,
		"_source": []string{"kb_id", "doc_id", "chunk_index"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search: %v: %w", err, errs.ErrBackendUnavailable)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		log.Errorf("[ESIndex] 向量检索失败: %s", string(raw))
		return nil, fmt.Errorf("knn search: %s: %w", res.Status(), errs.ErrBackendUnavailable)
	}

	var sr struct {
		Hits struct {
			Hits []struct {
				Score  float32     `json:"_score"`
				Source esVectorDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, Hit{
			// dot_product 相似度的分数为 (1 + dot) / 2
			Score:      h.Score*2 - 1,
			KBID:       h.Source.KBID,
			DocID:      h.Source.DocID,
			ChunkIndex: h.Source.ChunkIndex,
		})
	}
	return rankHits(hits, topK), nil
}

func (e *ESIndex) DeleteByKnowledgeBase(ctx context.Context, kbID uint) error {
	return e.deleteByQuery(ctx, map[string]interface{}{
		"term": map[string]interface{}{"kb_id": kbID},
	})
}

func (e *ESIndex) DeleteByDocument(ctx context.Context, kbID, docID uint) error {
	return e.deleteByQuery(ctx, map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"kb_id": kbID}},
				map[string]interface{}{"term": map[string]interface{}{"doc_id": docID}},
			},
		},
	})
}

func (e *ESIndex) deleteByQuery(ctx context.Context, query map[string]interface{}) error {
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]interface{}{"query": query}); err != nil {
		return err
	}
	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		&buf,
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
		e.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("delete by query: %v: %w", err, errs.ErrBackendUnavailable)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by query: %s: %w", res.Status(), errs.ErrBackendUnavailable)
	}
	return nil
}

func (e *ESIndex) Close() error {
	return nil
}
