package repository

import (
	"context"

	"gorm.io/gorm"

	"kbqa-go/internal/model"
)

// ChunkKey 唯一标识一个分块。
type ChunkKey struct {
	DocID      uint
	ChunkIndex int
}

// ChunkRepository 定义了文档分块的持久化操作。
type ChunkRepository interface {
	// BatchCreate 在一个事务中写入一批分块。
	BatchCreate(ctx context.Context, chunks []model.DocumentChunk) error
	// FindByPairs 返回与给定 (doc_id, chunk_index) 精确匹配的分块，不存在的键被忽略。
	FindByPairs(ctx context.Context, keys []ChunkKey) ([]model.DocumentChunk, error)
	FindByDocument(ctx context.Context, docID uint) ([]model.DocumentChunk, error)
	FindByID(ctx context.Context, id uint) (*model.DocumentChunk, error)
	// Page 按 chunk_index 分页查询文档分块，keyword 非空时按内容模糊过滤。
	Page(ctx context.Context, docID uint, page, pageSize int, keyword string) ([]model.DocumentChunk, int64, error)
	UpdateContent(ctx context.Context, id uint, content string) error
	Delete(ctx context.Context, id uint) error
	DeleteByDocument(ctx context.Context, docID uint) error
	DeleteByKnowledgeBase(ctx context.Context, kbID uint) error
}

type chunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) BatchCreate(ctx context.Context, chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(chunks, 200).Error
	})
}

func (r *chunkRepository) FindByPairs(ctx context.Context, keys []ChunkKey) ([]model.DocumentChunk, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	want := make(map[ChunkKey]struct{}, len(keys))
	docSet := make(map[uint]struct{})
	idxSet := make(map[int]struct{})
	for _, k := range keys {
		want[k] = struct{}{}
		docSet[k.DocID] = struct{}{}
		idxSet[k.ChunkIndex] = struct{}{}
	}
	docIDs := make([]uint, 0, len(docSet))
	for id := range docSet {
		docIDs = append(docIDs, id)
	}
	indices := make([]int, 0, len(idxSet))
	for idx := range idxSet {
		indices = append(indices, idx)
	}

	var rows []model.DocumentChunk
	err := r.db.WithContext(ctx).
		Where("doc_id IN ? AND chunk_index IN ?", docIDs, indices).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// IN x IN 是笛卡尔积，这里只保留请求的精确组合
	out := rows[:0]
	for _, c := range rows {
		if _, ok := want[ChunkKey{DocID: c.DocID, ChunkIndex: c.ChunkIndex}]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *chunkRepository) FindByDocument(ctx context.Context, docID uint) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.WithContext(ctx).Where("doc_id = ?", docID).Order("chunk_index").Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) FindByID(ctx context.Context, id uint) (*model.DocumentChunk, error) {
	var chunk model.DocumentChunk
	if err := r.db.WithContext(ctx).First(&chunk, id).Error; err != nil {
		return nil, notFound(err, "chunk %d", id)
	}
	return &chunk, nil
}

func (r *chunkRepository) Page(ctx context.Context, docID uint, page, pageSize int, keyword string) ([]model.DocumentChunk, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	query := r.db.WithContext(ctx).Model(&model.DocumentChunk{}).Where("doc_id = ?", docID)
	if keyword != "" {
		query = query.Where("content LIKE ?", "%"+keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var chunks []model.DocumentChunk
	err := query.Order("chunk_index").Offset((page - 1) * pageSize).Limit(pageSize).Find(&chunks).Error
	if err != nil {
		return nil, 0, err
	}
	return chunks, total, nil
}

func (r *chunkRepository) UpdateContent(ctx context.Context, id uint, content string) error {
	res := r.db.WithContext(ctx).Model(&model.DocumentChunk{}).Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "chunk %d", id)
	}
	return nil
}

func (r *chunkRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.DocumentChunk{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "chunk %d", id)
	}
	return nil
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, docID uint) error {
	return r.db.WithContext(ctx).Where("doc_id = ?", docID).Delete(&model.DocumentChunk{}).Error
}

func (r *chunkRepository) DeleteByKnowledgeBase(ctx context.Context, kbID uint) error {
	return r.db.WithContext(ctx).Where("kb_id = ?", kbID).Delete(&model.DocumentChunk{}).Error
}
