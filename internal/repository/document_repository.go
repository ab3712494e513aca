package repository

import (
	"context"

	"gorm.io/gorm"

	"kbqa-go/internal/model"
)

// DocumentRepository 定义了文档记录的持久化操作。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id uint) (*model.Document, error)
	ListByKnowledgeBase(ctx context.Context, kbID uint) ([]model.Document, error)
	UpdateStatus(ctx context.Context, id uint, status string, chunkCount int, errMsg string) error
	// Delete 在一个事务中删除文档及其分块。
	Delete(ctx context.Context, id uint) error
}

type documentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) FindByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		return nil, notFound(err, "document %d", id)
	}
	return &doc, nil
}

func (r *documentRepository) ListByKnowledgeBase(ctx context.Context, kbID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("kb_id = ?", kbID).Order("id").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id uint, status string, chunkCount int, errMsg string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      status,
		"chunk_count": chunkCount,
		"error_msg":   errMsg,
	}).Error
}

func (r *documentRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("doc_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Document{}, id).Error
	})
}
