package repository

import (
	"context"

	"gorm.io/gorm"

	"kbqa-go/internal/model"
)

// KnowledgeBaseRepository 定义了知识库的持久化操作。
type KnowledgeBaseRepository interface {
	Create(ctx context.Context, kb *model.KnowledgeBase) error
	FindByID(ctx context.Context, id uint) (*model.KnowledgeBase, error)
	FindByName(ctx context.Context, name string) (*model.KnowledgeBase, error)
	List(ctx context.Context) ([]model.KnowledgeBase, error)
	// Delete 在一个事务中删除知识库及其文档、分块。
	Delete(ctx context.Context, id uint) error
}

type knowledgeBaseRepository struct {
	db *gorm.DB
}

func NewKnowledgeBaseRepository(db *gorm.DB) KnowledgeBaseRepository {
	return &knowledgeBaseRepository{db: db}
}

func (r *knowledgeBaseRepository) Create(ctx context.Context, kb *model.KnowledgeBase) error {
	return r.db.WithContext(ctx).Create(kb).Error
}

func (r *knowledgeBaseRepository) FindByID(ctx context.Context, id uint) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := r.db.WithContext(ctx).First(&kb, id).Error; err != nil {
		return nil, notFound(err, "knowledge base %d", id)
	}
	return &kb, nil
}

func (r *knowledgeBaseRepository) FindByName(ctx context.Context, name string) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&kb).Error; err != nil {
		return nil, notFound(err, "knowledge base %q", name)
	}
	return &kb, nil
}

func (r *knowledgeBaseRepository) List(ctx context.Context) ([]model.KnowledgeBase, error) {
	var kbs []model.KnowledgeBase
	err := r.db.WithContext(ctx).Order("id").Find(&kbs).Error
	return kbs, err
}

func (r *knowledgeBaseRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := NewChunkRepository(tx).DeleteByKnowledgeBase(ctx, id); err != nil {
			return err
		}
		if err := tx.Where("kb_id = ?", id).Delete(&model.Document{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.KnowledgeBase{}, id).Error
	})
}
