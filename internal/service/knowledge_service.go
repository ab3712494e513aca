package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kbqa-go/internal/config"
	"kbqa-go/internal/model"
	"kbqa-go/internal/pipeline"
	"kbqa-go/internal/repository"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
	"kbqa-go/pkg/storage"
	"kbqa-go/pkg/tasks"
	"kbqa-go/pkg/vector"
)

// UploadRequest 描述一次文档上传。ChunkSize/ChunkOverlap 为 0 时使用配置默认值。
type UploadRequest struct {
	KBID         uint
	FileName     string
	Reader       io.Reader
	Size         int64
	ChunkSize    int
	ChunkOverlap int
}

// ChunkPage 是分块分页查询的结果。
type ChunkPage struct {
	Items []model.DocumentChunk `json:"items"`
	Total int64                 `json:"total"`
	Page  int                   `json:"page"`
	Size  int                   `json:"size"`
}

// KnowledgeService 管理知识库、文档与分块。
type KnowledgeService interface {
	CreateBase(ctx context.Context, user *model.User, name, description string) (*model.KnowledgeBase, error)
	ListBases(ctx context.Context) ([]model.KnowledgeBase, error)
	FindBaseByName(ctx context.Context, name string) (*model.KnowledgeBase, error)
	DeleteBase(ctx context.Context, kbID uint) error

	UploadDocument(ctx context.Context, req UploadRequest) (*model.Document, error)
	ListDocuments(ctx context.Context, kbID uint) ([]model.Document, error)
	GetDocument(ctx context.Context, docID uint) (*model.Document, error)
	DeleteDocument(ctx context.Context, docID uint) error

	ListChunks(ctx context.Context, docID uint, page, size int, keyword string) (*ChunkPage, error)
	UpdateChunk(ctx context.Context, chunkID uint, content string) (*model.DocumentChunk, error)
	DeleteChunk(ctx context.Context, chunkID uint) error
}

type knowledgeService struct {
	kbRepo     repository.KnowledgeBaseRepository
	docRepo    repository.DocumentRepository
	chunkRepo  repository.ChunkRepository
	index      vector.Index
	store      storage.ObjectStore
	dispatcher pipeline.Dispatcher
	ragCfg     config.RAGConfig
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
func NewKnowledgeService(
	kbRepo repository.KnowledgeBaseRepository,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	index vector.Index,
	store storage.ObjectStore,
	dispatcher pipeline.Dispatcher,
	ragCfg config.RAGConfig,
) KnowledgeService {
	return &knowledgeService{
		kbRepo:     kbRepo,
		docRepo:    docRepo,
		chunkRepo:  chunkRepo,
		index:      index,
		store:      store,
		dispatcher: dispatcher,
		ragCfg:     ragCfg,
	}
}

func (s *knowledgeService) CreateBase(ctx context.Context, user *model.User, name, description string) (*model.KnowledgeBase, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("知识库名称不能为空: %w", errs.ErrValidation)
	}
	if _, err := s.kbRepo.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("知识库 %q 已存在: %w", name, errs.ErrConflict)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	kb := &model.KnowledgeBase{Name: name, Description: description}
	if user != nil {
		kb.CreatedBy = user.ID
	}
	if err := s.kbRepo.Create(ctx, kb); err != nil {
		return nil, err
	}
	log.Infof("[KnowledgeService] 创建知识库成功, id: %d, name: %s", kb.ID, kb.Name)
	return kb, nil
}

func (s *knowledgeService) ListBases(ctx context.Context) ([]model.KnowledgeBase, error) {
	return s.kbRepo.List(ctx)
}

func (s *knowledgeService) FindBaseByName(ctx context.Context, name string) (*model.KnowledgeBase, error) {
	return s.kbRepo.FindByName(ctx, strings.TrimSpace(name))
}

// DeleteBase 先删除向量，再级联删除分块、文档与知识库记录，最后尽力删除原始文件。
func (s *knowledgeService) DeleteBase(ctx context.Context, kbID uint) error {
	if _, err := s.kbRepo.FindByID(ctx, kbID); err != nil {
		return err
	}
	docs, err := s.docRepo.ListByKnowledgeBase(ctx, kbID)
	if err != nil {
		return err
	}
	if err := s.index.DeleteByKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	if err := s.kbRepo.Delete(ctx, kbID); err != nil {
		return err
	}
	for _, doc := range docs {
		s.removeObject(ctx, doc.ObjectName)
	}
	log.Infof("[KnowledgeService] 删除知识库成功, id: %d, 文档数: %d", kbID, len(docs))
	return nil
}

// UploadDocument 保存原始文件、创建 processing 状态的文档并投递处理任务。
// 投递失败只记录日志，文档保持 processing 状态。
func (s *knowledgeService) UploadDocument(ctx context.Context, req UploadRequest) (*model.Document, error) {
	fileName := filepath.Base(strings.TrimSpace(req.FileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, fmt.Errorf("文件名不能为空: %w", errs.ErrValidation)
	}
	if !pipeline.IsSupported(fileName) {
		return nil, fmt.Errorf("不支持的文件类型 %q: %w", filepath.Ext(fileName), errs.ErrValidation)
	}
	if _, err := s.kbRepo.FindByID(ctx, req.KBID); err != nil {
		return nil, err
	}

	objectName := fmt.Sprintf("kb/%d/%s/%s", req.KBID, uuid.NewString(), fileName)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	log.Infof("[KnowledgeService] 步骤1: 保存原始文件, Object: %s", objectName)
	if err := s.store.Put(ctx, objectName, req.Reader, req.Size, contentType); err != nil {
		return nil, fmt.Errorf("保存文件失败: %w", err)
	}

	doc := &model.Document{
		KBID:       req.KBID,
		FileName:   fileName,
		ObjectName: objectName,
		Status:     model.DocumentStatusProcessing,
	}
	log.Infof("[KnowledgeService] 步骤2: 创建文档记录, FileName: %s", fileName)
	if err := s.docRepo.Create(ctx, doc); err != nil {
		s.removeObject(ctx, objectName)
		return nil, err
	}

	task := tasks.DocumentTask{
		DocID:        doc.ID,
		KBID:         doc.KBID,
		FileName:     doc.FileName,
		ObjectName:   doc.ObjectName,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	}
	log.Infof("[KnowledgeService] 步骤3: 投递处理任务, DocID: %d", doc.ID)
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		log.Error("[KnowledgeService] 投递文档处理任务失败", err)
	}

	// 同步处理时状态已更新，重新读取一次
	if fresh, err := s.docRepo.FindByID(ctx, doc.ID); err == nil {
		return fresh, nil
	}
	return doc, nil
}

func (s *knowledgeService) ListDocuments(ctx context.Context, kbID uint) ([]model.Document, error) {
	if _, err := s.kbRepo.FindByID(ctx, kbID); err != nil {
		return nil, err
	}
	return s.docRepo.ListByKnowledgeBase(ctx, kbID)
}

func (s *knowledgeService) GetDocument(ctx context.Context, docID uint) (*model.Document, error) {
	return s.docRepo.FindByID(ctx, docID)
}

func (s *knowledgeService) DeleteDocument(ctx context.Context, docID uint) error {
	doc, err := s.docRepo.FindByID(ctx, docID)
	if err != nil {
		return err
	}
	if err := s.index.DeleteByDocument(ctx, doc.KBID, doc.ID); err != nil {
		return err
	}
	if err := s.docRepo.Delete(ctx, doc.ID); err != nil {
		return err
	}
	s.removeObject(ctx, doc.ObjectName)
	return nil
}

func (s *knowledgeService) ListChunks(ctx context.Context, docID uint, page, size int, keyword string) (*ChunkPage, error) {
	if _, err := s.docRepo.FindByID(ctx, docID); err != nil {
		return nil, err
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 10
	}
	items, total, err := s.chunkRepo.Page(ctx, docID, page, size, strings.TrimSpace(keyword))
	if err != nil {
		return nil, err
	}
	return &ChunkPage{Items: items, Total: total, Page: page, Size: size}, nil
}

// UpdateChunk 只修改分块文本，向量保持不变。
func (s *knowledgeService) UpdateChunk(ctx context.Context, chunkID uint, content string) (*model.DocumentChunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("分块内容不能为空: %w", errs.ErrValidation)
	}
	if err := s.chunkRepo.UpdateContent(ctx, chunkID, content); err != nil {
		return nil, err
	}
	return s.chunkRepo.FindByID(ctx, chunkID)
}

// DeleteChunk 删除分块记录。对应向量保留在索引中，检索时因找不到文本而被忽略。
func (s *knowledgeService) DeleteChunk(ctx context.Context, chunkID uint) error {
	return s.chunkRepo.Delete(ctx, chunkID)
}

func (s *knowledgeService) removeObject(ctx context.Context, objectName string) {
	if objectName == "" {
		return
	}
	if err := s.store.Delete(ctx, objectName); err != nil {
		log.Warnf("[KnowledgeService] 删除原始文件失败, Object: %s, error: %v", objectName, err)
	}
}
