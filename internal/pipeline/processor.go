// Package pipeline 定义了文档入库的核心流程。
package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"kbqa-go/internal/config"
	"kbqa-go/internal/metrics"
	"kbqa-go/internal/model"
	"kbqa-go/internal/repository"
	"kbqa-go/pkg/embedding"
	"kbqa-go/pkg/log"
	"kbqa-go/pkg/storage"
	"kbqa-go/pkg/tasks"
	"kbqa-go/pkg/vector"
)

// Processor 封装了文档处理的所有依赖和逻辑。
type Processor struct {
	store     storage.ObjectStore
	extractor TextExtractor
	embedder  embedding.Embedder
	index     vector.Index
	docRepo   repository.DocumentRepository
	chunkRepo repository.ChunkRepository
	ragCfg    config.RAGConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	store storage.ObjectStore,
	extractor TextExtractor,
	embedder embedding.Embedder,
	index vector.Index,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	ragCfg config.RAGConfig,
) *Processor {
	return &Processor{
		store:     store,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		ragCfg:    ragCfg,
	}
}

// Process 执行 下载 → 提取 → 切分 → 向量化 → 写入分块 → 写入向量 的完整流程。
// 任一步骤失败都会清理该文档已写入的分块和向量，并把文档标记为 failed。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentTask) error {
	log.Infof("[Processor] 开始处理文档, DocID: %d, KBID: %d, FileName: %s", task.DocID, task.KBID, task.FileName)

	log.Infof("[Processor] 步骤1: 下载文件, Object: %s", task.ObjectName)
	data, err := p.store.Get(ctx, task.ObjectName)
	if err != nil {
		return p.fail(ctx, task, fmt.Errorf("下载文件失败: %w", err))
	}

	log.Infof("[Processor] 步骤2: 提取文本, 文件大小: %d 字节", len(data))
	text, err := p.extractor.Extract(ctx, task.FileName, data)
	if err != nil {
		return p.fail(ctx, task, fmt.Errorf("提取文本失败: %w", err))
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	chunkSize, chunkOverlap := task.ChunkSize, task.ChunkOverlap
	if chunkSize <= 0 {
		chunkSize = p.ragCfg.ChunkSize
	}
	if chunkOverlap <= 0 && task.ChunkSize <= 0 {
		chunkOverlap = p.ragCfg.ChunkOverlap
	}
	chunks := SplitText(text, chunkSize, chunkOverlap)
	log.Infof("[Processor] 步骤3: 文本分块完成, chunkSize: %d, chunkOverlap: %d, 共 %d 个分块", chunkSize, chunkOverlap, len(chunks))

	// 重试时先清理旧数据，保证分块与向量一一对应
	if err := p.cleanup(ctx, task); err != nil {
		return p.fail(ctx, task, fmt.Errorf("清理旧分块失败: %w", err))
	}

	if len(chunks) > 0 {
		log.Info("[Processor] 步骤4: 批量向量化")
		embeddings := p.embedder.EmbedBatch(chunks)

		records := make([]model.DocumentChunk, len(chunks))
		indices := make([]int, len(chunks))
		for i, c := range chunks {
			records[i] = model.DocumentChunk{DocID: task.DocID, KBID: task.KBID, ChunkIndex: i, Content: c}
			indices[i] = i
		}

		log.Info("[Processor] 步骤5: 保存分块文本")
		if err := p.chunkRepo.BatchCreate(ctx, records); err != nil {
			return p.fail(ctx, task, fmt.Errorf("批量保存分块失败: %w", err))
		}

		log.Info("[Processor] 步骤6: 写入向量库")
		if err := p.index.Insert(ctx, task.KBID, task.DocID, indices, embeddings); err != nil {
			return p.fail(ctx, task, fmt.Errorf("写入向量库失败: %w", err))
		}
	}

	if err := p.docRepo.UpdateStatus(ctx, task.DocID, model.DocumentStatusDone, len(chunks), ""); err != nil {
		return p.fail(ctx, task, fmt.Errorf("更新文档状态失败: %w", err))
	}
	metrics.DocumentsIngested.WithLabelValues(model.DocumentStatusDone).Inc()
	log.Infof("[Processor] 文档处理成功完成, DocID: %d, 分块数: %d", task.DocID, len(chunks))
	return nil
}

func (p *Processor) cleanup(ctx context.Context, task tasks.DocumentTask) error {
	if err := p.chunkRepo.DeleteByDocument(ctx, task.DocID); err != nil {
		return err
	}
	return p.index.DeleteByDocument(ctx, task.KBID, task.DocID)
}

// fail 清理部分写入的数据并把文档标记为 failed，返回原始错误。
func (p *Processor) fail(ctx context.Context, task tasks.DocumentTask, cause error) error {
	log.Errorf("[Processor] 文档处理失败, DocID: %d, Error: %v", task.DocID, cause)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.cleanup(cctx, task); err != nil {
		log.Warnf("[Processor] 清理文档 %d 的分块或向量失败: %v", task.DocID, err)
	}
	if err := p.docRepo.UpdateStatus(cctx, task.DocID, model.DocumentStatusFailed, 0, cause.Error()); err != nil {
		log.Warnf("[Processor] 标记文档 %d 为 failed 失败: %v", task.DocID, err)
	}
	metrics.DocumentsIngested.WithLabelValues(model.DocumentStatusFailed).Inc()
	return cause
}

// Reindex 读取文档已保存的分块，重新向量化并写入索引，不修改分块记录与文档状态。
func (p *Processor) Reindex(ctx context.Context, kbID, docID uint) (int, error) {
	chunks, err := p.chunkRepo.FindByDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if err := p.index.DeleteByDocument(ctx, kbID, docID); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	texts := make([]string, len(chunks))
	indices := make([]int, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		indices[i] = c.ChunkIndex
	}
	if err := p.index.Insert(ctx, kbID, docID, indices, p.embedder.EmbedBatch(texts)); err != nil {
		return 0, err
	}
	return len(chunks), nil
}
