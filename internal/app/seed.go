package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kbqa-go/internal/model"
	"kbqa-go/internal/pipeline"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
)

// EnsureKnowledgeBase 按名称查找知识库，不存在时创建。
func (a *App) EnsureKnowledgeBase(ctx context.Context, name string) (*model.KnowledgeBase, error) {
	kb, err := a.Knowledge.FindBaseByName(ctx, name)
	if err == nil {
		return kb, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return a.Knowledge.CreateBase(ctx, nil, name, "")
}

// IngestFiles 把本地文件导入指定知识库。知识库中已有同名文档的文件被跳过。
func (a *App) IngestFiles(ctx context.Context, kbName string, paths []string) ([]model.Document, error) {
	kb, err := a.EnsureKnowledgeBase(ctx, kbName)
	if err != nil {
		return nil, err
	}
	existing, err := a.Knowledge.ListDocuments(ctx, kb.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[d.FileName] = true
	}

	var docs []model.Document
	for _, path := range paths {
		name := filepath.Base(path)
		if seen[name] {
			log.Infof("[Seed] 已存在，跳过: %s", name)
			continue
		}
		doc, err := a.ingestFile(ctx, kb.ID, path)
		if err != nil {
			return docs, fmt.Errorf("导入 %s 失败: %w", path, err)
		}
		seen[name] = true
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (a *App) ingestFile(ctx context.Context, kbID uint, path string) (*model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return a.Knowledge.UploadDocument(ctx, service.UploadRequest{
		KBID:     kbID,
		FileName: info.Name(),
		Reader:   f,
		Size:     info.Size(),
	})
}

// SeedDirectory 扫描目录下受支持的文件并导入配置的知识库（幂等）。
// 目录不存在时直接返回。
func (a *App) SeedDirectory(ctx context.Context) {
	dir, kbName := a.Config.Seed.Dir, a.Config.Seed.KnowledgeBase
	info, err := os.Stat(dir)
	if dir == "" || err != nil || !info.IsDir() {
		log.Infof("[Seed] 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	var paths []string
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !pipeline.IsSupported(info.Name()) {
			log.Infof("[Seed] 不支持的文件类型，跳过: %s", path)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		log.Warnf("[Seed] 遍历目录发生错误: %v", walkErr)
	}

	docs, err := a.IngestFiles(ctx, kbName, paths)
	if err != nil {
		log.Warnf("[Seed] 初始化导入中断: %v", err)
	}
	log.Infof("[Seed] 初始化导入完成, 知识库: %s, 新增文档: %d", kbName, len(docs))
}

// Reindex 用数据库中已保存的分块重建向量索引，内存向量库重启后需要调用。
// 分块文本被编辑过时，重建后的向量反映编辑后的内容。
func (a *App) Reindex(ctx context.Context) (int, error) {
	kbs, err := a.Knowledge.ListBases(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, kb := range kbs {
		docs, err := a.Knowledge.ListDocuments(ctx, kb.ID)
		if err != nil {
			return total, err
		}
		for _, doc := range docs {
			if doc.Status != model.DocumentStatusDone {
				continue
			}
			n, err := a.Processor.Reindex(ctx, doc.KBID, doc.ID)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	log.Infof("[App] 向量索引重建完成, 共 %d 个分块", total)
	return total, nil
}
