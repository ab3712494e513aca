package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"kbqa-go/internal/middleware"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/log"
)

// KnowledgeHandler 负责知识库、文档与分块相关的 API。
type KnowledgeHandler struct {
	knowledgeService service.KnowledgeService
	contextService   service.ContextService
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。
func NewKnowledgeHandler(knowledgeService service.KnowledgeService, contextService service.ContextService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService, contextService: contextService}
}

// CreateBaseRequest 定义了创建知识库的请求体。
type CreateBaseRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *KnowledgeHandler) CreateBase(c *gin.Context) {
	var req CreateBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "知识库名称不能为空")
		return
	}
	kb, err := h.knowledgeService.CreateBase(c.Request.Context(), middleware.CurrentUser(c), req.Name, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", kb)
}

func (h *KnowledgeHandler) ListBases(c *gin.Context) {
	kbs, err := h.knowledgeService.ListBases(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", kbs)
}

func (h *KnowledgeHandler) DeleteBase(c *gin.Context) {
	kbID, ok := uintParam(c, "kbId")
	if !ok {
		return
	}
	if err := h.knowledgeService.DeleteBase(c.Request.Context(), kbID); err != nil {
		fail(c, err)
		return
	}
	success(c, "删除成功", nil)
}

// UploadDocument 接收 multipart 表单中的 file 字段，可选 chunk_size 与 chunk_overlap。
func (h *KnowledgeHandler) UploadDocument(c *gin.Context) {
	kbID, ok := uintParam(c, "kbId")
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "缺少上传文件 file")
		return
	}
	chunkSize, err1 := optionalInt(c.PostForm("chunk_size"))
	chunkOverlap, err2 := optionalInt(c.PostForm("chunk_overlap"))
	if err1 != nil || err2 != nil {
		badRequest(c, "chunk_size 与 chunk_overlap 必须是整数")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("UploadDocument: 打开上传文件失败", err)
		badRequest(c, "无法读取上传文件")
		return
	}
	defer file.Close()

	doc, err := h.knowledgeService.UploadDocument(c.Request.Context(), service.UploadRequest{
		KBID:         kbID,
		FileName:     fileHeader.Filename,
		Reader:       file,
		Size:         fileHeader.Size,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	})
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "上传成功", doc)
}

func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	kbID, ok := uintParam(c, "kbId")
	if !ok {
		return
	}
	docs, err := h.knowledgeService.ListDocuments(c.Request.Context(), kbID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", docs)
}

func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	docID, ok := uintParam(c, "docId")
	if !ok {
		return
	}
	if err := h.knowledgeService.DeleteDocument(c.Request.Context(), docID); err != nil {
		fail(c, err)
		return
	}
	success(c, "删除成功", nil)
}

// ListChunks 分页预览文档分块，支持 keyword 过滤。
func (h *KnowledgeHandler) ListChunks(c *gin.Context) {
	docID, ok := uintParam(c, "docId")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	result, err := h.knowledgeService.ListChunks(c.Request.Context(), docID, page, size, c.Query("keyword"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", result)
}

// UpdateChunkRequest 定义了修改分块内容的请求体。
type UpdateChunkRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *KnowledgeHandler) UpdateChunk(c *gin.Context) {
	chunkID, ok := uintParam(c, "chunkId")
	if !ok {
		return
	}
	var req UpdateChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "分块内容不能为空")
		return
	}
	chunk, err := h.knowledgeService.UpdateChunk(c.Request.Context(), chunkID, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", chunk)
}

func (h *KnowledgeHandler) DeleteChunk(c *gin.Context) {
	chunkID, ok := uintParam(c, "chunkId")
	if !ok {
		return
	}
	if err := h.knowledgeService.DeleteChunk(c.Request.Context(), chunkID); err != nil {
		fail(c, err)
		return
	}
	success(c, "删除成功", nil)
}

// SearchRequest 定义了检索调试接口的请求体。
type SearchRequest struct {
	KBIDs    []uint `json:"kb_ids"`
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k"`
}

// Search 返回检索命中及分块文本，不调用大模型。
func (h *KnowledgeHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "question 不能为空")
		return
	}
	hits, err := h.contextService.Retrieve(c.Request.Context(), req.KBIDs, req.Question, req.TopK)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", hits)
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
