package model

import "time"

// 文档处理状态
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusDone       = "done"
	DocumentStatusFailed     = "failed"
)

// KnowledgeBase 是一组文档的命名集合，名称全局唯一。
type KnowledgeBase struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:varchar(255)" json:"description"`
	CreatedBy   uint      `gorm:"index" json:"createdBy"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// Document 记录一次上传的文件及其处理状态。
type Document struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	KBID       uint      `gorm:"column:kb_id;index;not null" json:"kbId"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	ObjectName string    `gorm:"type:varchar(512)" json:"-"`
	Status     string    `gorm:"type:varchar(32);not null;default:processing" json:"status"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	ErrorMsg   string    `gorm:"type:text" json:"errorMsg,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 是文档切分后的一段文本，(doc_id, chunk_index) 唯一。
type DocumentChunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocID      uint      `gorm:"column:doc_id;uniqueIndex:idx_doc_chunk;not null" json:"docId"`
	KBID       uint      `gorm:"column:kb_id;index;not null" json:"kbId"`
	ChunkIndex int       `gorm:"uniqueIndex:idx_doc_chunk;not null" json:"chunkIndex"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}
