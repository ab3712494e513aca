// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentTask 描述一次文档入库任务。
type DocumentTask struct {
	DocID        uint   `json:"doc_id"`
	KBID         uint   `json:"kb_id"`
	FileName     string `json:"file_name"`
	ObjectName   string `json:"object_name"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}
