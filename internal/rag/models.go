package rag

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// 摄取流水线阶段常量，失败时记录在 StageError.Stage 中。
const (
	StageReceived   = "received"
	StageExtracted  = "extracted"
	StageSegmented  = "segmented"
	StageEmbedded   = "embedded"
	StageIndexed    = "indexed"
	StageRegistered = "registered"
)

// Document 已摄取文档的元数据记录。
// ID 为文件内容的 SHA-256，重复上传相同内容得到相同 ID。
type Document struct {
	ID         string    `json:"document_id" gorm:"primaryKey;size:64"`
	Filename   string    `json:"filename" gorm:"size:500;not null"`
	Language   string    `json:"detected_language" gorm:"size:10"`
	ChunkCount int       `json:"chunk_count" gorm:"not null;default:0"`
	PageCount  int       `json:"page_count" gorm:"not null;default:0"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"upload_timestamp" gorm:"not null;autoCreateTime"`
}

// ChunkDraft 分段器产出的未向量化分块，Ordinal 在文档内从 0 连续递增。
type ChunkDraft struct {
	Text        string
	Ordinal     int
	PageNumber  int
	StartOffset int
	EndOffset   int
}

// Vector 一条待写入向量索引的分块。
type Vector struct {
	ChunkID    string
	DocumentID string
	Filename   string
	Text       string
	Ordinal    int
	PageNumber int
	Language   string
	Embedding  []float32
}

// SearchResult 一次相似度检索（以及随后的重排序）的单条结果。
// Score 为当前排序依据：检索阶段等于 Similarity，重排序后为 rerank 分数。
type SearchResult struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	Filename    string  `json:"filename"`
	Text        string  `json:"text"`
	Ordinal     int     `json:"chunk_index"`
	PageNumber  int     `json:"page_number"`
	Language    string  `json:"language"`
	Similarity  float64 `json:"similarity"`
	Score       float64 `json:"score"`
	RerankScore float64 `json:"rerank_score,omitempty"`
}

// DocumentStats 向量索引按文档聚合出的统计，用于删除/列表时的一致性自愈。
type DocumentStats struct {
	DocumentID string
	Filename   string
	Language   string
	ChunkCount int
}

// ChunkRecord pgvector 后端的分块存储模型。
// 表结构由 NewPGVectorStore 建表语句创建，向量列维度随配置而定。
type ChunkRecord struct {
	ID         string          `gorm:"primaryKey;size:80"`
	DocumentID string          `gorm:"size:64;not null;index"`
	Filename   string          `gorm:"size:500"`
	Text       string          `gorm:"type:text;not null"`
	Ordinal    int             `gorm:"not null"`
	PageNumber int             `gorm:"not null"`
	Language   string          `gorm:"size:10"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	CreatedAt  time.Time       `gorm:"not null;autoCreateTime"`
}

// TableName 指定 pgvector 分块表名。
func (ChunkRecord) TableName() string {
	return "document_chunks"
}
