package rag

import "context"

// VectorStore 抽象向量写入、检索与删除，可由不同后端实现
// （内存、pgvector、Qdrant）。实现必须满足：
//   - AddVectors 按 ChunkID 插入或覆盖；混入与索引维度不一致的向量返回 ErrInvalidConfig
//   - Search 按余弦相似度降序返回，同分按插入顺序稳定排序；
//     topK <= 0 返回 ErrInvalidArgument；空索引返回空结果而非错误；
//     documentID 非空时只在该文档的分块内检索
//   - DeleteByDocument 删除该文档的全部分块，无匹配时静默成功
//   - 支持并发读，按文档粒度的写互斥由调用方（摄取/删除路径）保证
type VectorStore interface {
	AddVectors(ctx context.Context, vectors []*Vector) error
	Search(ctx context.Context, queryVector []float32, topK int, documentID string) ([]*SearchResult, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	ListDocumentStats(ctx context.Context) ([]*DocumentStats, error)
	Count(ctx context.Context) (int64, error)
}
