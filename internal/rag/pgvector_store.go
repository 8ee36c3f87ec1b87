package rag

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// PGVectorStore 基于 PostgreSQL pgvector 扩展的向量存储实现。
// 余弦距离操作符 <=> 排序，ORDER BY 追加 ordinal 兜底保证同分结果稳定。
type PGVectorStore struct {
	db        *gorm.DB
	dimension int
}

// NewPGVectorStore 创建 pgvector 存储实例并确保扩展与分块表就绪。
func NewPGVectorStore(db *gorm.DB, dimension int) (*PGVectorStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: 向量维度必须大于 0", ErrInvalidConfig)
	}

	store := &PGVectorStore{db: db, dimension: dimension}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	// 向量列维度来自配置, 建表语句动态生成而非固定在模型标签里
	if err := db.Exec(chunkTableDDL(dimension)).Error; err != nil {
		return nil, fmt.Errorf("创建分块表失败: %w", err)
	}
	if err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON document_chunks (document_id)",
	).Error; err != nil {
		return nil, fmt.Errorf("创建分块表索引失败: %w", err)
	}
	return store, nil
}

// chunkTableDDL 生成分块表的建表语句，向量列维度按配置展开。
func chunkTableDDL(dimension int) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
	id varchar(80) PRIMARY KEY,
	document_id varchar(64) NOT NULL,
	filename varchar(500),
	text text NOT NULL,
	ordinal integer NOT NULL,
	page_number integer NOT NULL,
	language varchar(10),
	embedding vector(%d),
	created_at timestamptz NOT NULL
)`, dimension)
}

// AddVectors 事务内批量写入（按主键覆盖）。
func (s *PGVectorStore) AddVectors(ctx context.Context, vectors []*Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, vec := range vectors {
			if len(vec.Embedding) != s.dimension {
				return fmt.Errorf("%w: 向量维度不匹配: 期望 %d 实际 %d",
					ErrInvalidConfig, s.dimension, len(vec.Embedding))
			}
			record := &ChunkRecord{
				ID:         vec.ChunkID,
				DocumentID: vec.DocumentID,
				Filename:   vec.Filename,
				Text:       vec.Text,
				Ordinal:    vec.Ordinal,
				PageNumber: vec.PageNumber,
				Language:   vec.Language,
				Embedding:  pgvector.NewVector(vec.Embedding),
			}
			if err := tx.Save(record).Error; err != nil {
				return fmt.Errorf("写入分块失败: %w", err)
			}
		}
		return nil
	})
}

// Search 余弦相似度检索，documentID 非空时限定在该文档内。
func (s *PGVectorStore) Search(ctx context.Context, queryVector []float32, topK int, documentID string) ([]*SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k 必须大于 0, 实际 %d", ErrInvalidArgument, topK)
	}
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("%w: 查询向量维度不匹配: 期望 %d 实际 %d",
			ErrInvalidConfig, s.dimension, len(queryVector))
	}

	// <=> 为 pgvector 余弦距离操作符，1 - 距离即余弦相似度
	query := `
		SELECT id, document_id, filename, text, ordinal, page_number, language,
		       1 - (embedding <=> ?) AS similarity
		FROM document_chunks`
	args := []any{pgvector.NewVector(queryVector)}
	if documentID != "" {
		query += " WHERE document_id = ?"
		args = append(args, documentID)
	}
	query += " ORDER BY embedding <=> ?, created_at, ordinal LIMIT ?"
	args = append(args, pgvector.NewVector(queryVector), topK)

	var rows []struct {
		ID         string
		DocumentID string
		Filename   string
		Text       string
		Ordinal    int
		PageNumber int
		Language   string
		Similarity float64
	}
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	results := make([]*SearchResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, &SearchResult{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			Text:       r.Text,
			Ordinal:    r.Ordinal,
			PageNumber: r.PageNumber,
			Language:   r.Language,
			Similarity: r.Similarity,
			Score:      r.Similarity,
		})
	}
	return results, nil
}

// DeleteByDocument 删除指定文档的全部分块，无匹配时静默成功。
func (s *PGVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&ChunkRecord{}).Error
}

// ListDocumentStats 按文档聚合分块统计。
func (s *PGVectorStore) ListDocumentStats(ctx context.Context) ([]*DocumentStats, error) {
	var rows []struct {
		DocumentID string
		Filename   string
		Language   string
		ChunkCount int
	}
	err := s.db.WithContext(ctx).
		Model(&ChunkRecord{}).
		Select("document_id, MAX(filename) AS filename, MAX(language) AS language, COUNT(*) AS chunk_count").
		Group("document_id").
		Order("MIN(created_at)").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("聚合文档统计失败: %w", err)
	}

	stats := make([]*DocumentStats, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, &DocumentStats{
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			Language:   r.Language,
			ChunkCount: r.ChunkCount,
		})
	}
	return stats, nil
}

// Count 返回分块总数。
func (s *PGVectorStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ChunkRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计分块数量失败: %w", err)
	}
	return count, nil
}
