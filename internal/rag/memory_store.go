package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryVectorStore 进程内向量存储：精确余弦检索，保留插入顺序以便同分稳定排序。
// 适合本地单机部署与测试，数据不落盘。
type MemoryVectorStore struct {
	mu        sync.RWMutex
	entries   []*Vector
	byChunkID map[string]int
	dimension int
}

// NewMemoryVectorStore 创建内存向量存储。
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		byChunkID: make(map[string]int),
	}
}

// AddVectors 按 ChunkID 插入或覆盖。首批向量确定索引维度，之后维度不一致报配置错误。
func (s *MemoryVectorStore) AddVectors(ctx context.Context, vectors []*Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vec := range vectors {
		if vec == nil {
			continue
		}
		if s.dimension == 0 {
			s.dimension = len(vec.Embedding)
		}
		if len(vec.Embedding) != s.dimension {
			return fmt.Errorf("%w: 向量维度不匹配: 期望 %d 实际 %d",
				ErrInvalidConfig, s.dimension, len(vec.Embedding))
		}

		if idx, ok := s.byChunkID[vec.ChunkID]; ok {
			s.entries[idx] = vec
			continue
		}
		s.byChunkID[vec.ChunkID] = len(s.entries)
		s.entries = append(s.entries, vec)
	}
	return nil
}

// Search 余弦相似度降序检索，同分保持插入顺序（稳定排序）。
func (s *MemoryVectorStore) Search(ctx context.Context, queryVector []float32, topK int, documentID string) ([]*SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k 必须大于 0, 实际 %d", ErrInvalidArgument, topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return []*SearchResult{}, nil
	}
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("%w: 查询向量维度不匹配: 期望 %d 实际 %d",
			ErrInvalidConfig, s.dimension, len(queryVector))
	}

	results := make([]*SearchResult, 0, len(s.entries))
	for _, vec := range s.entries {
		if documentID != "" && vec.DocumentID != documentID {
			continue
		}
		sim := cosineSimilarity(queryVector, vec.Embedding)
		results = append(results, &SearchResult{
			ChunkID:    vec.ChunkID,
			DocumentID: vec.DocumentID,
			Filename:   vec.Filename,
			Text:       vec.Text,
			Ordinal:    vec.Ordinal,
			PageNumber: vec.PageNumber,
			Language:   vec.Language,
			Similarity: sim,
			Score:      sim,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument 删除指定文档的全部分块，无匹配时为 no-op。
func (s *MemoryVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, vec := range s.entries {
		if vec.DocumentID != documentID {
			kept = append(kept, vec)
		}
	}
	s.entries = kept

	// 重建索引映射，保持剩余条目的插入顺序
	s.byChunkID = make(map[string]int, len(s.entries))
	for i, vec := range s.entries {
		s.byChunkID[vec.ChunkID] = i
	}
	if len(s.entries) == 0 {
		s.dimension = 0
	}
	return nil
}

// ListDocumentStats 按文档聚合分块统计，按首次插入顺序返回。
func (s *MemoryVectorStore) ListDocumentStats(ctx context.Context) ([]*DocumentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := make([]string, 0)
	byDoc := make(map[string]*DocumentStats)
	for _, vec := range s.entries {
		stats, ok := byDoc[vec.DocumentID]
		if !ok {
			stats = &DocumentStats{
				DocumentID: vec.DocumentID,
				Filename:   vec.Filename,
				Language:   vec.Language,
			}
			byDoc[vec.DocumentID] = stats
			order = append(order, vec.DocumentID)
		}
		stats.ChunkCount++
	}

	out := make([]*DocumentStats, 0, len(order))
	for _, id := range order {
		out = append(out, byDoc[id])
	}
	return out, nil
}

// Count 返回索引中的向量总数。
func (s *MemoryVectorStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// cosineSimilarity 计算两个向量的余弦相似度，零向量返回 0。
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
