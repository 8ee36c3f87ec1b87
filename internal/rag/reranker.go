package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Reranker 定义重排序接口：对 (query, candidate) 逐对打分后重新排序并截断。
// 重排序只是建议性的，调用方在其失败时必须降级为原始相似度顺序。
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []*SearchResult, topK int) ([]*SearchResult, error)
}

// CrossEncoderReranker 调用外部 cross-encoder 服务（Jina/TEI 风格 /rerank 接口）。
type CrossEncoderReranker struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration
}

// NewCrossEncoderReranker 创建 cross-encoder 重排序器。
func NewCrossEncoderReranker(endpoint, apiKey, model string, timeoutSeconds int) *CrossEncoderReranker {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	timeout := time.Duration(timeoutSeconds) * time.Second
	return &CrossEncoderReranker{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		timeout:  timeout,
	}
}

type rerankAPIRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankAPIResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank 对候选集逐对打分并按分数降序稳定排序，截断到 topK。
// 同分保持候选集原有（相似度）顺序，保证结果可复现。
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []*SearchResult, topK int) ([]*SearchResult, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	// 重排序调用必须有时间上限，超时由调用方降级处理
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	scores, err := r.scorePairs(ctx, query, texts)
	if err != nil {
		return nil, err
	}

	reranked := make([]*SearchResult, len(candidates))
	for i, c := range candidates {
		clone := *c
		clone.RerankScore = scores[i]
		clone.Score = scores[i]
		reranked[i] = &clone
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].RerankScore > reranked[j].RerankScore
	})

	if topK > 0 && len(reranked) > topK {
		reranked = reranked[:topK]
	}
	return reranked, nil
}

// scorePairs 调用 /rerank 接口，返回与 documents 同序的相关性分数。
func (r *CrossEncoderReranker) scorePairs(ctx context.Context, query string, documents []string) ([]float64, error) {
	body, err := json.Marshal(rerankAPIRequest{Model: r.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("序列化 rerank 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: rerank 服务不可达: %v", ErrCapabilityUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: rerank 服务返回 %d", ErrCapabilityUnavailable, resp.StatusCode)
	}

	var parsed rerankAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析 rerank 响应失败: %w", err)
	}

	scores := make([]float64, len(documents))
	seen := 0
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			continue
		}
		scores[item.Index] = item.RelevanceScore
		seen++
	}
	if seen != len(documents) {
		return nil, fmt.Errorf("%w: rerank 返回分数数量不匹配: 期望 %d 实际 %d",
			ErrCapabilityUnavailable, len(documents), seen)
	}
	return scores, nil
}
