package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QdrantOptions 初始化 Qdrant 向量存储的配置。
type QdrantOptions struct {
	Endpoint            string
	APIKey              string
	Collection          string
	VectorDimension     int
	Distance            string
	TimeoutSeconds      int
	HTTPClient          *http.Client
	SkipCollectionCheck bool
}

// QdrantStore 基于 Qdrant HTTP API 的向量存储实现。
// Qdrant 的 point id 仅接受 UUID 或整数，分块 ID 通过 SHA-1 UUID 确定性映射。
type QdrantStore struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
	distance   string
	skipEnsure bool
	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantStore 创建 Qdrant 向量存储实例。
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	baseURL := strings.TrimSpace(opts.Endpoint)
	if baseURL == "" {
		return nil, fmt.Errorf("%w: qdrant endpoint 不能为空", ErrInvalidConfig)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	collection := opts.Collection
	if collection == "" {
		collection = "docqa_chunks"
	}

	vectorSize := opts.VectorDimension
	if vectorSize <= 0 {
		return nil, fmt.Errorf("%w: qdrant 向量维度必须大于 0", ErrInvalidConfig)
	}

	distance := opts.Distance
	if distance == "" {
		distance = "Cosine"
	}

	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &QdrantStore{
		client:     client,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		collection: collection,
		vectorSize: vectorSize,
		distance:   distance,
		skipEnsure: opts.SkipCollectionCheck,
	}, nil
}

// AddVectors 写入或更新一批向量。
func (s *QdrantStore) AddVectors(ctx context.Context, vectors []*Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(vectors))
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		if len(vec.Embedding) != s.vectorSize {
			return fmt.Errorf("%w: 向量维度不匹配: 期望 %d 实际 %d",
				ErrInvalidConfig, s.vectorSize, len(vec.Embedding))
		}

		points = append(points, qdrantPoint{
			ID:     pointID(vec.ChunkID),
			Vector: vec.Embedding,
			Payload: map[string]any{
				"chunk_id":    vec.ChunkID,
				"document_id": vec.DocumentID,
				"filename":    vec.Filename,
				"text":        vec.Text,
				"chunk_index": vec.Ordinal,
				"page_number": vec.PageNumber,
				"language":    vec.Language,
				"insert_seq":  i,
			},
		})
	}

	req := upsertPointsRequest{Points: points}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut, s.pointsURL("?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant upsert 失败: %s", resp.Error)
	}
	return nil
}

// Search 相似度检索，documentID 非空时按 payload 过滤。
func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, topK int, documentID string) ([]*SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k 必须大于 0, 实际 %d", ErrInvalidArgument, topK)
	}
	if len(queryVector) != s.vectorSize {
		return nil, fmt.Errorf("%w: 查询向量维度不匹配: 期望 %d 实际 %d",
			ErrInvalidConfig, s.vectorSize, len(queryVector))
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	req := searchRequest{
		Vector:      queryVector,
		Limit:       topK,
		WithPayload: true,
	}
	if documentID != "" {
		req.Filter = mustMatchFilter(map[string]string{"document_id": documentID})
	}

	var resp searchResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("qdrant search 失败: %s", resp.Error)
	}

	results := make([]*SearchResult, 0, len(resp.Result))
	for _, item := range resp.Result {
		results = append(results, payloadToResult(item.Payload, item.Score))
	}
	return results, nil
}

// DeleteByDocument 按文档过滤删除，无匹配时 Qdrant 幂等返回成功。
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	req := deletePointsRequest{Filter: mustMatchFilter(map[string]string{"document_id": documentID})}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant delete 失败: %s", resp.Error)
	}
	return nil
}

// ListDocumentStats 滚动读取全部 payload（不带向量）并按文档聚合。
func (s *QdrantStore) ListDocumentStats(ctx context.Context) ([]*DocumentStats, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	order := make([]string, 0)
	byDoc := make(map[string]*DocumentStats)
	var offset any

	for {
		req := scrollRequest{Limit: 1000, WithPayload: true, WithVector: false, Offset: offset}
		var resp scrollResponse
		if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/scroll"), req, &resp); err != nil {
			return nil, err
		}
		if resp.Status != "ok" {
			return nil, fmt.Errorf("qdrant scroll 失败: %s", resp.Error)
		}

		for _, point := range resp.Result.Points {
			docID := stringFromPayload(point.Payload, "document_id")
			if docID == "" {
				continue
			}
			stats, ok := byDoc[docID]
			if !ok {
				stats = &DocumentStats{
					DocumentID: docID,
					Filename:   stringFromPayload(point.Payload, "filename"),
					Language:   stringFromPayload(point.Payload, "language"),
				}
				byDoc[docID] = stats
				order = append(order, docID)
			}
			stats.ChunkCount++
		}

		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}

	out := make([]*DocumentStats, 0, len(order))
	for _, id := range order {
		out = append(out, byDoc[id])
	}
	return out, nil
}

// Count 返回集合中的向量总数。
func (s *QdrantStore) Count(ctx context.Context) (int64, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}

	var resp countResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/count"), countRequest{}, &resp); err != nil {
		return 0, err
	}
	if resp.Status != "ok" {
		return 0, fmt.Errorf("qdrant count 失败: %s", resp.Error)
	}
	return resp.Result.Count, nil
}

// --- 内部辅助 ---

// pointID 把分块 ID 确定性映射为 Qdrant 可接受的 UUID。
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func payloadToResult(payload map[string]any, score float64) *SearchResult {
	return &SearchResult{
		ChunkID:    stringFromPayload(payload, "chunk_id"),
		DocumentID: stringFromPayload(payload, "document_id"),
		Filename:   stringFromPayload(payload, "filename"),
		Text:       stringFromPayload(payload, "text"),
		Ordinal:    toInt(payload["chunk_index"]),
		PageNumber: toInt(payload["page_number"]),
		Language:   stringFromPayload(payload, "language"),
		Similarity: score,
		Score:      score,
	}
}

func (s *QdrantStore) collectionPath(path string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(s.collection), path)
}

func (s *QdrantStore) pointsURL(query string) string {
	return fmt.Sprintf("/collections/%s/points%s", url.PathEscape(s.collection), query)
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	if s.skipEnsure {
		return nil
	}
	s.ensureOnce.Do(func() {
		// 先探测集合是否已存在
		var resp qdrantOperationResponse
		err := s.doRequest(ctx, http.MethodGet, s.collectionPath(""), nil, &resp)
		if err == nil && resp.Status == "ok" {
			s.ensureErr = nil
			return
		}

		createReq := createCollectionRequest{
			Vectors: qdrantVectorParams{
				Size:     s.vectorSize,
				Distance: s.distance,
			},
		}
		s.ensureErr = s.doRequest(ctx, http.MethodPut, s.collectionPath(""), createReq, &resp)
		if s.ensureErr == nil && resp.Status != "ok" {
			s.ensureErr = fmt.Errorf("创建 Qdrant 集合失败: %s", resp.Error)
		}
	})
	return s.ensureErr
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: qdrant 请求失败: %v", ErrCapabilityUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("qdrant API 错误: %v (%d)", errBody["status"], resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func mustMatchFilter(values map[string]string) *qdrantFilter {
	must := make([]fieldCondition, 0, len(values))
	for k, v := range values {
		if v == "" {
			continue
		}
		must = append(must, fieldCondition{
			Key:   k,
			Match: fieldMatch{Value: v},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrantFilter{Must: must}
}

func stringFromPayload(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		iv, _ := n.Int64()
		return int(iv)
	default:
		return 0
	}
}

// --- Qdrant API payloads ---

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match fieldMatch `json:"match"`
}

type fieldMatch struct {
	Value any `json:"value"`
}

type qdrantFilter struct {
	Must []fieldCondition `json:"must,omitempty"`
}

type deletePointsRequest struct {
	Filter *qdrantFilter `json:"filter,omitempty"`
}

type searchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
}

type searchResponse struct {
	Status string              `json:"status"`
	Result []searchResultEntry `json:"result"`
	Error  string              `json:"error"`
}

type searchResultEntry struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantOperationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type scrollRequest struct {
	Limit       int  `json:"limit"`
	WithPayload bool `json:"with_payload"`
	WithVector  bool `json:"with_vector"`
	Offset      any  `json:"offset,omitempty"`
}

type scrollResponse struct {
	Status string `json:"status"`
	Result struct {
		Points []struct {
			ID      any            `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
		NextPageOffset any `json:"next_page_offset"`
	} `json:"result"`
	Error string `json:"error"`
}

type countRequest struct {
	Filter *qdrantFilter `json:"filter,omitempty"`
}

type countResponse struct {
	Status string `json:"status"`
	Result struct {
		Count int64 `json:"count"`
	} `json:"result"`
	Error string `json:"error"`
}
