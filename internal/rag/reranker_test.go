package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func rerankCandidates() []*SearchResult {
	return []*SearchResult{
		{ChunkID: "c1", Text: "first", Similarity: 0.9, Score: 0.9},
		{ChunkID: "c2", Text: "second", Similarity: 0.8, Score: 0.8},
		{ChunkID: "c3", Text: "third", Similarity: 0.7, Score: 0.7},
	}
}

func newRerankServer(t *testing.T, scores []float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankAPIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Query)

		var resp rerankAPIResponse
		for i := range req.Documents {
			if i >= len(scores) {
				break
			}
			resp.Results = append(resp.Results, struct {
				Index          int     `json:"index"`
				RelevanceScore float64 `json:"relevance_score"`
			}{Index: i, RelevanceScore: scores[i]})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRerankReordersByScore(t *testing.T) {
	// 相似度最末的候选拿到最高 rerank 分
	srv := newRerankServer(t, []float64{0.1, 0.5, 0.95})
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL, "", "test-model", 5)
	results, err := r.Rerank(context.Background(), "query", rerankCandidates(), 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, "c3", results[0].ChunkID)
	require.Equal(t, "c2", results[1].ChunkID)
	require.Equal(t, "c1", results[2].ChunkID)

	require.InDelta(t, 0.95, results[0].RerankScore, 1e-9)
	require.InDelta(t, 0.95, results[0].Score, 1e-9)
}

func TestRerankTruncatesToTopK(t *testing.T) {
	srv := newRerankServer(t, []float64{0.3, 0.2, 0.1})
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL, "", "test-model", 5)
	results, err := r.Rerank(context.Background(), "query", rerankCandidates(), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestRerankStableOnTies(t *testing.T) {
	srv := newRerankServer(t, []float64{0.5, 0.5, 0.5})
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL, "", "test-model", 5)
	results, err := r.Rerank(context.Background(), "query", rerankCandidates(), 3)
	require.NoError(t, err)

	// 同分保持输入（相似度）顺序
	require.Equal(t, "c1", results[0].ChunkID)
	require.Equal(t, "c2", results[1].ChunkID)
	require.Equal(t, "c3", results[2].ChunkID)
}

func TestRerankDoesNotMutateInput(t *testing.T) {
	srv := newRerankServer(t, []float64{0.1, 0.5, 0.9})
	defer srv.Close()

	candidates := rerankCandidates()
	r := NewCrossEncoderReranker(srv.URL, "", "test-model", 5)
	_, err := r.Rerank(context.Background(), "query", candidates, 3)
	require.NoError(t, err)

	require.Equal(t, "c1", candidates[0].ChunkID)
	require.Zero(t, candidates[0].RerankScore)
}

func TestRerankServerErrorIsCapabilityUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL, "", "test-model", 5)
	_, err := r.Rerank(context.Background(), "query", rerankCandidates(), 3)
	require.True(t, errors.Is(err, ErrCapabilityUnavailable))
}

func TestRerankIncompleteScoresRejected(t *testing.T) {
	// 服务只返回部分分数时必须报错，让调用方降级
	srv := newRerankServer(t, []float64{0.5})
	defer srv.Close()

	r := NewCrossEncoderReranker(srv.URL, "", "test-model", 5)
	_, err := r.Rerank(context.Background(), "query", rerankCandidates(), 3)
	require.True(t, errors.Is(err, ErrCapabilityUnavailable))
}

func TestRerankUnreachableEndpoint(t *testing.T) {
	r := NewCrossEncoderReranker("http://127.0.0.1:1", "", "test-model", 1)
	_, err := r.Rerank(context.Background(), "query", rerankCandidates(), 3)
	require.True(t, errors.Is(err, ErrCapabilityUnavailable))
}

func TestRerankEmptyCandidates(t *testing.T) {
	r := NewCrossEncoderReranker("http://127.0.0.1:1", "", "test-model", 1)
	results, err := r.Rerank(context.Background(), "query", nil, 3)
	require.NoError(t, err)
	require.Empty(t, results)
}
