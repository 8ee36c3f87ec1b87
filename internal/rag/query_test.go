package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAskRejectsEmptyQuestion(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Ask(context.Background(), "   ")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAskDocumentQuestionEndToEnd(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "policy.pdf", []byte("policy bytes"))
	require.NoError(t, err)

	result, err := f.svc.Ask(ctx, "What is the refund policy?")
	require.NoError(t, err)

	require.Equal(t, RoutedToRAG, result.RoutedTo)
	require.Equal(t, "en", result.DetectedLanguage)
	require.Equal(t, "generated answer", result.Answer)
	require.False(t, result.LowConfidence)
	require.Nil(t, result.Host)

	require.NotEmpty(t, result.Sources)
	require.LessOrEqual(t, len(result.Sources), 3)
	for _, src := range result.Sources {
		require.Equal(t, "policy.pdf", src.Filename)
		require.NotEmpty(t, src.Snippet)
		require.Greater(t, src.PageNumber, 0)
	}

	// 证据确实进入了提示词
	require.Contains(t, f.generator.user, "policy.pdf")
	require.Contains(t, f.generator.user, "[Source 1")
}

func TestAskAppliesReranker(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "policy.pdf", []byte("policy bytes"))
	require.NoError(t, err)

	result, err := f.svc.Ask(ctx, "What about shipping costs?")
	require.NoError(t, err)

	require.Equal(t, 1, f.reranker.called)
	// 假重排序器倒序赋分, 结果按重排分降序
	for i := 1; i < len(result.Sources); i++ {
		require.GreaterOrEqual(t, result.Sources[i-1].Score, result.Sources[i].Score)
	}
}

func TestAskDegradesWhenRerankerFails(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "policy.pdf", []byte("policy bytes"))
	require.NoError(t, err)

	f.reranker.err = fmt.Errorf("rerank backend down")

	result, err := f.svc.Ask(ctx, "What is the refund policy?")
	require.NoError(t, err)

	// 降级后仍按相似度顺序返回结果, 数量不超过最终条数
	require.NotEmpty(t, result.Sources)
	require.LessOrEqual(t, len(result.Sources), 3)
	require.Equal(t, "generated answer", result.Answer)
}

func TestAskEmptyIndexLowConfidence(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Ask(context.Background(), "What is the refund policy?")
	require.NoError(t, err)

	require.True(t, result.LowConfidence)
	require.Empty(t, result.Sources)
	// 无证据时依然生成回答, 提示词要求模型明确拒答
	require.Equal(t, "generated answer", result.Answer)
	require.Contains(t, f.generator.user, "No context is available")
}

func TestAskCrossLingualExpansion(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// 语料为英文, 提问用印地语 → 翻译后补充检索一轮
	_, err := f.svc.Ingest(ctx, "policy.pdf", []byte("policy bytes"))
	require.NoError(t, err)

	result, err := f.svc.Ask(ctx, "इस दस्तावेज़ में वापसी नीति क्या है?")
	require.NoError(t, err)
	require.Equal(t, "hi", result.DetectedLanguage)
	require.NotEmpty(t, result.Sources)

	// 原问题与译文各向量化一次
	require.Equal(t, 2, f.embedder.calls)
	// 第一次生成调用是翻译, 目标语言钉定为语料语言
	require.Len(t, f.generator.users, 2)
	require.Contains(t, f.generator.users[0], "Translate this to English")
	require.Contains(t, f.generator.users[0], "इस दस्तावेज़ में वापसी नीति क्या है?")
}

func TestAskNoExpansionWhenLanguageMatches(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "policy.pdf", []byte("policy bytes"))
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, "What is the refund policy?")
	require.NoError(t, err)

	// 问题语言已被语料覆盖: 只向量化一次, 只有合成一次生成调用
	require.Equal(t, 1, f.embedder.calls)
	require.Len(t, f.generator.users, 1)
}

func TestAskNoExpansionOnEmptyCorpus(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Ask(context.Background(), "इस दस्तावेज़ में वापसी नीति क्या है?")
	require.NoError(t, err)
	require.True(t, result.LowConfidence)

	// 没有语料就没有目标语言, 不发起翻译
	require.Equal(t, 1, f.embedder.calls)
	require.Len(t, f.generator.users, 1)
}

func TestAskTranslationFailureDegrades(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "policy.pdf", []byte("policy bytes"))
	require.NoError(t, err)

	// 第一次生成调用（翻译）失败, 问答仍用原问题完成
	f.generator.failFirst = true

	result, err := f.svc.Ask(ctx, "इस दस्तावेज़ में वापसी नीति क्या है?")
	require.NoError(t, err)
	require.Equal(t, "generated answer", result.Answer)
	require.NotEmpty(t, result.Sources)
	require.Equal(t, 1, f.embedder.calls)
}

func TestMergeByChunkIDDeduplicates(t *testing.T) {
	primary := []*SearchResult{
		{ChunkID: "a:0", Score: 0.9},
		{ChunkID: "a:1", Score: 0.8},
	}
	extra := []*SearchResult{
		{ChunkID: "a:1", Score: 0.7},
		{ChunkID: "a:2", Score: 0.6},
	}

	merged := mergeByChunkID(primary, extra)
	require.Len(t, merged, 3)
	require.Equal(t, "a:0", merged[0].ChunkID)
	require.Equal(t, "a:1", merged[1].ChunkID)
	// 重复分块保留原问题一路的评分
	require.Equal(t, 0.8, merged[1].Score)
	require.Equal(t, "a:2", merged[2].ChunkID)
}

func TestAskEmbeddingFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.embedder.failEmbed = true

	_, err := f.svc.Ask(context.Background(), "What is the refund policy?")
	require.ErrorIs(t, err, ErrCapabilityUnavailable)
}

func TestAskRoutesToCMDB(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Ask(context.Background(), "what is the ip of host server01")
	require.NoError(t, err)

	require.Equal(t, RoutedToServiceNow, result.RoutedTo)
	require.NotNil(t, result.Host)
	require.Equal(t, "server01", result.Host.Name)
	require.Equal(t, "10.0.0.7", result.Host.IPAddress)
	require.Contains(t, result.Answer, "IP Address: 10.0.0.7")
	require.Contains(t, result.Answer, "Location: FRA-2")
	require.Empty(t, result.Message)
	require.Empty(t, result.Sources)
}

func TestAskCMDBHostNotFound(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Ask(context.Background(), "show cmdb record for host web-99")
	require.NoError(t, err)

	require.Equal(t, RoutedToServiceNow, result.RoutedTo)
	require.Nil(t, result.Host)
	require.Empty(t, result.Answer)
	require.Equal(t, `No CMDB record found for host "web-99"`, result.Message)
}

func TestAskCMDBNotConfigured(t *testing.T) {
	f := newServiceFixture(t)
	f.hosts.configured = false

	result, err := f.svc.Ask(context.Background(), "what is the ip of host server01")
	require.NoError(t, err)

	require.Equal(t, RoutedToServiceNow, result.RoutedTo)
	require.Equal(t, "ServiceNow integration is not configured", result.Message)
	require.Empty(t, result.Answer)
}

func TestAskCMDBWithoutLookupDependency(t *testing.T) {
	documents, err := NewDocumentStore(newTestDB(t))
	require.NoError(t, err)
	segmenter, err := NewSegmenter(80, 16)
	require.NoError(t, err)

	svc, err := NewService(
		ServiceConfig{},
		&fakeExtractor{},
		segmenter,
		NewLanguageClassifier(),
		&fakeEmbedder{},
		NewMemoryVectorStore(),
		documents,
		NewIntentRouter(nil),
		NewAnswerSynthesizer(&fakeGenerator{}, 3000, nil),
	)
	require.NoError(t, err)

	result, err := svc.Ask(context.Background(), "what is the ip of host server01")
	require.NoError(t, err)
	require.Equal(t, "ServiceNow integration is not configured", result.Message)
}

func TestSnippetTruncation(t *testing.T) {
	long := strings.Repeat("é", snippetRunes+50)
	got := snippet(long)
	require.Equal(t, snippetRunes+1, len([]rune(got)))
	require.True(t, strings.HasSuffix(got, "…"))

	short := "short text"
	require.Equal(t, short, snippet(short))
}
