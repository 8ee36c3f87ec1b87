package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"backend/internal/rag/parsers"
)

func TestIngestHappyPath(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	data := []byte("%PDF-fake-bytes")
	result, err := f.svc.Ingest(ctx, "policy.pdf", data)
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(sum[:]), result.DocumentID)
	require.Equal(t, "policy.pdf", result.Filename)
	require.Equal(t, "en", result.Language)
	require.Equal(t, 2, result.PageCount)
	require.Greater(t, result.ChunkCount, 1)
	require.False(t, result.Reingested)

	// 向量索引与登记表一致
	count, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(result.ChunkCount), count)

	doc, err := f.documents.Get(ctx, result.DocumentID)
	require.NoError(t, err)
	require.Equal(t, result.ChunkCount, doc.ChunkCount)
}

func TestIngestChunksCarryDocumentLanguage(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, "policy.pdf", []byte("data"))
	require.NoError(t, err)

	// 文档级语言传播到每个分块（混合语言文档按主导语言打标）
	stats, err := f.vectors.ListDocumentStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, result.Language, stats[0].Language)
}

func TestIngestRejectsEmptyFile(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Ingest(context.Background(), "policy.pdf", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageReceived, se.Stage)
}

func TestIngestRejectsOversizedFile(t *testing.T) {
	f := newServiceFixture(t)

	big := make([]byte, (1<<20)+1)
	_, err := f.svc.Ingest(context.Background(), "big.pdf", big)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIngestRejectsUnsupportedType(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Ingest(context.Background(), "notes.txt", []byte("plain text"))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIngestExtractionFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.extractor.err = fmt.Errorf("corrupt file")

	_, err := f.svc.Ingest(context.Background(), "broken.pdf", []byte("junk"))
	require.ErrorIs(t, err, ErrExtractionFailed)

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageExtracted, se.Stage)

	// 失败的摄取不留任何痕迹
	count, err := f.vectors.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestIngestNoExtractableText(t *testing.T) {
	f := newServiceFixture(t)
	f.extractor.pages = []parsers.Page{{Number: 1, Text: "   \n "}}

	_, err := f.svc.Ingest(context.Background(), "empty.pdf", []byte("data"))
	require.ErrorIs(t, err, ErrExtractionFailed)

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageSegmented, se.Stage)
}

func TestIngestEmbeddingFailureLeavesNothing(t *testing.T) {
	f := newServiceFixture(t)
	f.embedder.failBatch = true

	_, err := f.svc.Ingest(context.Background(), "policy.pdf", []byte("data"))
	require.ErrorIs(t, err, ErrCapabilityUnavailable)

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageEmbedded, se.Stage)

	count, err := f.vectors.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)

	docs, err := f.documents.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestIngestRegistrationFailureRollsBackVectors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// 关闭底层连接使登记阶段失败
	sqlDB, err := f.documents.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.svc.Ingest(ctx, "policy.pdf", []byte("data"))
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageRegistered, se.Stage)

	// 补偿删除已执行, 索引里没有孤儿向量
	count, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestIngestIdempotentReupload(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	data := []byte("same bytes")
	first, err := f.svc.Ingest(ctx, "policy.pdf", data)
	require.NoError(t, err)

	second, err := f.svc.Ingest(ctx, "policy.pdf", data)
	require.NoError(t, err)

	require.Equal(t, first.DocumentID, second.DocumentID)
	require.True(t, second.Reingested)

	// 重复摄取不会累积分块
	count, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(second.ChunkCount), count)

	docs, err := f.documents.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestIngestDifferentContentDifferentID(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	a, err := f.svc.Ingest(ctx, "a.pdf", []byte("content A"))
	require.NoError(t, err)
	b, err := f.svc.Ingest(ctx, "b.pdf", []byte("content B"))
	require.NoError(t, err)

	require.NotEqual(t, a.DocumentID, b.DocumentID)
}

func TestIngestConcurrentSameDocument(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	data := []byte("concurrent bytes")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Ingest(ctx, "policy.pdf", data)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	docs, err := f.documents.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
