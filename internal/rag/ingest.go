package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"backend/internal/metrics"
	"backend/internal/rag/parsers"
)

// IngestResult 一次成功摄取的结果。
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Language   string `json:"detected_language"`
	ChunkCount int    `json:"total_chunks"`
	PageCount  int    `json:"total_pages"`
	Reingested bool   `json:"reingested"`
}

// 语言检测采样：取前几页各采样一段，避免把整本书喂给检测器。
const (
	languageSamplePages = 3
	languageSampleRunes = 500
)

// Ingest 执行完整摄取流水线：
// 校验 → 提取 → 分段 → 向量化 → 建索引 → 登记。
// 文档 ID 为内容哈希，相同内容重复上传幂等覆盖。
// 任一阶段失败返回 StageError，登记失败时回滚已写入的向量，
// 保证不存在"已登记但无向量"或"部分索引"的文档。
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	start := time.Now()

	result, err := s.ingest(ctx, filename, data)
	if err != nil {
		stage := StageReceived
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		metrics.IngestTotal.WithLabelValues(stage).Inc()
		return nil, err
	}

	metrics.IngestTotal.WithLabelValues("ok").Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	metrics.IngestChunks.Observe(float64(result.ChunkCount))
	return result, nil
}

func (s *Service) ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	// Received: 大小与类型校验
	if len(data) == 0 {
		return nil, stageErr(StageReceived, fmt.Errorf("%w: 文件为空", ErrInvalidArgument))
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, stageErr(StageReceived, fmt.Errorf("%w: 文件大小 %d 超过上限 %d",
			ErrInvalidArgument, len(data), s.cfg.MaxUploadBytes))
	}
	if !s.extractor.Supports(filename) {
		return nil, stageErr(StageReceived, fmt.Errorf("%w: 不支持的文件类型: %s",
			ErrInvalidArgument, filename))
	}

	sum := sha256.Sum256(data)
	docID := hex.EncodeToString(sum[:])

	// 同一文档的摄取/删除串行
	unlock := s.docLocks.Lock(docID)
	defer unlock()

	reingested := false
	if _, err := s.documents.Get(ctx, docID); err == nil {
		reingested = true
	}

	// Extracted: 逐页提取文本
	pages, err := s.extractor.Parse(ctx, filename, data)
	if err != nil {
		return nil, stageErr(StageExtracted, fmt.Errorf("%w: %v", ErrExtractionFailed, err))
	}

	fullText, bounds := assemblePages(pages)
	language := s.classifier.Detect(languageSample(pages))

	// Segmented: 切块
	chunks := s.segmenter.Segment(fullText, bounds)
	if len(chunks) == 0 {
		return nil, stageErr(StageSegmented, fmt.Errorf("%w: 未提取到可用文本", ErrExtractionFailed))
	}

	// Embedded: 批量向量化
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = normalizeForEmbedding(c.Text)
	}
	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, stageErr(StageEmbedded, err)
	}
	if len(embeddings) != len(chunks) {
		return nil, stageErr(StageEmbedded, fmt.Errorf("%w: 向量数量不匹配: 期望 %d 实际 %d",
			ErrCapabilityUnavailable, len(chunks), len(embeddings)))
	}

	vectors := make([]*Vector, len(chunks))
	for i, c := range chunks {
		vectors[i] = &Vector{
			ChunkID:    fmt.Sprintf("%s:%d", docID, c.Ordinal),
			DocumentID: docID,
			Filename:   filename,
			Text:       c.Text,
			Ordinal:    c.Ordinal,
			PageNumber: c.PageNumber,
			Language:   language,
			Embedding:  embeddings[i],
		}
	}

	// Indexed: 重摄取时先清掉旧版本分块, 分块参数变化后不留残余
	if reingested {
		if err := s.vectors.DeleteByDocument(ctx, docID); err != nil {
			return nil, stageErr(StageIndexed, err)
		}
	}
	if err := s.vectors.AddVectors(ctx, vectors); err != nil {
		return nil, stageErr(StageIndexed, err)
	}

	// Registered: 登记元数据, 失败则回滚向量避免出现孤儿索引
	doc := &Document{
		ID:         docID,
		Filename:   filename,
		Language:   language,
		ChunkCount: len(chunks),
		PageCount:  len(pages),
		FileSize:   int64(len(data)),
		UploadedAt: time.Now(),
	}
	if err := s.documents.Register(ctx, doc); err != nil {
		if rollbackErr := s.vectors.DeleteByDocument(ctx, docID); rollbackErr != nil {
			s.log.Error("登记失败后回滚向量也失败, 索引可能残留孤儿分块",
				zap.String("document_id", docID), zap.Error(rollbackErr))
		}
		return nil, stageErr(StageRegistered, err)
	}

	s.log.Info("文档摄取完成",
		zap.String("document_id", docID),
		zap.String("filename", filename),
		zap.String("language", language),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
		zap.Bool("reingested", reingested))

	return &IngestResult{
		DocumentID: docID,
		Filename:   filename,
		Language:   language,
		ChunkCount: len(chunks),
		PageCount:  len(pages),
		Reingested: reingested,
	}, nil
}

// assemblePages 拼接逐页文本为全文，并记录每页的起始 rune 偏移。
func assemblePages(pages []parsers.Page) (string, []PageBoundary) {
	var sb strings.Builder
	bounds := make([]PageBoundary, 0, len(pages))
	offset := 0

	for _, p := range pages {
		bounds = append(bounds, PageBoundary{PageNumber: p.Number, Offset: offset})
		sb.WriteString(p.Text)
		sb.WriteString("\n")
		offset += len([]rune(p.Text)) + 1
	}
	return sb.String(), bounds
}

// languageSample 取前几页各前几百个 rune 作为语言检测样本。
// 文档级检测意味着混合语言文档按主导语言打标，这是有意的取舍。
func languageSample(pages []parsers.Page) string {
	var sb strings.Builder
	for i, p := range pages {
		if i >= languageSamplePages {
			break
		}
		runes := []rune(p.Text)
		if len(runes) > languageSampleRunes {
			runes = runes[:languageSampleRunes]
		}
		sb.WriteString(string(runes))
		sb.WriteString(" ")
	}
	return sb.String()
}

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
