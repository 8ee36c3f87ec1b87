package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"backend/internal/rag/parsers"
	"backend/internal/servicenow"
)

// HostLookup 结构化记录查询能力（ServiceNow CMDB）。
type HostLookup interface {
	LookupHost(ctx context.Context, host string) (*servicenow.HostRecord, error)
	Configured() bool
}

// PageExtractor 文档到逐页文本的提取能力，由 parsers.ParserRegistry 实现。
type PageExtractor interface {
	Supports(fileName string) bool
	Parse(ctx context.Context, fileName string, data []byte) ([]parsers.Page, error)
}

// ServiceConfig 问答服务的核心参数。
type ServiceConfig struct {
	FinalTopK       int   // 送入合成器的最终证据条数
	OverfetchFactor int   // 检索超采倍数, 为重排序留余量
	MinEvidence     int   // 低于该证据数标记 low_confidence
	MaxUploadBytes  int64 // 上传大小上限
}

// 检索超采的硬上限，倍数再大也不超过这个候选数。
const maxOverfetch = 50

// normalize 填充默认值。
func (c ServiceConfig) normalize() ServiceConfig {
	if c.FinalTopK <= 0 {
		c.FinalTopK = 5
	}
	if c.OverfetchFactor < 1 {
		c.OverfetchFactor = 3
	}
	if c.MinEvidence < 0 {
		c.MinEvidence = 1
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 50 << 20
	}
	return c
}

// Service 文档问答服务：组合摄取流水线与查询流水线。
// 摄取与删除对同一文档 ID 串行，DocumentStore 与 VectorStore
// 之间的一致性由本层的补偿逻辑维护。
type Service struct {
	cfg         ServiceConfig
	extractor   PageExtractor
	segmenter   *Segmenter
	classifier  *LanguageClassifier
	embedder    EmbeddingProvider
	vectors     VectorStore
	documents   *DocumentStore
	router      *IntentRouter
	synthesizer *AnswerSynthesizer
	reranker    Reranker   // 可选, nil 表示跳过重排序
	hosts       HostLookup // 可选, nil 表示 ServiceNow 未接入
	log         *zap.Logger

	docLocks keyedMutex
}

// ServiceOption 服务可选装配项。
type ServiceOption func(*Service)

// WithReranker 启用重排序级联。
func WithReranker(r Reranker) ServiceOption {
	return func(s *Service) { s.reranker = r }
}

// WithHostLookup 接入 ServiceNow 主机查询。
func WithHostLookup(h HostLookup) ServiceOption {
	return func(s *Service) { s.hosts = h }
}

// WithLogger 指定日志器，默认 Nop。
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// NewService 装配问答服务，必选依赖缺失返回 ErrInvalidConfig。
func NewService(
	cfg ServiceConfig,
	extractor PageExtractor,
	segmenter *Segmenter,
	classifier *LanguageClassifier,
	embedder EmbeddingProvider,
	vectors VectorStore,
	documents *DocumentStore,
	router *IntentRouter,
	synthesizer *AnswerSynthesizer,
	opts ...ServiceOption,
) (*Service, error) {
	if extractor == nil || segmenter == nil || classifier == nil ||
		embedder == nil || vectors == nil || documents == nil ||
		router == nil || synthesizer == nil {
		return nil, fmt.Errorf("%w: 服务依赖不完整", ErrInvalidConfig)
	}

	s := &Service{
		cfg:         cfg.normalize(),
		extractor:   extractor,
		segmenter:   segmenter,
		classifier:  classifier,
		embedder:    embedder,
		vectors:     vectors,
		documents:   documents,
		router:      router,
		synthesizer: synthesizer,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListDocuments 返回全部已登记文档。
func (s *Service) ListDocuments(ctx context.Context) ([]*Document, error) {
	return s.documents.List(ctx)
}

// DeleteDocument 删除文档及其全部向量。
// 两个存储独立删除：任何一边仍持有记录就算删除成功（自愈不一致状态），
// 两边都没有该文档才返回 ErrNotFound。
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	unlock := s.docLocks.Lock(documentID)
	defer unlock()

	inIndex := false
	stats, err := s.vectors.ListDocumentStats(ctx)
	if err != nil {
		return fmt.Errorf("查询向量索引失败: %w", err)
	}
	for _, st := range stats {
		if st.DocumentID == documentID {
			inIndex = true
			break
		}
	}

	if inIndex {
		if err := s.vectors.DeleteByDocument(ctx, documentID); err != nil {
			return fmt.Errorf("删除文档向量失败: %w", err)
		}
	}

	registered, err := s.documents.Delete(ctx, documentID)
	if err != nil {
		return err
	}

	if !inIndex && !registered {
		return fmt.Errorf("%w: 文档 %s 不存在", ErrNotFound, documentID)
	}

	s.log.Info("文档已删除",
		zap.String("document_id", documentID),
		zap.Bool("had_vectors", inIndex),
		zap.Bool("had_record", registered))
	return nil
}
