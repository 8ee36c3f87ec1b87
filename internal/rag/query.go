package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"backend/internal/metrics"
	"backend/internal/servicenow"
)

// 问答路由标识，出现在响应的 routed_to 字段。
const (
	RoutedToRAG        = "rag"
	RoutedToServiceNow = "servicenow"
)

// SourceDocument 答案引用的一条证据来源。
type SourceDocument struct {
	Filename   string  `json:"filename"`
	PageNumber int     `json:"page_number"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// AskResult 一次问答的完整结果。
// 文档问答路径填充 Answer/Sources；CMDB 路径命中时填充 Host，
// 未命中或未配置时只填充 Message，Answer 留空。
type AskResult struct {
	Answer           string                 `json:"answer,omitempty"`
	Message          string                 `json:"message,omitempty"`
	DetectedLanguage string                 `json:"detected_language"`
	RoutedTo         string                 `json:"routed_to"`
	LowConfidence    bool                   `json:"low_confidence"`
	Sources          []SourceDocument       `json:"source_documents,omitempty"`
	Host             *servicenow.HostRecord `json:"host,omitempty"`
}

// 来源摘录长度（rune）。
const snippetRunes = 200

// Ask 回答一个问题：先路由，结构化查询走 CMDB，其余走检索问答。
// 空问题返回 ErrInvalidArgument。
func (s *Service) Ask(ctx context.Context, question string) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: 问题不能为空", ErrInvalidArgument)
	}

	language := s.classifier.Detect(question)
	decision := s.router.Route(question)

	start := time.Now()
	var (
		result *AskResult
		err    error
		route  = RoutedToRAG
	)

	if decision.Kind == RouteStructuredLookup {
		route = RoutedToServiceNow
		result, err = s.askCMDB(ctx, decision.Key, language)
	} else {
		result, err = s.askDocuments(ctx, question, language)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.QueriesTotal.WithLabelValues(route, status).Inc()
	metrics.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

	return result, err
}

// askCMDB 结构化记录查询路径。
// 集成未配置和记录不存在都不是错误，通过 Message 告知调用方。
func (s *Service) askCMDB(ctx context.Context, host, language string) (*AskResult, error) {
	result := &AskResult{
		DetectedLanguage: language,
		RoutedTo:         RoutedToServiceNow,
	}

	if s.hosts == nil || !s.hosts.Configured() {
		result.Message = "ServiceNow integration is not configured"
		return result, nil
	}

	record, err := s.hosts.LookupHost(ctx, host)
	if err != nil {
		if errors.Is(err, servicenow.ErrHostNotFound) {
			result.Message = fmt.Sprintf("No CMDB record found for host %q", host)
			return result, nil
		}
		if errors.Is(err, servicenow.ErrNotConfigured) {
			result.Message = "ServiceNow integration is not configured"
			return result, nil
		}
		return nil, fmt.Errorf("%w: CMDB 查询失败: %v", ErrCapabilityUnavailable, err)
	}

	result.Host = record
	result.Answer = formatHostAnswer(record)
	return result, nil
}

// askDocuments 文档问答路径：向量化 → 超采检索 → 重排序 → 合成。
// 问题语言不在语料语言集合里时做跨语种扩展：把问题翻译成语料语言
// 再检索一轮，两路结果按 ChunkID 去重合并（原问题的结果优先）。
func (s *Service) askDocuments(ctx context.Context, question, language string) (*AskResult, error) {
	// 超采为重排序留余量，封顶避免大库下候选集失控
	fetchK := s.cfg.FinalTopK * s.cfg.OverfetchFactor
	if fetchK > maxOverfetch {
		fetchK = maxOverfetch
	}

	candidates, err := s.searchWith(ctx, question, fetchK)
	if err != nil {
		return nil, err
	}

	if alt := s.crossLingualQuery(ctx, question, language); alt != "" {
		extra, err := s.searchWith(ctx, alt, fetchK)
		if err != nil {
			s.log.Warn("跨语种检索失败, 仅保留原问题的结果", zap.Error(err))
		} else {
			candidates = mergeByChunkID(candidates, extra)
		}
	}
	metrics.RetrievalResults.Observe(float64(len(candidates)))

	evidence := s.rerankOrDegrade(ctx, question, candidates)

	lowConfidence := len(evidence) < s.cfg.MinEvidence
	if lowConfidence {
		metrics.LowConfidenceAnswers.Inc()
		s.log.Warn("证据不足, 以低置信度作答",
			zap.Int("evidence", len(evidence)), zap.Int("min", s.cfg.MinEvidence))
	}

	answer, err := s.synthesizer.Synthesize(ctx, question, language, evidence)
	if err != nil {
		return nil, err
	}

	return &AskResult{
		Answer:           answer,
		DetectedLanguage: language,
		RoutedTo:         RoutedToRAG,
		LowConfidence:    lowConfidence,
		Sources:          toSources(evidence),
	}, nil
}

// searchWith 向量化检索词并检索全库。
func (s *Service) searchWith(ctx context.Context, query string, fetchK int) ([]*SearchResult, error) {
	vector, err := s.embedder.Embed(ctx, normalizeForEmbedding(query))
	if err != nil {
		return nil, fmt.Errorf("%w: 检索词向量化失败: %v", ErrCapabilityUnavailable, err)
	}

	results, err := s.vectors.Search(ctx, vector, fetchK, "")
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	return results, nil
}

// crossLingualQuery 问题语言与语料语言不一致时，把问题翻译成语料的
// 第一种语言作为补充检索词。语料为空、语言已覆盖或翻译失败都返回空串，
// 翻译失败绝不升级为请求失败。
func (s *Service) crossLingualQuery(ctx context.Context, question, language string) string {
	docs, err := s.documents.List(ctx)
	if err != nil || len(docs) == 0 {
		return ""
	}

	target := ""
	for _, doc := range docs {
		if doc.Language == "" {
			continue
		}
		if doc.Language == language {
			return ""
		}
		if target == "" {
			target = doc.Language
		}
	}
	if target == "" {
		return ""
	}

	translated, err := s.synthesizer.Translate(ctx, question, target)
	if err != nil {
		s.log.Warn("检索词翻译失败, 跳过跨语种扩展", zap.Error(err))
		return ""
	}
	if translated == "" || strings.EqualFold(translated, question) {
		return ""
	}

	s.log.Info("跨语种检索扩展",
		zap.String("query_language", language),
		zap.String("target_language", target))
	return translated
}

// mergeByChunkID 合并两路检索结果，重复分块保留先出现的一路。
func mergeByChunkID(primary, extra []*SearchResult) []*SearchResult {
	seen := make(map[string]struct{}, len(primary))
	for _, r := range primary {
		seen[r.ChunkID] = struct{}{}
	}
	for _, r := range extra {
		if _, dup := seen[r.ChunkID]; dup {
			continue
		}
		seen[r.ChunkID] = struct{}{}
		primary = append(primary, r)
	}
	return primary
}

// rerankOrDegrade 对候选集重排序并截断到最终条数。
// 重排序未启用或失败时降级：保持相似度顺序直接截断，绝不让重排序失败
// 变成请求失败。
func (s *Service) rerankOrDegrade(ctx context.Context, question string, candidates []*SearchResult) []*SearchResult {
	if s.reranker != nil && len(candidates) > 0 {
		reranked, err := s.reranker.Rerank(ctx, question, candidates, s.cfg.FinalTopK)
		if err == nil {
			return reranked
		}
		metrics.RerankDegradations.Inc()
		s.log.Warn("重排序失败, 降级为相似度顺序", zap.Error(err))
	}

	if len(candidates) > s.cfg.FinalTopK {
		candidates = candidates[:s.cfg.FinalTopK]
	}
	return candidates
}

// toSources 把证据转换为响应中的来源列表，正文截为摘录。
func toSources(evidence []*SearchResult) []SourceDocument {
	sources := make([]SourceDocument, len(evidence))
	for i, e := range evidence {
		sources[i] = SourceDocument{
			Filename:   e.Filename,
			PageNumber: e.PageNumber,
			Score:      e.Score,
			Snippet:    snippet(e.Text),
		}
	}
	return sources
}

// snippet 截取前 snippetRunes 个 rune。
func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "…"
}

// formatHostAnswer 把 CMDB 记录格式化为可读回答。
func formatHostAnswer(r *servicenow.HostRecord) string {
	lines := []string{fmt.Sprintf("Host: %s", r.Name)}
	if r.IPAddress != "" {
		lines = append(lines, fmt.Sprintf("IP Address: %s", r.IPAddress))
	}
	if r.OS != "" {
		lines = append(lines, fmt.Sprintf("OS: %s", r.OS))
	}
	if r.Location != "" {
		lines = append(lines, fmt.Sprintf("Location: %s", r.Location))
	}
	if r.InstallStatus != "" {
		lines = append(lines, fmt.Sprintf("Install Status: %s", r.InstallStatus))
	}
	return strings.Join(lines, "\n")
}
