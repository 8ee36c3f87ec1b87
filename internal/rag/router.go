package rag

import (
	"regexp"
	"strings"
)

// 路由类别。
const (
	RouteDocumentQA       = "document_qa"
	RouteStructuredLookup = "structured_lookup"
)

// RoutingDecision 路由决策的带标签变体：
// Kind 为 RouteStructuredLookup 时 Key 携带提取出的主机名。
type RoutingDecision struct {
	Kind string
	Key  string
}

// DefaultRoutingKeywords 触发结构化查询路由的默认关键词。
var DefaultRoutingKeywords = []string{"host", "server", "cmdb", "servicenow", "ip address"}

// IntentRouter 基于关键词的意图路由器。
// Route 是纯函数：相同输入必然得到相同决策，不依赖任何外部服务，
// 且永不失败——最坏情况是路由错误但请求照常处理。
type IntentRouter struct {
	keywordPattern *regexp.Regexp
	extractPattern *regexp.Regexp
}

// 候选主机名：字母数字开头的字母数字/连字符/点号 token。
var hostnameToken = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*$`)

// 归一化时要剥离的标点。
var punctuation = regexp.MustCompile(`[“”"'?!,;:()]`)

// NewIntentRouter 用给定关键词集构建路由器，keywords 为空时用默认集合。
func NewIntentRouter(keywords []string) *IntentRouter {
	if len(keywords) == 0 {
		keywords = DefaultRoutingKeywords
	}

	escaped := make([]string, len(keywords))
	for i, kw := range keywords {
		escaped[i] = regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(kw)))
	}
	alternatives := strings.Join(escaped, "|")

	return &IntentRouter{
		keywordPattern: regexp.MustCompile(`\b(` + alternatives + `)\b`),
		extractPattern: regexp.MustCompile(`\b(?:` + alternatives + `)\s+(\S+)`),
	}
}

// Route 判定问题走文档问答还是结构化记录查询。
// 命中关键词且能提取到主机名 → StructuredLookup(key)；
// 命中关键词但提取失败 → 回退 DocumentQA，绝不让路由成为失败原因。
func (r *IntentRouter) Route(question string) RoutingDecision {
	normalized := normalizeQuestion(question)

	if !r.keywordPattern.MatchString(normalized) {
		return RoutingDecision{Kind: RouteDocumentQA}
	}

	if key := r.extractKey(normalized); key != "" {
		return RoutingDecision{Kind: RouteStructuredLookup, Key: key}
	}
	return RoutingDecision{Kind: RouteDocumentQA}
}

// extractKey 优先取各个关键词之后紧邻的 token，
// 都不合格时退而扫描整个问题里形如主机名的 token。
func (r *IntentRouter) extractKey(normalized string) string {
	for _, match := range r.extractPattern.FindAllStringSubmatch(normalized, -1) {
		if candidate := validHostname(match[1]); candidate != "" {
			return candidate
		}
	}

	for _, token := range strings.Fields(normalized) {
		if candidate := validHostname(token); candidate != "" {
			return candidate
		}
	}
	return ""
}

// validHostname 校验候选 token，不合格返回空串。
// 主机名必须同时含字母和数字/连字符/点号（server01、vm-prod-01、
// app.internal），纯英文单词和纯数字都不算——关键词后面跟着
// 普通单词时宁可回退文档问答，也不拿它去查 CMDB。
func validHostname(token string) string {
	candidate := strings.Trim(token, ".,-")
	if candidate == "" || !hostnameToken.MatchString(candidate) {
		return ""
	}

	hasLetter, hasMark := false, false
	for _, r := range candidate {
		switch {
		case r >= 'a' && r <= 'z':
			hasLetter = true
		case r >= '0' && r <= '9', r == '-', r == '.':
			hasMark = true
		}
	}
	if !hasLetter || !hasMark {
		return ""
	}
	return candidate
}

// normalizeQuestion 小写化并去除标点，压缩空白。
func normalizeQuestion(question string) string {
	q := strings.ToLower(strings.TrimSpace(question))
	q = punctuation.ReplaceAllString(q, " ")
	return strings.Join(strings.Fields(q), " ")
}
