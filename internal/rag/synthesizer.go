package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// systemPrompt 生成约束：只用给定上下文作答、同语言回答、证据不足必须明说。
const systemPrompt = `You are a precise multilingual document assistant.
Your task is to answer the user's question using ONLY the provided context.

STRICT RULES - FOLLOW EXACTLY:
1. Read ALL the context carefully before answering.
2. The context may be in a DIFFERENT language than the question. Read and understand it anyway.
3. Answer ONLY from what is explicitly written in the context. Do NOT add any external knowledge.
4. When possible, QUOTE or closely paraphrase the exact words from the context.
5. Do NOT invent details, terms, conditions, or clauses that are not in the context.
6. If the question asks about a specific section/article, find it in the context and state exactly what it says.
7. If only partial information is available, provide what you can find and say the rest is not in the documents.
8. ONLY say the information is not available in the provided documents if you truly cannot find ANY relevant information.
9. Always respond in the SAME language as the user's question.
10. NEVER hallucinate or fabricate information. Accuracy is more important than completeness.`

// 翻译提示词，用于跨语种检索扩展。
const translateSystemPrompt = "You are a translation engine. Output ONLY the translation, nothing else."

// Generator 抽象文本生成后端（对本核心而言是黑盒能力）。
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// OpenAIGenerator 基于 OpenAI 兼容 chat 接口的生成后端。
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIGenerator 创建生成后端，BaseURL 可指向本地推理服务。
func NewOpenAIGenerator(apiKey, baseURL, model string, maxTokens int) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Generate 调用 chat completion，低温度以贴近证据。
func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.1,
		MaxTokens:   g.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: 调用生成后端失败: %v", ErrCapabilityUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: 生成后端返回空结果", ErrCapabilityUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// AnswerSynthesizer 答案合成器：组装带语言钉定的提示词并调用生成后端。
// 本核心只负责送入哪些证据和哪种语言约束，不关心生成机制本身。
type AnswerSynthesizer struct {
	gen         Generator
	tokenBudget int
	log         *zap.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewAnswerSynthesizer 创建合成器，tokenBudget 限制上下文部分的 token 总量。
func NewAnswerSynthesizer(gen Generator, tokenBudget int, log *zap.Logger) *AnswerSynthesizer {
	if tokenBudget <= 0 {
		tokenBudget = 3000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AnswerSynthesizer{gen: gen, tokenBudget: tokenBudget, log: log}
}

// Synthesize 依据证据生成与问题同语言的答案。
// 证据为空时仍调用生成后端，提示其用问题语言说明信息不可用。
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, question, langCode string, evidence []*SearchResult) (string, error) {
	langName := LanguageName(langCode)
	contextBlock := s.buildContext(evidence)

	var user string
	if contextBlock == "" {
		user = fmt.Sprintf(
			"No context is available for this question.\n"+
				"State, in %s, that the information is not available in the provided documents. "+
				"Do not answer the question itself.\n\n"+
				"Question (%s): %s",
			langName, langName, question)
	} else {
		user = fmt.Sprintf(
			"Context:\n%s\n\nQuestion (%s): %s\n\nAnswer in %s:",
			contextBlock, langName, question, langName)
	}

	return s.gen.Generate(ctx, systemPrompt, user)
}

// Translate 把问题翻译成目标语言，供跨语种检索使用。
// 输出去掉生成后端常见的首尾引号。
func (s *AnswerSynthesizer) Translate(ctx context.Context, question, langCode string) (string, error) {
	user := fmt.Sprintf("Translate this to %s. Output ONLY the translation, nothing else: %s",
		LanguageName(langCode), question)

	out, err := s.gen.Generate(ctx, translateSystemPrompt, user)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(out), `"'`), nil
}

// buildContext 将证据拼装成编号的 [Source N: 文件, Page p] 区块，
// 超出 token 预算的尾部证据被丢弃（证据已按相关性排序）。
func (s *AnswerSynthesizer) buildContext(evidence []*SearchResult) string {
	var parts []string
	used := 0

	for i, chunk := range evidence {
		block := fmt.Sprintf("[Source %d: %s, Page %d]\n%s", i+1, chunk.Filename, chunk.PageNumber, chunk.Text)
		cost := s.countTokens(block)
		if used+cost > s.tokenBudget && len(parts) > 0 {
			s.log.Warn("上下文超出 token 预算, 截断证据",
				zap.Int("kept", len(parts)), zap.Int("dropped", len(evidence)-len(parts)))
			break
		}
		parts = append(parts, block)
		used += cost
	}

	return strings.Join(parts, "\n\n---\n\n")
}

// countTokens 用 cl100k_base 计数，编码器不可用时按 4 字符/token 估算。
func (s *AnswerSynthesizer) countTokens(text string) int {
	s.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			s.log.Warn("加载 tiktoken 编码器失败, 退化为字符估算", zap.Error(err))
			return
		}
		s.enc = enc
	})

	if s.enc == nil {
		return len(text) / 4
	}
	return len(s.enc.Encode(text, nil, nil))
}
