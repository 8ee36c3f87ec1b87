package rag

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbeddingProvider 基于 OpenAI 兼容接口的向量化提供者。
// BaseURL 可指向任何兼容 /v1/embeddings 的本地推理服务（如 bge-m3 部署）。
type OpenAIEmbeddingProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbeddingProvider 创建向量化提供者。
// dimension <= 0 时按已知 OpenAI 模型推断，未知模型默认 1024。
func NewOpenAIEmbeddingProvider(apiKey, baseURL, model string, dimension int) *OpenAIEmbeddingProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dimension <= 0 {
		switch model {
		case string(openai.LargeEmbedding3):
			dimension = 3072
		case string(openai.SmallEmbedding3), string(openai.AdaEmbeddingV2):
			dimension = 1536
		default:
			dimension = 1024
		}
	}

	return &OpenAIEmbeddingProvider{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
	}
}

// Embed 将单条文本转换为向量。
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: 文本不能为空", ErrInvalidArgument)
	}
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化文本，保持输入顺序。
// 单次请求最多 2048 条输入，超出时自动分批。
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = normalizeForEmbedding(t)
	}

	const batchSize = 2048
	all := make([][]float32, 0, len(cleaned))

	for i := 0; i < len(cleaned); i += batchSize {
		end := i + batchSize
		if end > len(cleaned) {
			end = len(cleaned)
		}

		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: cleaned[i:end],
			Model: openai.EmbeddingModel(p.model),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: 调用 Embeddings API 失败: %v", ErrCapabilityUnavailable, err)
		}
		if len(resp.Data) != end-i {
			return nil, fmt.Errorf("%w: 返回向量数量不匹配: 期望 %d 实际 %d",
				ErrCapabilityUnavailable, end-i, len(resp.Data))
		}

		for _, d := range resp.Data {
			if len(d.Embedding) != p.dimension {
				return nil, fmt.Errorf("%w: 向量维度不匹配: 期望 %d 实际 %d",
					ErrInvalidConfig, p.dimension, len(d.Embedding))
			}
			all = append(all, d.Embedding)
		}
	}

	return all, nil
}

// GetModel 返回当前使用的模型名。
func (p *OpenAIEmbeddingProvider) GetModel() string { return p.model }

// GetProviderName 返回提供商名称。
func (p *OpenAIEmbeddingProvider) GetProviderName() string { return "openai" }

// GetDimension 返回向量维度。
func (p *OpenAIEmbeddingProvider) GetDimension() int { return p.dimension }
