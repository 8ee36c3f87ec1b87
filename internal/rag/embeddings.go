package rag

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// EmbeddingProvider 抽象不同向量模型/服务的统一接口。
// EmbedBatch 保持输入顺序，内部可分批，但对外等价于逐条调用。
// 向量维度在索引生命周期内固定，混入不同维度属于致命配置错误。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
	GetProviderName() string
	GetDimension() int
}

// ProviderHolder 进程级惰性初始化容器：首个调用方执行初始化，
// 并发调用方等待同一次初始化完成，而不是各自启动。
type ProviderHolder[T any] struct {
	once  sync.Once
	build func() (T, error)
	value T
	err   error
}

// NewProviderHolder 创建惰性初始化容器，build 只会被执行一次。
func NewProviderHolder[T any](build func() (T, error)) *ProviderHolder[T] {
	return &ProviderHolder[T]{build: build}
}

// Get 返回已初始化的实例，初始化失败的错误对所有调用方一致。
func (h *ProviderHolder[T]) Get() (T, error) {
	h.once.Do(func() {
		h.value, h.err = h.build()
	})
	return h.value, h.err
}

// 零宽与格式控制字符会污染向量质量，编码前统一剥离。
var invisibleRunes = regexp.MustCompile("[​‌‍⁠\uFEFF]")

// normalizeForEmbedding 对文本做 NFC 规范化并去除不可见字符。
func normalizeForEmbedding(text string) string {
	text = norm.NFC.String(text)
	text = invisibleRunes.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
