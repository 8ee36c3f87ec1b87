package rag

import "errors"

// 错误分类哨兵，用 errors.Is 判断错误类别。
// 所有内部错误均通过 fmt.Errorf("%w: ...") 包装到其中一类。
var (
	// ErrInvalidConfig 配置错误（chunk/overlap 关系非法、向量维度不匹配等），启动期致命。
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidArgument 参数错误（top_k <= 0、空问题、超大或非 PDF 上传），立即拒绝。
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExtractionFailed PDF 无法解析或未提取到任何文本，摄取在 Extracted 阶段中止。
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrCapabilityUnavailable 外部能力（向量化/重排序/生成后端）不可达。
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrNotFound 文档或主机记录不存在。
	ErrNotFound = errors.New("not found")
)

// StageError 记录摄取流水线失败时所处的阶段与原因。
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return "stage " + e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
