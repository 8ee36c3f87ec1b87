package parsers

import "context"

// Page 一页提取出的文本，Number 从 1 开始。
type Page struct {
	Number int
	Text   string
}

// Parser 文档解析器接口：把原始字节解析为按页组织的纯文本。
type Parser interface {
	// Parse 解析文档并返回逐页文本
	Parse(ctx context.Context, data []byte) ([]Page, error)

	// SupportedExtensions 支持的文件扩展名（如 ".pdf"）
	SupportedExtensions() []string

	// CanParse 检查是否支持指定扩展名
	CanParse(extension string) bool
}

// OCR 可选的光学识别能力：对没有内嵌文本层的页面做识别兜底。
// 实现不存在（nil）时解析器直接跳过该兜底。
type OCR interface {
	RecognizePage(ctx context.Context, data []byte, pageNumber int) (string, error)
}
