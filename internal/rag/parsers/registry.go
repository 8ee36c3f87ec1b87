package parsers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// ParserRegistry 按扩展名分发的解析器注册表。
type ParserRegistry struct {
	parsers []Parser
}

// NewParserRegistry 创建注册表并注册默认解析器。
func NewParserRegistry(ocr OCR) *ParserRegistry {
	r := &ParserRegistry{
		parsers: make([]Parser, 0),
	}
	r.Register(NewPDFParser(ocr, nil))
	return r
}

// Register 注册新解析器。
func (r *ParserRegistry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Supports 检查是否有解析器能处理该文件名。
func (r *ParserRegistry) Supports(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, p := range r.parsers {
		if p.CanParse(ext) {
			return true
		}
	}
	return false
}

// Parse 选择合适的解析器解析文档。
func (r *ParserRegistry) Parse(ctx context.Context, fileName string, data []byte) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	for _, p := range r.parsers {
		if p.CanParse(ext) {
			return p.Parse(ctx, data)
		}
	}

	return nil, fmt.Errorf("不支持的文件类型: %s", ext)
}
