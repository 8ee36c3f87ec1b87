package parsers

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
	"go.uber.org/zap"
)

// PDFParser PDF 文件解析器，逐页提取内嵌文本层。
// 某一页没有文本层时尝试 OCR 兜底（扫描件场景），未配置 OCR 则跳过该页。
type PDFParser struct {
	ocr OCR
	log *zap.Logger
}

// NewPDFParser 创建 PDF 解析器，ocr 可为 nil。
func NewPDFParser(ocr OCR, log *zap.Logger) *PDFParser {
	if log == nil {
		log = zap.NewNop()
	}
	return &PDFParser{ocr: ocr, log: log}
}

// Parse 解析 PDF 并返回逐页文本。
// 单页解析失败只记录并继续，整体打不开才算失败；
// 所有页都为空时返回错误，由调用方归类为提取失败。
func (p *PDFParser) Parse(ctx context.Context, data []byte) ([]Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("打开 PDF 失败: %w", err)
	}

	numPages := r.NumPage()
	pages := make([]Page, 0, numPages)
	nonEmpty := 0

	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text := ""
		page := r.Page(i)
		if !page.V.IsNull() {
			extracted, err := page.GetPlainText(nil)
			if err != nil {
				p.log.Warn("解析 PDF 页面失败, 跳过", zap.Int("page", i), zap.Error(err))
			} else {
				text = extracted
			}
		}

		// 文本层为空时走 OCR 兜底
		if strings.TrimSpace(text) == "" && p.ocr != nil {
			recognized, err := p.ocr.RecognizePage(ctx, data, i)
			if err != nil {
				p.log.Warn("页面 OCR 失败, 按空页处理", zap.Int("page", i), zap.Error(err))
			} else {
				text = recognized
			}
		}

		text = strings.TrimSpace(text)
		if text != "" {
			nonEmpty++
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	if nonEmpty == 0 {
		return nil, fmt.Errorf("PDF 内容为空或无法提取文本")
	}
	return pages, nil
}

// SupportedExtensions 支持的文件扩展名
func (p *PDFParser) SupportedExtensions() []string {
	return []string{".pdf"}
}

// CanParse 检查是否可以解析指定扩展名的文件
func (p *PDFParser) CanParse(extension string) bool {
	extension = strings.ToLower(extension)
	for _, ext := range p.SupportedExtensions() {
		if ext == extension {
			return true
		}
	}
	return false
}
