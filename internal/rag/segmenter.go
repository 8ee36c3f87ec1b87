package rag

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// PageBoundary 标记某一页在全文中的起始 rune 偏移，偏移单调递增。
type PageBoundary struct {
	PageNumber int
	Offset     int
}

// Segmenter 文本分段器：按固定窗口滑动切块，窗口间保留重叠，
// 并在回看范围内把窗口边界吸附到最近的空白/句末位置，
// 避免在词中间或多字节文字内部切断（对非拉丁文字尤其重要）。
type Segmenter struct {
	ChunkSize    int // 每块的 rune 数
	ChunkOverlap int // 相邻块之间的重叠 rune 数
}

// NewSegmenter 创建分段器。
// chunkSize <= overlap 属于配置错误，返回 ErrInvalidConfig。
func NewSegmenter(chunkSize, chunkOverlap int) (*Segmenter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk_size 必须大于 0, 实际 %d", ErrInvalidConfig, chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("%w: chunk_overlap 不能为负, 实际 %d", ErrInvalidConfig, chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk_overlap(%d) 必须小于 chunk_size(%d)", ErrInvalidConfig, chunkOverlap, chunkSize)
	}
	return &Segmenter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}, nil
}

// Segment 对全文切块并按起始偏移标注所属页码。
// 空文本返回空切片；短于一个窗口的文本恰好产出一块。
func (s *Segmenter) Segment(text string, bounds []PageBoundary) []ChunkDraft {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.ChunkOverlap
	// 回看距离必须小于步长的一半，保证吸附后窗口仍然前进
	lookback := step / 2
	if lookback > 80 {
		lookback = 80
	}

	chunks := make([]ChunkDraft, 0, (len(runes)+step-1)/step)
	start := 0
	ordinal := 0

	for start < len(runes) {
		end := start + s.ChunkSize
		last := false
		if end >= len(runes) {
			end = len(runes)
			last = true
		} else if snapped := snapToBoundary(runes, end, lookback); snapped > start {
			end = snapped
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, ChunkDraft{
				Text:        content,
				Ordinal:     ordinal,
				PageNumber:  pageForOffset(bounds, start),
				StartOffset: start,
				EndOffset:   end,
			})
			ordinal++
		}

		if last {
			break
		}
		start = end - s.ChunkOverlap
	}

	return chunks
}

// snapToBoundary 从 end 向前最多回看 lookback 个 rune，
// 返回最近的边界位置（空白或句末标点之后），找不到则返回 end。
func snapToBoundary(runes []rune, end, lookback int) int {
	for i := end; i > end-lookback && i > 0; i-- {
		if isBoundaryRune(runes[i-1]) {
			return i
		}
	}
	return end
}

// isBoundaryRune 判断是否为可用作切分边界的字符：
// 空白、中西文句末标点、天城文句号（। ॥）。
func isBoundaryRune(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '。', '！', '？', '.', '!', '?', '।', '॥':
		return true
	}
	return false
}

// pageForOffset 用二分查找定位偏移所属的页码，边界表为空时默认第 1 页。
func pageForOffset(bounds []PageBoundary, offset int) int {
	if len(bounds) == 0 {
		return 1
	}
	// 第一个 Offset 大于 offset 的边界，前一个即为所属页
	idx := sort.Search(len(bounds), func(i int) bool {
		return bounds[i].Offset > offset
	})
	if idx == 0 {
		return bounds[0].PageNumber
	}
	return bounds[idx-1].PageNumber
}
