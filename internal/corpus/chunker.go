package corpus

import (
	"strings"
	"unicode"
)

// Chunk 表示分块后的文本片段，偏移量以rune计
type Chunk struct {
	Index       int
	StartOffset int
	EndOffset   int
	Page        int
	Text        string
}

// Chunker 文本分块器，按固定窗口滑动并保留重叠
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	snapWindow   int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
		snapWindow:   30,
	}
}

// Split 将文本切分为多个chunk
// 相邻chunk的起点为上一个chunk的终点减去重叠量，
// 因此去掉重叠后各chunk首尾相接可还原原文
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []Chunk

	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.snapToBoundary(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			StartOffset: start,
			EndOffset:   end,
			Text:        string(runes[start:end]),
		})

		if end == len(runes) {
			break
		}

		next := end - c.chunkOverlap
		if next <= start {
			// 重叠过大时强制前进，避免死循环
			next = start + 1
		}
		start = next
	}

	return chunks
}

// snapToBoundary 在切点附近回退到最近的空白处，避免截断单词
func (c *Chunker) snapToBoundary(runes []rune, start, end int) int {
	limit := end - c.snapWindow
	if limit <= start {
		limit = start + 1
	}
	for i := end; i > limit; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// NormalizeWhitespace 折叠连续空白为单个空格
func NormalizeWhitespace(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	var prevSpace bool
	for _, r := range s {
		if unicode.IsSpace(r) {
			if prevSpace {
				continue
			}
			builder.WriteRune(' ')
			prevSpace = true
			continue
		}
		builder.WriteRune(r)
		prevSpace = false
	}

	return strings.TrimSpace(builder.String())
}
