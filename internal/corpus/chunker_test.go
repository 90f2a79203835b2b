package corpus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_Split_Reconstruction(t *testing.T) {
	chunker := NewChunker(100, 20)
	text := strings.Repeat("北京今天天气晴朗,适合户外活动。", 50)

	chunks := chunker.Split(text)
	require.NotEmpty(t, chunks)

	// 偏移量以rune计,按偏移去掉重叠后应能还原原文
	runes := []rune(text)
	var rebuilt strings.Builder
	prevEnd := 0
	for _, chunk := range chunks {
		assert.Equal(t, string(runes[chunk.StartOffset:chunk.EndOffset]), chunk.Text)
		require.LessOrEqual(t, chunk.StartOffset, prevEnd, "chunks must not leave gaps")
		rebuilt.WriteString(string(runes[prevEnd:chunk.EndOffset]))
		prevEnd = chunk.EndOffset
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestChunker_Split_ShortInput(t *testing.T) {
	chunker := NewChunker(1000, 200)

	chunks := chunker.Split("只有一句话。")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, "只有一句话。", chunks[0].Text)
}

func TestChunker_Split_EmptyInput(t *testing.T) {
	chunker := NewChunker(1000, 200)

	assert.Nil(t, chunker.Split(""))
	assert.Nil(t, chunker.Split("   \n\t  "))
}

func TestChunker_Split_IndicesSequential(t *testing.T) {
	chunker := NewChunker(50, 10)
	chunks := chunker.Split(strings.Repeat("word ", 200))

	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestChunker_Split_ForcedProgress(t *testing.T) {
	// 重叠等于块大小时构造函数会收缩重叠,切分必须终止且覆盖全文
	chunker := NewChunker(10, 10)
	text := strings.Repeat("a", 100)

	chunks := chunker.Split(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].EndOffset)

	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartOffset, chunks[i-1].StartOffset)
	}
}

func TestChunker_Split_SnapsToWhitespace(t *testing.T) {
	chunker := NewChunker(20, 5)
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"

	chunks := chunker.Split(text)
	require.Greater(t, len(chunks), 1)

	// 中间块的切点应落在空白后,不截断单词
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(chunk.Text, " "),
			"chunk %q should end at a word boundary", chunk.Text)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeWhitespace("  a\n\n b\t\tc  "))
	assert.Equal(t, "", NormalizeWhitespace(" \n\t "))
}
