package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/docqa-go/internal/corpus"
)

func TestIsConversationalQuery(t *testing.T) {
	cases := []struct {
		query          string
		conversational bool
	}{
		{"你好", true},
		{"Hello", true},
		{"  hi  ", true},
		{"谢谢", true},
		{"你是谁", true},
		{"", true},
		{"   ", true},
		{"部署流程是什么", false},
		{"How do I configure the ingest pipeline", false},
		// 长问题即使带问候语也当作真实提问
		{"你好,请详细说明一下文档上传之后的切分和向量化流程", false},
		{strings.Repeat("hi ", 10), false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.conversational, isConversationalQuery(tc.query), "query: %q", tc.query)
	}
}

func TestBuildGroundedPrompt(t *testing.T) {
	matches := []corpus.SearchMatch{
		{ChunkID: 11, DocumentID: 1, Content: "第一段内容", Score: 0.9, Metadata: map[string]string{"page": "3"}},
		{ChunkID: 22, DocumentID: 2, Content: "第二段内容", Score: 0.7},
	}

	prompt, sources := buildGroundedPrompt("如何配置", matches)

	// 参考内容按1起始编号,问题在末尾
	assert.Contains(t, prompt, "[1] 第一段内容")
	assert.Contains(t, prompt, "[2] 第二段内容")
	assert.True(t, strings.HasSuffix(prompt, "问题: 如何配置"))

	require.Len(t, sources, 2)
	assert.Equal(t, 1, sources[0].Ref)
	assert.Equal(t, uint(11), sources[0].ChunkID)
	assert.Equal(t, uint(1), sources[0].DocumentID)
	assert.Equal(t, 3, sources[0].Page)
	assert.Equal(t, 0.9, sources[0].Score)
	assert.Equal(t, 2, sources[1].Ref)
	assert.Equal(t, 0, sources[1].Page)
}

func TestBuildSnippet(t *testing.T) {
	// 有高亮片段时优先用高亮
	withHighlight := corpus.SearchMatch{Content: "完整内容", Highlight: "高亮<em>片段</em>"}
	assert.Equal(t, "高亮<em>片段</em>", buildSnippet(withHighlight))

	short := corpus.SearchMatch{Content: "短内容"}
	assert.Equal(t, "短内容", buildSnippet(short))

	long := corpus.SearchMatch{Content: strings.Repeat("长", 200)}
	snippet := buildSnippet(long)
	assert.Equal(t, strings.Repeat("长", 120)+"...", snippet)
	assert.Len(t, []rune(snippet), 123)
}

func TestStripAnswerArtifacts(t *testing.T) {
	assert.Equal(t, "答案在这里", stripAnswerArtifacts("根据上下文,答案在这里", true))
	assert.Equal(t, "答案在这里", stripAnswerArtifacts("根据提供的参考内容，答案在这里", true))
	assert.Equal(t, "the answer", stripAnswerArtifacts("According to the context, the answer", true))

	// 只剥流开头的套话,中段token原样透传
	assert.Equal(t, "根据上下文,后续内容", stripAnswerArtifacts("根据上下文,后续内容", false))
	assert.Equal(t, "普通token", stripAnswerArtifacts("普通token", true))
}
