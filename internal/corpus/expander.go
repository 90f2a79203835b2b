package corpus

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/logger"
)

// QueryExpander 把原始查询改写为若干语义变体以提升召回。
// 扩展失败不影响检索正确性,只回退到原始查询。
type QueryExpander interface {
	Expand(ctx context.Context, query string, maxVariants int) []string
}

// NoopQueryExpander 不做扩展,原样返回
type NoopQueryExpander struct{}

func (NoopQueryExpander) Expand(ctx context.Context, query string, maxVariants int) []string {
	return []string{query}
}

// LLMQueryExpander 调用大模型生成查询变体
type LLMQueryExpander struct {
	client *openai.Client
	model  string
}

func NewLLMQueryExpander(client *openai.Client, model string) *LLMQueryExpander {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMQueryExpander{client: client, model: model}
}

const expandPrompt = `请把下面的检索问题改写成%d个语义相同但措辞不同的版本,每行一个,不要编号,不要解释:

%s`

func (e *LLMQueryExpander) Expand(ctx context.Context, query string, maxVariants int) []string {
	if maxVariants <= 1 || e.client == nil {
		return []string{query}
	}
	if maxVariants > 4 {
		maxVariants = 4
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(expandPrompt, maxVariants-1, query)},
		},
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		logger.Warn("查询扩展失败,使用原始查询", zap.Error(err))
		return []string{query}
	}
	if len(resp.Choices) == 0 {
		return []string{query}
	}

	variants := []string{query}
	seen := map[string]bool{strings.TrimSpace(query): true}
	for _, line := range strings.Split(resp.Choices[0].Message.Content, "\n") {
		variant := strings.TrimSpace(line)
		if variant == "" || seen[variant] {
			continue
		}
		seen[variant] = true
		variants = append(variants, variant)
		if len(variants) >= maxVariants {
			break
		}
	}
	return variants
}
