package corpus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aihub/docqa-go/internal/dashscope"
)

// DashScopeEmbedder 使用阿里云DashScope Embedding API（基于统一服务）
type DashScopeEmbedder struct {
	service    *dashscope.Service
	model      string
	dimensions int
}

// 千问Embedding模型维度映射
var dashscopeEmbeddingDimensions = map[string]int{
	"text-embedding-v1": 1536,
	"text-embedding-v2": 1536,
	"text-embedding-v3": 1536, // 支持自定义维度
	"text-embedding-v4": 1536, // 支持自定义维度，默认1024
}

// NewDashScopeEmbedder 创建DashScope嵌入向量生成器
func NewDashScopeEmbedder(model string) Embedder {
	service := dashscope.GetGlobalService()
	if service == nil || !service.Ready() {
		return &NoopEmbedder{}
	}

	if model == "" {
		model = "text-embedding-v1"
	}

	dims, ok := dashscopeEmbeddingDimensions[model]
	if !ok {
		dims = 1536
	}

	return &DashScopeEmbedder{
		service:    service,
		model:      model,
		dimensions: dims,
	}
}

func (e *DashScopeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *DashScopeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, errors.New("text is empty")
		}
	}
	if e.service == nil || !e.service.Ready() {
		return nil, errors.New("dashscope service not initialized")
	}

	req := dashscope.EmbeddingRequest{
		Model:          e.model,
		Input:          texts,
		EncodingFormat: "float",
	}

	// v3和v4模型支持指定维度
	if e.model == "text-embedding-v3" || e.model == "text-embedding-v4" {
		req.Dimensions = &e.dimensions
	}

	resp, err := e.service.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.New("embedding response incomplete")
	}

	results := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, errors.New("embedding response index out of range")
		}
		vector := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vector[i] = float32(v)
		}
		results[item.Index] = vector
	}
	for i, vector := range results {
		if vector == nil {
			return nil, fmt.Errorf("embedding response missing item %d", i)
		}
	}

	return results, nil
}

func (e *DashScopeEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *DashScopeEmbedder) ModelID() string {
	return e.model
}

func (e *DashScopeEmbedder) Ready() bool {
	return e.service != nil && e.service.Ready()
}
