package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/corpus"
	"github.com/aihub/docqa-go/internal/database"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/middleware"
	"github.com/aihub/docqa-go/internal/models"
)

// AnswerService 基于检索结果生成带编号引用的流式回答。
// 生成是只读操作,永远不会写语料库。
type AnswerService struct {
	retriever *corpus.HybridRetriever
	client    *openai.Client
	model     string
}

// NewAnswerService 创建问答服务
func NewAnswerService(retriever *corpus.HybridRetriever) *AnswerService {
	llmCfg := config.AppConfig.LLM

	var client *openai.Client
	if llmCfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(llmCfg.APIKey)
		if llmCfg.BaseURL != "" {
			clientCfg.BaseURL = llmCfg.BaseURL
		}
		client = openai.NewClientWithConfig(clientCfg)
	}

	model := llmCfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &AnswerService{
		retriever: retriever,
		client:    client,
		model:     model,
	}
}

// StreamEvent 问答流事件
type StreamEvent struct {
	// Type 取值 token / sources / error
	Type    string       `json:"type"`
	Content string       `json:"content,omitempty"`
	Sources []SourceInfo `json:"sources,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// SourceInfo 引用来源,编号与提示词中的引用编号一致
type SourceInfo struct {
	Ref        int     `json:"ref"`
	DocumentID uint    `json:"document_id"`
	ChunkID    uint    `json:"chunk_id"`
	Page       int     `json:"page,omitempty"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// QueryRequest 问答请求
type QueryRequest struct {
	TenantID    uint
	Query       string
	DocumentIDs []uint
	TopK        int
}

const groundedSystemPrompt = `你是一个严谨的文档问答助手。只根据下面提供的编号参考内容回答问题,不要编造参考内容以外的信息。引用某条参考内容时,在相应句子后标注其编号,格式为[1]、[2]。如果参考内容不足以回答问题,直接说明。`

const conversationalSystemPrompt = `你是一个友好的助手,请自然地回答用户,不需要引用任何资料。`

// conversationalPatterns 寒暄类输入,直接对话回答,不走检索
var conversationalPatterns = []string{
	"你好", "您好", "hi", "hello", "hey", "早上好", "下午好", "晚上好",
	"谢谢", "thank", "再见", "bye", "你是谁", "who are you", "在吗",
}

// isConversationalQuery 判断是否寒暄/闲聊类输入
func isConversationalQuery(query string) bool {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return true
	}
	// 长问题即使带问候语也当作真实提问
	if len([]rune(normalized)) > 20 {
		return false
	}
	for _, pattern := range conversationalPatterns {
		if strings.Contains(normalized, pattern) {
			return true
		}
	}
	return false
}

// AnswerStream 执行检索并流式生成回答。
// 事件顺序:若干token -> 一条sources -> 通道关闭;出错时发error事件后关闭。
func (s *AnswerService) AnswerStream(ctx context.Context, req QueryRequest) (<-chan StreamEvent, error) {
	if s.client == nil {
		return nil, fmt.Errorf("答案生成模型未配置")
	}

	events := make(chan StreamEvent, 100)

	// 寒暄类输入不检索语料,直接对话
	if isConversationalQuery(req.Query) {
		go s.generate(ctx, events, conversationalSystemPrompt, req.Query, nil)
		recordQuery("conversational")
		return events, nil
	}

	matches, err := s.retrieveWithCache(ctx, req)
	if err != nil {
		// 查询向量化失败是明确的错误,不能伪装成空结果
		recordQuery("retrieval_error")
		return nil, err
	}

	floor := config.AppConfig.Corpus.Retrieval.RelevanceFloor
	if len(matches) == 0 || (floor > 0 && matches[0].Score < floor) {
		// 语料中没有足够相关的内容,退化为不强制引用的对话式回答
		logger.Debug("相关性不足,转为对话式回答",
			zap.Uint("tenant_id", req.TenantID),
			zap.Int("candidates", len(matches)))
		go s.generate(ctx, events, conversationalSystemPrompt, req.Query, nil)
		recordQuery("low_relevance")
		return events, nil
	}

	prompt, sources := buildGroundedPrompt(req.Query, matches)
	go s.generate(ctx, events, groundedSystemPrompt, prompt, sources)
	go s.saveQueryRecord(req, sources)
	recordQuery("grounded")
	return events, nil
}

// retrieveWithCache 检索并缓存结果,语料变化后代次失配的缓存作废
func (s *AnswerService) retrieveWithCache(ctx context.Context, req QueryRequest) ([]corpus.SearchMatch, error) {
	redisService := middleware.NewRedisService()
	cacheTTL := time.Duration(config.AppConfig.Corpus.Retrieval.CacheTTL) * time.Second

	type cachedRetrieval struct {
		Generation int64                `json:"generation"`
		Matches    []corpus.SearchMatch `json:"matches"`
	}

	generation := redisService.TenantRetrievalGeneration(ctx, req.TenantID)

	if cacheTTL > 0 {
		var cached cachedRetrieval
		err := redisService.GetRetrievalCache(ctx, req.TenantID, req.Query, req.DocumentIDs, req.TopK, &cached)
		if err == nil && cached.Generation == generation {
			return cached.Matches, nil
		}
	}

	start := time.Now()
	matches, err := s.retriever.Retrieve(ctx, corpus.RetrieveRequest{
		TenantID:    req.TenantID,
		Query:       req.Query,
		TopK:        req.TopK,
		DocumentIDs: req.DocumentIDs,
	})
	observeRetrievalDuration(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if cacheTTL > 0 {
		redisService.SetRetrievalCache(ctx, req.TenantID, req.Query, req.DocumentIDs, req.TopK,
			cachedRetrieval{Generation: generation, Matches: matches}, cacheTTL)
	}
	return matches, nil
}

// buildGroundedPrompt 把候选分块按编号组装进提示词
func buildGroundedPrompt(query string, matches []corpus.SearchMatch) (string, []SourceInfo) {
	var builder strings.Builder
	builder.WriteString("参考内容:\n\n")

	sources := make([]SourceInfo, 0, len(matches))
	for i, match := range matches {
		ref := i + 1
		builder.WriteString(fmt.Sprintf("[%d] %s\n\n", ref, match.Content))

		page := 0
		if pageStr, ok := match.Metadata["page"]; ok {
			fmt.Sscanf(pageStr, "%d", &page)
		}
		sources = append(sources, SourceInfo{
			Ref:        ref,
			DocumentID: match.DocumentID,
			ChunkID:    match.ChunkID,
			Page:       page,
			Snippet:    buildSnippet(match),
			Score:      match.Score,
		})
	}

	builder.WriteString(fmt.Sprintf("问题: %s", query))
	return builder.String(), sources
}

// buildSnippet 来源摘要,优先用检索的高亮片段
func buildSnippet(match corpus.SearchMatch) string {
	if match.Highlight != "" {
		return match.Highlight
	}
	runes := []rune(match.Content)
	if len(runes) > 120 {
		return string(runes[:120]) + "..."
	}
	return match.Content
}

// answerArtifacts 生成结果里需要剥掉的套话前缀
var answerArtifacts = []string{
	"根据上下文,", "根据上下文，", "根据提供的参考内容,", "根据提供的参考内容，",
	"根据参考内容,", "根据参考内容，", "According to the context, ",
	"Based on the provided context, ",
}

func stripAnswerArtifacts(token string, atStart bool) string {
	if !atStart {
		return token
	}
	for _, artifact := range answerArtifacts {
		token = strings.TrimPrefix(token, artifact)
	}
	return token
}

// generate 调用模型流式生成,逐token转发,结束后补sources事件。
// 调用方取消ctx即停止生成并释放底层连接。
func (s *AnswerService) generate(ctx context.Context, events chan<- StreamEvent, systemPrompt, userPrompt string, sources []SourceInfo) {
	defer close(events)

	llmCfg := config.AppConfig.LLM
	streamReq := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Stream: true,
	}
	if llmCfg.MaxTokens > 0 {
		streamReq.MaxTokens = llmCfg.MaxTokens
	}
	if llmCfg.Temperature > 0 {
		streamReq.Temperature = float32(llmCfg.Temperature)
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, streamReq)
	if err != nil {
		events <- StreamEvent{Type: "error", Error: fmt.Sprintf("生成回答失败: %v", err)}
		return
	}
	defer stream.Close()

	emitted := false
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// 调用方取消,直接收尾
				return
			}
			events <- StreamEvent{Type: "error", Error: fmt.Sprintf("读取生成流失败: %v", err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		token = stripAnswerArtifacts(token, !emitted)
		if token == "" {
			continue
		}
		emitted = true

		select {
		case events <- StreamEvent{Type: "token", Content: token}:
		case <-ctx.Done():
			return
		}
	}

	if len(sources) > 0 {
		select {
		case events <- StreamEvent{Type: "sources", Sources: sources}:
		case <-ctx.Done():
		}
	}
}

// saveQueryRecord 异步保存查询记录
func (s *AnswerService) saveQueryRecord(req QueryRequest, sources []SourceInfo) {
	payload, err := json.Marshal(sources)
	if err != nil {
		return
	}
	record := &models.QueryRecord{
		TenantID:   req.TenantID,
		Query:      req.Query,
		Results:    string(payload),
		CreateTime: time.Now(),
	}
	if err := database.DB.Create(record).Error; err != nil {
		log.Printf("[answer] save query record failed: %v", err)
	}
}
