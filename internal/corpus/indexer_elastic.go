package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/logger"
)

// ElasticOptions Elasticsearch连接配置
type ElasticOptions struct {
	Addresses []string
	Username  string
	Password  string
	IndexName string
}

// ElasticIndexer 基于Elasticsearch的全文索引,租户通过tenant_id过滤
type ElasticIndexer struct {
	client     *elasticsearch.Client
	indexName  string
	indexMu    sync.Mutex
	indexReady bool
}

func NewElasticIndexer(opts ElasticOptions) (*ElasticIndexer, error) {
	if opts.IndexName == "" {
		opts.IndexName = "docqa_chunks"
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("创建Elasticsearch客户端失败: %w", err)
	}

	return &ElasticIndexer{client: client, indexName: opts.IndexName}, nil
}

// ensureIndex 按需创建索引,ik分词器不可用时由ES回落默认分词
func (e *ElasticIndexer) ensureIndex(ctx context.Context) error {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	if e.indexReady {
		return nil
	}

	existsRes, err := esapi.IndicesExistsRequest{Index: []string{e.indexName}}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("检查索引失败: %w", err)
	}
	defer existsRes.Body.Close()

	if existsRes.StatusCode == 200 {
		e.indexReady = true
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"chunk_id":    map[string]interface{}{"type": "keyword"},
				"document_id": map[string]interface{}{"type": "keyword"},
				"tenant_id":   map[string]interface{}{"type": "keyword"},
				"chunk_index": map[string]interface{}{"type": "integer"},
				"content": map[string]interface{}{
					"type":            "text",
					"analyzer":        "ik_max_word",
					"search_analyzer": "ik_smart",
				},
				"metadata": map[string]interface{}{"type": "object", "enabled": false},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("序列化索引配置失败: %w", err)
	}

	createRes, err := esapi.IndicesCreateRequest{
		Index: e.indexName,
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("创建索引失败: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		payload, _ := io.ReadAll(createRes.Body)
		return fmt.Errorf("创建索引失败: %s", string(payload))
	}

	e.indexReady = true
	return nil
}

// IndexChunks 批量写入分块
func (e *ElasticIndexer) IndexChunks(ctx context.Context, chunks []FulltextChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, chunk := range chunks {
		meta := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": e.indexName,
				"_id":    fmt.Sprintf("%d", chunk.ChunkID),
			},
		}
		doc := map[string]interface{}{
			"chunk_id":    fmt.Sprintf("%d", chunk.ChunkID),
			"document_id": fmt.Sprintf("%d", chunk.DocumentID),
			"tenant_id":   fmt.Sprintf("%d", chunk.TenantID),
			"chunk_index": chunk.ChunkIndex,
			"content":     chunk.Content,
			"metadata":    chunk.Metadata,
		}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return fmt.Errorf("序列化批量写入失败: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return fmt.Errorf("序列化批量写入失败: %w", err)
		}
	}

	res, err := esapi.BulkRequest{Body: bytes.NewReader(buf.Bytes()), Refresh: "true"}.Do(ctx, e.client)
	if err != nil {
		return apperrors.NewStoreError("写入Elasticsearch失败", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		payload, _ := io.ReadAll(res.Body)
		return apperrors.NewStoreError("写入Elasticsearch失败", fmt.Errorf("%s", string(payload)))
	}
	return nil
}

// DeleteDocument 按文档删除所有分块
func (e *ElasticIndexer) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"tenant_id": fmt.Sprintf("%d", tenantID)}},
					map[string]interface{}{"term": map[string]interface{}{"document_id": fmt.Sprintf("%d", documentID)}},
				},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("序列化删除请求失败: %w", err)
	}

	res, err := esapi.DeleteByQueryRequest{
		Index: []string{e.indexName},
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return apperrors.NewStoreError("删除Elasticsearch文档失败", err)
	}
	defer res.Body.Close()

	// 404表示索引还没建过,无可删内容
	if res.IsError() && res.StatusCode != 404 {
		payload, _ := io.ReadAll(res.Body)
		return apperrors.NewStoreError("删除Elasticsearch文档失败", fmt.Errorf("%s", string(payload)))
	}
	return nil
}

// Search 全文检索,必须带租户过滤
func (e *ElasticIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	if req.Query == "" {
		return nil, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	must := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"tenant_id": fmt.Sprintf("%d", req.TenantID)}},
	}
	if len(req.DocumentIDs) > 0 {
		ids := make([]string, 0, len(req.DocumentIDs))
		for _, id := range req.DocumentIDs {
			ids = append(ids, fmt.Sprintf("%d", id))
		}
		must = append(must, map[string]interface{}{"terms": map[string]interface{}{"document_id": ids}})
	}

	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": must,
				"should": []interface{}{
					map[string]interface{}{
						"match_phrase": map[string]interface{}{
							"content": map[string]interface{}{"query": req.Query, "boost": 3.0},
						},
					},
					map[string]interface{}{
						"match": map[string]interface{}{
							"content": map[string]interface{}{
								"query":                req.Query,
								"operator":             "and",
								"minimum_should_match": "70%",
							},
						},
					},
				},
				"minimum_should_match": 1,
			},
		},
	}
	if req.Highlight {
		query["highlight"] = map[string]interface{}{
			"fields": map[string]interface{}{
				"content": map[string]interface{}{
					"fragment_size":       150,
					"number_of_fragments": 1,
					"pre_tags":            []string{"<mark>"},
					"post_tags":           []string{"</mark>"},
				},
			},
		}
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("序列化检索请求失败: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, apperrors.NewStoreError("Elasticsearch检索失败", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		payload, _ := io.ReadAll(res.Body)
		return nil, apperrors.NewStoreError("Elasticsearch检索失败", fmt.Errorf("%s", string(payload)))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					ChunkID    string            `json:"chunk_id"`
					DocumentID string            `json:"document_id"`
					ChunkIndex int               `json:"chunk_index"`
					Content    string            `json:"content"`
					Metadata   map[string]string `json:"metadata"`
				} `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析检索结果失败: %w", err)
	}

	var matches []SearchMatch
	for _, hit := range parsed.Hits.Hits {
		match := SearchMatch{
			ChunkID:    parseUint(hit.Source.ChunkID),
			DocumentID: parseUint(hit.Source.DocumentID),
			ChunkIndex: hit.Source.ChunkIndex,
			Content:    hit.Source.Content,
			Score:      hit.Score,
			Metadata:   hit.Source.Metadata,
		}
		if fragments, ok := hit.Highlight["content"]; ok && len(fragments) > 0 {
			match.Highlight = fragments[0]
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Ready 探测集群可用性
func (e *ElasticIndexer) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		logger.Debug("Elasticsearch ping失败", zap.Error(err))
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

func parseUint(s string) uint {
	var v uint
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0
	}
	return v
}

// NoopFulltextIndexer 未配置ES时的空实现
type NoopFulltextIndexer struct{}

func (NoopFulltextIndexer) IndexChunks(ctx context.Context, chunks []FulltextChunk) error {
	return nil
}

func (NoopFulltextIndexer) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	return nil
}

func (NoopFulltextIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	return nil, nil
}

func (NoopFulltextIndexer) Ready() bool { return false }
