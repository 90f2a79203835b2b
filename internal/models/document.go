package models

import (
	"time"
)

// 文档状态机：pending -> processing -> completed | failed
// 状态不可回退，failed为终态
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Tenant 租户
type Tenant struct {
	TenantID   uint      `gorm:"primaryKey;column:tenant_id" json:"tenant_id"`
	Name       string    `gorm:"size:200;not null" json:"name"`
	Status     string    `gorm:"size:20;default:active" json:"status"`
	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Documents []Document `gorm:"foreignKey:TenantID"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// Document 租户上传的文档
type Document struct {
	DocumentID   uint      `gorm:"primaryKey;column:document_id" json:"document_id"`
	TenantID     uint      `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Tenant       Tenant    `gorm:"foreignKey:TenantID"`
	Filename     string    `gorm:"size:255;not null" json:"filename"`
	ContentType  string    `gorm:"column:content_type;size:100" json:"content_type"`
	FileSize     int64     `gorm:"column:file_size;default:0" json:"file_size"`
	StoragePath  string    `gorm:"column:storage_path;size:500" json:"storage_path"`
	Status       string    `gorm:"size:20;default:pending;index" json:"status"`
	ErrorMessage string    `gorm:"column:error_message;size:500" json:"error_message"`
	ChunkCount   int       `gorm:"column:chunk_count;default:0" json:"chunk_count"`
	Metadata     string    `gorm:"type:json" json:"metadata"`
	CreateTime   time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime   time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Chunks []DocumentChunk `gorm:"foreignKey:DocumentID"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 文档切分块
type DocumentChunk struct {
	ChunkID     uint      `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	DocumentID  uint      `gorm:"column:document_id;not null;index" json:"document_id"`
	Document    Document  `gorm:"foreignKey:DocumentID"`
	TenantID    uint      `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	ChunkIndex  int       `gorm:"column:chunk_index;not null;index" json:"chunk_index"`
	StartOffset int       `gorm:"column:start_offset;default:0" json:"start_offset"`
	EndOffset   int       `gorm:"column:end_offset;default:0" json:"end_offset"`
	Page        int       `gorm:"column:page;default:0" json:"page"`
	VectorID    string    `gorm:"column:vector_id;size:255" json:"vector_id"`
	Embedding   string    `gorm:"type:json" json:"embedding"`
	Metadata    string    `gorm:"type:json" json:"metadata"`
	CreateTime  time.Time `gorm:"column:create_time" json:"create_time"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// CorpusProfile 租户语料库配置
// 首次摄取时钉定向量模型与维度，之后不一致的写入会被拒绝
type CorpusProfile struct {
	ProfileID      uint      `gorm:"primaryKey;column:profile_id" json:"profile_id"`
	TenantID       uint      `gorm:"column:tenant_id;not null;uniqueIndex" json:"tenant_id"`
	EmbeddingModel string    `gorm:"column:embedding_model;size:100;not null" json:"embedding_model"`
	Dimensions     int       `gorm:"column:dimensions;not null" json:"dimensions"`
	CreateTime     time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime     time.Time `gorm:"column:update_time" json:"update_time"`
}

func (CorpusProfile) TableName() string {
	return "corpus_profiles"
}

// QueryRecord 问答查询记录
type QueryRecord struct {
	QueryID    uint      `gorm:"primaryKey;column:query_id" json:"query_id"`
	TenantID   uint      `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Query      string    `gorm:"type:text;not null" json:"query"`
	Results    string    `gorm:"type:json" json:"results"`
	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
}

func (QueryRecord) TableName() string {
	return "query_records"
}
