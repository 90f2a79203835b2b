package database

import (
	"fmt"
	"log"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB() (*gorm.DB, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 获取底层的sql.DB设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	// 自动迁移语料库相关表
	if err := autoMigrate(db); err != nil {
		log.Printf("⚠️  Database migration warning: %v", err)
	}

	DB = db
	log.Println("✅ Database connected successfully")
	return db, nil
}

// autoMigrate 自动迁移语料库相关表（按依赖顺序）
func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Tenant{}); err != nil {
		log.Printf("⚠️  Failed to migrate tenants: %v", err)
	}

	if err := db.AutoMigrate(&models.Document{}); err != nil {
		log.Printf("⚠️  Failed to migrate documents: %v", err)
		// 如果 AutoMigrate 失败，尝试手动创建
		db.Exec(`
			CREATE TABLE IF NOT EXISTS documents (
				document_id bigserial PRIMARY KEY,
				tenant_id bigint NOT NULL,
				filename varchar(255) NOT NULL,
				content_type varchar(100),
				file_size bigint DEFAULT 0,
				storage_path varchar(500),
				status varchar(20) DEFAULT 'pending',
				error_message varchar(500),
				chunk_count integer DEFAULT 0,
				metadata json,
				create_time timestamptz DEFAULT NOW(),
				update_time timestamptz,
				CONSTRAINT fk_tenants_documents FOREIGN KEY (tenant_id) REFERENCES tenants(tenant_id)
			)
		`)
	}

	if err := db.AutoMigrate(&models.DocumentChunk{}); err != nil {
		log.Printf("⚠️  Failed to migrate document_chunks: %v", err)
		db.Exec(`
			CREATE TABLE IF NOT EXISTS document_chunks (
				chunk_id bigserial PRIMARY KEY,
				document_id bigint NOT NULL,
				tenant_id bigint NOT NULL,
				content text NOT NULL,
				chunk_index integer NOT NULL,
				start_offset integer DEFAULT 0,
				end_offset integer DEFAULT 0,
				page integer DEFAULT 0,
				vector_id varchar(255),
				embedding json,
				metadata json,
				create_time timestamptz DEFAULT NOW(),
				CONSTRAINT fk_documents_chunks FOREIGN KEY (document_id) REFERENCES documents(document_id)
			)
		`)
	}

	if err := db.AutoMigrate(&models.CorpusProfile{}); err != nil {
		log.Printf("⚠️  Failed to migrate corpus_profiles: %v", err)
	}

	if err := db.AutoMigrate(&models.QueryRecord{}); err != nil {
		log.Printf("⚠️  Failed to migrate query_records: %v", err)
	}

	return nil
}

func CloseDB() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
