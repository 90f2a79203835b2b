package middleware

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aihub/docqa-go/internal/config"
)

// MinIOService MinIO对象存储服务,保存上传文档的原始文件
type MinIOService struct {
	client *minio.Client
	config config.ObjectStorageConfig
}

var globalMinIOService *MinIOService

// NewMinIOService 创建MinIO服务实例
func NewMinIOService() (*MinIOService, error) {
	if globalMinIOService != nil {
		return globalMinIOService, nil
	}

	cfg := config.AppConfig.Corpus.Storage
	if cfg.Provider != "minio" && cfg.Provider != "s3" {
		return nil, fmt.Errorf("object storage provider is not minio/s3")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}

	if cfg.Bucket == "" {
		cfg.Bucket = "documents"
	}

	// minio.New 的 endpoint 不带协议前缀
	endpoint := cfg.Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	service := &MinIOService{
		client: client,
		config: cfg,
	}

	// MinIO 可能和本服务同时启动,bucket 检查带重试
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var exists bool
	var bucketErr error
	for i := 0; i < 10; i++ {
		exists, bucketErr = client.BucketExists(ctx, cfg.Bucket)
		if bucketErr == nil {
			break
		}
		if i < 9 {
			waitTime := time.Second * time.Duration((i+1)*2)
			log.Printf("⚠️  MinIO connection attempt %d/%d failed, retrying in %v: %v", i+1, 10, waitTime, bucketErr)
			time.Sleep(waitTime)
		}
	}

	if bucketErr != nil {
		log.Printf("⚠️  Failed to check bucket existence after retries, attempting to create: %v", bucketErr)
	}

	if !exists {
		var createErr error
		for i := 0; i < 10; i++ {
			createErr = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
			if createErr == nil {
				log.Printf("✅ Successfully created MinIO bucket: %s", cfg.Bucket)
				break
			}
			errStr := createErr.Error()
			if strings.Contains(errStr, "BucketAlreadyExists") ||
				strings.Contains(errStr, "BucketAlreadyOwnedByYou") {
				log.Printf("ℹ️  Bucket %s already exists", cfg.Bucket)
				createErr = nil
				break
			}
			if i < 9 {
				waitTime := time.Second * time.Duration((i+1)*2)
				log.Printf("⚠️  Bucket creation attempt %d/%d failed, retrying in %v: %v", i+1, 10, waitTime, createErr)
				time.Sleep(waitTime)
			}
		}
		if createErr != nil {
			return nil, fmt.Errorf("failed to create bucket %s after retries: %w", cfg.Bucket, createErr)
		}
	} else {
		log.Printf("✅ MinIO bucket %s already exists", cfg.Bucket)
	}

	globalMinIOService = service
	return service, nil
}

// GetMinIOService 获取全局MinIO服务实例
func GetMinIOService() *MinIOService {
	return globalMinIOService
}

// IsHealthy 检查 MinIO 服务是否健康
func (s *MinIOService) IsHealthy() bool {
	return s != nil && s.client != nil
}

// HealthCheck 执行健康检查
func (s *MinIOService) HealthCheck() error {
	if !s.IsHealthy() {
		return fmt.Errorf("MinIO client not initialized")
	}
	_, err := s.client.ListBuckets(context.Background())
	return err
}

// UploadFile 上传文件
func (s *MinIOService) UploadFile(objectKey string, file io.Reader, size int64, contentType string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio client not initialized")
	}

	ctx := context.Background()

	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.config.Bucket, err)
		}
	}

	_, err = s.client.PutObject(ctx, s.config.Bucket, objectKey, file, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// DownloadFile 下载文件
func (s *MinIOService) DownloadFile(objectKey string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("minio client not initialized")
	}

	object, err := s.client.GetObject(context.Background(), s.config.Bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return object, nil
}

// DeleteFile 删除文件
func (s *MinIOService) DeleteFile(objectKey string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio client not initialized")
	}
	return s.client.RemoveObject(context.Background(), s.config.Bucket, objectKey, minio.RemoveObjectOptions{})
}

// GetFileURL 获取文件访问URL（预签名）
func (s *MinIOService) GetFileURL(objectKey string, expires time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("minio client not initialized")
	}

	if expires == 0 {
		expires = 24 * time.Hour
	}

	url, err := s.client.PresignedGetObject(context.Background(), s.config.Bucket, objectKey, expires, nil)
	if err != nil {
		return "", err
	}
	return url.String(), nil
}

// FileExists 检查文件是否存在
func (s *MinIOService) FileExists(objectKey string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("minio client not initialized")
	}

	_, err := s.client.StatObject(context.Background(), s.config.Bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
