package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/docqa-go/internal/config"
	apperrors "github.com/aihub/docqa-go/internal/errors"
)

func withUploadConfig(t *testing.T, maxSize int64, allowedTypes []string) {
	t.Helper()
	original := config.AppConfig
	config.AppConfig = &config.Config{
		Upload: config.UploadConfig{
			MaxSize:      maxSize,
			AllowedTypes: allowedTypes,
		},
	}
	t.Cleanup(func() { config.AppConfig = original })
}

func TestDocumentService_ValidateUpload(t *testing.T) {
	withUploadConfig(t, 1024, []string{".pdf", ".txt", ".md"})
	svc := &DocumentService{}

	// 合法文件
	assert.NoError(t, svc.validateUpload("report.pdf", 500))
	assert.NoError(t, svc.validateUpload("README.MD", 1024))

	// 超大文件
	err := svc.validateUpload("report.pdf", 2048)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrCodeFileTooLarge, appErr.Code)

	// 不支持的扩展名
	err = svc.validateUpload("archive.zip", 100)
	require.Error(t, err)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrCodeInvalidFileFormat, appErr.Code)

	// 无扩展名
	err = svc.validateUpload("noextension", 100)
	require.Error(t, err)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrCodeInvalidFileFormat, appErr.Code)
}
