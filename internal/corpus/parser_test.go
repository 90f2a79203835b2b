package corpus

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa-go/internal/errors"
)

func TestFileParserManager_ParseFile_Text(t *testing.T) {
	manager := NewFileParserManager()

	text, err := manager.ParseFile(strings.NewReader("# 标题\n\n正文内容"), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "# 标题\n\n正文内容", text)
}

func TestFileParserManager_ParseFile_CSV(t *testing.T) {
	manager := NewFileParserManager()

	text, err := manager.ParseFile(strings.NewReader("name,age\nalice,30\nbob,25\n"), "users.csv")
	require.NoError(t, err)
	assert.Contains(t, text, "name, age")
	assert.Contains(t, text, "alice, 30")
}

func TestFileParserManager_ParseFile_UnsupportedFormat(t *testing.T) {
	manager := NewFileParserManager()

	_, err := manager.ParseFile(strings.NewReader("data"), "archive.zip")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrCodeParseFailed, appErr.Code)
}

func TestFileParserManager_ParseFile_EmptyContent(t *testing.T) {
	manager := NewFileParserManager()

	// 提取结果为空视为解析失败,不允许产出空语料
	_, err := manager.ParseFile(strings.NewReader("   \n\t  "), "blank.txt")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrCodeParseFailed, appErr.Code)
}

func TestTextParser_RejectsInvalidUTF8(t *testing.T) {
	manager := NewFileParserManager()

	_, err := manager.ParseFile(strings.NewReader(string([]byte{0xff, 0xfe, 0xfd})), "binary.txt")
	assert.Error(t, err)
}

func TestFileParserManager_Supports(t *testing.T) {
	manager := NewFileParserManager()

	assert.True(t, manager.Supports("report.pdf"))
	assert.True(t, manager.Supports("Report.DOCX"))
	assert.True(t, manager.Supports("data.xlsx"))
	assert.True(t, manager.Supports("notes.markdown"))
	assert.False(t, manager.Supports("image.png"))
}
