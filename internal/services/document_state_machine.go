package services

import (
	"fmt"

	"github.com/aihub/docqa-go/internal/models"
)

// documentTransitions 文档状态机。
// failed是终态:失败的文档只能删除后重新上传,不允许原地重试。
var documentTransitions = map[string][]string{
	models.DocumentStatusPending:    {models.DocumentStatusProcessing},
	models.DocumentStatusProcessing: {models.DocumentStatusCompleted, models.DocumentStatusFailed},
	models.DocumentStatusCompleted:  {},
	models.DocumentStatusFailed:     {},
}

// CanTransition 判断状态迁移是否合法
func CanTransition(from, to string) bool {
	for _, allowed := range documentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionDocument 校验并执行状态迁移
func TransitionDocument(doc *models.Document, to string) error {
	if !CanTransition(doc.Status, to) {
		return fmt.Errorf("文档状态不允许从 %s 迁移到 %s", doc.Status, to)
	}
	doc.Status = to
	return nil
}
