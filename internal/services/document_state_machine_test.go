package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/docqa-go/internal/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{models.DocumentStatusPending, models.DocumentStatusProcessing, true},
		{models.DocumentStatusProcessing, models.DocumentStatusCompleted, true},
		{models.DocumentStatusProcessing, models.DocumentStatusFailed, true},
		// pending不能跳过processing
		{models.DocumentStatusPending, models.DocumentStatusCompleted, false},
		{models.DocumentStatusPending, models.DocumentStatusFailed, false},
		// completed和failed都是终态
		{models.DocumentStatusCompleted, models.DocumentStatusProcessing, false},
		{models.DocumentStatusCompleted, models.DocumentStatusPending, false},
		{models.DocumentStatusFailed, models.DocumentStatusPending, false},
		{models.DocumentStatusFailed, models.DocumentStatusProcessing, false},
		// 未知状态不允许任何迁移
		{"unknown", models.DocumentStatusProcessing, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionDocument(t *testing.T) {
	doc := &models.Document{Status: models.DocumentStatusPending}

	require.NoError(t, TransitionDocument(doc, models.DocumentStatusProcessing))
	assert.Equal(t, models.DocumentStatusProcessing, doc.Status)

	require.NoError(t, TransitionDocument(doc, models.DocumentStatusFailed))
	assert.Equal(t, models.DocumentStatusFailed, doc.Status)

	// failed是终态,不能原地重试
	err := TransitionDocument(doc, models.DocumentStatusPending)
	require.Error(t, err)
	assert.Equal(t, models.DocumentStatusFailed, doc.Status)

	err = TransitionDocument(doc, models.DocumentStatusProcessing)
	require.Error(t, err)
	assert.Equal(t, models.DocumentStatusFailed, doc.Status)
}
