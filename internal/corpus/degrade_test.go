package corpus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toggleVectorStore struct {
	captureVectorStore
	ready     bool
	deleteErr error
}

func (s *toggleVectorStore) Ready() bool { return s.ready }

func (s *toggleVectorStore) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	s.deletes = append(s.deletes, [2]uint{tenantID, documentID})
	return s.deleteErr
}

func TestFailoverVectorStore_UsesPrimaryWhenReady(t *testing.T) {
	primary := &toggleVectorStore{ready: true}
	fallback := &toggleVectorStore{ready: true}
	failover := &FailoverVectorStore{Primary: primary, Fallback: fallback}

	err := failover.UpsertChunks(context.Background(), []VectorChunk{{ChunkID: 1}})
	require.NoError(t, err)
	assert.Len(t, primary.upserted, 1)
	assert.Empty(t, fallback.upserted)
}

func TestFailoverVectorStore_FallsBackWhenPrimaryDown(t *testing.T) {
	primary := &toggleVectorStore{ready: false}
	fallback := &toggleVectorStore{ready: true}
	failover := &FailoverVectorStore{Primary: primary, Fallback: fallback}

	err := failover.UpsertChunks(context.Background(), []VectorChunk{{ChunkID: 1}})
	require.NoError(t, err)
	assert.Empty(t, primary.upserted)
	assert.Len(t, fallback.upserted, 1)

	assert.True(t, failover.Ready())
}

func TestFailoverVectorStore_DeleteHitsBothStores(t *testing.T) {
	// 主库恢复后不能残留已删除文档的向量
	primary := &toggleVectorStore{ready: false, deleteErr: errors.New("milvus down")}
	fallback := &toggleVectorStore{ready: true}
	failover := &FailoverVectorStore{Primary: primary, Fallback: fallback}

	err := failover.DeleteDocument(context.Background(), 1, 10)
	require.Error(t, err)
	assert.Len(t, primary.deletes, 1)
	assert.Len(t, fallback.deletes, 1)
}

type toggleIndexer struct {
	captureIndexer
	ready bool
}

func (s *toggleIndexer) Ready() bool { return s.ready }

func TestFailoverFulltextIndexer_FallsBackWhenPrimaryDown(t *testing.T) {
	primary := &toggleIndexer{ready: false}
	fallback := &toggleIndexer{ready: true}
	failover := &FailoverFulltextIndexer{Primary: primary, Fallback: fallback}

	err := failover.IndexChunks(context.Background(), []FulltextChunk{{ChunkID: 1}})
	require.NoError(t, err)
	assert.Empty(t, primary.indexed)
	assert.Len(t, fallback.indexed, 1)
}
