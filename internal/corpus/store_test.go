package corpus

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/models"
)

type captureVectorStore struct {
	upserted []VectorChunk
	deletes  [][2]uint
}

func (c *captureVectorStore) UpsertChunks(ctx context.Context, chunks []VectorChunk) error {
	c.upserted = append(c.upserted, chunks...)
	return nil
}

func (c *captureVectorStore) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	c.deletes = append(c.deletes, [2]uint{tenantID, documentID})
	return nil
}

func (c *captureVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	return nil, nil
}

func (c *captureVectorStore) Ready() bool { return true }

type captureIndexer struct {
	indexed []FulltextChunk
	deletes [][2]uint
}

func (c *captureIndexer) IndexChunks(ctx context.Context, chunks []FulltextChunk) error {
	c.indexed = append(c.indexed, chunks...)
	return nil
}

func (c *captureIndexer) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	c.deletes = append(c.deletes, [2]uint{tenantID, documentID})
	return nil
}

func (c *captureIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	return nil, nil
}

func (c *captureIndexer) Ready() bool { return true }

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *captureVectorStore, *captureIndexer) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	vs := &captureVectorStore{}
	idx := &captureIndexer{}
	return NewStore(gdb, vs, idx, 10), mock, vs, idx
}

func profileRows(model string, dimensions int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"profile_id", "tenant_id", "embedding_model", "dimensions", "create_time", "update_time"}).
		AddRow(1, 1, model, dimensions, now, now)
}

func TestStore_EnsureProfile_FirstIngestPins(t *testing.T) {
	store, mock, _, _ := newMockStore(t)

	// 首次入库:没有已固定的配置,创建一条
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "corpus_profiles"`)).
		WillReturnRows(sqlmock.NewRows([]string{"profile_id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "corpus_profiles"`)).
		WillReturnRows(sqlmock.NewRows([]string{"profile_id"}).AddRow(1))
	mock.ExpectCommit()

	err := store.EnsureProfile(context.Background(), 1, "text-embedding-v3", 1024)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnsureProfile_MatchingConfig(t *testing.T) {
	store, mock, _, _ := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "corpus_profiles"`)).
		WillReturnRows(profileRows("text-embedding-v3", 1024))

	err := store.EnsureProfile(context.Background(), 1, "text-embedding-v3", 1024)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnsureProfile_StaleConfig(t *testing.T) {
	store, mock, _, _ := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "corpus_profiles"`)).
		WillReturnRows(profileRows("text-embedding-v3", 1024))

	// 换了模型或维度必须拒绝,不能混用向量空间
	err := store.EnsureProfile(context.Background(), 1, "text-embedding-v4", 1536)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorpusStale))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertChunks_DimensionMismatchRejected(t *testing.T) {
	store, mock, vs, idx := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "corpus_profiles"`)).
		WillReturnRows(profileRows("text-embedding-v3", 4))

	chunks := []models.DocumentChunk{{Content: "chunk", ChunkIndex: 0}}
	embeddings := [][]float32{{0.1, 0.2, 0.3}}

	err := store.UpsertChunks(context.Background(), 1, 10, chunks, embeddings)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrCodeDimensionMismatch, appErr.Code)

	// 维度不一致时任何存储都不能被写入
	assert.Empty(t, vs.upserted)
	assert.Empty(t, idx.indexed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertChunks_CountMismatchRejected(t *testing.T) {
	store, _, _, _ := newMockStore(t)

	chunks := []models.DocumentChunk{{Content: "a"}, {Content: "b"}}
	embeddings := [][]float32{{0.1}}

	err := store.UpsertChunks(context.Background(), 1, 10, chunks, embeddings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "分块数与向量数不一致")
}

func TestStore_UpsertChunks_WritesAllThreeStores(t *testing.T) {
	store, mock, vs, idx := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "corpus_profiles"`)).
		WillReturnRows(profileRows("text-embedding-v3", 2))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "document_chunks"`)).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	chunks := []models.DocumentChunk{
		{Content: "first", ChunkIndex: 0},
		{Content: "second", ChunkIndex: 1},
	}
	embeddings := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	err := store.UpsertChunks(context.Background(), 1, 10, chunks, embeddings)
	require.NoError(t, err)

	require.Len(t, vs.upserted, 2)
	require.Len(t, idx.indexed, 2)
	assert.Equal(t, uint(1), vs.upserted[0].TenantID)
	assert.Equal(t, uint(10), vs.upserted[0].DocumentID)
	assert.Equal(t, "first", vs.upserted[0].Content)
	assert.Equal(t, []float32{0.1, 0.2}, vs.upserted[0].Embedding)
	assert.Equal(t, "second", idx.indexed[1].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteDocument_Cascades(t *testing.T) {
	store, mock, vs, idx := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "document_chunks"`)).
		WithArgs(uint(1), uint(10)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := store.DeleteDocument(context.Background(), 1, 10)
	require.NoError(t, err)

	// 向量库和全文索引都要被级联清理
	require.Len(t, vs.deletes, 1)
	require.Len(t, idx.deletes, 1)
	assert.Equal(t, [2]uint{1, 10}, vs.deletes[0])
	assert.Equal(t, [2]uint{1, 10}, idx.deletes[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
