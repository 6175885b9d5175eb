package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormStore(db, DefaultGormStoreConfig(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func testRecord(userID, content string) *Record {
	return &Record{
		UserID:         userID,
		ConversationID: "conv-1",
		Content:        content,
		Importance:     3,
	}
}

func TestAppend_AssignsDefaults(t *testing.T) {
	store := newTestStore(t)

	rec := testRecord("user-1", "User: hello\nAssistant: hi")
	id, err := store.Append(context.Background(), rec)
	require.NoError(t, err)

	assert.NotEmpty(t, id)
	assert.NotEmpty(t, rec.NaturalKey)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.ExpiresAt.IsZero())
	assert.True(t, rec.Active)
}

func TestAppend_IdempotentByNaturalKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Append(ctx, testRecord("user-1", "same content"))
	require.NoError(t, err)

	second, err := store.Append(ctx, testRecord("user-1", "same content"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "duplicate append returns the existing record id")

	res, err := store.Query(ctx, QueryInput{UserID: "user-1", Text: "same content", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
}

func TestAppend_DifferentConversationsDistinct(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testRecord("user-1", "same content")
	b := testRecord("user-1", "same content")
	b.ConversationID = "conv-2"

	idA, err := store.Append(ctx, a)
	require.NoError(t, err)
	idB, err := store.Append(ctx, b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
}

func TestAppend_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, nil)
	assert.Error(t, err)

	_, err = store.Append(ctx, &Record{Content: "no user"})
	assert.Error(t, err)

	_, err = store.Append(ctx, &Record{UserID: "u", Content: ""})
	assert.Error(t, err)
}

func TestAppend_ClampsImportance(t *testing.T) {
	store := newTestStore(t)

	rec := testRecord("user-1", "overly important")
	rec.Importance = 42
	_, err := store.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Importance)
}

func TestAppend_ConcurrentSameUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.Append(ctx, testRecord("user-1", "racing content"))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "concurrent identical appends collapse to one record")
	}
}

func TestQuery_UserIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, testRecord("alice", "alice likes hiking"))
	require.NoError(t, err)
	_, err = store.Append(ctx, testRecord("bob", "bob likes hiking"))
	require.NoError(t, err)

	res, err := store.Query(ctx, QueryInput{UserID: "alice", Text: "likes hiking", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)
	assert.Equal(t, "alice", res.Records[0].Record.UserID)
}

func TestQuery_KeywordOnlyAdmission(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, testRecord("user-1", "I enjoy hiking in the alps"))
	require.NoError(t, err)
	_, err = store.Append(ctx, testRecord("user-1", "completely unrelated cooking recipe"))
	require.NoError(t, err)

	// 无向量：只有词面重叠达标的记录可进入结果
	res, err := store.Query(ctx, QueryInput{UserID: "user-1", Text: "hiking alps", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)
	assert.Contains(t, res.Records[0].Record.Content, "hiking")
}

func TestQuery_SimilarityOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := testRecord("user-1", "shared topic alpha")
	near.Embedding = Vector{1, 0, 0}
	far := testRecord("user-1", "shared topic beta")
	far.Embedding = Vector{0, 1, 0}

	_, err := store.Append(ctx, near)
	require.NoError(t, err)
	_, err = store.Append(ctx, far)
	require.NoError(t, err)

	res, err := store.Query(ctx, QueryInput{
		UserID:        "user-1",
		Embedding:     []float64{1, 0, 0},
		Text:          "shared topic",
		Limit:         10,
		MinSimilarity: 0.3,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Found)
	assert.Equal(t, near.ID, res.Records[0].Record.ID)
	assert.InDelta(t, 1.0, res.MaxSimilarity, 1e-9)
}

func TestQuery_LimitTruncatesButFoundCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := store.Append(ctx, testRecord("user-1", fmt.Sprintf("hiking note number %d", i)))
		require.NoError(t, err)
	}

	res, err := store.Query(ctx, QueryInput{UserID: "user-1", Text: "hiking note", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Found)
	assert.Len(t, res.Records, 3)
}

func TestSweepExpired_SoftDeletes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testRecord("user-1", "stale hiking memory")
	old.ExpiresAt = time.Now().Add(-time.Hour)
	_, err := store.Append(ctx, old)
	require.NoError(t, err)

	fresh := testRecord("user-1", "fresh hiking memory")
	_, err = store.Append(ctx, fresh)
	require.NoError(t, err)

	n, err := store.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 软删除后不再参与检索
	res, err := store.Query(ctx, QueryInput{UserID: "user-1", Text: "hiking memory", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)
	assert.Equal(t, fresh.ID, res.Records[0].Record.ID)

	// 再次清理：无剩余过期记录
	n, err = store.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
