package conversation

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codenamespivey12/MojoCode/internal/models"
	"github.com/codenamespivey12/MojoCode/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Options{DSN: "sqlite::memory:", Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, storage.Migrate(ctx, store, zerolog.Nop()))
	return store
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return NewService(openTestStore(t), opts...)
}

func countMessages(t *testing.T, svc *Service, conversationID uuid.UUID) int {
	t.Helper()
	var n int
	require.NoError(t, svc.store.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n))
	return n
}

func TestOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	conv, err := svc.CreateConversation(ctx, "alice", "private", nil)
	require.NoError(t, err)
	id := conv.ID.String()

	got, ok, err := svc.GetConversationWithMessages(ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	updated, ok, err := svc.UpdateConversationTitle(ctx, id, "bob", "hijacked")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, updated)

	msg, ok, err := svc.AppendMessage(ctx, id, "bob", models.RoleUser, "hello", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, msg)

	deleted, err := svc.DeleteConversation(ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, deleted)

	bobs, err := svc.GetUserConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bobs)

	got, ok, err = svc.GetConversationWithMessages(ctx, id, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "private", got.Title)
	assert.Empty(t, got.Messages)
}

func TestMessagesOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, WithClock(clock.Now))

	conv, err := svc.CreateConversation(ctx, "alice", "ordering", nil)
	require.NoError(t, err)

	// identical timestamps fall back to id order
	contents := []string{"first", "second", "third"}
	for _, content := range contents {
		_, err := svc.AddMessage(ctx, conv.ID.String(), models.RoleUser, content, nil)
		require.NoError(t, err)
	}
	clock.Advance(time.Second)
	_, err = svc.AddMessage(ctx, conv.ID.String(), models.RoleAssistant, "fourth", nil)
	require.NoError(t, err)

	got, ok, err := svc.GetConversationWithMessages(ctx, conv.ID.String(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Messages, 4)

	var order []string
	for i, m := range got.Messages {
		order = append(order, m.Content)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(got.Messages[i-1].CreatedAt))
		}
	}
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, order)
	assert.Equal(t, models.RoleAssistant, got.Messages[3].Role)
}

func TestConversationsOrderedByRecency(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, WithClock(clock.Now))

	var ids []uuid.UUID
	for _, title := range []string{"one", "two", "three"} {
		conv, err := svc.CreateConversation(ctx, "alice", title, nil)
		require.NoError(t, err)
		ids = append(ids, conv.ID)
		clock.Advance(time.Minute)
	}

	_, err := svc.AddMessage(ctx, ids[0].String(), models.RoleUser, "bump", nil)
	require.NoError(t, err)

	convs, err := svc.GetUserConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, []uuid.UUID{ids[0], ids[2], ids[1]}, []uuid.UUID{convs[0].ID, convs[1].ID, convs[2].ID})
	for i := 1; i < len(convs); i++ {
		assert.False(t, convs[i].UpdatedAt.After(convs[i-1].UpdatedAt))
	}
}

func TestDeleteCascadesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	conv, err := svc.CreateConversation(ctx, "alice", "doomed", nil)
	require.NoError(t, err)
	for _, content := range []string{"a", "b"} {
		_, err := svc.AddMessage(ctx, conv.ID.String(), models.RoleUser, content, nil)
		require.NoError(t, err)
	}
	require.Equal(t, 2, countMessages(t, svc, conv.ID))

	deleted, err := svc.DeleteConversation(ctx, conv.ID.String(), "alice")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, countMessages(t, svc, conv.ID))

	_, ok, err := svc.GetConversationWithMessages(ctx, conv.ID.String(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = svc.DeleteConversation(ctx, conv.ID.String(), "alice")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestAddMessageStrictlyBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, WithClock(clock.Now))

	conv, err := svc.CreateConversation(ctx, "alice", "bump", nil)
	require.NoError(t, err)

	prev := conv.UpdatedAt
	for i := 0; i < 3; i++ {
		// the clock does not move; the bump must still be strict
		_, err := svc.AddMessage(ctx, conv.ID.String(), models.RoleUser, "tick", nil)
		require.NoError(t, err)

		got, ok, err := svc.GetConversationWithMessages(ctx, conv.ID.String(), "alice")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.UpdatedAt.After(prev), "updated_at %s not after %s", got.UpdatedAt, prev)
		assert.True(t, got.CreatedAt.Equal(conv.CreatedAt))
		prev = got.UpdatedAt
	}

	clock.Advance(time.Hour)
	_, err = svc.AddMessage(ctx, conv.ID.String(), models.RoleUser, "later", nil)
	require.NoError(t, err)
	got, _, err := svc.GetConversationWithMessages(ctx, conv.ID.String(), "alice")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(clock.Now()))
}

func TestUserStatsCountsAllConversations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	stats, err := svc.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.UserStats{}, *stats)

	for _, n := range []int{3, 5} {
		conv, err := svc.CreateConversation(ctx, "alice", "", nil)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			_, err := svc.AddMessage(ctx, conv.ID.String(), models.RoleUser, "msg", nil)
			require.NoError(t, err)
		}
	}
	other, err := svc.CreateConversation(ctx, "bob", "", nil)
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, other.ID.String(), models.RoleUser, "not counted", nil)
	require.NoError(t, err)

	stats, err = svc.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalConversations)
	assert.Equal(t, int64(8), stats.TotalMessages)

	_, err = svc.CreateConversation(ctx, "alice", "empty", nil)
	require.NoError(t, err)
	stats, err = svc.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalConversations)
	assert.Equal(t, int64(8), stats.TotalMessages)
}

func TestCreateAndFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	created, err := svc.CreateConversation(ctx, "alice", "  Trip planning  ", models.Metadata{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", created.Title)
	assert.Equal(t, "alice", created.UserID)
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))

	got, ok, err := svc.GetConversationWithMessages(ctx, created.ID.String(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Trip planning", got.Title)
	assert.Equal(t, "v", got.Metadata["k"])
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, created.UpdatedAt.Equal(got.UpdatedAt))
	require.NotNil(t, got.Messages)
	assert.Empty(t, got.Messages)
}

func TestMessageMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	conv, err := svc.CreateConversation(ctx, "alice", "meta", nil)
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, conv.ID.String(), models.RoleAssistant, "answer", models.Metadata{"model": "gpt", "tokens": 12})
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, conv.ID.String(), models.RoleSystem, "plain", nil)
	require.NoError(t, err)

	got, _, err := svc.GetConversationWithMessages(ctx, conv.ID.String(), "alice")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "gpt", got.Messages[0].Metadata["model"])
	assert.Equal(t, json.Number("12"), got.Messages[0].Metadata["tokens"])
	assert.NotNil(t, got.Messages[1].Metadata)
	assert.Empty(t, got.Messages[1].Metadata)
	assert.NotNil(t, got.Metadata)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.CreateConversation(ctx, "  ", "title", nil)
	assert.ErrorIs(t, err, ErrUserRequired)

	conv, err := svc.CreateConversation(ctx, "alice", "   ", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, conv.Title)

	_, err = svc.AddMessage(ctx, conv.ID.String(), models.Role("tool"), "x", nil)
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.True(t, IsValidation(err))

	_, err = svc.AddMessage(ctx, conv.ID.String(), models.RoleUser, " \n", nil)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = svc.AddMessage(ctx, uuid.NewString(), models.RoleUser, "orphan", nil)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.False(t, IsValidation(err))

	_, err = svc.AddMessage(ctx, "not-a-uuid", models.RoleUser, "orphan", nil)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, _, err = svc.UpdateConversationTitle(ctx, conv.ID.String(), "alice", "")
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, ok, err := svc.GetConversationWithMessages(ctx, "not-a-uuid", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := svc.DeleteConversation(ctx, "not-a-uuid", "alice")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = svc.GetUserStats(ctx, "")
	assert.ErrorIs(t, err, ErrUserRequired)

	assert.Equal(t, 0, countMessages(t, svc, conv.ID))
}

func TestUpdateConversationTitle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, WithClock(clock.Now))

	conv, err := svc.CreateConversation(ctx, "alice", "draft", models.Metadata{"k": "v"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	updated, ok, err := svc.UpdateConversationTitle(ctx, conv.ID.String(), "alice", " final ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "final", updated.Title)
	assert.True(t, updated.UpdatedAt.After(conv.UpdatedAt))
	assert.True(t, updated.CreatedAt.Equal(conv.CreatedAt))
	assert.Equal(t, "v", updated.Metadata["k"])

	got, _, err := svc.GetConversationWithMessages(ctx, conv.ID.String(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.True(t, got.UpdatedAt.Equal(updated.UpdatedAt))

	_, ok, err = svc.UpdateConversationTitle(ctx, uuid.NewString(), "alice", "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListConversationsPagination(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestService(t, WithClock(clock.Now))

	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		conv, err := svc.CreateConversation(ctx, "alice", "", nil)
		require.NoError(t, err)
		want = append([]uuid.UUID{conv.ID}, want...)
		if i%2 == 0 {
			// leave some pairs with identical updated_at
			clock.Advance(time.Second)
		}
	}

	var got []uuid.UUID
	cursor := ""
	pages := 0
	for {
		page, err := svc.ListConversations(ctx, "alice", cursor, 2)
		require.NoError(t, err)
		pages++
		for _, c := range page.Conversations {
			got = append(got, c.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		require.Less(t, pages, 10)
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, want, got)

	all, err := svc.GetUserConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, c := range all {
		assert.Equal(t, want[i], c.ID)
	}

	page, err := svc.ListConversations(ctx, "alice", "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 5)
	assert.Empty(t, page.NextCursor)

	_, err = svc.ListConversations(ctx, "alice", "%%%", 2)
	assert.ErrorIs(t, err, ErrInvalidCursor)
	_, err = svc.ListConversations(ctx, "alice", pageCursor{}.encode()[:4], 2)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCursorEncoding(t *testing.T) {
	c := pageCursor{UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC), ID: uuid.New()}
	decoded, err := decodeCursor(c.encode())
	require.NoError(t, err)
	assert.True(t, c.UpdatedAt.Equal(decoded.UpdatedAt))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	conv, err := svc.CreateConversation(ctx, "alice", "busy", nil)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.AppendMessage(ctx, conv.ID.String(), "alice", models.RoleUser, "hi", nil)
			if err == nil && !ok {
				err = ErrConversationNotFound
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, ok, err := svc.GetConversationWithMessages(ctx, conv.ID.String(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Messages, writers)
	for _, m := range got.Messages {
		assert.True(t, got.UpdatedAt.After(m.CreatedAt) || got.UpdatedAt.Equal(m.CreatedAt))
	}
}

func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Options{DSN: dsn, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, storage.Migrate(ctx, store, zerolog.Nop()))

	svc := NewService(store)
	user := "it-" + uuid.NewString()

	conv, err := svc.CreateConversation(ctx, user, "integration", models.Metadata{"k": "v"})
	require.NoError(t, err)
	defer svc.DeleteConversation(ctx, conv.ID.String(), user)

	for i := 0; i < 3; i++ {
		_, err := svc.AddMessage(ctx, conv.ID.String(), models.RoleUser, "hello", nil)
		require.NoError(t, err)
	}

	got, ok, err := svc.GetConversationWithMessages(ctx, conv.ID.String(), user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got.Metadata["k"])
	assert.Len(t, got.Messages, 3)
	assert.True(t, got.UpdatedAt.After(conv.UpdatedAt))

	stats, err := svc.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalConversations)
	assert.Equal(t, int64(3), stats.TotalMessages)

	deleted, err := svc.DeleteConversation(ctx, conv.ID.String(), user)
	require.NoError(t, err)
	assert.True(t, deleted)
}
