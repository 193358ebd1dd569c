package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwielgat/agentd/core"
)

func TestInMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess, err := store.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, sess.Status)

	require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewUserTurn("hello")))
	require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewAgentTurn("hi there")))

	history, err := store.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAgent, history[1].Role)

	require.NoError(t, store.SetStatus(ctx, sess.ID, core.SessionCompleted))

	// Appends against a finalized session are rejected.
	err = store.AppendTurn(ctx, sess.ID, core.NewUserTurn("again"))
	var stateErr *core.InvalidStateError
	require.ErrorAs(t, err, &stateErr)

	// Terminal statuses never go back to ACTIVE.
	err = store.SetStatus(ctx, sess.ID, core.SessionActive)
	var transErr *core.InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
}

func TestInMemoryStoreUnknownSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	err := store.AppendTurn(ctx, "missing", core.NewUserTurn("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.GetHistory(ctx, "missing", 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInMemoryStoreHistoryBounded(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.CreateSession(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewUserTurn("msg")))
	}

	bounded, err := store.GetHistory(ctx, sess.ID, 2)
	require.NoError(t, err)
	assert.Len(t, bounded, 2)

	all, err := store.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestInMemoryStoreHistoryImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.CreateSession(ctx)

	require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewUserTurn("original")))

	first, err := store.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	first[0].Content = "tampered"

	second, err := store.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "original", second[0].Content)

	// Replaying history for a finalized session yields an identical sequence.
	require.NoError(t, store.SetStatus(ctx, sess.ID, core.SessionCompleted))
	third, err := store.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestInMemoryStoreTimestampsNonDecreasing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.CreateSession(ctx)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewUserTurn("m")))
	}

	history, err := store.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestInMemoryStoreState(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.CreateSession(ctx)

	require.NoError(t, store.PutState(ctx, sess.ID, map[string]string{"name": "Ada"}))
	require.NoError(t, store.PutState(ctx, sess.ID, map[string]string{"topic": "math"}))

	state, err := store.GetState(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Ada", "topic": "math"}, state)
}

func TestInMemoryStoreCountSessions(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	n, err := store.CountSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, _ = store.CreateSession(ctx)
	_, _ = store.CreateSession(ctx)

	n, err = store.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInMemoryStoreExpireIdle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.CreateSession(ctx)

	n, err := store.ExpireIdle(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionExpired, got.Status)

	// Already-terminal sessions are not expired twice.
	n, err = store.ExpireIdle(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInMemoryStoreConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := store.CreateSession(ctx)
			assert.NoError(t, err)
			for j := 0; j < 20; j++ {
				assert.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewUserTurn("m")))
			}
			history, err := store.GetHistory(ctx, sess.ID, 0)
			assert.NoError(t, err)
			assert.Len(t, history, 20)
		}()
	}
	wg.Wait()
}
