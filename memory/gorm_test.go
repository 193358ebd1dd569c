package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwielgat/agentd/core"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(filepath.Join(t.TempDir(), "agentd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGormStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	sess, err := store.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, sess.Status)

	require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewUserTurn("hello")))
	require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewToolTurn(core.ToolCallResult{
		CallID:    "fc-1",
		Tool:      "lookup",
		Arguments: `{"q":"answer"}`,
		Outcome:   core.OutcomeSuccess,
		Payload:   "42",
	})))
	require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewAgentTurn("42")))

	history, err := store.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleTool, history[1].Role)
	assert.Equal(t, "fc-1", history[1].CallID)
	assert.Equal(t, `{"q":"answer"}`, history[1].Arguments)
	assert.Equal(t, core.RoleAgent, history[2].Role)

	require.NoError(t, store.SetStatus(ctx, sess.ID, core.SessionCompleted))

	err = store.AppendTurn(ctx, sess.ID, core.NewUserTurn("more"))
	var stateErr *core.InvalidStateError
	require.ErrorAs(t, err, &stateErr)

	err = store.SetStatus(ctx, sess.ID, core.SessionActive)
	var transErr *core.InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
}

func TestGormStoreUnknownSession(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	err := store.AppendTurn(ctx, "missing", core.NewUserTurn("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.GetHistory(ctx, "missing", 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGormStoreHistoryBoundedAndOrdered(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)
	sess, _ := store.CreateSession(ctx)

	for i := 0; i < 6; i++ {
		require.NoError(t, store.AppendTurn(ctx, sess.ID, core.NewUserTurn("m")))
	}

	bounded, err := store.GetHistory(ctx, sess.ID, 3)
	require.NoError(t, err)
	assert.Len(t, bounded, 3)

	all, err := store.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.Before(all[i-1].Timestamp))
	}
}

func TestGormStoreState(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)
	sess, _ := store.CreateSession(ctx)

	require.NoError(t, store.PutState(ctx, sess.ID, map[string]string{"fact": "likes go"}))

	state, err := store.GetState(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "likes go", state["fact"])
}

func TestGormStoreCountSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	_, _ = store.CreateSession(ctx)
	_, _ = store.CreateSession(ctx)

	n, err := store.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGormStoreExpireIdle(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)
	sess, _ := store.CreateSession(ctx)

	n, err := store.ExpireIdle(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionExpired, got.Status)
}
