package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionIDContext(t *testing.T) {
	_, ok := SessionIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSessionID(context.Background(), "sess-1")
	id, ok := SessionIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", id)
}
