package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInflightExhaustion(t *testing.T) {
	in := NewInflight(3)
	ctx := context.Background()

	seen := map[uint16]bool{}
	for i := 0; i < 3; i++ {
		id, err := in.Acquire(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, id, uint16(1))
		assert.LessOrEqual(t, id, uint16(3))
		seen[id] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, 3, in.Outstanding())

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := in.Acquire(tctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	in.Release(2)
	id, err := in.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
}

func TestInflightBounds(t *testing.T) {
	assert.Equal(t, 1, NewInflight(0).Cap())
	assert.Equal(t, 100, NewInflight(100).Cap())
}
