package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrderAndClose(t *testing.T) {
	q := NewQueue()
	q.Push(Event{Kind: ConnAck})
	q.Push(Event{Kind: OutgoingPublish, Pkid: 1})
	q.PushErr(ErrConnectionLost)
	q.Push(Event{Kind: PubAck, Pkid: 1})

	ctx := context.Background()
	e, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, ConnAck, e.Kind)

	e, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutgoingPublish, e.Kind)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrConnectionLost)

	e, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), e.Pkid)

	q.Close()
	q.Push(Event{Kind: Publish})
	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueuePopWaits(t *testing.T) {
	q := NewQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(Event{Kind: SubAck, Pkid: 7})
	}()

	e, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SubAck, e.Kind)
	assert.Equal(t, uint16(7), e.Pkid)
}
