package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/sheetsync-server/internal/fanout"
)

func TestSubscriber_FullBufferMarksSlow(t *testing.T) {
	t.Parallel()

	sub := newSubscriber("s1", 2)
	assert.True(t, sub.Send(fanout.Snapshot{TableID: "t1", Seq: 1}))
	assert.True(t, sub.Send(fanout.Snapshot{TableID: "t1", Seq: 2}))
	assert.False(t, sub.Send(fanout.Snapshot{TableID: "t1", Seq: 3}))

	first, ok := (<-sub.out).(TableDataUpdated)
	require.True(t, ok)
	assert.Equal(t, uint64(1), first.Seq)
	assert.NotNil(t, first.Rows)

	select {
	case <-sub.overflow:
	default:
		t.Fatal("overflow not signalled")
	}
	assert.False(t, sub.Send(fanout.Snapshot{TableID: "t1", Seq: 4}), "a slow subscriber stays slow")
	assert.Len(t, sub.out, 1)
}
