package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskQueue_PushDrainIsFIFO(t *testing.T) {
	q := newTaskQueue()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.push(func() { order = append(order, i) })
	}

	assert.Equal(t, 5, q.len())
	batch := q.drain()
	assert.Equal(t, 0, q.len())
	assert.Len(t, batch, 5)
	for _, task := range batch {
		task()
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestTaskQueue_DrainOnEmptyReturnsEmpty(t *testing.T) {
	q := newTaskQueue()
	batch := q.drain()
	assert.Empty(t, batch)
}

func TestTaskQueue_PushAfterDrainDoesNotReuseStaleSlice(t *testing.T) {
	q := newTaskQueue()
	q.push(func() {})
	first := q.drain()
	assert.Len(t, first, 1)

	q.push(func() {})
	second := q.drain()
	assert.Len(t, second, 1)
}

func TestTimerHeap_OrdersByDueTimeThenSequence(t *testing.T) {
	now := time.Now()
	h := timerHeap{
		{id: 1, due: now.Add(2 * time.Second), seq: 1},
		{id: 2, due: now.Add(time.Second), seq: 2},
		{id: 3, due: now.Add(time.Second), seq: 1},
	}
	assert.True(t, h.Less(2, 1), "earlier sequence wins a tie at the same due time")
	assert.True(t, h.Less(1, 0), "earlier due time sorts first regardless of sequence")
}
