package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressMarkDoneCompacts(t *testing.T) {
	var p Progress
	p.MarkDone(2)
	p.MarkDone(4)
	assert.Equal(t, 0, p.Watermark)
	assert.Equal(t, []int{2, 4}, p.Completed)
	assert.False(t, p.Done(0))
	assert.True(t, p.Done(2))

	p.MarkDone(0)
	p.MarkDone(1)
	assert.Equal(t, 3, p.Watermark)
	assert.Equal(t, []int{4}, p.Completed)

	p.MarkDone(3)
	assert.Equal(t, 5, p.Watermark)
	assert.Nil(t, p.Completed)
	assert.Equal(t, 5, p.ChunksDone())

	p.MarkDone(1)
	assert.Equal(t, 5, p.ChunksDone(), "marking twice is a no-op")
}

func TestProgressCloneIsDeep(t *testing.T) {
	var p Progress
	p.MarkDone(3)
	c := p.Clone()
	c.MarkDone(5)
	assert.Equal(t, []int{3}, p.Completed)
}
