package marketdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingKeepsNewest(t *testing.T) {
	r := NewRing[int](3)
	assert.Empty(t, r.Snapshot(0))

	r.Push(1, 2)
	assert.Equal(t, []int{2, 1}, r.Snapshot(0))

	r.Push(3, 4, 5)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{5, 4, 3}, r.Snapshot(0))
	assert.Equal(t, []int{5, 4}, r.Snapshot(2))
}
