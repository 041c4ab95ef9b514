package wcsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostArithmetic(t *testing.T) {
	tests := []struct {
		name string
		got  Cost
		want Cost
	}{
		{"finite add", Cost(3).Add(4), 7},
		{"add saturates", (MaxCost - 1).Add(5), MaxCost},
		{"add infinity", MaxCost.Add(1), MaxCost},
		{"finite sub", Cost(7).Sub(4), 3},
		{"sub keeps infinity", MaxCost.Sub(10), MaxCost},
		{"sub may go negative", Cost(2).Sub(5), -3},
		{"clamp negative", Clamp(-3), MinCost},
		{"clamp positive", Clamp(9), 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
	assert.Equal(t, "inf", MaxCost.String())
	assert.Equal(t, "12", Cost(12).String())
	assert.True(t, Cut(5, 5))
	assert.False(t, Cut(4, 5))
}

func TestTrailRestoresInLIFOOrder(t *testing.T) {
	var tr Trail
	x := NewCell(1)

	x.Set(&tr, 2) // depth 0: permanent
	tr.Store()
	x.Set(&tr, 3)
	x.Set(&tr, 4)
	tr.Store()
	x.Set(&tr, 5)
	require.Equal(t, 2, tr.Depth())
	assert.Equal(t, 5, x.Get())

	tr.Restore(1)
	assert.Equal(t, 4, x.Get())
	tr.Restore(0)
	assert.Equal(t, 2, x.Get())
	assert.Zero(t, tr.Size())
}

func TestCellSavedOncePerCheckpoint(t *testing.T) {
	var tr Trail
	c := NewCell(0)
	tr.Store()
	for i := 1; i <= 10; i++ {
		c.Set(&tr, i)
	}
	assert.Equal(t, 1, tr.Size())

	tr.Store()
	c.Set(&tr, 42)
	tr.Restore(1)
	assert.Equal(t, 10, c.Get())

	// Still inside the first checkpoint: no new entry needed.
	c.Set(&tr, 11)
	assert.Equal(t, 1, tr.Size())
	tr.Restore(0)
	assert.Equal(t, 0, c.Get())
}

func TestTrailRecordCustomUndo(t *testing.T) {
	var tr Trail
	var log []int
	tr.Record(func() { log = append(log, -1) }) // ignored at depth 0
	tr.Store()
	tr.Record(func() { log = append(log, 1) })
	tr.Record(func() { log = append(log, 2) })
	tr.Restore(0)
	assert.Equal(t, []int{2, 1}, log)
}
