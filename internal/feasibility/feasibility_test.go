package feasibility

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

const hard = wcsp.Cost(100)

// triangle builds three variables over size values with a hard difference
// function on each pair.
func triangle(t *testing.T, size int) *wcsp.Network {
	t.Helper()
	n := wcsp.NewNetwork("triangle")
	for i := 0; i < 3; i++ {
		_, err := n.AddVariable("x"+string(rune('0'+i)), size)
		require.NoError(t, err)
	}
	diff := make([]wcsp.Cost, size*size)
	for a := 0; a < size; a++ {
		diff[a*size+a] = hard
	}
	for _, scope := range [][]int{{0, 1}, {1, 2}, {0, 2}} {
		_, err := n.AddCostFunction(scope, diff)
		require.NoError(t, err)
	}
	return n
}

func TestColoringTriangle(t *testing.T) {
	ok, err := Check(context.Background(), triangle(t, 3), hard)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Check(context.Background(), triangle(t, 2), hard)
	require.NoError(t, err)
	assert.False(t, ok, "two colors cannot color a triangle")
}

func TestSoftCostsAreIgnored(t *testing.T) {
	n := triangle(t, 2)
	// Below the bound every tuple is allowed.
	ok, err := Check(context.Background(), n, hard+1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnaryCostsForbidValues(t *testing.T) {
	n := wcsp.NewNetwork("unary")
	x, err := n.AddVariable("x", 2)
	require.NoError(t, err)
	require.NoError(t, n.AddUnary(x, []wcsp.Cost{hard, hard}))

	ok, err := Check(context.Background(), n, hard)
	require.NoError(t, err)
	assert.False(t, ok)
}
