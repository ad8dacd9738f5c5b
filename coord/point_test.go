package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2}
	b := Point{X: 4, Y: 5}

	assert.Equal(t, Point{X: 5, Y: 7}, a.Add(b))
	assert.Equal(t, Point{X: 1, Y: 2}, a)
}

func TestPoint_Equal(t *testing.T) {
	assert.True(t, Point{X: 1, Y: 2}.Equal(Point{X: 1, Y: 2}))
	assert.False(t, Point{X: 1, Y: 2}.Equal(Point{X: 1, Y: 3}))
}

func TestMinMax(t *testing.T) {
	a := Point{X: 1, Y: 9}
	b := Point{X: 4, Y: 5}

	assert.Equal(t, Point{X: 1, Y: 5}, Min(a, b))
	assert.Equal(t, Point{X: 4, Y: 9}, Max(a, b))
}
