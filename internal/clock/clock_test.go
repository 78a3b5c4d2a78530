package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Minute), c.Advance(time.Minute))

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealMovesForward(t *testing.T) {
	var c Clock = Real{}
	a := c.Now()
	assert.False(t, c.Now().Before(a))
}
