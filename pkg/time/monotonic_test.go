package time

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsedMovesForward(t *testing.T) {
	c := NewClock()

	first := c.Elapsed()
	time.Sleep(5 * time.Millisecond)
	second := c.Elapsed()

	assert.Greater(t, second, first)
}

func TestWallTimeRoundTrip(t *testing.T) {
	c := NewClock()

	offset := 3 * time.Second
	wall := c.WallTime(offset)

	assert.Equal(t, c.startTime.Add(offset), wall)
}
