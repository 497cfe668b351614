package dialer

import (
	"testing"
	"time"

	"outbound-dialer/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountdown_Expires(t *testing.T) {
	clk := clock.NewFake(t0)
	var ticks []int
	fired := 0
	c := NewCountdown(clk, func(n int) { ticks = append(ticks, n) })

	c.Start(3, func() { fired++ })
	n, ok := c.Remaining()
	require.True(t, ok)
	assert.Equal(t, 3, n)

	clk.Advance(time.Second)
	n, _ = c.Remaining()
	assert.Equal(t, 2, n)

	clk.Advance(10 * time.Second)
	assert.Equal(t, []int{2, 1, 0}, ticks)
	assert.Equal(t, 1, fired)
	_, ok = c.Remaining()
	assert.False(t, ok)
	assert.Zero(t, clk.Pending())
}

func TestCountdown_CancelFiresNothing(t *testing.T) {
	clk := clock.NewFake(t0)
	var ticks []int
	fired := false
	c := NewCountdown(clk, func(n int) { ticks = append(ticks, n) })

	c.Start(5, func() { fired = true })
	clk.Advance(2 * time.Second)
	assert.True(t, c.Cancel())
	assert.False(t, c.Cancel(), "second cancel is a no-op")

	clk.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, []int{4, 3}, ticks)
	_, ok := c.Remaining()
	assert.False(t, ok)
	assert.Zero(t, clk.Pending())
}

func TestCountdown_RestartReplacesPrevious(t *testing.T) {
	clk := clock.NewFake(t0)
	var fired []string
	c := NewCountdown(clk, nil)

	c.Start(2, func() { fired = append(fired, "first") })
	clk.Advance(time.Second)
	c.Start(3, func() { fired = append(fired, "second") })

	clk.Advance(2 * time.Second)
	assert.Empty(t, fired)
	clk.Advance(time.Second)
	assert.Equal(t, []string{"second"}, fired)
}

func TestCountdown_MinimumOneSecond(t *testing.T) {
	clk := clock.NewFake(t0)
	fired := 0
	c := NewCountdown(clk, nil)

	c.Start(0, func() { fired++ })
	n, ok := c.Remaining()
	require.True(t, ok)
	assert.Equal(t, 1, n)

	clk.Advance(999 * time.Millisecond)
	assert.Zero(t, fired)
	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)
}

func TestCountdown_RealClockCancel(t *testing.T) {
	c := NewCountdown(clock.Real(), nil)
	c.Start(5, func() { t.Error("cancelled countdown fired") })
	assert.True(t, c.Cancel())
}
