package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFuncFiresOnce(t *testing.T) {
	c := NewFake(epoch)
	calls := 0
	c.AfterFunc(5*time.Second, func() { calls++ })

	c.Advance(4 * time.Second)
	assert.Equal(t, 0, calls)

	c.Advance(time.Second)
	assert.Equal(t, 1, calls)

	c.Advance(time.Minute)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_EveryRepeats(t *testing.T) {
	c := NewFake(epoch)
	var seen []time.Duration
	timer := c.Every(time.Second, func() { seen = append(seen, c.Now().Sub(epoch)) })

	c.Advance(3500 * time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, seen)

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(5 * time.Second)
	assert.Len(t, seen, 3)
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFake_OrderAndReentrancy(t *testing.T) {
	c := NewFake(epoch)
	var order []string

	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(time.Second, func() {
		order = append(order, "a")
		// Scheduled from inside a callback and still due within the same Advance.
		c.AfterFunc(500*time.Millisecond, func() { order = append(order, "a2") })
	})

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "a2", "b"}, order)
	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
}

func TestFake_CallbackSeesDeadlineTime(t *testing.T) {
	c := NewFake(epoch)
	var at time.Time
	c.AfterFunc(1500*time.Millisecond, func() { at = c.Now() })

	c.Advance(10 * time.Second)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), at)
}

func TestReal_EveryStops(t *testing.T) {
	ticks := make(chan struct{}, 10)
	timer := Real{}.Every(5*time.Millisecond, func() { ticks <- struct{}{} })

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("ticker never fired")
	}
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
}
