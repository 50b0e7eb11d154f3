package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0)
	f := NewFake(start)
	assert.Equal(t, start, f.Now())

	f.Advance(5 * time.Minute)
	assert.Equal(t, start.Add(5*time.Minute), f.Now())

	f.Set(start)
	assert.Equal(t, start, f.Now())
}

func TestSystemIsMonotonicEnough(t *testing.T) {
	t.Parallel()

	var c Clock = System{}
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
