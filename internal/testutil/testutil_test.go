package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSteppedClock_AdvancesPerCall(t *testing.T) {
	c := NewSteppedClock(time.Millisecond)

	first := c.Now()
	second := c.Now()
	assert.Equal(t, time.Millisecond, second.Sub(first))

	c.Reset()
	assert.Equal(t, first, c.Now())
}

func TestSteppedClock_ZeroStepFreezes(t *testing.T) {
	c := NewSteppedClock(0)
	assert.Equal(t, c.Now(), c.Now())
}

func TestFixedOrigins_SequentialWithPrefix(t *testing.T) {
	g := NewFixedOrigins("scenario")
	assert.Equal(t, "scenario-1", g.Generate())
	assert.Equal(t, "scenario-2", g.Generate())
}

func TestFixedOrigins_DefaultPrefix(t *testing.T) {
	g := NewFixedOrigins("")
	assert.Equal(t, "test-origin-1", g.Generate())
}
