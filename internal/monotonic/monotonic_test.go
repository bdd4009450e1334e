package monotonic_test

import (
	"testing"
	"time"

	"github.com/hepp3n/luxo/internal/monotonic"
	"github.com/stretchr/testify/assert"
)

func TestSystemAdvances(t *testing.T) {
	var c monotonic.System
	a := c.Now()
	time.Sleep(time.Millisecond)
	assert.Greater(t, c.Now(), a)
}

func TestTimeval(t *testing.T) {
	assert.Equal(t, 2*time.Second+500*time.Microsecond, monotonic.Timeval(2, 500))
}
