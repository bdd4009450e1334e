package ev_test

import (
	"errors"
	"testing"

	"github.com/hepp3n/luxo/internal/ev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	q := ev.NewQueue()
	defer q.Stop()
	done := make(chan struct{})

	var order []int
	boom := errors.New("boom")
	require.True(t, ev.Post(q, done, func() error { order = append(order, 1); return nil }))
	require.True(t, ev.Post(q, done, func() error { order = append(order, 2); return boom }))

	var errs []error
	for len(order) < 2 {
		batch := <-q.Get()
		batch.Flush(func(err error) { errs = append(errs, err) })
	}

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, []error{boom}, errs)

	close(done)
}
