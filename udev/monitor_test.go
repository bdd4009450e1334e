package udev

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorReadError(t *testing.T) {
	dir, err := os.Open(t.TempDir())
	require.NoError(t, err)

	m := Monitor{file: dir}
	err = m.Run(context.Background(), func(Event) { t.Error("unexpected event") })
	require.Error(t, err)

	_, err = m.file.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestMonitorCancel(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	m := Monitor{file: r}

	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, func(Event) {}) }()

	_, err = w.Write([]byte("add@/devices/virtual/misc\x00ACTION=add\x00"))
	require.NoError(t, err)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
