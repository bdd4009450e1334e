package drm_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hepp3n/luxo/drm"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestAccessErrorPermission(t *testing.T) {
	err := fmt.Errorf("commit: %w", &drm.AccessError{Op: "atomic commit", Dev: "card0", Err: unix.EACCES})

	var access *drm.AccessError
	assert.True(t, errors.As(err, &access))
	assert.True(t, access.IsPermission())
	assert.ErrorIs(t, err, unix.EACCES)

	busy := &drm.AccessError{Op: "atomic commit", Err: unix.EBUSY}
	assert.False(t, busy.IsPermission())
	assert.True(t, busy.IsTransient())
	assert.False(t, access.IsTransient())
}

func TestModeTiming(t *testing.T) {
	m := drm.Mode{Clock: 148500, HTotal: 2200, VTotal: 1125, VRefresh: 60}
	assert.Equal(t, 60000, m.Refresh())
	assert.InDelta(t, float64(16666666), float64(m.FrameDuration()), 1000)

	assert.Equal(t, 75000, drm.Mode{VRefresh: 75}.Refresh())
	assert.Zero(t, drm.Mode{}.FrameDuration())
}
