package output_test

import (
	"errors"
	"image"
	"testing"

	"github.com/hepp3n/luxo/dmabuf"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/drm/drmtest"
	"github.com/hepp3n/luxo/feedback"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/output"
	"github.com/hepp3n/luxo/output/outputtest"
	"github.com/hepp3n/luxo/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSurface(t *testing.T, cfg output.Config) (*output.Surface, *outputtest.Compositor) {
	t.Helper()

	dev := drmtest.NewDevice(0)
	dev.AddCrtc(40)
	planes, _ := dev.Planes(40)

	if cfg.ID.Crtc == 0 {
		cfg.ID = drm.OutputID{Device: dev.Node(), Crtc: 40}
	}
	cfg.Connector = drm.ConnectorInfo{Handle: 1, Type: 11, TypeID: 1}
	cfg.Mode = drmtest.Mode60
	cfg.Planes = planes

	m := outputtest.NewManager()
	s, err := output.New(m, cfg)
	require.NoError(t, err)
	return s, m.Compositors[40]
}

func TestNew(t *testing.T) {
	s, c := newSurface(t, output.Config{})
	assert.Equal(t, output.StateActive, s.State())
	assert.Equal(t, drm.CrtcHandle(40), c.Crtc)
	assert.Equal(t, drmtest.Mode60, c.Mode)
	assert.Equal(t, "HDMI-A-1", s.Connector().Name())
}

func TestNewFails(t *testing.T) {
	m := outputtest.NewManager()
	m.Fail[40] = errors.New("no")
	_, err := output.New(m, output.Config{ID: drm.OutputID{Crtc: 40}})
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	s, c := newSurface(t, output.Config{})
	elem := render.NewSolidElement(render.NewElementID(), 1, image.Rect(0, 0, 10, 10), render.Color{A: 1})

	var took render.States
	take := func(states render.States) *feedback.OutputFeedback {
		took = states
		return nil
	}

	rendered, states, err := s.Render(nil, []render.Element{elem}, render.Color{}, take)
	require.NoError(t, err)
	assert.True(t, rendered)
	assert.True(t, states.Visible(elem.ID()))
	assert.Equal(t, states, took)
	assert.Equal(t, render.FrameDefault, c.Flags)
	assert.Equal(t, 1, c.Queued)

	_, err = s.FrameSubmitted()
	require.NoError(t, err)
	_, err = s.FrameSubmitted()
	assert.ErrorIs(t, err, drm.ErrAlreadySwapped)
}

func TestRenderEmpty(t *testing.T) {
	s, c := newSurface(t, output.Config{})
	c.Empty = true

	called := false
	rendered, _, err := s.Render(nil, nil, render.Color{}, func(render.States) *feedback.OutputFeedback {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, rendered)
	assert.False(t, called)
	assert.Zero(t, c.Queued)
}

func TestRenderErrors(t *testing.T) {
	s, c := newSurface(t, output.Config{})
	c.QueueErr = drm.ErrDeviceInactive
	_, _, err := s.Render(nil, nil, render.Color{}, nil)
	assert.ErrorIs(t, err, drm.ErrDeviceInactive)

	c.QueueErr = nil
	c.RenderErr = &drm.TestFailedError{Crtc: 40}
	_, _, err = s.Render(nil, nil, render.Color{}, nil)
	var tf *drm.TestFailedError
	assert.ErrorAs(t, err, &tf)
}

func TestDisableDirectScanout(t *testing.T) {
	s, c := newSurface(t, output.Config{DisableDirectScanout: true})
	assert.True(t, s.DisableDirectScanout())

	_, _, err := s.Render(nil, nil, render.Color{}, nil)
	require.NoError(t, err)
	assert.Zero(t, c.Flags&(render.FrameAllowPrimaryScanout|render.FrameAllowOverlayScanout))
	assert.NotZero(t, c.Flags&render.FrameAllowCursorPlane)
}

func TestResetBuffers(t *testing.T) {
	s, c := newSurface(t, output.Config{})
	require.NoError(t, s.ResetBuffers())
	assert.Equal(t, 1, c.Resets)
}

func TestUpdateFeedback(t *testing.T) {
	s, _ := newSurface(t, output.Config{})

	xrgb := format.Format{Code: format.Xrgb8888, Modifier: format.ModifierLinear}
	argb := format.Format{Code: format.Argb8888, Modifier: format.ModifierLinear}
	abgr := format.Format{Code: format.Abgr8888, Modifier: format.ModifierLinear}
	primary := dmabuf.GPU{Device: 1, Formats: format.NewSet(xrgb, abgr)}

	err := s.UpdateFeedback(primary, primary)
	require.NoError(t, err)

	fb := s.Feedback()
	require.NotNil(t, fb)
	scanout, ok := fb.Scanout.ScanoutTranche()
	require.True(t, ok)
	assert.True(t, scanout.Formats.Has(xrgb))
	assert.False(t, scanout.Formats.Has(argb))
	assert.False(t, scanout.Formats.Has(abgr))
	assert.True(t, fb.Render.Formats.Has(abgr))
}

func TestClose(t *testing.T) {
	s, c := newSurface(t, output.Config{})
	require.NoError(t, s.Close(output.StateDisconnected))
	assert.True(t, c.Closed)
	assert.Equal(t, output.StateDisconnected, s.State())

	_, _, err := s.Render(nil, nil, render.Color{}, nil)
	assert.ErrorIs(t, err, output.ErrInactive)
	_, err = s.FrameSubmitted()
	assert.ErrorIs(t, err, output.ErrInactive)
	assert.ErrorIs(t, s.ResetBuffers(), output.ErrInactive)
	assert.ErrorIs(t, s.UpdateFeedback(dmabuf.GPU{}, dmabuf.GPU{}), output.ErrInactive)

	require.NoError(t, s.Close(output.StateDeviceRemoved))
	assert.Equal(t, output.StateDeviceRemoved, s.State())
}
