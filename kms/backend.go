package kms

import (
	"fmt"
	"os"

	"github.com/hepp3n/luxo/device"
	"github.com/hepp3n/luxo/drm"
	"github.com/hepp3n/luxo/format"
	"github.com/hepp3n/luxo/render"
	"github.com/sirupsen/logrus"
)

// Backend sets up devices for the registry with atomic mode-setting,
// dumb buffers and software rendering.
type Backend struct {
	// Formats lists the color formats outputs should use, most preferred
	// first.
	Formats []format.Fourcc
}

func (b *Backend) OpenCard(file *os.File) (device.Card, error) {
	card, err := drm.OpenCard(file)
	if err != nil {
		return nil, err
	}

	drv, err := card.Driver()
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"device":  card.Node(),
			"driver":  drv.Name,
			"version": fmt.Sprintf("%v.%v.%v", drv.Major, drv.Minor, drv.Patch),
		}).Info("kms: opened card")
	}
	return card, nil
}

func (b *Backend) NewOutputManager(card device.Card) (device.OutputManager, error) {
	kc, ok := card.(Card)
	if !ok {
		return nil, fmt.Errorf("%v does not support buffer allocation", card.Node())
	}

	alloc, err := NewAllocator(kc)
	if err != nil {
		return nil, err
	}
	return NewManager(kc, alloc, b.Formats), nil
}

// Renderer returns a software renderer bound to the card's render node.
// Cards without one are identified by their primary node instead.
func (b *Backend) Renderer(card device.Card) (render.Renderer, error) {
	node, err := card.Node().WithType(drm.NodeRender)
	if err != nil {
		logrus.WithField("device", card.Node()).Debugf("kms: %v", err)
		node = card.Node()
	}

	formats := format.With([]format.Fourcc{format.Argb8888, format.Xrgb8888}, format.ModifierLinear)
	return render.NewSoftware(node, formats), nil
}

var _ device.Backend = (*Backend)(nil)
var _ device.OutputManager = (*Manager)(nil)
