package engine

import (
	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

// Observer receives engine events. Calls come from the engine goroutines
// and must not block for long.
type Observer interface {
	// DeviceFound is called for every accepted I-Am, new or known device
	DeviceFound(dev *registry.Device)
	// DeviceValues is called once per device per poll pass with all its
	// points keyed by object key
	DeviceValues(dev *registry.Device, points map[string]*model.Point)
	// Error is called for every failure the engine reports
	Error(err error)
}

// NopObserver ignores all events
type NopObserver struct{}

func (NopObserver) DeviceFound(*registry.Device) {}

func (NopObserver) DeviceValues(*registry.Device, map[string]*model.Point) {}

func (NopObserver) Error(error) {}

// Observers fans events out to several observers in order
type Observers []Observer

func (o Observers) DeviceFound(dev *registry.Device) {
	for _, obs := range o {
		obs.DeviceFound(dev)
	}
}

func (o Observers) DeviceValues(dev *registry.Device, points map[string]*model.Point) {
	for _, obs := range o {
		obs.DeviceValues(dev, points)
	}
}

func (o Observers) Error(err error) {
	for _, obs := range o {
		obs.Error(err)
	}
}
