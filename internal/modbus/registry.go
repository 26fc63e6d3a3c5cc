package modbus

import (
	"fmt"
	"sort"
	"sync"

	hwcerrors "hwc-server/internal/errors"
)

// DeviceRegistry maps device identity to device. It is constructed once at
// startup and handed to the components that look devices up.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewDeviceRegistry creates an empty registry
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{devices: make(map[string]Device)}
}

func lineKey(d Device) string {
	return fmt.Sprintf("%s#%d", d.SerialDevice(), d.Address())
}

// Add registers a device; id, name and (serial line, address) must be unique
func (r *DeviceRegistry) Add(d Device) error {
	if d == nil {
		return hwcerrors.NewDeviceConfigError("device", "nil device")
	}
	if d.ID() == "" || d.Name() == "" {
		return hwcerrors.NewDeviceConfigError("device", "device id and name are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[d.ID()]; exists {
		return hwcerrors.NewDeviceConfigError("device.id", "duplicate device id '%s'", d.ID())
	}
	for _, other := range r.devices {
		if other.Name() == d.Name() {
			return hwcerrors.NewDeviceConfigError("device.name", "duplicate device name '%s': used by both '%s' and '%s'", d.Name(), other.ID(), d.ID())
		}
		if lineKey(other) == lineKey(d) {
			return hwcerrors.NewDeviceConfigError("device.address", "duplicate address %d on %s: used by both '%s' and '%s'", d.Address(), d.SerialDevice(), other.Name(), d.Name())
		}
	}
	r.devices[d.ID()] = d
	return nil
}

// Remove deletes a device, reporting whether it was present
func (r *DeviceRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	return ok
}

// ByID looks up a device by id
func (r *DeviceRegistry) ByID(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// ByName looks up a device by name
func (r *DeviceRegistry) ByName(name string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// All returns the devices sorted by id
func (r *DeviceRegistry) All() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// OnSerial returns the devices attached to one serial line
func (r *DeviceRegistry) OnSerial(serialDevice string) []Device {
	var list []Device
	for _, d := range r.All() {
		if d.SerialDevice() == serialDevice {
			list = append(list, d)
		}
	}
	return list
}

// Len returns the number of registered devices
func (r *DeviceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
