package domain

import (
	"fmt"
	"sort"
	"strings"
)

const (
	deviceIDPrefix   = "berrystation_"
	deviceNamePrefix = "BerryWeather Station "
)

// KnownSatellite is a provisioned field node the gateway announces to Home Assistant.
type KnownSatellite struct {
	Address  Address
	DeviceID string
	Name     string
}

func DefaultDeviceID(addr Address) string {
	return deviceIDPrefix + addr.String()
}

func DefaultDeviceName(addr Address) string {
	return deviceNamePrefix + addr.String()
}

// Registry is the immutable set of known satellites, built once at startup.
type Registry struct {
	byAddr map[Address]KnownSatellite
	sorted []KnownSatellite
}

func NewRegistry(items []KnownSatellite) (*Registry, error) {
	r := &Registry{byAddr: make(map[Address]KnownSatellite, len(items))}
	ids := make(map[string]Address, len(items))
	for _, item := range items {
		if !item.Address.Valid() {
			return nil, fmt.Errorf("known satellite has reserved address 0")
		}
		if _, exists := r.byAddr[item.Address]; exists {
			return nil, fmt.Errorf("duplicate known satellite address %d", item.Address)
		}
		item.DeviceID = strings.TrimSpace(item.DeviceID)
		if item.DeviceID == "" {
			item.DeviceID = DefaultDeviceID(item.Address)
		}
		if strings.ContainsAny(item.DeviceID, "/+# ") {
			return nil, fmt.Errorf("device id %q is not a valid topic segment", item.DeviceID)
		}
		if other, exists := ids[item.DeviceID]; exists {
			return nil, fmt.Errorf("device id %q used by addresses %d and %d", item.DeviceID, other, item.Address)
		}
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" {
			item.Name = DefaultDeviceName(item.Address)
		}
		ids[item.DeviceID] = item.Address
		r.byAddr[item.Address] = item
		r.sorted = append(r.sorted, item)
	}
	sort.Slice(r.sorted, func(i, j int) bool {
		return r.sorted[i].Address < r.sorted[j].Address
	})

	return r, nil
}

func (r *Registry) Lookup(addr Address) (KnownSatellite, bool) {
	if r == nil {
		return KnownSatellite{}, false
	}
	item, ok := r.byAddr[addr]

	return item, ok
}

// DeviceID resolves the topic namespace for addr, falling back to the
// address-derived id for unknown senders.
func (r *Registry) DeviceID(addr Address) string {
	if item, ok := r.Lookup(addr); ok {
		return item.DeviceID
	}

	return DefaultDeviceID(addr)
}

func (r *Registry) All() []KnownSatellite {
	if r == nil {
		return nil
	}
	out := make([]KnownSatellite, len(r.sorted))
	copy(out, r.sorted)

	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sorted)
}
