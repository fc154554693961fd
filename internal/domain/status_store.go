package domain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
)

// StatusStore keeps the latest per-satellite link status in memory.
type StatusStore struct {
	registry *Registry

	mu       sync.RWMutex
	statuses map[Address]SatelliteStatus
	dirty    map[Address]struct{}
	changes  chan struct{}
	now      func() time.Time
}

func NewStatusStore(registry *Registry) *StatusStore {
	s := &StatusStore{
		registry: registry,
		statuses: make(map[Address]SatelliteStatus),
		dirty:    make(map[Address]struct{}),
		changes:  make(chan struct{}, 1),
		now:      time.Now,
	}
	s.seedKnown()

	return s
}

func (s *StatusStore) seedKnown() {
	for _, known := range s.registry.All() {
		s.statuses[known.Address] = SatelliteStatus{
			Address:  known.Address,
			DeviceID: known.DeviceID,
			Name:     known.Name,
			Known:    true,
		}
	}
}

// Reset drops every observed status and pending write; known satellites are
// seeded again with empty counters.
func (s *StatusStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = make(map[Address]SatelliteStatus)
	s.dirty = make(map[Address]struct{})
	s.seedKnown()
}

// Load restores persisted counters without marking them dirty.
func (s *StatusStore) Load(items []SatelliteStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.statuses[item.Address] = s.withIdentity(item)
	}
	s.notify()
}

func (s *StatusStore) Start(ctx context.Context, b bus.MessageBus) {
	frameSub := b.Subscribe(connectors.TopicFrameIn)
	outcomeSub := b.Subscribe(connectors.TopicBridgeOutcome)
	go func() {
		defer b.Unsubscribe(frameSub, connectors.TopicFrameIn)
		defer b.Unsubscribe(outcomeSub, connectors.TopicBridgeOutcome)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-frameSub:
				if !ok {
					return
				}
				if frame, ok := msg.(connectors.FrameEvent); ok {
					s.ObserveFrame(frame)
				}
			case msg, ok := <-outcomeSub:
				if !ok {
					return
				}
				if outcome, ok := msg.(connectors.BridgeEvent); ok {
					s.ObserveOutcome(outcome)
				}
			}
		}
	}()
}

func (s *StatusStore) ObserveFrame(ev connectors.FrameEvent) {
	addr := Address(ev.Sender)
	if !addr.Valid() {
		return
	}
	at := ev.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}
	rssi, snr := ev.RSSI, ev.SNR

	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.withIdentity(s.statuses[addr])
	status.Address = addr
	status.FramesReceived++
	if at.After(status.LastHeardAt) {
		status.LastHeardAt = at
		status.RSSI = &rssi
		status.SNR = &snr
	}
	status.UpdatedAt = s.now()
	s.put(status)
}

func (s *StatusStore) ObserveOutcome(ev connectors.BridgeEvent) {
	addr := Address(ev.Sender)
	if !addr.Valid() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.withIdentity(s.statuses[addr])
	status.Address = addr
	switch ev.Outcome {
	case OutcomePublished:
		status.FramesPublished++
		status.LastReason = ""
	case OutcomeDiscarded:
		status.FramesDiscarded++
		status.LastReason = ev.Reason
	}
	status.UpdatedAt = s.now()
	s.put(status)
}

func (s *StatusStore) Get(addr Address) (SatelliteStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[addr]

	return status, ok
}

func (s *StatusStore) SnapshotSorted() []SatelliteStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SatelliteStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastHeardAt.Equal(out[j].LastHeardAt) {
			return out[i].Address < out[j].Address
		}
		return out[i].LastHeardAt.After(out[j].LastHeardAt)
	})

	return out
}

// TakeDirty returns statuses changed since the previous call.
func (s *StatusStore) TakeDirty() []SatelliteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SatelliteStatus, 0, len(s.dirty))
	for addr := range s.dirty {
		out = append(out, s.statuses[addr])
	}
	s.dirty = make(map[Address]struct{})
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })

	return out
}

func (s *StatusStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *StatusStore) put(status SatelliteStatus) {
	s.statuses[status.Address] = status
	s.dirty[status.Address] = struct{}{}
	s.notify()
}

func (s *StatusStore) withIdentity(status SatelliteStatus) SatelliteStatus {
	if known, ok := s.registry.Lookup(status.Address); ok {
		status.DeviceID = known.DeviceID
		status.Name = known.Name
		status.Known = true
		return status
	}
	if status.DeviceID == "" && status.Address.Valid() {
		status.DeviceID = DefaultDeviceID(status.Address)
	}

	return status
}

func (s *StatusStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
