package app

import (
	"context"
	"sync"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
)

// connStatusTracker keeps the last ConnStatus per transport name.
type connStatusTracker struct {
	mu       sync.RWMutex
	statuses map[string]connectors.ConnStatus
}

func newConnStatusTracker() *connStatusTracker {
	return &connStatusTracker{statuses: make(map[string]connectors.ConnStatus)}
}

func (t *connStatusTracker) start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(connectors.TopicConnStatus)
	go func() {
		defer b.Unsubscribe(sub, connectors.TopicConnStatus)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				status, ok := raw.(connectors.ConnStatus)
				if !ok {
					continue
				}
				t.set(status)
			}
		}
	}()
}

func (t *connStatusTracker) set(status connectors.ConnStatus) {
	t.mu.Lock()
	t.statuses[status.TransportName] = status
	t.mu.Unlock()
}

func (t *connStatusTracker) current(transportName string) (connectors.ConnStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.statuses[transportName]
	return status, ok
}

func (t *connStatusTracker) connected(transportName string) bool {
	status, ok := t.current(transportName)
	return ok && status.State == connectors.ConnectionStateConnected
}
