package domain

import (
	"context"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
)

// WriteQueue serializes persistence writes from async domain events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

func StartPersistenceProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, store *StatusStore, statusRepo SatelliteStatusRepository, frameRepo FrameLogRepository) {
	outcomeSub := b.Subscribe(connectors.TopicBridgeOutcome)

	go func() {
		defer b.Unsubscribe(outcomeSub, connectors.TopicBridgeOutcome)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-outcomeSub:
				if !ok {
					return
				}
				ev, ok := raw.(connectors.BridgeEvent)
				if !ok {
					continue
				}
				record := FrameRecord{
					Sender:     Address(ev.Sender),
					DeviceID:   ev.DeviceID,
					Payload:    string(ev.Payload),
					RSSI:       ev.RSSI,
					SNR:        ev.SNR,
					Outcome:    ev.Outcome,
					Reason:     ev.Reason,
					Topic:      ev.Topic,
					ReceivedAt: ev.At,
				}
				queue.Enqueue("insert_frame", func(writeCtx context.Context) error {
					_, err := frameRepo.Insert(writeCtx, record)
					return err
				})
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-store.Changes():
				for _, status := range store.TakeDirty() {
					copyStatus := status
					queue.Enqueue("upsert_satellite", func(writeCtx context.Context) error {
						return statusRepo.Upsert(writeCtx, copyStatus)
					})
				}
			}
		}
	}()
}
