package domain

import (
	"context"
	"time"
)

type SatelliteStatusRepository interface {
	Upsert(ctx context.Context, s SatelliteStatus) error
	ListSortedByLastHeard(ctx context.Context) ([]SatelliteStatus, error)
}

type FrameLogRepository interface {
	Insert(ctx context.Context, r FrameRecord) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
