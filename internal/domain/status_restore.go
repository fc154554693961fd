package domain

import (
	"context"
	"fmt"
)

// RestoreStatuses seeds store with the last persisted status of every
// satellite and returns how many were loaded. Rows with a reserved address
// are skipped.
func RestoreStatuses(ctx context.Context, store *StatusStore, repo SatelliteStatusRepository) (int, error) {
	items, err := repo.ListSortedByLastHeard(ctx)
	if err != nil {
		return 0, fmt.Errorf("load satellite statuses from db: %w", err)
	}
	valid := items[:0]
	for _, item := range items {
		if item.Address.Valid() {
			valid = append(valid, item)
		}
	}
	store.Load(valid)

	return len(valid), nil
}
