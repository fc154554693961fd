package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skobkin/berryweather/internal/domain"
)

type SatelliteRepo struct {
	db *sql.DB
}

func NewSatelliteRepo(db *sql.DB) *SatelliteRepo {
	return &SatelliteRepo{db: db}
}

func (r *SatelliteRepo) Upsert(ctx context.Context, s domain.SatelliteStatus) error {
	known := int64(0)
	if s.Known {
		known = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO satellites(address, device_id, name, known, last_heard_at, rssi, snr, frames_received, frames_published, frames_discarded, last_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			device_id = excluded.device_id,
			name = excluded.name,
			known = excluded.known,
			last_heard_at = excluded.last_heard_at,
			rssi = excluded.rssi,
			snr = excluded.snr,
			frames_received = excluded.frames_received,
			frames_published = excluded.frames_published,
			frames_discarded = excluded.frames_discarded,
			last_reason = excluded.last_reason,
			updated_at = excluded.updated_at
	`, int64(s.Address), s.DeviceID, s.Name, known, toUnixMillis(s.LastHeardAt), nullableInt(s.RSSI), nullableInt(s.SNR),
		s.FramesReceived, s.FramesPublished, s.FramesDiscarded, nullableString(s.LastReason), toUnixMillis(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert satellite: %w", err)
	}
	return nil
}

func (r *SatelliteRepo) ListSortedByLastHeard(ctx context.Context) ([]domain.SatelliteStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, device_id, name, known, last_heard_at, rssi, snr, frames_received, frames_published, frames_discarded, last_reason, updated_at
		FROM satellites
		ORDER BY last_heard_at DESC, address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list satellites: %w", err)
	}
	defer rows.Close()

	var out []domain.SatelliteStatus
	for rows.Next() {
		var (
			s       domain.SatelliteStatus
			address int64
			known   int64
			heardMs sql.NullInt64
			updMs   int64
			rssi    sql.NullInt64
			snr     sql.NullInt64
			reason  sql.NullString
		)
		if err := rows.Scan(&address, &s.DeviceID, &s.Name, &known, &heardMs, &rssi, &snr,
			&s.FramesReceived, &s.FramesPublished, &s.FramesDiscarded, &reason, &updMs); err != nil {
			return nil, fmt.Errorf("scan satellite: %w", err)
		}
		s.Address = domain.Address(address)
		s.Known = known != 0
		s.LastHeardAt = fromUnixMillis(heardMs.Int64)
		s.UpdatedAt = fromUnixMillis(updMs)
		if rssi.Valid {
			v := int(rssi.Int64)
			s.RSSI = &v
		}
		if snr.Valid {
			v := int(snr.Int64)
			s.SNR = &v
		}
		if reason.Valid {
			s.LastReason = reason.String
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate satellites: %w", err)
	}

	return out, nil
}
