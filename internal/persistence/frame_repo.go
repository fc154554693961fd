package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skobkin/berryweather/internal/domain"
)

type FrameRepo struct {
	db *sql.DB
}

func NewFrameRepo(db *sql.DB) *FrameRepo {
	return &FrameRepo{db: db}
}

func (r *FrameRepo) Insert(ctx context.Context, f domain.FrameRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO frames(sender, device_id, payload, rssi, snr, outcome, reason, topic, received_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(f.Sender), f.DeviceID, f.Payload, f.RSSI, f.SNR, f.Outcome, nullableString(f.Reason), nullableString(f.Topic), toUnixMillis(f.ReceivedAt))
	if err != nil {
		return 0, fmt.Errorf("insert frame: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("frame insert id: %w", err)
	}
	return id, nil
}

// ListRecent returns up to limit frames from sender, newest first. Sender 0 lists all senders.
func (r *FrameRepo) ListRecent(ctx context.Context, sender domain.Address, limit int) ([]domain.FrameRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender, device_id, payload, rssi, snr, outcome, reason, topic, received_at
		FROM frames
		WHERE ? = 0 OR sender = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, int64(sender), int64(sender), limit)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var out []domain.FrameRecord
	for rows.Next() {
		var (
			f        domain.FrameRecord
			senderID int64
			reason   sql.NullString
			topic    sql.NullString
			atMs     int64
		)
		if err := rows.Scan(&f.ID, &senderID, &f.DeviceID, &f.Payload, &f.RSSI, &f.SNR, &f.Outcome, &reason, &topic, &atMs); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.Sender = domain.Address(senderID)
		f.Reason = reason.String
		f.Topic = topic.String
		f.ReceivedAt = fromUnixMillis(atMs)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}

	return out, nil
}

func (r *FrameRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM frames WHERE received_at < ?`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old frames: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleted frames count: %w", err)
	}
	return n, nil
}
