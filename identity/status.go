package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpdateDeviceOnlineStatus upserts the connectivity row for a device,
// marking it online/offline under the given transport mode and stamping
// last_active_at.
func (s *Store) UpdateDeviceOnlineStatus(ctx context.Context, deviceID int64, status int, mode string) error {
	stmt, err := s.prepared(ctx, `INSERT INTO device_status (device_id, status, mode, last_active_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			status = excluded.status,
			mode = excluded.mode,
			last_active_at = excluded.last_active_at`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, deviceID, status, mode, now())
	return err
}

// MarkDeviceOffline flips a device's status to offline without touching
// its recorded mode.
func (s *Store) MarkDeviceOffline(ctx context.Context, deviceID int64) error {
	stmt, err := s.prepared(ctx, `UPDATE device_status SET status = ?, last_active_at = ? WHERE device_id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, StatusOffline, now(), deviceID)
	return err
}

// MarkInactiveHTTPDevicesOffline marks every HTTP-mode device whose
// last_active_at is older than cutoff as offline. HTTP devices have no
// transport-level disconnect signal, so liveness is inferred from polling
// recency (spec.md §4.5).
func (s *Store) MarkInactiveHTTPDevicesOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	stmt, err := s.prepared(ctx, `UPDATE device_status SET status = ?
		WHERE mode = 'http' AND status = ? AND last_active_at < ?`)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, StatusOffline, StatusOnline, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetDeviceStatus returns the connectivity row for a device. A device with
// no row yet (never connected) is reported offline in mqtt mode.
func (s *Store) GetDeviceStatus(ctx context.Context, deviceID int64) (DeviceStatus, error) {
	stmt, err := s.prepared(ctx, `SELECT device_id, status, mode, last_active_at FROM device_status WHERE device_id = ?`)
	if err != nil {
		return DeviceStatus{}, err
	}
	var ds DeviceStatus
	var lastActive sql.NullTime
	err = stmt.QueryRowContext(ctx, deviceID).Scan(&ds.DeviceID, &ds.Status, &ds.Mode, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceStatus{DeviceID: deviceID, Status: StatusOffline, Mode: "mqtt"}, nil
	}
	if err != nil {
		return DeviceStatus{}, err
	}
	if lastActive.Valid {
		ds.LastActiveAt = lastActive.Time
	}
	return ds, nil
}
