package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// CreateDevice inserts a new device. UUID and AuthKey must already be
// generated by the caller (see Bootstrap for the auto-provisioning case).
func (s *Store) CreateDevice(ctx context.Context, d Device) (Device, error) {
	stmt, err := s.prepared(ctx, `INSERT INTO devices (uuid, auth_key, client_id, username, password)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return Device{}, err
	}
	res, err := stmt.ExecContext(ctx, d.UUID, d.AuthKey, nullIfEmpty(d.ClientID), nullIfEmpty(d.Username), nullIfEmpty(d.Password))
	if err != nil {
		if isUniqueViolation(err) {
			return Device{}, ErrAlreadyExists
		}
		return Device{}, fmt.Errorf("inserting device: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Device{}, err
	}
	return s.GetDeviceByID(ctx, id)
}

const deviceColumns = `id, uuid, auth_key, COALESCE(client_id, ''), COALESCE(username, ''), COALESCE(password, ''), created_at, updated_at`

func scanDevice(row *sql.Row) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.UUID, &d.AuthKey, &d.ClientID, &d.Username, &d.Password, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	return d, nil
}

// GetDeviceByID looks up a device by its primary key.
func (s *Store) GetDeviceByID(ctx context.Context, id int64) (Device, error) {
	stmt, err := s.prepared(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`)
	if err != nil {
		return Device{}, err
	}
	return scanDevice(stmt.QueryRowContext(ctx, id))
}

// GetDeviceByUUID looks up a device by its public uuid.
func (s *Store) GetDeviceByUUID(ctx context.Context, uuid string) (Device, error) {
	stmt, err := s.prepared(ctx, `SELECT `+deviceColumns+` FROM devices WHERE uuid = ?`)
	if err != nil {
		return Device{}, err
	}
	return scanDevice(stmt.QueryRowContext(ctx, uuid))
}

// GetDeviceByAuthKey looks up a device by its secret auth key, used by the
// HTTP device-auth endpoint.
func (s *Store) GetDeviceByAuthKey(ctx context.Context, authKey string) (Device, error) {
	stmt, err := s.prepared(ctx, `SELECT `+deviceColumns+` FROM devices WHERE auth_key = ?`)
	if err != nil {
		return Device{}, err
	}
	return scanDevice(stmt.QueryRowContext(ctx, authKey))
}

// GetDeviceByClientID looks up a device by its MQTT client id.
func (s *Store) GetDeviceByClientID(ctx context.Context, clientID string) (Device, error) {
	stmt, err := s.prepared(ctx, `SELECT `+deviceColumns+` FROM devices WHERE client_id = ?`)
	if err != nil {
		return Device{}, err
	}
	return scanDevice(stmt.QueryRowContext(ctx, clientID))
}

// UpdateDeviceConnection sets the MQTT client id and/or credentials a
// device connects with. Empty strings leave the existing column unchanged.
func (s *Store) UpdateDeviceConnection(ctx context.Context, deviceID int64, clientID, username, password string) error {
	stmt, err := s.prepared(ctx, `UPDATE devices SET
		client_id = COALESCE(?, client_id),
		username  = COALESCE(?, username),
		password  = COALESCE(?, password),
		updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, nullIfEmpty(clientID), nullIfEmpty(username), nullIfEmpty(password), deviceID)
	return err
}

// GetAllDevices returns every provisioned device, ordered by id.
func (s *Store) GetAllDevices(ctx context.Context) ([]Device, error) {
	stmt, err := s.prepared(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.UUID, &d.AuthKey, &d.ClientID, &d.Username, &d.Password, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDevice removes a device and, via ON DELETE CASCADE, its group
// memberships, status row, and any bridge sharing grants.
func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	stmt, err := s.prepared(ctx, `DELETE FROM devices WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
