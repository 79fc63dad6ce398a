package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateGroup inserts a new named group.
func (s *Store) CreateGroup(ctx context.Context, name string) (Group, error) {
	stmt, err := s.prepared(ctx, `INSERT INTO groups (name) VALUES (?)`)
	if err != nil {
		return Group{}, err
	}
	res, err := stmt.ExecContext(ctx, name)
	if err != nil {
		if isUniqueViolation(err) {
			return Group{}, ErrAlreadyExists
		}
		return Group{}, fmt.Errorf("inserting group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Group{}, err
	}
	return Group{ID: id, Name: name}, nil
}

// GetGroupByName looks up a group by its unique name.
func (s *Store) GetGroupByName(ctx context.Context, name string) (Group, error) {
	stmt, err := s.prepared(ctx, `SELECT id, name FROM groups WHERE name = ?`)
	if err != nil {
		return Group{}, err
	}
	var g Group
	err = stmt.QueryRowContext(ctx, name).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	return g, err
}

// AddDeviceToGroup links deviceID to groupID. Idempotent: re-adding an
// existing membership is a no-op rather than an error.
func (s *Store) AddDeviceToGroup(ctx context.Context, deviceID, groupID int64) error {
	stmt, err := s.prepared(ctx, `INSERT OR IGNORE INTO device_groups (device_id, group_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, deviceID, groupID)
	return err
}

// RemoveDeviceFromGroup unlinks deviceID from groupID.
func (s *Store) RemoveDeviceFromGroup(ctx context.Context, deviceID, groupID int64) error {
	stmt, err := s.prepared(ctx, `DELETE FROM device_groups WHERE device_id = ? AND group_id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, deviceID, groupID)
	return err
}

// GetDeviceGroups returns every group a device belongs to.
func (s *Store) GetDeviceGroups(ctx context.Context, deviceID int64) ([]Group, error) {
	stmt, err := s.prepared(ctx, `SELECT g.id, g.name FROM groups g
		JOIN device_groups dg ON dg.group_id = g.id
		WHERE dg.device_id = ? ORDER BY g.name`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGroupDevices returns every device in a group.
func (s *Store) GetGroupDevices(ctx context.Context, groupID int64) ([]Device, error) {
	stmt, err := s.prepared(ctx, `SELECT d.id, d.uuid, d.auth_key, COALESCE(d.client_id, ''), COALESCE(d.username, ''), COALESCE(d.password, ''), d.created_at, d.updated_at
		FROM devices d
		JOIN device_groups dg ON dg.device_id = d.id
		WHERE dg.group_id = ? ORDER BY d.id`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, groupID)
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

// IsDeviceInGroup reports whether deviceID is a member of groupID.
func (s *Store) IsDeviceInGroup(ctx context.Context, deviceID, groupID int64) (bool, error) {
	stmt, err := s.prepared(ctx, `SELECT 1 FROM device_groups WHERE device_id = ? AND group_id = ?`)
	if err != nil {
		return false, err
	}
	var one int
	err = stmt.QueryRowContext(ctx, deviceID, groupID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
