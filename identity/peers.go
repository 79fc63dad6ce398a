package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertPeerBroker creates or updates the config for a federation peer.
func (s *Store) UpsertPeerBroker(ctx context.Context, p PeerBroker) error {
	stmt, err := s.prepared(ctx, `INSERT INTO bridge_remotes (broker_id, url, token, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(broker_id) DO UPDATE SET
			url = excluded.url,
			token = excluded.token,
			enabled = excluded.enabled`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, p.BrokerID, p.URL, p.Token, boolToInt(p.Enabled))
	return err
}

// RemovePeerBroker deletes a federation peer's configuration.
func (s *Store) RemovePeerBroker(ctx context.Context, brokerID string) error {
	stmt, err := s.prepared(ctx, `DELETE FROM bridge_remotes WHERE broker_id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, brokerID)
	return err
}

// GetPeerBroker looks up one federation peer by id.
func (s *Store) GetPeerBroker(ctx context.Context, brokerID string) (PeerBroker, error) {
	stmt, err := s.prepared(ctx, `SELECT broker_id, url, token, enabled FROM bridge_remotes WHERE broker_id = ?`)
	if err != nil {
		return PeerBroker{}, err
	}
	var p PeerBroker
	var enabled int
	err = stmt.QueryRowContext(ctx, brokerID).Scan(&p.BrokerID, &p.URL, &p.Token, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return PeerBroker{}, ErrNotFound
	}
	p.Enabled = enabled != 0
	return p, err
}

// ListPeerBrokers returns every configured federation peer.
func (s *Store) ListPeerBrokers(ctx context.Context) ([]PeerBroker, error) {
	stmt, err := s.prepared(ctx, `SELECT broker_id, url, token, enabled FROM bridge_remotes ORDER BY broker_id`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeerBroker
	for rows.Next() {
		var p PeerBroker
		var enabled int
		if err := rows.Scan(&p.BrokerID, &p.URL, &p.Token, &enabled); err != nil {
			return nil, err
		}
		p.Enabled = enabled != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertBridgeSharedDevice records that deviceID's traffic is shared with
// brokerID under the given permissions.
func (s *Store) UpsertBridgeSharedDevice(ctx context.Context, sd BridgeSharedDevice) error {
	stmt, err := s.prepared(ctx, `INSERT INTO bridge_shared_devices (broker_id, device_id, permissions)
		VALUES (?, ?, ?)
		ON CONFLICT(broker_id, device_id) DO UPDATE SET permissions = excluded.permissions`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, sd.BrokerID, sd.DeviceID, sd.Permissions)
	return err
}

// RemoveBridgeSharedDevice revokes sharing of deviceID with brokerID.
func (s *Store) RemoveBridgeSharedDevice(ctx context.Context, brokerID string, deviceID int64) error {
	stmt, err := s.prepared(ctx, `DELETE FROM bridge_shared_devices WHERE broker_id = ? AND device_id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, brokerID, deviceID)
	return err
}

// GetBridgeSharedDevice looks up the sharing permissions for one
// broker/device pair. Used by the Bridge's PushShareDataIfNeeded.
func (s *Store) GetBridgeSharedDevice(ctx context.Context, brokerID string, deviceID int64) (BridgeSharedDevice, error) {
	stmt, err := s.prepared(ctx, `SELECT broker_id, device_id, permissions FROM bridge_shared_devices WHERE broker_id = ? AND device_id = ?`)
	if err != nil {
		return BridgeSharedDevice{}, err
	}
	var sd BridgeSharedDevice
	err = stmt.QueryRowContext(ctx, brokerID, deviceID).Scan(&sd.BrokerID, &sd.DeviceID, &sd.Permissions)
	if errors.Is(err, sql.ErrNoRows) {
		return BridgeSharedDevice{}, ErrNotFound
	}
	return sd, err
}

// ListBridgeSharedDevices returns every device shared with brokerID.
func (s *Store) ListBridgeSharedDevices(ctx context.Context, brokerID string) ([]BridgeSharedDevice, error) {
	stmt, err := s.prepared(ctx, `SELECT broker_id, device_id, permissions FROM bridge_shared_devices WHERE broker_id = ? ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BridgeSharedDevice
	for rows.Next() {
		var sd BridgeSharedDevice
		if err := rows.Scan(&sd.BrokerID, &sd.DeviceID, &sd.Permissions); err != nil {
			return nil, err
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}

// GetLocalIdentity returns this node's persisted brokerId/bridgeToken, if
// one has been set.
func (s *Store) GetLocalIdentity(ctx context.Context) (LocalIdentity, error) {
	stmt, err := s.prepared(ctx, `SELECT broker_id, bridge_token FROM local_identity LIMIT 1`)
	if err != nil {
		return LocalIdentity{}, err
	}
	var li LocalIdentity
	err = stmt.QueryRowContext(ctx).Scan(&li.BrokerID, &li.BridgeToken)
	if errors.Is(err, sql.ErrNoRows) {
		return LocalIdentity{}, ErrNotFound
	}
	return li, err
}

// SetLocalIdentity persists this node's brokerId/bridgeToken, replacing
// any previous value (the table holds at most one row).
func (s *Store) SetLocalIdentity(ctx context.Context, li LocalIdentity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning local identity update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM local_identity`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO local_identity (broker_id, bridge_token) VALUES (?, ?)`, li.BrokerID, li.BridgeToken); err != nil {
		return err
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
