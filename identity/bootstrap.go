package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Bootstrap ensures the store has a usable starting state: if no devices
// exist yet, it provisions one with a random uuid and auth key and logs
// its credentials so an operator can pair the first device.
//
// It also resolves this node's brokerId/bridgeToken: envBrokerID and
// envBridgeToken (from BROKER_ID/BRIDGE_TOKEN, empty if unset) take
// priority and are persisted when given; otherwise the previously
// persisted identity is reused; otherwise a fresh one is generated and
// persisted. This matches the startup invariant that the pair survives
// restarts even when the operator doesn't pin it.
func (s *Store) Bootstrap(ctx context.Context, envBrokerID, envBridgeToken string) (LocalIdentity, error) {
	devices, err := s.GetAllDevices(ctx)
	if err != nil {
		return LocalIdentity{}, fmt.Errorf("listing devices: %w", err)
	}
	if len(devices) == 0 {
		authKey, err := randomHex(32)
		if err != nil {
			return LocalIdentity{}, err
		}
		d, err := s.CreateDevice(ctx, Device{UUID: uuid.NewString(), AuthKey: authKey})
		if err != nil {
			return LocalIdentity{}, fmt.Errorf("auto-provisioning first device: %w", err)
		}
		s.log.Info("auto-provisioned first device",
			"uuid", d.UUID,
			"auth_key", d.AuthKey,
		)
	}

	existing, err := s.GetLocalIdentity(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return LocalIdentity{}, fmt.Errorf("loading local identity: %w", err)
	}

	li := existing
	if envBrokerID != "" {
		li.BrokerID = envBrokerID
	}
	if envBridgeToken != "" {
		li.BridgeToken = envBridgeToken
	}
	if li.BrokerID == "" {
		suffix, err := randomHex(8)
		if err != nil {
			return LocalIdentity{}, err
		}
		li.BrokerID = "broker-" + suffix
	}
	if li.BridgeToken == "" {
		bridgeToken, err := randomHex(32)
		if err != nil {
			return LocalIdentity{}, err
		}
		li.BridgeToken = bridgeToken
	}

	if li != existing {
		if err := s.SetLocalIdentity(ctx, li); err != nil {
			return LocalIdentity{}, fmt.Errorf("persisting local identity: %w", err)
		}
		s.log.Info("resolved local broker identity", "broker_id", li.BrokerID)
	}
	return li, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
