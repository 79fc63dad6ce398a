package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
)

// handleDeviceAuthCreate implements POST /device/auth: idempotent
// device provisioning keyed by the caller-supplied uuid. First call
// creates the device plus a same-named group and joins it; repeat calls
// just return the existing authKey.
func (s *Server) handleDeviceAuthCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UUID string `json:"uuid"`
	}
	if !s.readJSONLimited(w, r, &body) {
		return
	}
	if body.UUID == "" {
		writeBadRequest(w, "uuid is required")
		return
	}

	ctx := r.Context()
	device, err := s.store.GetDeviceByUUID(ctx, body.UUID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		authKey, err := randomHex(32)
		if err != nil {
			writeServerError(w, "generating auth key")
			return
		}
		device, err = s.store.CreateDevice(ctx, identity.Device{UUID: body.UUID, AuthKey: authKey})
		if err != nil {
			s.log.Error("creating device", "uuid", body.UUID, "err", err)
			writeServerError(w, "creating device")
			return
		}
		group, err := s.getOrCreateGroup(ctx, body.UUID)
		if err != nil {
			s.log.Error("creating device's own group", "uuid", body.UUID, "err", err)
			writeServerError(w, "creating device group")
			return
		}
		if err := s.store.AddDeviceToGroup(ctx, device.ID, group.ID); err != nil {
			s.log.Error("joining device to its own group", "uuid", body.UUID, "err", err)
			writeServerError(w, "joining device group")
			return
		}
	case err != nil:
		s.log.Error("looking up device by uuid", "uuid", body.UUID, "err", err)
		writeServerError(w, "looking up device")
		return
	}

	writeOK(w, map[string]any{"authKey": device.AuthKey})
}

// handleDeviceAuthConnect implements GET /device/auth?authKey&mode=mqtt|http:
// mints fresh MQTT credentials for the device owning authKey and seeds the
// Device Cache with them so the publish pipeline never has to fall back to
// the Identity Store on the hot path.
func (s *Server) handleDeviceAuthConnect(w http.ResponseWriter, r *http.Request) {
	authKey := r.URL.Query().Get("authKey")
	if authKey == "" {
		writeBadRequest(w, "authKey is required")
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "mqtt"
	}
	if mode != "mqtt" && mode != "http" {
		writeBadRequest(w, "mode must be mqtt or http")
		return
	}

	ctx := r.Context()
	device, err := s.store.GetDeviceByAuthKey(ctx, authKey)
	if errors.Is(err, identity.ErrNotFound) {
		writeDeviceNotFound(w)
		return
	}
	if err != nil {
		s.log.Error("looking up device by auth key", "err", err)
		writeServerError(w, "looking up device")
		return
	}

	clientID := uuid.NewString()
	username := "user_" + shortUUID(device.UUID)
	password, err := randomHex(16)
	if err != nil {
		writeServerError(w, "generating credentials")
		return
	}

	if err := s.store.UpdateDeviceConnection(ctx, device.ID, clientID, username, password); err != nil {
		s.log.Error("updating device connection", "device_id", device.ID, "err", err)
		writeServerError(w, "updating device credentials")
		return
	}

	snapshot := cache.DeviceSnapshot{
		ID: device.ID, UUID: device.UUID, AuthKey: authKey,
		ClientID: clientID, Username: username, Password: password,
	}
	s.cache.SetDeviceByAuthKey(authKey, snapshot)
	s.cache.SetDeviceByClientID(clientID, snapshot)
	s.cache.SetDeviceMode(clientID, mode)

	groups, err := s.store.GetDeviceGroups(ctx, device.ID)
	if err != nil {
		s.log.Warn("loading device groups", "device_id", device.ID, "err", err)
	} else {
		names := make([]string, len(groups))
		for i, g := range groups {
			names[i] = g.Name
		}
		s.cache.SetDeviceGroups(clientID, names)
	}

	if mode == "http" {
		if err := s.store.UpdateDeviceOnlineStatus(ctx, device.ID, identity.StatusOnline, "http"); err != nil {
			s.log.Warn("marking device online over http", "device_id", device.ID, "err", err)
		}
		s.cache.SetHTTPLastActive(clientID, time.Now())
	}

	writeOK(w, map[string]any{"clientId": clientID, "username": username, "password": password})
}

func shortUUID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}

// handleDeviceSend implements POST /device/s: runs the size, rate, and
// classify-and-dispatch steps of the publish pipeline on behalf of an
// authenticated HTTP-mode or MQTT-mode device. The ACL step is skipped: an
// HTTP sender is always authenticated as itself and can never spoof
// another clientId, so the topic-string ACL the MQTT path enforces is
// trivially satisfied here. An MQTT-mode target receives the message on
// its /device/{cid}/r topic through the Engine's DeliverLocal.
func (s *Server) handleDeviceSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthKey  string `json:"authKey"`
		ToDevice string `json:"toDevice"`
		ToGroup  string `json:"toGroup"`
		TS       bool   `json:"ts"`
		Data     any    `json:"data"`
	}
	if !s.readJSONLimited(w, r, &body) {
		return
	}
	if body.AuthKey == "" {
		writeBadRequest(w, "authKey is required")
		return
	}
	if body.ToDevice == "" && body.ToGroup == "" {
		writeBadRequest(w, "toDevice or toGroup is required")
		return
	}

	snapshot, ok := s.cache.GetDeviceByAuthKey(body.AuthKey)
	if !ok {
		writeUnauthorized(w, "unknown authKey")
		return
	}
	if !s.cache.CheckPublishRate(snapshot.ClientID) {
		writeRateLimited(w)
		return
	}

	ctx := r.Context()
	if body.TS {
		s.engine.TapTimeseries(snapshot.UUID, body.Data)
	}
	if body.ToDevice != "" {
		s.engine.DispatchDevice(ctx, snapshot.ClientID, body.ToDevice, body.Data)
	} else {
		s.engine.DispatchGroup(ctx, snapshot.ClientID, body.ToGroup, body.Data)
	}

	if s.cache.IsHTTPMode(snapshot.ClientID) {
		s.cache.SetHTTPLastActive(snapshot.ClientID, time.Now())
		if err := s.store.UpdateDeviceOnlineStatus(ctx, snapshot.ID, identity.StatusOnline, "http"); err != nil {
			s.log.Warn("stamping http last active", "client_id", snapshot.ClientID, "err", err)
		}
	}

	writeOK(w, map[string]any{"status": "sent"})
}

// handleDeviceReceive implements GET /device/r?authKey: returns and clears
// the pending queue for an HTTP-mode device. Non-HTTP-mode senders get a
// 1007 (device not online in http mode).
func (s *Server) handleDeviceReceive(w http.ResponseWriter, r *http.Request) {
	authKey := r.URL.Query().Get("authKey")
	if authKey == "" {
		writeBadRequest(w, "authKey is required")
		return
	}
	snapshot, ok := s.cache.GetDeviceByAuthKey(authKey)
	if !ok {
		writeUnauthorized(w, "unknown authKey")
		return
	}
	if !s.cache.IsHTTPMode(snapshot.ClientID) {
		writeDeviceNotOnline(w)
		return
	}
	s.cache.SetHTTPLastActive(snapshot.ClientID, time.Now())

	messages := s.cache.GetPendingMessages(snapshot.ClientID)
	if messages == nil {
		messages = []cache.ForwardMessage{}
	}
	writeOK(w, map[string]any{"messages": messages, "count": len(messages)})
}
