package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meshgate/iotbroker/identity"
)

// getOrCreateGroup fetches the group named name, creating it first if
// necessary. Idempotent under concurrent callers: a lost race on CreateGroup
// falls back to the now-existing row instead of erroring.
func (s *Server) getOrCreateGroup(ctx context.Context, name string) (identity.Group, error) {
	g, err := s.store.GetGroupByName(ctx, name)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return identity.Group{}, err
	}
	g, err = s.store.CreateGroup(ctx, name)
	if errors.Is(err, identity.ErrAlreadyExists) {
		return s.store.GetGroupByName(ctx, name)
	}
	return g, err
}

// handleCreateGroup implements POST /groups {name}.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.readJSONLimited(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	g, err := s.store.CreateGroup(r.Context(), body.Name)
	if errors.Is(err, identity.ErrAlreadyExists) {
		writeBadRequest(w, "group already exists")
		return
	}
	if err != nil {
		s.log.Error("creating group", "name", body.Name, "err", err)
		writeServerError(w, "creating group")
		return
	}
	writeOK(w, map[string]any{"id": g.ID, "name": g.Name})
}

// handleGetGroup implements GET /groups/{name}: the group plus its member
// uuids (from the Identity Store, not the Device Cache — membership
// must be visible even for devices that have never connected).
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	g, err := s.store.GetGroupByName(ctx, name)
	if errors.Is(err, identity.ErrNotFound) {
		writeBadRequest(w, "group not found")
		return
	}
	if err != nil {
		s.log.Error("looking up group", "name", name, "err", err)
		writeServerError(w, "looking up group")
		return
	}

	devices, err := s.store.GetGroupDevices(ctx, g.ID)
	if err != nil {
		s.log.Error("listing group devices", "name", name, "err", err)
		writeServerError(w, "listing group devices")
		return
	}
	members := make([]string, 0, len(devices))
	for _, d := range devices {
		members = append(members, d.UUID)
	}
	writeOK(w, map[string]any{"id": g.ID, "name": g.Name, "members": members})
}

// handleAddGroupMember implements POST /groups/{name}/members {uuid}.
func (s *Server) handleAddGroupMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
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
	g, err := s.store.GetGroupByName(ctx, name)
	if errors.Is(err, identity.ErrNotFound) {
		writeBadRequest(w, "group not found")
		return
	}
	if err != nil {
		writeServerError(w, "looking up group")
		return
	}
	device, err := s.store.GetDeviceByUUID(ctx, body.UUID)
	if errors.Is(err, identity.ErrNotFound) {
		writeDeviceNotFound(w)
		return
	}
	if err != nil {
		writeServerError(w, "looking up device")
		return
	}
	if err := s.store.AddDeviceToGroup(ctx, device.ID, g.ID); err != nil {
		s.log.Error("adding device to group", "uuid", body.UUID, "group", name, "err", err)
		writeServerError(w, "adding device to group")
		return
	}
	if device.ClientID != "" {
		s.cache.SetDeviceGroups(device.ClientID, appendUnique(s.cache.DeviceGroups(device.ClientID), name))
	}
	writeOK(w, map[string]any{"status": "added"})
}

// handleRemoveGroupMember implements DELETE /groups/{name}/members/{clientId}.
func (s *Server) handleRemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	clientID := chi.URLParam(r, "clientId")

	ctx := r.Context()
	g, err := s.store.GetGroupByName(ctx, name)
	if errors.Is(err, identity.ErrNotFound) {
		writeBadRequest(w, "group not found")
		return
	}
	if err != nil {
		writeServerError(w, "looking up group")
		return
	}
	device, err := s.store.GetDeviceByClientID(ctx, clientID)
	if errors.Is(err, identity.ErrNotFound) {
		writeDeviceNotFound(w)
		return
	}
	if err != nil {
		writeServerError(w, "looking up device")
		return
	}
	if err := s.store.RemoveDeviceFromGroup(ctx, device.ID, g.ID); err != nil {
		s.log.Error("removing device from group", "client_id", clientID, "group", name, "err", err)
		writeServerError(w, "removing device from group")
		return
	}
	s.cache.SetDeviceGroups(clientID, removeValue(s.cache.DeviceGroups(clientID), name))
	writeOK(w, map[string]any{"status": "removed"})
}

func appendUnique(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}

func removeValue(ss []string, v string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
