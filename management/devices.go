package management

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meshgate/iotbroker/identity"
)

type deviceDTO struct {
	UUID      string `json:"uuid"`
	ClientID  string `json:"clientId,omitempty"`
	AuthKey   string `json:"authKey"`
	CreatedAt string `json:"createdAt"`
}

func toDeviceDTO(d identity.Device) deviceDTO {
	return deviceDTO{
		UUID:      d.UUID,
		ClientID:  d.ClientID,
		AuthKey:   d.AuthKey,
		CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// handleListDevices implements GET /devices: every provisioned device, for
// an operator auditing the fleet.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.GetAllDevices(r.Context())
	if err != nil {
		s.log.Error("listing devices", "err", err)
		writeServerError(w, "listing devices")
		return
	}
	dtos := make([]deviceDTO, len(devices))
	for i, d := range devices {
		dtos[i] = toDeviceDTO(d)
	}
	writeOK(w, map[string]any{"devices": dtos})
}

// handleCreateDevice implements POST /devices {uuid}: provision-by-uuid,
// like the HTTP Adapter's /device/auth, offered here for operator-driven
// bulk provisioning. Unlike /device/auth, a uuid that already exists is
// rejected and no same-named group is created.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UUID string `json:"uuid"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if body.UUID == "" {
		writeBadRequest(w, "uuid is required")
		return
	}

	authKey, err := randomHex(32)
	if err != nil {
		writeServerError(w, "generating auth key")
		return
	}
	device, err := s.store.CreateDevice(r.Context(), identity.Device{UUID: body.UUID, AuthKey: authKey})
	if errors.Is(err, identity.ErrAlreadyExists) {
		writeBadRequest(w, "device already exists")
		return
	}
	if err != nil {
		s.log.Error("creating device", "uuid", body.UUID, "err", err)
		writeServerError(w, "creating device")
		return
	}
	writeOK(w, toDeviceDTO(device))
}

// handleDeleteDevice implements DELETE /devices/{uuid}.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	ctx := r.Context()

	device, err := s.store.GetDeviceByUUID(ctx, uuid)
	if errors.Is(err, identity.ErrNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		s.log.Error("looking up device", "uuid", uuid, "err", err)
		writeServerError(w, "looking up device")
		return
	}

	if err := s.store.DeleteDevice(ctx, device.ID); err != nil {
		s.log.Error("deleting device", "uuid", uuid, "err", err)
		writeServerError(w, "deleting device")
		return
	}
	if s.cache != nil {
		s.cache.RemoveDevice(device.ClientID, device.AuthKey)
	}
	writeOK(w, map[string]any{"status": "deleted"})
}
