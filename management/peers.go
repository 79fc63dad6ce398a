package management

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meshgate/iotbroker/identity"
)

// handleListPeers implements GET /peers.
func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.store.ListPeerBrokers(r.Context())
	if err != nil {
		s.log.Error("listing peers", "err", err)
		writeServerError(w, "listing peers")
		return
	}
	var connected map[string]bool
	if s.bridge != nil {
		connected = s.bridge.PeerStatus()
	}
	out := make([]map[string]any, len(peers))
	for i, p := range peers {
		out[i] = map[string]any{
			"brokerId":  p.BrokerID,
			"url":       p.URL,
			"enabled":   p.Enabled,
			"connected": connected[p.BrokerID],
		}
	}
	writeOK(w, map[string]any{"peers": out})
}

// handleCreatePeer implements POST /peers {brokerId,url,token,enabled}:
// persists the peer then, if enabled, asks the Bridge to connect it
// immediately rather than waiting for the next ReloadRemotes.
func (s *Server) handleCreatePeer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BrokerID string `json:"brokerId"`
		URL      string `json:"url"`
		Token    string `json:"token"`
		Enabled  *bool  `json:"enabled"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if body.BrokerID == "" || body.URL == "" {
		writeBadRequest(w, "brokerId and url are required")
		return
	}
	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	peer := identity.PeerBroker{BrokerID: body.BrokerID, URL: body.URL, Token: body.Token, Enabled: enabled}

	if err := s.store.UpsertPeerBroker(r.Context(), peer); err != nil {
		s.log.Error("creating peer", "broker_id", body.BrokerID, "err", err)
		writeServerError(w, "creating peer")
		return
	}
	if s.bridge != nil && enabled {
		s.bridge.AddRemote(peer)
	}
	writeOK(w, map[string]any{"status": "created"})
}

// handleUpdatePeer implements PATCH /peers/{brokerId}. Omitted fields keep
// their current stored value.
func (s *Server) handleUpdatePeer(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerId")
	ctx := r.Context()

	existing, err := s.store.GetPeerBroker(ctx, brokerID)
	if errors.Is(err, identity.ErrNotFound) {
		writeNotFound(w, "peer not found")
		return
	}
	if err != nil {
		s.log.Error("looking up peer", "broker_id", brokerID, "err", err)
		writeServerError(w, "looking up peer")
		return
	}

	var body struct {
		URL     *string `json:"url"`
		Token   *string `json:"token"`
		Enabled *bool   `json:"enabled"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if body.URL != nil {
		existing.URL = *body.URL
	}
	if body.Token != nil {
		existing.Token = *body.Token
	}
	if body.Enabled != nil {
		existing.Enabled = *body.Enabled
	}

	if err := s.store.UpsertPeerBroker(ctx, existing); err != nil {
		s.log.Error("updating peer", "broker_id", brokerID, "err", err)
		writeServerError(w, "updating peer")
		return
	}
	if s.bridge != nil {
		if existing.Enabled {
			s.bridge.UpdateRemote(existing)
		} else {
			s.bridge.RemoveRemote(existing.BrokerID)
		}
	}
	writeOK(w, map[string]any{"status": "updated"})
}

// handleRemovePeer implements DELETE /peers/{brokerId}.
func (s *Server) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerId")
	if err := s.store.RemovePeerBroker(r.Context(), brokerID); err != nil {
		s.log.Error("removing peer", "broker_id", brokerID, "err", err)
		writeServerError(w, "removing peer")
		return
	}
	if s.bridge != nil {
		s.bridge.RemoveRemote(brokerID)
	}
	writeOK(w, map[string]any{"status": "removed"})
}

// handleReloadPeers implements POST /peers/reload: resynchronizes the
// Bridge's live peer set with the Identity Store, per SPEC_FULL.md §5.
func (s *Server) handleReloadPeers(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeBadRequest(w, "bridge is not enabled")
		return
	}
	if err := s.bridge.ReloadRemotes(r.Context()); err != nil {
		s.log.Error("reloading peers", "err", err)
		writeServerError(w, "reloading peers")
		return
	}
	writeOK(w, map[string]any{"status": "reloaded"})
}
