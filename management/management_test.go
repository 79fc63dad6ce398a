package management

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshgate/iotbroker/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, userToken string) (*Server, *identity.Store) {
	t.Helper()
	store, err := identity.Open(context.Background(), identity.Config{Path: filepath.Join(t.TempDir(), "identity.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(Config{Store: store, UserToken: userToken, Logger: testLogger()}), store
}

func doJSON(t *testing.T, s *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.5:9999" // non-loopback: forces the bearer check
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	rec := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRouteRejectsMissingBearer(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	rec := doJSON(t, s, http.MethodGet, "/devices/", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRouteAcceptsRawBearer(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	rec := doJSON(t, s, http.MethodGet, "/devices/", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenSurfaceSkipsAuthWhenTokenUnset(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doJSON(t, s, http.MethodGet, "/devices/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthTokenExchangeAndSessionTokenAcceptance(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	rec := doJSON(t, s, http.MethodPost, "/auth/token", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	sessionToken := env.Detail.(map[string]any)["token"].(string)
	require.NotEmpty(t, sessionToken)

	rec = doJSON(t, s, http.MethodGet, "/devices/", sessionToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthTokenExchangeRejectsWrongBearer(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	rec := doJSON(t, s, http.MethodPost, "/auth/token", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeviceCreateListAndDelete(t *testing.T) {
	s, store := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/devices/", "", map[string]any{"uuid": "mgmt-dev-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	authKey := env.Detail.(map[string]any)["authKey"].(string)
	require.NotEmpty(t, authKey)

	rec = doJSON(t, s, http.MethodGet, "/devices/", "", nil)
	env = decodeEnvelope(t, rec)
	devices := env.Detail.(map[string]any)["devices"].([]any)
	require.Len(t, devices, 1)

	rec = doJSON(t, s, http.MethodDelete, "/devices/mgmt-dev-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := store.GetDeviceByUUID(context.Background(), "mgmt-dev-1")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestDeviceCreateRejectsDuplicateUUID(t *testing.T) {
	s, _ := newTestServer(t, "")
	doJSON(t, s, http.MethodPost, "/devices/", "", map[string]any{"uuid": "mgmt-dup"})
	rec := doJSON(t, s, http.MethodPost, "/devices/", "", map[string]any{"uuid": "mgmt-dup"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteUnknownDeviceReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doJSON(t, s, http.MethodDelete, "/devices/no-such-uuid", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPeerCreateListAndRemoveWithoutLiveBridge(t *testing.T) {
	s, store := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/peers/", "", map[string]any{
		"brokerId": "peer-a", "url": "tcp://peer-a.example:1883", "token": "tok",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/peers/", "", nil)
	env := decodeEnvelope(t, rec)
	peers := env.Detail.(map[string]any)["peers"].([]any)
	require.Len(t, peers, 1)

	rec = doJSON(t, s, http.MethodPatch, "/peers/peer-a", "", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := store.GetPeerBroker(context.Background(), "peer-a")
	require.NoError(t, err)
	require.False(t, stored.Enabled)

	rec = doJSON(t, s, http.MethodDelete, "/peers/peer-a", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = store.GetPeerBroker(context.Background(), "peer-a")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestReloadPeersWithoutBridgeConfiguredIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doJSON(t, s, http.MethodPost, "/peers/reload", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateUnknownPeerReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doJSON(t, s, http.MethodPatch, "/peers/no-such-peer", "", map[string]any{"enabled": false})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
