package httpapi

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

	"github.com/meshgate/iotbroker/broker"
	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
	"github.com/meshgate/iotbroker/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := identity.Open(context.Background(), identity.Config{Path: filepath.Join(t.TempDir(), "identity.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := cache.New(cache.Options{})
	engine := broker.New(broker.Config{Store: store, Cache: c, Logger: testLogger()})
	sched := scheduler.New(engine, testLogger())

	return New(Config{
		Store:            store,
		Cache:            c,
		Engine:           engine,
		Scheduler:        sched,
		MessageMaxLength: 1024,
		Logger:           testLogger(),
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
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

func TestHealthEndpointReportsOKWithoutTimeseries(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, CodeSuccess, env.Message)
}

func TestDeviceAuthCreateIsIdempotent(t *testing.T) {
	s := newTestServer(t)

	rec1 := doJSON(t, s, http.MethodPost, "/device/auth", map[string]any{"uuid": "dev-A"})
	require.Equal(t, http.StatusOK, rec1.Code)
	env1 := decodeEnvelope(t, rec1)
	detail1 := env1.Detail.(map[string]any)
	authKey := detail1["authKey"].(string)
	require.NotEmpty(t, authKey)

	rec2 := doJSON(t, s, http.MethodPost, "/device/auth", map[string]any{"uuid": "dev-A"})
	env2 := decodeEnvelope(t, rec2)
	detail2 := env2.Detail.(map[string]any)
	require.Equal(t, authKey, detail2["authKey"])

	group, err := s.store.GetGroupByName(context.Background(), "dev-A")
	require.NoError(t, err)
	devices, err := s.store.GetGroupDevices(context.Background(), group.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
}

func provisionDevice(t *testing.T, s *Server, uuid, mode string) (authKey, clientID string) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/device/auth", map[string]any{"uuid": uuid})
	env := decodeEnvelope(t, rec)
	authKey = env.Detail.(map[string]any)["authKey"].(string)

	rec = doJSON(t, s, http.MethodGet, "/device/auth?authKey="+authKey+"&mode="+mode, nil)
	env = decodeEnvelope(t, rec)
	clientID = env.Detail.(map[string]any)["clientId"].(string)
	return authKey, clientID
}

func TestDeviceSendToHTTPModeTargetDeliversToPendingQueue(t *testing.T) {
	s := newTestServer(t)
	authA, cidA := provisionDevice(t, s, "dev-A", "http")
	_, cidB := provisionDevice(t, s, "dev-B", "http")

	recvEmpty := doJSON(t, s, http.MethodGet, "/device/r?authKey="+authA, nil)
	envEmpty := decodeEnvelope(t, recvEmpty)
	require.EqualValues(t, 0, envEmpty.Detail.(map[string]any)["count"])

	rec := doJSON(t, s, http.MethodPost, "/device/s", map[string]any{
		"authKey":  mustAuthKeyFor(t, s, cidB),
		"toDevice": cidA,
		"data":     map[string]any{"x": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	recvRec := doJSON(t, s, http.MethodGet, "/device/r?authKey="+authA, nil)
	env := decodeEnvelope(t, recvRec)
	detail := env.Detail.(map[string]any)
	require.EqualValues(t, 1, detail["count"])

	recvAgain := doJSON(t, s, http.MethodGet, "/device/r?authKey="+authA, nil)
	envAgain := decodeEnvelope(t, recvAgain)
	require.EqualValues(t, 0, envAgain.Detail.(map[string]any)["count"])
}

func mustAuthKeyFor(t *testing.T, s *Server, clientID string) string {
	t.Helper()
	d, err := s.store.GetDeviceByClientID(context.Background(), clientID)
	require.NoError(t, err)
	return d.AuthKey
}

func TestDeviceReceiveRejectsNonHTTPModeDevice(t *testing.T) {
	s := newTestServer(t)
	authA, _ := provisionDevice(t, s, "dev-mqtt", "mqtt")

	rec := doJSON(t, s, http.MethodGet, "/device/r?authKey="+authA, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	env := decodeEnvelope(t, rec)
	require.EqualValues(t, CodeDeviceNotOnline, env.Message)
}

func TestDeviceSendRejectsUnknownAuthKey(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/device/s", map[string]any{
		"authKey":  "no-such-key",
		"toDevice": "whatever",
		"data":     map[string]any{},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGroupCreateGetAndMembership(t *testing.T) {
	s := newTestServer(t)
	_, cidA := provisionDevice(t, s, "dev-group-a", "http")

	rec := doJSON(t, s, http.MethodPost, "/groups/", map[string]any{"name": "g1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/groups/g1/members", map[string]any{"uuid": "dev-group-a"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/groups/g1", nil)
	env := decodeEnvelope(t, rec)
	members := env.Detail.(map[string]any)["members"].([]any)
	require.Contains(t, members, "dev-group-a")

	rec = doJSON(t, s, http.MethodDelete, "/groups/g1/members/"+cidA, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/groups/g1", nil)
	env = decodeEnvelope(t, rec)
	members = env.Detail.(map[string]any)["members"].([]any)
	require.NotContains(t, members, "dev-group-a")
}

func TestScheduleCreateListAndCancel(t *testing.T) {
	s := newTestServer(t)
	authA, cidA := provisionDevice(t, s, "dev-sched", "http")

	rec := doJSON(t, s, http.MethodPost, "/schedule/", map[string]any{
		"authKey":   authA,
		"toDevice":  cidA,
		"command":   map[string]any{"op": "noop"},
		"mode":      "countdown",
		"countdown": 60,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	taskID := env.Detail.(map[string]any)["taskId"].(string)
	require.NotEmpty(t, taskID)

	rec = doJSON(t, s, http.MethodGet, "/schedule/?authKey="+authA, nil)
	env = decodeEnvelope(t, rec)
	tasks := env.Detail.(map[string]any)["tasks"].([]any)
	require.Len(t, tasks, 1)

	rec = doJSON(t, s, http.MethodDelete, "/schedule/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/schedule/?authKey="+authA, nil)
	env = decodeEnvelope(t, rec)
	tasks = env.Detail.(map[string]any)["tasks"].([]any)
	require.Len(t, tasks, 0)
}

func TestScheduleCreateRejectsMissingCountdownParameter(t *testing.T) {
	s := newTestServer(t)
	authA, cidA := provisionDevice(t, s, "dev-sched-bad", "http")

	rec := doJSON(t, s, http.MethodPost, "/schedule/", map[string]any{
		"authKey":  authA,
		"toDevice": cidA,
		"command":  map[string]any{"op": "noop"},
		"mode":     "countdown",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryTimeseriesWithoutSinkReturnsServerError(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/timeseries?deviceUuid=dev-A", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
