package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservd/reservd/internal/manager"
	"github.com/reservd/reservd/internal/model"
	"github.com/reservd/reservd/internal/notify"
	"github.com/reservd/reservd/internal/plugin"
	"github.com/reservd/reservd/internal/store"
	"github.com/reservd/reservd/internal/trust"
)

var apiBaseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg, err := plugin.NewRegistry([]string{"dummy.vm.plugin"}, plugin.Builtins(), nil)
	require.NoError(t, err)

	m := manager.New(
		store.NewMemoryStore(),
		reg,
		notify.Nop{},
		trust.NewStaticBroker(),
		manager.NewFakeClock(apiBaseTime),
		manager.Options{MinutesBeforeEndLease: 60, EventMaxRetries: 1},
	)

	srv := httptest.NewServer(NewRouter(m))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, name string, args map[string]interface{}) (int, rpcResponse) {
	t.Helper()
	body, err := json.Marshal(rpcRequest{Name: name, Args: args})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v1/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func createValues(name string) map[string]interface{} {
	return map[string]interface{}{
		"trust_id":   "trust-1",
		"name":       name,
		"start_date": apiBaseTime.Add(time.Hour).Format(model.DateFormat),
		"end_date":   apiBaseTime.Add(3 * time.Hour).Format(model.DateFormat),
		"reservations": []interface{}{
			map[string]interface{}{"resource_type": "dummy"},
		},
	}
}

func TestRPCCreateAndGetLease(t *testing.T) {
	srv := newTestServer(t)

	status, resp := call(t, srv, "create_lease", map[string]interface{}{
		"values": createValues("lease-one"),
	})
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	created, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(model.LeasePending), created["status"])
	leaseID, _ := created["id"].(string)
	require.NotEmpty(t, leaseID)

	status, resp = call(t, srv, "get_lease", map[string]interface{}{"lease_id": leaseID})
	require.Equal(t, http.StatusOK, status)
	got, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, leaseID, got["id"])
	assert.Equal(t, "lease-one", got["name"])

	status, resp = call(t, srv, "list_leases", map[string]interface{}{"project_id": "trust-1"})
	require.Equal(t, http.StatusOK, status)
	list, ok := resp.Result.([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)
}

func TestRPCValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	values := createValues("lease-bad")
	delete(values, "trust_id")
	status, resp := call(t, srv, "create_lease", map[string]interface{}{"values": values})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)

	status, _ = call(t, srv, "get_lease", map[string]interface{}{"lease_id": "missing"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call(t, srv, "frobnicate", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call(t, srv, "get_lease", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRPCDuplicateLeaseName(t *testing.T) {
	srv := newTestServer(t)

	status, _ := call(t, srv, "create_lease", map[string]interface{}{"values": createValues("lease-one")})
	require.Equal(t, http.StatusOK, status)

	status, resp := call(t, srv, "create_lease", map[string]interface{}{"values": createValues("lease-one")})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, resp.Error)
}

func TestRPCDeleteLease(t *testing.T) {
	srv := newTestServer(t)

	status, resp := call(t, srv, "create_lease", map[string]interface{}{"values": createValues("lease-one")})
	require.Equal(t, http.StatusOK, status)
	leaseID := resp.Result.(map[string]interface{})["id"].(string)

	status, _ = call(t, srv, "delete_lease", map[string]interface{}{"lease_id": leaseID})
	require.Equal(t, http.StatusOK, status)

	status, _ = call(t, srv, "get_lease", map[string]interface{}{"lease_id": leaseID})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRPCPluginDispatch(t *testing.T) {
	srv := newTestServer(t)

	status, resp := call(t, srv, "dummy:reserve_resource", map[string]interface{}{
		"reservation_id": "res-1",
		"values":         map[string]interface{}{"vcpus": 2},
	})
	require.Equal(t, http.StatusOK, status)
	resourceID, ok := resp.Result.(string)
	require.True(t, ok)
	require.NotEmpty(t, resourceID)

	status, _ = call(t, srv, "dummy:on_start", map[string]interface{}{"resource_id": resourceID})
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, srv, "nope:on_start", map[string]interface{}{"resource_id": resourceID})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call(t, srv, "dummy:frobnicate", map[string]interface{}{"resource_id": resourceID})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRPCMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/rpc", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
