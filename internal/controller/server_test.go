package controller

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bnavetta/samwise/internal/agentclient"
	"github.com/bnavetta/samwise/internal/config"
	"github.com/bnavetta/samwise/internal/device"
	"github.com/bnavetta/samwise/internal/id"
)

type fakeAgent struct {
	status agentclient.Status
}

func (f *fakeAgent) Ping(ctx context.Context) agentclient.Status { return f.status }
func (f *fakeAgent) Reboot(ctx context.Context) error             { return nil }
func (f *fakeAgent) ShutDown(ctx context.Context) error           { return nil }
func (f *fakeAgent) Suspend(ctx context.Context) error            { return nil }

type fakeWaker struct{}

func (fakeWaker) Wake(ifaceName string, destination net.HardwareAddr) error { return nil }

func newTestServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	cfg := config.DeviceConfig{
		Agent:      "http://unused",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		GrubConfig: "samwise.cfg",
		Targets: map[string]config.TargetConfig{
			"ubuntu": {MenuEntry: "Ubuntu 22.04"},
		},
	}

	mgr := device.NewManager(ctx, id.DeviceId("htpc"), cfg, "eth0", t.TempDir(), &fakeAgent{}, fakeWaker{}, zap.NewNop())
	devices := map[id.DeviceId]*device.Handle{
		id.DeviceId("htpc"): mgr.Handle(),
	}
	return NewServer(devices, zap.NewNop()), cancel
}

func TestStatusUnknownDeviceReturns404(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/device/nosuch/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Not found", resp.Error)
}

func TestStatusKnownDeviceReturnsCachedState(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/device/htpc/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unknown", resp.State)
}

func TestRebootAcceptedReturns200(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/device/htpc/reboot", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "htpc", resp.Device)
	assert.Equal(t, "reboot", resp.Action)
}

func TestSecondRebootWhileBusyReturns503(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	req1 := httptest.NewRequest(http.MethodPost, "/device/htpc/reboot", nil)
	rec1 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/device/htpc/reboot", nil)
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "htpc")
}

func TestRunWithValidTargetAccepted(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	body := `{"target":"ubuntu"}`
	req := httptest.NewRequest(http.MethodPost, "/device/htpc/run", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run ubuntu", resp.Action)
}

func TestWrongMethodReturns405(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodDelete, "/device/htpc/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
