package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/agenterr"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

// startLoop runs the agent until the test ends.
func startLoop(t *testing.T, h *harness) {
	t.Helper()
	h.agent.cfg.Tick = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.agent.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, h.agent.Running, time.Second, time.Millisecond)
}

func newTestAPI(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewAPI(h.agent, h.metrics, time.Second, logging.Discard()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAPIStartStop(t *testing.T) {
	h := newHarness(t, 4)
	startLoop(t, h)
	srv := newTestAPI(t, h)

	code, body := post(t, srv.URL+"/watering/start", `{"duration_s": 12}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, true, body["changed"])
	status := body["status"].(map[string]any)
	assert.Equal(t, true, status["active"])
	assert.Equal(t, float64(12), status["duration_s"])
	assert.NotEmpty(t, status["cycle_id"])
	assert.NotNil(t, status["started_at_ms"])

	code, body = post(t, srv.URL+"/watering/start", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_active", body["code"])

	code, body = post(t, srv.URL+"/watering/stop", "")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, false, body["status"].(map[string]any)["active"])
	assert.False(t, h.driver.Get())

	code, body = post(t, srv.URL+"/watering/stop", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, false, body["changed"], "stop while idle is a no-op")
}

func TestAPIStartValidation(t *testing.T) {
	h := newHarness(t, 4)
	srv := newTestAPI(t, h)

	code, body := post(t, srv.URL+"/watering/start", `{"duration_s": -1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", body["code"])

	code, _ = post(t, srv.URL+"/watering/start", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	for _, body := range []string{`{"duration_s": 1800.5}`, `{"duration_s": 1e300}`} {
		code, resp := post(t, srv.URL+"/watering/start", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, "duration_out_of_range", resp["code"], body)
	}
	assert.False(t, h.ctrl.Active())
}

func TestAPIStartAtMaximum(t *testing.T) {
	h := newHarness(t, 4)
	startLoop(t, h)
	srv := newTestAPI(t, h)

	code, body := post(t, srv.URL+"/watering/start", `{"duration_s": 1800}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, float64(1800), body["status"].(map[string]any)["duration_s"])
}

func TestAPIResyncMalformed(t *testing.T) {
	h := newHarness(t, 4)
	h.remote.setPull(model.RemoteWateringRecord{}, agenterr.Malformed(errors.New("pump_active is not a bool"), "pull"))
	startLoop(t, h)
	srv := newTestAPI(t, h)

	code, body := post(t, srv.URL+"/watering/resync", "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "malformed_response", body["code"])
	assert.False(t, h.ctrl.Active())
}

func TestAPIResyncFollowsRemote(t *testing.T) {
	h := newHarness(t, 4)
	h.remote.setPull(model.RemoteWateringRecord{PumpActive: true, WateringDuration: 45 * time.Second}, nil)
	startLoop(t, h)
	srv := newTestAPI(t, h)

	code, body := post(t, srv.URL+"/watering/resync", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, float64(45), body["status"].(map[string]any)["duration_s"])
}

func TestAPICommandWithoutLoop(t *testing.T) {
	h := newHarness(t, 4)
	api := NewAPI(h.agent, h.metrics, 20*time.Millisecond, logging.Discard())
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	code, body := post(t, srv.URL+"/watering/stop", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "loop_unavailable", body["code"])
}

func TestAPIStatus(t *testing.T) {
	h := newHarness(t, 4)
	srv := newTestAPI(t, h)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, h.identity, st.Device)
	assert.False(t, st.Active)
	assert.Nil(t, st.StartedAtMs)
	assert.Equal(t, float64(30), st.DurationS)
}

func TestAPIHealthAndReady(t *testing.T) {
	h := newHarness(t, 4)
	var mqttUp atomic.Bool
	api := NewAPI(h.agent, h.metrics, time.Second, logging.Discard()).
		WithCheck("mqtt", mqttUp.Load)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		out := map[string]any{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	mqttUp.Store(true)
	_, body = get("/healthz")
	assert.Equal(t, "ok", body["status"])

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	h.agent.MarkConnected()
	startLoop(t, h)
	code, body = get("/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])
}

func TestAPIMetrics(t *testing.T) {
	h := newHarness(t, 4)
	h.agent.Step(context.Background())
	srv := newTestAPI(t, h)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "autogrow_ticks_total 1")
	assert.Contains(t, string(b), "autogrow_pump_active 0")
	assert.Contains(t, string(b), `autogrow_telemetry_reports_total{result="ok"} 1`)
}
