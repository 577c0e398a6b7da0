package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/engine"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/history"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

type testAPI struct {
	echo       *echo.Echo
	controller *Controller
	engine     *engine.Engine
}

func newTestAPI(t *testing.T, opts ...Option) *testAPI {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.DedupCleanup = 0
	cfg.CleanupInterval = 0
	eng := engine.New(cfg, thresholds.NewRegistry(), history.NewMemoryStore())
	require.NoError(t, eng.Start(t.Context()))

	e := echo.New()
	c := New(e, eng, append([]Option{WithHeartbeat(20 * time.Millisecond)}, opts...)...)
	t.Cleanup(func() {
		c.Shutdown()
		eng.Stop()
	})
	return &testAPI{echo: e, controller: c, engine: eng}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func readingJSON(sensorID string, value float64) string {
	return fmt.Sprintf(`{"sensorId":%q,"sensorType":"soilMoisture","value":%v,"timestamp":%q}`,
		sensorID, value, time.Now().UTC().Format(time.RFC3339))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createAlert(t *testing.T, a *testAPI, sensorID string) alert.Alert {
	t.Helper()
	rec := a.do(http.MethodPost, Prefix+"/readings", readingJSON(sensorID, 18))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[engine.Result](t, rec)
	require.Len(t, res.Events, 1)
	return res.Events[0].Alert
}

func TestPostReading(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	created := createAlert(t, a, "node-01")
	assert.Equal(t, alert.StatusOpen, created.Status)

	rec := a.do(http.MethodGet, Prefix+"/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[alert.Page](t, rec)
	assert.Equal(t, 1, page.Total)

	rec = a.do(http.MethodGet, Prefix+"/alerts/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"unread": 1}, decode[map[string]int](t, rec))

	rec = a.do(http.MethodGet, Prefix+"/alerts/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[alert.Alert](t, rec).ID)
}

func TestPostReadingRejected(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, Prefix+"/readings", readingJSON("node-01", 120))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[RejectionResponse](t, rec)
	assert.False(t, resp.Accepted)
	assert.Equal(t, "out_of_range", string(resp.Reason))

	rec = a.do(http.MethodPost, Prefix+"/readings", `{"sensorId":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).CorrelationID)
}

func TestAlertTransitions(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	created := createAlert(t, a, "node-01")
	base := Prefix + "/alerts/" + created.ID

	rec := a.do(http.MethodPost, base+"/acknowledge", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, alert.StatusAcknowledged, decode[alert.Alert](t, rec).Status)

	rec = a.do(http.MethodPost, base+"/acknowledge", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, base+"/resolve", `{"note":"watered manually"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decode[alert.Alert](t, rec)
	assert.Equal(t, alert.StatusResolved, resolved.Status)
	assert.Equal(t, "watered manually", resolved.StatusNote)

	rec = a.do(http.MethodPost, base+"/dismiss", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, Prefix+"/alerts/missing/acknowledge", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadTracking(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	first := createAlert(t, a, "node-01")
	createAlert(t, a, "node-02")

	rec := a.do(http.MethodPost, Prefix+"/alerts/"+first.ID+"/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[alert.Alert](t, rec).IsRead)

	rec = a.do(http.MethodPost, Prefix+"/alerts/read-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"marked": 1}, decode[map[string]int](t, rec))

	rec = a.do(http.MethodGet, Prefix+"/alerts/unread", "")
	assert.Equal(t, map[string]int{"unread": 0}, decode[map[string]int](t, rec))
}

func TestListAlertsQuery(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	createAlert(t, a, "node-01")
	createAlert(t, a, "node-02")

	tests := []struct {
		name  string
		query string
		code  int
		total int
	}{
		{"all", "", http.StatusOK, 2},
		{"by sensor", "?sensorId=node-02", http.StatusOK, 1},
		{"status list", "?status=open,acknowledged", http.StatusOK, 2},
		{"severity", "?severity=critical", http.StatusOK, 0},
		{"type", "?type=threshold&limit=1&page=2", http.StatusOK, 2},
		{"unread", "?read=false", http.StatusOK, 2},
		{"bad status", "?status=closed", http.StatusBadRequest, 0},
		{"bad severity", "?severity=urgent", http.StatusBadRequest, 0},
		{"bad type", "?type=weather", http.StatusBadRequest, 0},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0},
		{"negative limit", "?limit=-1", http.StatusBadRequest, 0},
		{"bad read", "?read=maybe", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := a.do(http.MethodGet, Prefix+"/alerts"+tt.query, "")
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.total, decode[alert.Page](t, rec).Total)
			}
		})
	}
}

func TestThresholdEndpoints(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	path := Prefix + "/thresholds/node-01/soilMoisture"

	rec := a.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ThresholdResponse](t, rec).Override)

	rec = a.do(http.MethodPut, path, `{"min":10,"max":70,"critical":{"low":5,"high":90}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, path, "")
	got := decode[ThresholdResponse](t, rec)
	assert.True(t, got.Override)
	assert.InDelta(t, 10, got.Band.Min, 0)

	rec = a.do(http.MethodPut, path, `{"min":70,"max":10,"critical":{"low":5,"high":90}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(http.MethodGet, Prefix+"/thresholds/node-01/co2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFaultAndMaintenance(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, Prefix+"/sensors/node-07/faults", `{"component":"modem","errorCode":"E42"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "system", string(decode[alert.Alert](t, rec).AlertType))

	rec = a.do(http.MethodPost, Prefix+"/sensors/node-07/faults", `{"errorCode":"E42"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	lastDone := time.Now().Add(-45 * 24 * time.Hour).UTC().Format(time.RFC3339)
	rec = a.do(http.MethodPost, Prefix+"/sensors/node-07/maintenance",
		fmt.Sprintf(`{"task":"cleaning","lastDone":%q}`, lastDone))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[MaintenanceResponse](t, rec)
	assert.True(t, resp.Raised)
	require.NotNil(t, resp.Alert)

	rec = a.do(http.MethodPost, Prefix+"/sensors/node-07/maintenance",
		fmt.Sprintf(`{"task":"repaint","lastDone":%q}`, lastDone))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	build := func(c errors.ErrorCategory) error {
		return errors.New(errors.NewStd("x")).Category(c).Build()
	}
	tests := []struct {
		err  error
		want int
	}{
		{build(errors.CategoryValidation), http.StatusBadRequest},
		{build(errors.CategoryThreshold), http.StatusUnprocessableEntity},
		{build(errors.CategoryState), http.StatusConflict},
		{build(errors.CategoryNotFound), http.StatusNotFound},
		{build(errors.CategoryDatabase), http.StatusInternalServerError},
		{errors.NewStd("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
