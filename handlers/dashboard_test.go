package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LovationAdmin/fleet-api/models"
	"github.com/LovationAdmin/fleet-api/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dashNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func dashReconciler() *services.Reconciler {
	return services.NewReconciler(services.MustCurrencyFormatter("en", "CRC"),
		services.WithClock(func() time.Time { return dashNow }),
		services.WithLocation(time.UTC),
	)
}

func dashSnapshot() services.Snapshot {
	return services.Snapshot{Collections: map[string]services.Collection{
		services.CollectionFuel: services.NewCollection([]models.Costed{
			models.FuelRecord{Date: "2026-10-02", Cost: models.CostFromFloat(25000)},
			models.FuelRecord{Date: "2026-09-28", Cost: models.CostFromFloat(99000)},
		}),
		services.CollectionMaintenance: services.NewCollection([]models.Costed{
			models.MaintenanceRecord{Date: "2026-10-05", Cost: models.CostFromFloat(40000)},
		}),
		services.CollectionVehicles: services.CountOnly(3),
	}}
}

// frameRecorder collects what the hub pushes to one page.
type frameRecorder struct {
	mu     sync.Mutex
	frames []serverFrame
}

func (r *frameRecorder) Write(msg []byte) error {
	var f serverFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) ofType(typ string) []serverFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []serverFrame
	for _, f := range r.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestSessionSurface_PushesWrites(t *testing.T) {
	out := &frameRecorder{}
	s := newSessionSurface(out)
	s.shadow.Replace([]string{"kpiCostoTotalMes"})

	require.NoError(t, s.Write("kpiCostoTotalMes", "₡65,000", services.UpdatedStyle))
	assert.ErrorIs(t, s.Write("kpiNope", "x", services.Style{}), services.ErrNoSuchTarget)

	frames := out.ofType("kpi")
	require.Len(t, frames, 1)
	assert.Equal(t, "kpiCostoTotalMes", frames[0].ID)
	assert.Equal(t, "₡65,000", frames[0].Text)
	require.NotNil(t, frames[0].Style)
	assert.True(t, frames[0].Style.Bold)

	s.rendered(map[string]string{"kpiCostoTotalMes": "₡0"})
	text, ok := s.Text("kpiCostoTotalMes")
	assert.True(t, ok)
	assert.Equal(t, "₡0", text)
}

func TestDashboardHub_FixFrame(t *testing.T) {
	hub := NewDashboardHub(dashReconciler(), services.SnapshotFunc(func(context.Context) (services.Snapshot, error) {
		return dashSnapshot(), nil
	}), time.Hour, services.PolicyPlaceholder)
	defer hub.Close()

	out := &frameRecorder{}
	ds := &dashboardSession{surface: newSessionSurface(out)}
	ds.surface.shadow.Replace([]string{"kpiCostoTotalMes", "kpiCombustibleMes"})

	hub.handleFrame(context.Background(), out, ds, []byte(`{"type":"fix"}`))

	notices := out.ofType("notice")
	require.Len(t, notices, 1)
	assert.Equal(t, "Dashboard corregido. Total del mes: ₡65,000", notices[0].Message)
	assert.Len(t, out.ofType("kpi"), 2)
}

func TestDashboardHub_FixWithoutSourceAlerts(t *testing.T) {
	hub := NewDashboardHub(dashReconciler(), nil, time.Hour, services.PolicyPlaceholder)
	defer hub.Close()

	out := &frameRecorder{}
	ds := &dashboardSession{surface: newSessionSurface(out)}
	hub.handleFrame(context.Background(), out, ds, []byte(`{"type":"fix"}`))

	alerts := out.ofType("alert")
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "Error corrigiendo el dashboard")
}

func TestDashboardHub_FixWithNoTargetsAlerts(t *testing.T) {
	hub := NewDashboardHub(dashReconciler(), services.SnapshotFunc(func(context.Context) (services.Snapshot, error) {
		return dashSnapshot(), nil
	}), time.Hour, services.PolicyPlaceholder)
	defer hub.Close()

	out := &frameRecorder{}
	ds := &dashboardSession{surface: newSessionSurface(out)}
	hub.handleFrame(context.Background(), out, ds, []byte(`{"type":"fix"}`))

	alerts := out.ofType("alert")
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "No se encontraron elementos")
	assert.Empty(t, out.ofType("notice"))
	assert.Empty(t, out.ofType("kpi"))
}

func TestDashboardHub_BadFrames(t *testing.T) {
	hub := NewDashboardHub(dashReconciler(), nil, time.Hour, services.PolicyPlaceholder)
	defer hub.Close()

	out := &frameRecorder{}
	ds := &dashboardSession{surface: newSessionSurface(out)}
	hub.handleFrame(context.Background(), out, ds, []byte(`not json`))
	hub.handleFrame(context.Background(), out, ds, []byte(`{"type":"dance"}`))

	errs := out.ofType("error")
	require.Len(t, errs, 2)
	assert.Contains(t, errs[1].Message, "dance")
}

func TestDashboardHub_ViewSwitchStopsLoop(t *testing.T) {
	hub := NewDashboardHub(dashReconciler(), services.SnapshotFunc(func(context.Context) (services.Snapshot, error) {
		return dashSnapshot(), nil
	}), time.Hour, services.PolicyAlways)
	defer hub.Close()

	out := &frameRecorder{}
	ds := &dashboardSession{surface: newSessionSurface(out)}
	hub.setView(ds, clientFrame{Type: "view", View: services.DashboardView, Targets: []string{"kpiCostoTotalMes"}})
	require.NotNil(t, ds.sub)
	sub := ds.sub

	assert.Eventually(t, func() bool { return len(out.ofType("kpi")) == 1 }, time.Second, 10*time.Millisecond)

	hub.setView(ds, clientFrame{Type: "view", View: "reportes"})
	assert.Nil(t, ds.sub)
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription still running after leaving the dashboard")
	}
}

func TestDashboardHub_WebSocket(t *testing.T) {
	hub := NewDashboardHub(dashReconciler(), services.SnapshotFunc(func(context.Context) (services.Snapshot, error) {
		return dashSnapshot(), nil
	}), time.Hour, services.PolicyPlaceholder)
	defer hub.Close()

	r := gin.New()
	r.GET("/ws/dashboard", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/dashboard", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "view",
		"view":    "dashboard",
		"targets": []string{"kpiCostoTotalMes", "kpiVehiculosActivos"},
		"texts":   map[string]string{"kpiCostoTotalMes": "-"},
	}))

	got := map[string]string{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(got) < 2 {
		var f serverFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == "kpi" {
			got[f.ID] = f.Text
		}
	}
	assert.Equal(t, "₡65,000", got["kpiCostoTotalMes"])
	assert.Equal(t, "3", got["kpiVehiculosActivos"])

	assert.Eventually(t, func() bool { return hub.Sessions() == 1 }, time.Second, 10*time.Millisecond)
	hub.BroadcastChange(services.CollectionFuel)
	for {
		var f serverFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == "data_changed" {
			assert.Equal(t, services.CollectionFuel, f.Collection)
			break
		}
	}
}

func TestKPIHandler_Current(t *testing.T) {
	r := gin.New()
	h := &KPIHandler{Reconciler: dashReconciler(), Source: services.SnapshotFunc(func(context.Context) (services.Snapshot, error) {
		return dashSnapshot().With(services.CollectionVehicles, services.CountOnly(0)), errors.New("vehiculos: timeout")
	})}
	r.GET("/kpis", h.Current)

	w := do(r, http.MethodGet, "/kpis", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool                `json:"success"`
		Partial bool                `json:"partial"`
		Data    []services.KPIValue `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Partial)
	require.NotEmpty(t, resp.Data)
	assert.Equal(t, "₡25,000", resp.Data[0].Text)

	noSource := gin.New()
	noSource.GET("/kpis", (&KPIHandler{Reconciler: dashReconciler()}).Current)
	assert.Equal(t, http.StatusServiceUnavailable, do(noSource, http.MethodGet, "/kpis", "").Code)
}

func TestStaticHandler(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log(1)"), 0o644))

	r := gin.New()
	r.NoRoute((&StaticHandler{Root: root}).Serve)

	w := do(r, http.MethodGet, "/index.html", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	assert.Contains(t, w.Body.String(), "app")

	w = do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<html>")

	w = do(r, http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/missing.css", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/../../etc/passwd", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/index.html", "").Code)
}

type cdnStub struct {
	mu    sync.Mutex
	body  string
	calls int
}

func (s *cdnStub) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/javascript"}},
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Request:    req,
	}, nil
}

func TestAssetHandler_Vendor(t *testing.T) {
	cdn := &cdnStub{body: "/* xlsx */"}
	cache, err := services.NewAssetCache(services.AssetCacheOptions{
		Name:      "fleet-assets-v1",
		BaseURL:   "https://flota.example.com/",
		Assets:    []string{"https://cdn.example.com/xlsx/0.18.5/xlsx.full.min.js"},
		Transport: cdn,
	})
	require.NoError(t, err)
	require.NoError(t, cache.Install(context.Background()))

	h := &AssetHandler{Cache: cache}
	r := gin.New()
	r.GET("/vendor/:file", h.Vendor)
	r.GET("/cache", h.CacheStatus)

	w := do(r, http.MethodGet, "/vendor/xlsx.full.min.js", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/* xlsx */", w.Body.String())
	assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	assert.Equal(t, 1, cdn.calls, "served from cache, not refetched")

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/vendor/chart.js", "").Code)

	w = do(r, http.MethodGet, "/cache", "")
	assert.Contains(t, w.Body.String(), "xlsx.full.min.js")
}
