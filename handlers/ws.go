package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LovationAdmin/fleet-api/services"

	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"
)

const sessionKey = "dashboard"

// clientFrame is what the dashboard page sends.
//
//	{"type":"view","view":"dashboard","targets":["kpiCostoTotalMes",...],"texts":{"kpiCostoTotalMes":"-"}}
//	{"type":"render","texts":{"kpiCostoTotalMes":"₡0"}}
//	{"type":"fix"}
type clientFrame struct {
	Type    string            `json:"type"`
	View    string            `json:"view,omitempty"`
	Targets []string          `json:"targets,omitempty"`
	Texts   map[string]string `json:"texts,omitempty"`
}

type serverFrame struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Text       string          `json:"text,omitempty"`
	Style      *services.Style `json:"style,omitempty"`
	Message    string          `json:"message,omitempty"`
	Collection string          `json:"collection,omitempty"`
}

type frameWriter interface {
	Write(msg []byte) error
}

// sessionSurface mirrors the targets one page declared. Writes update the
// mirror and are pushed to the page as "kpi" frames.
type sessionSurface struct {
	out    frameWriter
	shadow *services.MemorySurface
}

func newSessionSurface(out frameWriter) *sessionSurface {
	return &sessionSurface{out: out, shadow: services.NewMemorySurface()}
}

func (s *sessionSurface) Text(id string) (string, bool) {
	return s.shadow.Text(id)
}

func (s *sessionSurface) Write(id, text string, style services.Style) error {
	if err := s.shadow.Write(id, text, style); err != nil {
		return err
	}
	return sendFrame(s.out, serverFrame{Type: "kpi", ID: id, Text: text, Style: &style})
}

// rendered records what the page itself displays.
func (s *sessionSurface) rendered(texts map[string]string) {
	for id, text := range texts {
		_ = s.shadow.Write(id, text, services.Style{})
	}
}

func sendFrame(out frameWriter, f serverFrame) error {
	msg, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return out.Write(msg)
}

// dashboardSession is the per-connection state.
type dashboardSession struct {
	mu      sync.Mutex
	view    string
	surface *sessionSurface
	sub     *services.Subscription
}

func (d *dashboardSession) currentView() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

// DashboardHub keeps the KPI cards of every connected dashboard reconciled.
type DashboardHub struct {
	M *melody.Melody

	reconciler *services.Reconciler
	source     services.SnapshotSource
	interval   time.Duration
	policy     services.Policy
}

func NewDashboardHub(r *services.Reconciler, source services.SnapshotSource, interval time.Duration, policy services.Policy) *DashboardHub {
	m := melody.New()
	m.Config.MaxMessageSize = 64 * 1024

	// Keep-alive for hosted proxies that drop idle sockets.
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	h := &DashboardHub{M: m, reconciler: r, source: source, interval: interval, policy: policy}

	m.HandleConnect(func(s *melody.Session) {
		s.Set(sessionKey, &dashboardSession{surface: newSessionSurface(s)})
		log.Printf("✅ Dashboard connected from %s", s.Request.RemoteAddr)
	})

	m.HandleMessage(func(s *melody.Session, msg []byte) {
		ds, ok := sessionState(s)
		if !ok {
			return
		}
		h.handleFrame(s.Request.Context(), s, ds, msg)
	})

	m.HandleDisconnect(func(s *melody.Session) {
		if ds, ok := sessionState(s); ok {
			h.unsubscribe(ds)
		}
		log.Printf("🔌 Dashboard disconnected from %s", s.Request.RemoteAddr)
	})

	m.HandleError(func(s *melody.Session, err error) {
		log.Printf("❌ WebSocket Error: %v", err)
	})

	return h
}

func sessionState(s *melody.Session) (*dashboardSession, bool) {
	v, ok := s.Get(sessionKey)
	if !ok {
		return nil, false
	}
	ds, ok := v.(*dashboardSession)
	return ds, ok
}

// HandleWS upgrades the request to the dashboard socket.
func (h *DashboardHub) HandleWS(c *gin.Context) {
	if err := h.M.HandleRequest(c.Writer, c.Request); err != nil {
		log.Printf("❌ Failed to upgrade websocket: %v", err)
	}
}

func (h *DashboardHub) handleFrame(ctx context.Context, out frameWriter, ds *dashboardSession, msg []byte) {
	var f clientFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		_ = sendFrame(out, serverFrame{Type: "error", Message: "invalid frame"})
		return
	}

	switch f.Type {
	case "view":
		h.setView(ds, f)
	case "render":
		ds.surface.rendered(f.Texts)
	case "fix":
		h.fix(ctx, out, ds)
	default:
		_ = sendFrame(out, serverFrame{Type: "error", Message: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

func (h *DashboardHub) setView(ds *dashboardSession, f clientFrame) {
	ds.mu.Lock()
	ds.view = f.View
	if f.Targets != nil {
		ds.surface.shadow.Replace(f.Targets)
	}
	ds.surface.rendered(f.Texts)

	onDashboard := f.View == services.DashboardView
	if onDashboard && ds.sub == nil {
		ds.sub = h.reconciler.Subscribe(context.Background(), ds.surface, services.SubscribeOptions{
			Interval:   h.interval,
			Policy:     h.policy,
			Source:     h.source,
			ActiveView: ds.currentView,
		})
		ds.mu.Unlock()
		log.Printf("📊 Dashboard view active, KPI reconcile every %v (%s)", h.interval, h.policy)
		return
	}
	ds.mu.Unlock()

	if !onDashboard {
		h.unsubscribe(ds)
	}
}

// unsubscribe stops the session's loop. The lock is released before waiting
// because the loop reads the view under the same lock.
func (h *DashboardHub) unsubscribe(ds *dashboardSession) {
	ds.mu.Lock()
	sub := ds.sub
	ds.sub = nil
	ds.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

func (h *DashboardHub) fix(ctx context.Context, out frameWriter, ds *dashboardSession) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		log.Printf("⚠️ Snapshot incomplete: %v", err)
	}

	rep := h.reconciler.Reconcile(ctx, ds.surface, snap)
	if !rep.Success {
		msg := "Error corrigiendo el dashboard"
		if rep.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, rep.Err)
		}
		_ = sendFrame(out, serverFrame{Type: "alert", Message: msg})
		return
	}
	if len(rep.Updated) == 0 {
		_ = sendFrame(out, serverFrame{
			Type:    "alert",
			Message: "Error: No se encontraron elementos del dashboard para actualizar",
		})
		return
	}

	total, _ := rep.Value("total")
	_ = sendFrame(out, serverFrame{
		Type:    "notice",
		Message: fmt.Sprintf("Dashboard corregido. Total del mes: %s", total.Text),
	})
}

func (h *DashboardHub) snapshot(ctx context.Context) (services.Snapshot, error) {
	if h.source == nil {
		return services.Snapshot{}, errors.New("no data source configured")
	}
	return h.source.Snapshot(ctx)
}

// BroadcastChange tells every dashboard page that a collection changed.
func (h *DashboardHub) BroadcastChange(collection string) {
	msg, err := json.Marshal(serverFrame{Type: "data_changed", Collection: collection})
	if err != nil {
		return
	}
	err = h.M.BroadcastFilter(msg, func(q *melody.Session) bool {
		_, ok := sessionState(q)
		return ok
	})
	if err != nil {
		log.Printf("⚠️ Error broadcasting %s change: %v", collection, err)
	}
}

// Sessions is the number of open dashboard sockets.
func (h *DashboardHub) Sessions() int {
	return h.M.Len()
}

// Close stops every subscription and closes all sockets.
func (h *DashboardHub) Close() error {
	sessions, err := h.M.Sessions()
	if err == nil {
		for _, s := range sessions {
			if ds, ok := sessionState(s); ok {
				h.unsubscribe(ds)
			}
		}
	}
	return h.M.Close()
}
