package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LovationAdmin/fleet-api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var allTargets = []string{
	"kpiCombustibleMes", "kpiCombustibleMes2",
	"kpiMantenimientoMes", "kpiMantenimientoMes2",
	"kpiCostoTotalMes", "kpiCostoTotalMes2",
	"kpiVehiculosActivos", "kpiMantenimientosMes",
}

func newTestReconciler(opts ...ReconcilerOption) *Reconciler {
	base := []ReconcilerOption{
		WithClock(func() time.Time { return testNow }),
		WithLocation(time.UTC),
	}
	return NewReconciler(MustCurrencyFormatter("en", "CRC"), append(base, opts...)...)
}

func fullSnapshot() Snapshot {
	return Snapshot{Collections: map[string]Collection{
		CollectionFuel: NewCollection([]models.Costed{
			fuel("2026-10-02", models.CostFromFloat(100000)),
			fuel("2026-10-09", models.CostFromFloat(25000)),
			fuel("2026-09-28", models.CostFromFloat(70000)),
		}),
		CollectionMaintenance: NewCollection([]models.Costed{
			maintenance("2026-10-10", models.CostFromFloat(40000)),
		}),
		CollectionVehicles: CountOnly(3),
	}}
}

type stubLoader struct {
	mu    sync.Mutex
	calls []string
	data  map[string]Collection
	err   error
}

func (l *stubLoader) LoadCollection(_ context.Context, name string) (Collection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
	if l.err != nil {
		return Collection{}, l.err
	}
	c, ok := l.data[name]
	if !ok {
		return Collection{}, errors.New("unknown collection")
	}
	return c, nil
}

type panickySurface struct{ *MemorySurface }

func (panickySurface) Write(string, string, Style) error { panic("boom") }

type failingSurface struct{ *MemorySurface }

func (failingSurface) Write(string, string, Style) error { return errors.New("socket closed") }

func TestReconcile_WritesAllTargets(t *testing.T) {
	r := newTestReconciler()
	surface := NewMemorySurface(allTargets...)

	rep := r.Reconcile(context.Background(), surface, fullSnapshot())

	require.True(t, rep.Success)
	assert.NoError(t, rep.Err)
	assert.ElementsMatch(t, allTargets, rep.Updated)
	assert.Empty(t, rep.Skipped)

	el, ok := surface.Element("kpiCostoTotalMes2")
	require.True(t, ok)
	assert.Equal(t, "₡165,000", el.Text)
	assert.Equal(t, UpdatedStyle, el.Style)

	text, _ := surface.Text("kpiCombustibleMes")
	assert.Equal(t, "₡125,000", text)
	text, _ = surface.Text("kpiVehiculosActivos")
	assert.Equal(t, "3", text)
}

func TestReconcile_MissingTargetsAreSkipped(t *testing.T) {
	r := newTestReconciler()
	surface := NewMemorySurface("kpiCombustibleMes", "kpiCostoTotalMes")

	rep := r.Reconcile(context.Background(), surface, fullSnapshot())

	require.True(t, rep.Success)
	assert.Equal(t, []string{"kpiCombustibleMes", "kpiCostoTotalMes"}, rep.Updated)
	assert.Len(t, rep.Skipped, len(allTargets)-2)
	assert.Contains(t, rep.Skipped, "kpiMantenimientoMes")

	text, _ := surface.Text("kpiCostoTotalMes")
	assert.Equal(t, "₡165,000", text)
}

func TestReconcile_Idempotent(t *testing.T) {
	r := newTestReconciler()
	surface := NewMemorySurface("kpiCombustibleMes", "kpiCostoTotalMes", "kpiVehiculosActivos")
	snap := fullSnapshot()

	first := r.Reconcile(context.Background(), surface, snap)
	firstText, _ := surface.Text("kpiCostoTotalMes")
	second := r.Reconcile(context.Background(), surface, snap)
	secondText, _ := surface.Text("kpiCostoTotalMes")

	assert.Equal(t, first, second)
	assert.Equal(t, firstText, secondText)
}

func TestReconcile_ReloadsMissingCollectionOnce(t *testing.T) {
	loader := &stubLoader{data: map[string]Collection{
		CollectionFuel: NewCollection([]models.Costed{fuel("2026-10-03", models.CostFromFloat(8000))}),
	}}
	r := newTestReconciler(WithLoader(loader))
	surface := NewMemorySurface("kpiCombustibleMes", "kpiCostoTotalMes")

	snap := Snapshot{Collections: map[string]Collection{
		CollectionMaintenance: NewCollection(nil),
		CollectionVehicles:    CountOnly(0),
	}}
	rep := r.Reconcile(context.Background(), surface, snap)

	require.True(t, rep.Success, "err: %v", rep.Err)
	assert.Equal(t, []string{CollectionFuel}, rep.Reloaded)
	assert.Equal(t, []string{CollectionFuel}, loader.calls)

	text, _ := surface.Text("kpiCostoTotalMes")
	assert.Equal(t, "₡8,000", text)

	_, present := snap.Get(CollectionFuel)
	assert.False(t, present, "caller's snapshot must not be mutated")
}

func TestReconcile_RequiredSourceUnavailable(t *testing.T) {
	loader := &stubLoader{err: errors.New("connection refused")}
	r := newTestReconciler(WithLoader(loader))
	surface := NewMemorySurface("kpiCombustibleMes")

	rep := r.Reconcile(context.Background(), surface, Snapshot{})

	assert.False(t, rep.Success)
	assert.ErrorIs(t, rep.Err, ErrMissingSource)
	assert.ElementsMatch(t, []string{CollectionFuel, CollectionMaintenance, CollectionVehicles}, loader.calls)

	text, _ := surface.Text("kpiCombustibleMes")
	assert.Equal(t, "-", text, "values stay unchanged on failure")
}

func TestReconcile_OptionalSourcesCountAsEmpty(t *testing.T) {
	r := newTestReconciler()
	surface := NewMemorySurface("kpiMantenimientoMes", "kpiVehiculosActivos", "kpiCostoTotalMes")

	snap := Snapshot{Collections: map[string]Collection{
		CollectionFuel: NewCollection([]models.Costed{fuel("2026-10-03", models.CostFromFloat(500))}),
	}}
	rep := r.Reconcile(context.Background(), surface, snap)

	require.True(t, rep.Success)
	text, _ := surface.Text("kpiMantenimientoMes")
	assert.Equal(t, "₡0", text)
	text, _ = surface.Text("kpiVehiculosActivos")
	assert.Equal(t, "0", text)
	text, _ = surface.Text("kpiCostoTotalMes")
	assert.Equal(t, "₡500", text)
}

func TestReconcile_RecoversFromPanics(t *testing.T) {
	r := newTestReconciler()
	surface := panickySurface{NewMemorySurface(allTargets...)}

	var rep Report
	require.NotPanics(t, func() {
		rep = r.Reconcile(context.Background(), surface, fullSnapshot())
	})
	assert.False(t, rep.Success)
	assert.ErrorContains(t, rep.Err, "boom")
}

func TestReconcile_WriteErrorFails(t *testing.T) {
	r := newTestReconciler()
	rep := r.Reconcile(context.Background(), failingSurface{NewMemorySurface(allTargets...)}, fullSnapshot())

	assert.False(t, rep.Success)
	assert.ErrorContains(t, rep.Err, "socket closed")
}

func TestShowsPlaceholder(t *testing.T) {
	r := newTestReconciler()
	surface := NewMemorySurface("kpiCostoTotalMes")
	assert.True(t, r.ShowsPlaceholder(surface))

	require.NoError(t, surface.Write("kpiCostoTotalMes", "₡0", Style{}))
	assert.True(t, r.ShowsPlaceholder(surface))

	require.NoError(t, surface.Write("kpiCostoTotalMes", "₡1,000", Style{}))
	assert.False(t, r.ShowsPlaceholder(surface))

	assert.False(t, r.ShowsPlaceholder(NewMemorySurface()), "absent target is not a placeholder")
}

func staticSource(s Snapshot) SnapshotSource {
	return SnapshotFunc(func(context.Context) (Snapshot, error) { return s, nil })
}

func TestSubscribe_AlwaysPolicyRunsEveryTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newTestReconciler()
	var runs atomic.Int32
	sub := r.Subscribe(context.Background(), NewMemorySurface(allTargets...), SubscribeOptions{
		Interval: 5 * time.Millisecond,
		Policy:   PolicyAlways,
		Source:   staticSource(fullSnapshot()),
		OnReport: func(Report) { runs.Add(1) },
	})

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	sub.Stop()
	sub.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestSubscribe_PlaceholderPolicy(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newTestReconciler()
	surface := NewMemorySurface(allTargets...)
	var runs atomic.Int32
	var view atomic.Value
	view.Store(DashboardView)

	sub := r.Subscribe(context.Background(), surface, SubscribeOptions{
		Interval:   5 * time.Millisecond,
		Policy:     PolicyPlaceholder,
		Source:     staticSource(fullSnapshot()),
		ActiveView: func() string { return view.Load().(string) },
		OnReport:   func(Report) { runs.Add(1) },
	})
	defer sub.Stop()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "total already repaired, nothing to do")

	view.Store("vehiculos")
	require.NoError(t, surface.Write("kpiCostoTotalMes", "-", Style{}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "placeholder outside the dashboard is left alone")

	view.Store(DashboardView)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	text, _ := surface.Text("kpiCostoTotalMes")
	assert.Equal(t, "₡165,000", text)
}

func TestSubscribe_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	sub := newTestReconciler().Subscribe(ctx, NewMemorySurface(), SubscribeOptions{Interval: time.Hour})
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop after cancel")
	}
}
